package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dom/scrim-veto/internal/api"
	"github.com/dom/scrim-veto/internal/auth"
	"github.com/dom/scrim-veto/internal/config"
	"github.com/dom/scrim-veto/internal/metrics"
	"github.com/dom/scrim-veto/internal/repository"
	"github.com/dom/scrim-veto/internal/repository/memory"
	repoPostgres "github.com/dom/scrim-veto/internal/repository/postgres"
	"github.com/dom/scrim-veto/internal/service"
	"github.com/dom/scrim-veto/internal/store"
	"github.com/dom/scrim-veto/internal/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB manages a testcontainers PostgreSQL instance
type TestDB struct {
	Container testcontainers.Container
	DB        *gorm.DB
	DSN       string
}

// NewTestDB creates a new PostgreSQL testcontainer and returns a migrated
// connection. Skipped under -short.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()

	container, err := tcPostgres.Run(ctx,
		"postgres:15-alpine",
		tcPostgres.WithDatabase("test_scrim"),
		tcPostgres.WithUsername("test"),
		tcPostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	testDB := &TestDB{Container: container}
	t.Cleanup(func() {
		testDB.Cleanup()
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := gorm.Open(gormPostgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	// Run migrations
	if err := db.AutoMigrate(repoPostgres.Models()...); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	testDB.DB = db
	testDB.DSN = dsn
	return testDB
}

// Cleanup terminates the container
func (tdb *TestDB) Cleanup() {
	if tdb.Container != nil {
		ctx := context.Background()
		tdb.Container.Terminate(ctx)
	}
}

// Truncate clears all tables for test isolation
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()

	tables := []string{
		"map_pool_maps",
		"map_pools",
		"game_maps",
		"matches",
		"lobby_memberships",
		"lobbies",
	}

	for _, table := range tables {
		if err := tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error; err != nil {
			t.Logf("warning: failed to truncate %s: %v", table, err)
		}
	}
}

// Repositories returns the postgres repositories backed by this database.
func (tdb *TestDB) Repositories() *repository.Repositories {
	return repoPostgres.NewRepositories(tdb.DB)
}

// NewTestRedis starts a Redis testcontainer and returns a connected client.
// Skipped under -short.
func NewTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()

	container, err := tcRedis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis connection string: %v", err)
	}

	rdb, err := store.NewRedisClient(ctx, url)
	if err != nil {
		t.Fatalf("failed to connect to redis: %v", err)
	}
	t.Cleanup(func() {
		rdb.Close()
	})
	return rdb
}

// TestConfig returns a configuration suitable for testing
func TestConfig() *config.Config {
	return &config.Config{
		Port:                "0", // Random port
		Environment:         "test",
		PersistenceBackend:  config.BackendMemory,
		StoreBackend:        config.BackendMemory,
		JWTSecret:           "test-jwt-secret-key-for-testing-only",
		IdempotencyTTL:      2 * time.Minute,
		PresenceTTL:         2 * time.Minute,
		VetoSessionTTL:      time.Hour,
		CASMaxAttempts:      5,
		ClientRatePerSecond: 1000,
	}
}

// TestServer holds all components for integration testing
type TestServer struct {
	Server   *httptest.Server
	Repos    *repository.Repositories
	Store    store.Store
	Services *service.Services
	Hub      *websocket.Hub
	Tokens   *auth.TokenValidator
	Config   *config.Config
}

// NewTestServer creates a single-instance server on in-memory backends.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	return newTestServer(t, memory.NewRepositories(memory.NewDB()), nil)
}

// NewRedisTestServer creates a server instance whose store and fan-out run on
// rdb. Instances built over the same rdb and repos behave as one deployment.
func NewRedisTestServer(t *testing.T, rdb *redis.Client, repos *repository.Repositories) *TestServer {
	t.Helper()
	return newTestServer(t, repos, rdb)
}

func newTestServer(t *testing.T, repos *repository.Repositories, rdb *redis.Client) *TestServer {
	t.Helper()

	cfg := TestConfig()
	zl := zap.NewNop()
	m := metrics.New(prometheus.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())

	hub := websocket.NewHub(m, zl)
	var (
		st     store.Store
		broker websocket.Broker
	)
	if rdb != nil {
		cfg.StoreBackend = config.BackendRedis
		st = store.NewRedisStore(rdb)
		redisBroker := websocket.NewRedisBroker(rdb, hub, zl)
		go redisBroker.Run(ctx)
		select {
		case <-redisBroker.Ready():
		case <-time.After(10 * time.Second):
			cancel()
			t.Fatal("redis broker never subscribed")
		}
		broker = redisBroker
	} else {
		st = store.NewMemoryStore()
		broker = websocket.NewLocalBroker(hub)
	}

	services := service.NewServices(repos, st, hub, broker, m, zl, service.Options{
		IdempotencyTTL: cfg.IdempotencyTTL,
		PresenceTTL:    cfg.PresenceTTL,
		VetoSessionTTL: cfg.VetoSessionTTL,
		MaxAttempts:    cfg.CASMaxAttempts,
	})
	commands := websocket.NewCommandHandler(services, zl)
	hub.OnDisconnect(commands.Disconnect)
	go hub.Run()
	go services.Lobby.KeepPresence(ctx)

	tokens := auth.NewTokenValidator(cfg.JWTSecret)
	router := api.NewRouter(ctx, api.Deps{
		Hub:      hub,
		Commands: commands,
		Tokens:   tokens,
		Gatherer: prometheus.NewRegistry(),
		Config:   cfg,
		Logger:   zl,
	})

	server := httptest.NewServer(router)

	ts := &TestServer{
		Server:   server,
		Repos:    repos,
		Store:    st,
		Services: services,
		Hub:      hub,
		Tokens:   tokens,
		Config:   cfg,
	}

	t.Cleanup(func() {
		server.Close()
		hub.Stop()
		cancel()
	})

	return ts
}

// BaseURL returns the test server's base URL
func (ts *TestServer) BaseURL() string {
	return ts.Server.URL
}

// Token issues a short-lived access token for userID.
func (ts *TestServer) Token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := ts.Tokens.Issue(userID, time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

// LobbyURL returns the lobby channel URL with token
func (ts *TestServer) LobbyURL(token string) string {
	return ts.wsURL("/api/v1/ws/lobby", token)
}

// VetoURL returns the veto channel URL with token
func (ts *TestServer) VetoURL(token string) string {
	return ts.wsURL("/api/v1/ws/veto", token)
}

func (ts *TestServer) wsURL(path, token string) string {
	wsURL := "ws" + strings.TrimPrefix(ts.Server.URL, "http")
	return fmt.Sprintf("%s%s?token=%s", wsURL, path, token)
}

// ConnectLobby dials the lobby channel as userID.
func (ts *TestServer) ConnectLobby(t *testing.T, userID uuid.UUID) *WSClient {
	t.Helper()
	return NewWSClient(t, ts.LobbyURL(ts.Token(t, userID)))
}

// ConnectVeto dials the veto channel as userID.
func (ts *TestServer) ConnectVeto(t *testing.T, userID uuid.UUID) *WSClient {
	t.Helper()
	return NewWSClient(t, ts.VetoURL(ts.Token(t, userID)))
}
