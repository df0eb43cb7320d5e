package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/dom/scrim-veto/internal/metrics"
	"github.com/dom/scrim-veto/internal/repository"
	"github.com/dom/scrim-veto/internal/repository/memory"
	"github.com/dom/scrim-veto/internal/service"
	"github.com/dom/scrim-veto/internal/store"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	topic string
	env   domain.Envelope
}

type sent struct {
	connID uuid.UUID
	env    domain.Envelope
}

// recorder stands in for both the local hub and the broker.
type recorder struct {
	mu         sync.Mutex
	subs       map[string]map[uuid.UUID]bool
	users      map[uuid.UUID]uuid.UUID // connID -> userID
	published  []published
	sent       []sent
	publishErr error
}

func newRecorder() *recorder {
	return &recorder{
		subs:  make(map[string]map[uuid.UUID]bool),
		users: make(map[uuid.UUID]uuid.UUID),
	}
}

// connect makes the recorder report c's user in Subscriptions, as a hub
// knows the user behind every connection.
func (r *recorder) connect(callers ...service.Caller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range callers {
		r.users[c.ConnID] = c.UserID
	}
}

func (r *recorder) Subscribe(connID uuid.UUID, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[topic] == nil {
		r.subs[topic] = make(map[uuid.UUID]bool)
	}
	if r.subs[topic][connID] {
		return false
	}
	r.subs[topic][connID] = true
	return true
}

func (r *recorder) Unsubscribe(connID uuid.UUID, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.subs[topic][connID] {
		return false
	}
	delete(r.subs[topic], connID)
	return true
}

func (r *recorder) SendTo(connID uuid.UUID, env domain.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{connID: connID, env: env})
}

func (r *recorder) Subscriptions(prefix string) map[string][]service.Caller {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]service.Caller)
	for topic, conns := range r.subs {
		if !strings.HasPrefix(topic, prefix) {
			continue
		}
		for connID := range conns {
			out[topic] = append(out[topic], service.Caller{UserID: r.users[connID], ConnID: connID})
		}
	}
	return out
}

func (r *recorder) Publish(_ context.Context, topic string, env domain.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.publishErr != nil {
		return r.publishErr
	}
	r.published = append(r.published, published{topic: topic, env: env})
	return nil
}

func (r *recorder) subscribed(connID uuid.UUID, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[topic][connID]
}

// events returns what was published on topic, in publish order.
func (r *recorder) events(topic string) []domain.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Envelope
	for _, p := range r.published {
		if p.topic == topic {
			out = append(out, p.env)
		}
	}
	return out
}

func (r *recorder) eventsOf(topic string, event domain.EventType) []domain.Envelope {
	var out []domain.Envelope
	for _, env := range r.events(topic) {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

// sentTo returns what was delivered to one connection only.
func (r *recorder) sentTo(connID uuid.UUID) []domain.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Envelope
	for _, s := range r.sent {
		if s.connID == connID {
			out = append(out, s.env)
		}
	}
	return out
}

// harness wires the coordinators over in-memory backends.
type harness struct {
	repos    *repository.Repositories
	store    *store.MemoryStore
	rec      *recorder
	reg      *prometheus.Registry
	services *service.Services
}

func newHarness(t *testing.T, opts service.Options) *harness {
	t.Helper()
	h := &harness{
		repos: memory.NewRepositories(memory.NewDB()),
		store: store.NewMemoryStore(),
		rec:   newRecorder(),
		reg:   prometheus.NewRegistry(),
	}
	h.services = service.NewServices(h.repos, h.store, h.rec, h.rec, metrics.New(h.reg), zap.NewNop(), opts)
	return h
}

// withLobbies swaps the lobby repository the coordinators see.
func (h *harness) withLobbies(t *testing.T, lobbies repository.LobbyRepository, opts service.Options) {
	t.Helper()
	repos := *h.repos
	repos.Lobby = lobbies
	h.services = service.NewServices(&repos, h.store, h.rec, h.rec, metrics.New(prometheus.NewRegistry()), zap.NewNop(), opts)
}

// withStore swaps the shared store the coordinators see.
func (h *harness) withStore(t *testing.T, st store.Store, opts service.Options) {
	t.Helper()
	h.services = service.NewServices(h.repos, st, h.rec, h.rec, metrics.New(prometheus.NewRegistry()), zap.NewNop(), opts)
}

func (h *harness) counter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := h.reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func caller(userID uuid.UUID) service.Caller {
	return service.Caller{UserID: userID, ConnID: uuid.New()}
}

func errorPayload(t *testing.T, env domain.Envelope) domain.ErrorPayload {
	t.Helper()
	require.Equal(t, domain.EventError, env.Event)
	payload, ok := env.Payload.(domain.ErrorPayload)
	require.True(t, ok, "unexpected payload type %T", env.Payload)
	return payload
}

// conflictingLobbies fails the next n commits with a version conflict.
type conflictingLobbies struct {
	repository.LobbyRepository
	mu sync.Mutex
	n  int
}

func (c *conflictingLobbies) Commit(ctx context.Context, lobbyID uuid.UUID, expected int64, change domain.LobbyChange) error {
	c.mu.Lock()
	if c.n > 0 {
		c.n--
		c.mu.Unlock()
		return repository.ErrVersionConflict
	}
	c.mu.Unlock()
	return c.LobbyRepository.Commit(ctx, lobbyID, expected, change)
}

// failingStore fails Incr, standing in for a store outage.
type failingStore struct {
	store.Store
}

var errStoreDown = errors.New("store unavailable")

func (failingStore) Incr(context.Context, string) (int64, error) {
	return 0, errStoreDown
}

// hookedLobbies runs afterCommit once, right after the first successful commit.
type hookedLobbies struct {
	repository.LobbyRepository
	once        sync.Once
	afterCommit func()
}

func (l *hookedLobbies) Commit(ctx context.Context, lobbyID uuid.UUID, expected int64, change domain.LobbyChange) error {
	if err := l.LobbyRepository.Commit(ctx, lobbyID, expected, change); err != nil {
		return err
	}
	l.once.Do(l.afterCommit)
	return nil
}

// hookedStore runs afterRemove once, right after the first presence removal.
type hookedStore struct {
	store.Store
	once        sync.Once
	afterRemove func()
}

func (s *hookedStore) PresenceRemove(ctx context.Context, key, member string) (int64, error) {
	n, err := s.Store.PresenceRemove(ctx, key, member)
	if err == nil {
		s.once.Do(s.afterRemove)
	}
	return n, err
}
