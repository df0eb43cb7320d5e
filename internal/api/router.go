package api

import (
	"context"
	"net/http"

	"github.com/dom/scrim-veto/internal/api/handlers"
	"github.com/dom/scrim-veto/internal/api/middleware"
	"github.com/dom/scrim-veto/internal/auth"
	"github.com/dom/scrim-veto/internal/config"
	"github.com/dom/scrim-veto/internal/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	Hub      *websocket.Hub
	Commands *websocket.CommandHandler
	Tokens   *auth.TokenValidator
	Gatherer prometheus.Gatherer
	Config   *config.Config
	Logger   *zap.Logger
}

func NewRouter(ctx context.Context, deps Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.Logger(deps.Logger.Named("http")))
	r.Use(chiMiddleware.Recoverer)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	wsHandler := handlers.NewWebSocketHandler(ctx, deps.Hub, deps.Commands, deps.Config.ClientRatePerSecond, deps.Logger.Named("ws"))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(deps.Tokens, deps.Logger.Named("auth")))
			r.Get("/ws/lobby", wsHandler.Lobby)
			r.Get("/ws/veto", wsHandler.Veto)
		})
	})

	return r
}
