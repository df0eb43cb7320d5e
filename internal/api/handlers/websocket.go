package handlers

import (
	"context"
	"net/http"

	"github.com/dom/scrim-veto/internal/api/middleware"
	"github.com/dom/scrim-veto/internal/websocket"
	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

type WebSocketHandler struct {
	hub           *websocket.Hub
	commands      *websocket.CommandHandler
	ratePerSecond int
	baseCtx       context.Context
	logger        *zap.Logger
}

// NewWebSocketHandler serves both realtime channels. baseCtx bounds the
// lifetime of every connection's command processing.
func NewWebSocketHandler(baseCtx context.Context, hub *websocket.Hub, commands *websocket.CommandHandler, ratePerSecond int, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		commands:      commands,
		ratePerSecond: ratePerSecond,
		baseCtx:       baseCtx,
		logger:        logger,
	}
}

func (h *WebSocketHandler) Lobby(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, websocket.ChannelLobby)
}

func (h *WebSocketHandler) Veto(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, websocket.ChannelVeto)
}

func (h *WebSocketHandler) serve(w http.ResponseWriter, r *http.Request, channel string) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Upgrade to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade error", zap.Error(err))
		return
	}

	client := websocket.NewClient(h.hub, conn, h.commands, userID, channel, h.ratePerSecond)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	// Start goroutines
	go client.WritePump()
	go client.ReadPump(h.baseCtx)
}
