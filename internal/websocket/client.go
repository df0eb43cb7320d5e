package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/dom/scrim-veto/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256

	// maxCommandDelay is how long a command may wait on the rate limiter
	// before it is refused with rate_limited.
	maxCommandDelay = time.Second
)

// Channel names the endpoint a connection came in on.
const (
	ChannelLobby = "lobby"
	ChannelVeto  = "veto"
)

type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	handler   *CommandHandler
	limiter   ratelimit.Limiter
	logger    *zap.Logger
	userID    uuid.UUID
	connID    uuid.UUID
	channel   string
	topics    map[string]struct{} // guarded by hub.mu
}

func NewClient(hub *Hub, conn *websocket.Conn, handler *CommandHandler, userID uuid.UUID, channel string, ratePerSecond int) *Client {
	if ratePerSecond <= 0 {
		ratePerSecond = 20
	}
	connID := uuid.New()
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		handler: handler,
		limiter: ratelimit.New(ratePerSecond),
		logger: hub.logger.With(
			zap.String("conn_id", connID.String()),
			zap.String("user_id", userID.String()),
			zap.String("channel", channel)),
		userID:  userID,
		connID:  connID,
		channel: channel,
		topics:  make(map[string]struct{}),
	}
}

func (c *Client) Caller() service.Caller {
	return service.Caller{UserID: c.userID, ConnID: c.connID}
}

func (c *Client) ConnID() uuid.UUID { return c.connID }

func (c *Client) UserID() uuid.UUID { return c.userID }

func (c *Client) Channel() string { return c.channel }

// trySend queues data without blocking. Must be called with hub.mu held.
func (c *Client) trySend(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend must be called with hub.mu held for writing.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// ReadPump processes inbound frames one at a time, so a connection's commands
// are handled in the order they were sent.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Websocket read error", zap.Error(err))
			}
			return
		}

		start := time.Now()
		if c.limiter.Take().Sub(start) > maxCommandDelay {
			c.sendError(domain.CodeRateLimited, "Too many commands", "")
			continue
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Op == "" {
			c.sendError(domain.CodeBadRequest, "Malformed frame", "")
			continue
		}
		c.handler.Handle(ctx, c, frame)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				return
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendError(code domain.ErrorCode, message, correlationID string) {
	c.hub.metrics.ErrorSent(string(code))
	c.hub.SendTo(c.connID, domain.NewErrorEnvelope(code, message, correlationID))
}
