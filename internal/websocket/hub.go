package websocket

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/dom/scrim-veto/internal/metrics"
	"github.com/dom/scrim-veto/internal/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DisconnectFunc is called once per removed client with the topics it was
// subscribed to at that moment.
type DisconnectFunc func(c *Client, topics []string)

// Hub is the local connection registry of one server instance. It keeps the
// topic groups and delivers envelopes handed to it by a Broker.
type Hub struct {
	clients      map[uuid.UUID]*Client
	topics       map[string]map[uuid.UUID]*Client
	unregister   chan *Client
	stop         chan struct{}
	done         chan struct{} // closed when Run() exits
	stopped      bool
	onDisconnect DisconnectFunc
	metrics      *metrics.Metrics
	logger       *zap.Logger
	mu           sync.RWMutex
}

func NewHub(m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]*Client),
		topics:     make(map[string]map[uuid.UUID]*Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		metrics:    m,
		logger:     logger.Named("hub"),
	}
}

// OnDisconnect installs the cleanup callback. Call before Run.
func (h *Hub) OnDisconnect(fn DisconnectFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconnect = fn
}

func (h *Hub) Run() {
	defer close(h.done) // Signal that Run() has exited

	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			h.stopped = true
			for _, client := range h.clients {
				client.closeSend()
			}
			h.clients = make(map[uuid.UUID]*Client)
			h.topics = make(map[string]map[uuid.UUID]*Client)
			h.mu.Unlock()
			return

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

// Stop closes every client and blocks until Run has exited.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	close(h.stop)
	<-h.done // Wait for Run() to finish
}

// Register makes the client addressable. It is synchronous so the first
// command read from the connection already finds the client registered.
func (h *Hub) Register(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.clients[client.connID] = client
	h.metrics.ConnectionOpened(client.channel)
	return true
}

// Unregister safely unregisters a client, handling the case where the hub may be stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// remove drops the client from every group, closes its send buffer and runs
// the disconnect callback. Calling it twice for the same client is a no-op.
func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.connID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.connID)

	topics := make([]string, 0, len(client.topics))
	for topic := range client.topics {
		topics = append(topics, topic)
		h.leaveLocked(client.connID, topic)
	}
	client.closeSend()
	onDisconnect := h.onDisconnect
	h.mu.Unlock()

	h.metrics.ConnectionClosed(client.channel)
	if onDisconnect != nil {
		go onDisconnect(client, topics)
	}
}

// Subscribe adds the connection to topic and reports whether it was newly added.
func (h *Hub) Subscribe(connID uuid.UUID, topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return false
	}
	group, ok := h.topics[topic]
	if !ok {
		group = make(map[uuid.UUID]*Client)
		h.topics[topic] = group
	}
	if _, already := group[connID]; already {
		return false
	}
	group[connID] = client
	client.topics[topic] = struct{}{}
	return true
}

// Unsubscribe removes the connection from topic and reports whether it was a member.
func (h *Hub) Unsubscribe(connID uuid.UUID, topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(connID, topic)
}

func (h *Hub) leaveLocked(connID uuid.UUID, topic string) bool {
	group, ok := h.topics[topic]
	if !ok {
		return false
	}
	client, ok := group[connID]
	if !ok {
		return false
	}
	delete(group, connID)
	delete(client.topics, topic)
	if len(group) == 0 {
		delete(h.topics, topic)
	}
	return true
}

// SendTo delivers env to a single local connection.
func (h *Hub) SendTo(connID uuid.UUID, env domain.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("Failed to marshal envelope", zap.String("event", string(env.Event)), zap.Error(err))
		return
	}

	h.mu.RLock()
	client, ok := h.clients[connID]
	var slow bool
	if ok {
		slow = !client.trySend(data)
	}
	h.mu.RUnlock()

	if slow {
		h.dropSlow(client)
	}
}

// Deliver writes an encoded envelope to every local subscriber of topic.
// Subscribers whose buffer is full are disconnected; they resync on reconnect.
func (h *Hub) Deliver(topic string, data []byte) {
	var slow []*Client

	h.mu.RLock()
	for _, client := range h.topics[topic] {
		if !client.trySend(data) {
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.dropSlow(client)
	}
}

func (h *Hub) dropSlow(client *Client) {
	h.logger.Warn("Dropping slow client",
		zap.String("conn_id", client.connID.String()),
		zap.String("user_id", client.userID.String()))
	h.metrics.ClientDropped()
	h.remove(client)
}

// Subscribers returns the number of local connections in topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) Subscriptions(prefix string) map[string][]service.Caller {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string][]service.Caller)
	for topic, group := range h.topics {
		if !strings.HasPrefix(topic, prefix) {
			continue
		}
		for _, client := range group {
			out[topic] = append(out[topic], client.Caller())
		}
	}
	return out
}
