package testutil

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/dom/scrim-veto/internal/websocket"
	"github.com/google/uuid"
	gorillaWS "github.com/gorilla/websocket"
)

// WSClient is a test WebSocket client. Every received envelope goes through a
// SequenceTracker, so stale deliveries are never surfaced to the test.
type WSClient struct {
	t        *testing.T
	conn     *gorillaWS.Conn
	tracker  *websocket.SequenceTracker
	messages chan websocket.Envelope
	errors   chan error
	done     chan struct{}
	mu       sync.Mutex
}

// NewWSClient creates a new WebSocket test client
func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()

	dialer := *gorillaWS.DefaultDialer
	dialer.HandshakeTimeout = 5 * time.Second

	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect to websocket: %v", err)
	}

	client := &WSClient{
		t:        t,
		conn:     conn,
		tracker:  websocket.NewSequenceTracker(),
		messages: make(chan websocket.Envelope, 100),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
	}

	go client.readPump()

	t.Cleanup(func() {
		client.Close()
	})

	return client
}

// readPump reads messages from the WebSocket connection
func (c *WSClient) readPump() {
	defer close(c.messages)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			case c.errors <- err:
			default:
			}
			return
		}

		var env websocket.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			select {
			case c.errors <- err:
			default:
			}
			continue
		}
		if !c.tracker.Apply(env.Topic(), env) {
			continue
		}

		select {
		case c.messages <- env:
		case <-c.done:
			return
		}
	}
}

// Close closes the WebSocket connection gracefully
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
		close(c.done)
		c.conn.WriteMessage(gorillaWS.CloseMessage, gorillaWS.FormatCloseMessage(gorillaWS.CloseNormalClosure, ""))
		c.conn.Close()
	}
}

// Last returns the last applied seq for topic.
func (c *WSClient) Last(topic string) int64 {
	return c.tracker.Last(topic)
}

// SendRaw writes data as a text frame unchanged.
func (c *WSClient) SendRaw(data []byte) {
	c.t.Helper()

	c.mu.Lock()
	err := c.conn.WriteMessage(gorillaWS.TextMessage, data)
	c.mu.Unlock()

	if err != nil {
		c.t.Fatalf("failed to send frame: %v", err)
	}
}

// Send encodes and writes one command frame.
func (c *WSClient) Send(op websocket.Op, args interface{}) {
	c.t.Helper()

	frame, err := websocket.NewFrame(op, args)
	if err != nil {
		c.t.Fatalf("failed to build frame: %v", err)
	}
	data, err := json.Marshal(frame)
	if err != nil {
		c.t.Fatalf("failed to marshal frame: %v", err)
	}
	c.SendRaw(data)
}

func (c *WSClient) JoinLobby(lobbyID uuid.UUID) {
	c.Send(websocket.OpJoinLobby, websocket.LobbyArgs{LobbyID: lobbyID})
}

func (c *WSClient) LeaveLobby(lobbyID uuid.UUID) {
	c.Send(websocket.OpLeaveLobby, websocket.LobbyArgs{LobbyID: lobbyID})
}

func (c *WSClient) Heartbeat(lobbyID uuid.UUID) {
	c.Send(websocket.OpHeartbeat, websocket.LobbyArgs{LobbyID: lobbyID})
}

func (c *WSClient) SetCaptains(lobbyID, teamA, teamB uuid.UUID, requestID string) {
	c.Send(websocket.OpSetCaptains, websocket.SetCaptainsArgs{
		LobbyID:         lobbyID,
		TeamAUserID:     teamA,
		TeamBUserID:     teamB,
		ClientRequestID: requestID,
	})
}

func (c *WSClient) UpdateTeams(lobbyID uuid.UUID, teamA, teamB []uuid.UUID, requestID string) {
	c.Send(websocket.OpUpdateTeams, websocket.UpdateTeamsArgs{
		LobbyID:         lobbyID,
		TeamA:           teamA,
		TeamB:           teamB,
		ClientRequestID: requestID,
	})
}

func (c *WSClient) JoinMatch(matchID uuid.UUID) {
	c.Send(websocket.OpJoinMatch, websocket.MatchArgs{MatchID: matchID})
}

func (c *WSClient) LeaveMatch(matchID uuid.UUID) {
	c.Send(websocket.OpLeaveMatch, websocket.MatchArgs{MatchID: matchID})
}

func (c *WSClient) StartVeto(matchID uuid.UUID, mode string) {
	c.Send(websocket.OpStartVeto, websocket.StartVetoArgs{MatchID: matchID, Mode: mode})
}

func (c *WSClient) VetoAction(matchID uuid.UUID, action domain.VetoAction, mapID uuid.UUID, requestID string) {
	c.Send(websocket.OpVetoAction, websocket.VetoActionArgs{
		MatchID:         matchID,
		Action:          string(action),
		MapID:           mapID,
		ClientRequestID: requestID,
	})
}

// Next waits for the next applied envelope of any type.
func (c *WSClient) Next(timeout time.Duration) websocket.Envelope {
	c.t.Helper()

	select {
	case env, ok := <-c.messages:
		if !ok {
			c.t.Fatalf("connection closed while waiting for a message")
		}
		return env
	case <-time.After(timeout):
		c.t.Fatalf("timeout waiting for a message")
	}
	return websocket.Envelope{}
}

// Expect skips envelopes until one of event arrives.
func (c *WSClient) Expect(event domain.EventType, timeout time.Duration) websocket.Envelope {
	c.t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case env, ok := <-c.messages:
			if !ok {
				c.t.Fatalf("connection closed while waiting for %s", event)
			}
			if env.Event == event {
				return env
			}
		case <-deadline:
			c.t.Fatalf("timeout waiting for %s", event)
			return websocket.Envelope{}
		}
	}
}

// ExpectPayload is Expect followed by decoding the payload into v.
func (c *WSClient) ExpectPayload(event domain.EventType, v interface{}, timeout time.Duration) websocket.Envelope {
	c.t.Helper()

	env := c.Expect(event, timeout)
	if err := env.Decode(v); err != nil {
		c.t.Fatalf("failed to decode %s payload: %v", event, err)
	}
	return env
}

// ExpectError waits for an Error event with code.
func (c *WSClient) ExpectError(code domain.ErrorCode, timeout time.Duration) domain.ErrorPayload {
	c.t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("timeout waiting for error %s", code)
		}
		var payload domain.ErrorPayload
		c.ExpectPayload(domain.EventError, &payload, remaining)
		if payload.Code == code {
			return payload
		}
	}
}

// ExpectNoMessage fails if anything arrives within timeout.
func (c *WSClient) ExpectNoMessage(timeout time.Duration) {
	c.t.Helper()

	select {
	case env, ok := <-c.messages:
		if ok {
			c.t.Fatalf("expected no message, got %s seq=%d", env.Event, env.Seq)
		}
	case <-time.After(timeout):
	}
}

// ExpectClosed waits for the server to close the connection.
func (c *WSClient) ExpectClosed(timeout time.Duration) {
	c.t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-c.messages:
			if !ok {
				return
			}
		case <-deadline:
			c.t.Fatalf("timeout waiting for connection close")
			return
		}
	}
}

// DrainMessages discards anything buffered so far
func (c *WSClient) DrainMessages() {
	for {
		select {
		case <-c.messages:
		default:
			return
		}
	}
}
