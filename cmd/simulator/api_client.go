package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/dom/scrim-veto/internal/websocket"
	"github.com/google/uuid"
	gorillaWS "github.com/gorilla/websocket"
)

// SimClient is one simulated browser tab on a realtime channel
type SimClient struct {
	name     string
	conn     *gorillaWS.Conn
	tracker  *websocket.SequenceTracker
	messages chan websocket.Envelope
	writeMu  sync.Mutex
	requests int
}

// Dial opens channel ("lobby" or "veto") on the server at baseURL as the
// holder of token.
func Dial(baseURL, channel, token, name string) (*SimClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API_URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/api/v1/ws/" + channel
	u.RawQuery = url.Values{"token": {token}}.Encode()

	dialer := *gorillaWS.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, resp, err := dialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s (status %d): %w", channel, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", channel, err)
	}

	c := &SimClient{
		name:     name,
		conn:     conn,
		tracker:  websocket.NewSequenceTracker(),
		messages: make(chan websocket.Envelope, 256),
	}
	go c.readLoop()
	return c, nil
}

func (c *SimClient) readLoop() {
	defer close(c.messages)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env websocket.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		// Stale or repeated deliveries never reach the caller.
		if !c.tracker.Apply(env.Topic(), env) {
			continue
		}
		c.messages <- env
	}
}

func (c *SimClient) Close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.WriteMessage(gorillaWS.CloseMessage, gorillaWS.FormatCloseMessage(gorillaWS.CloseNormalClosure, ""))
	c.conn.Close()
}

func (c *SimClient) send(op websocket.Op, args interface{}) error {
	frame, err := websocket.NewFrame(op, args)
	if err != nil {
		return err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(gorillaWS.TextMessage, data)
}

// nextRequestID returns a fresh clientRequestId for this tab.
func (c *SimClient) nextRequestID() string {
	c.requests++
	return fmt.Sprintf("%s-%d", c.name, c.requests)
}

func (c *SimClient) JoinLobby(lobbyID uuid.UUID) error {
	return c.send(websocket.OpJoinLobby, websocket.LobbyArgs{LobbyID: lobbyID})
}

func (c *SimClient) Heartbeat(lobbyID uuid.UUID) error {
	return c.send(websocket.OpHeartbeat, websocket.LobbyArgs{LobbyID: lobbyID})
}

func (c *SimClient) SetCaptains(lobbyID, teamA, teamB uuid.UUID, requestID string) error {
	return c.send(websocket.OpSetCaptains, websocket.SetCaptainsArgs{
		LobbyID:         lobbyID,
		TeamAUserID:     teamA,
		TeamBUserID:     teamB,
		ClientRequestID: requestID,
	})
}

func (c *SimClient) UpdateTeams(lobbyID uuid.UUID, teamA, teamB []uuid.UUID, requestID string) error {
	return c.send(websocket.OpUpdateTeams, websocket.UpdateTeamsArgs{
		LobbyID:         lobbyID,
		TeamA:           teamA,
		TeamB:           teamB,
		ClientRequestID: requestID,
	})
}

func (c *SimClient) JoinMatch(matchID uuid.UUID) error {
	return c.send(websocket.OpJoinMatch, websocket.MatchArgs{MatchID: matchID})
}

func (c *SimClient) StartVeto(matchID uuid.UUID, mode string) error {
	return c.send(websocket.OpStartVeto, websocket.StartVetoArgs{MatchID: matchID, Mode: mode})
}

func (c *SimClient) VetoAction(matchID uuid.UUID, action domain.VetoAction, mapID uuid.UUID, requestID string) error {
	return c.send(websocket.OpVetoAction, websocket.VetoActionArgs{
		MatchID:         matchID,
		Action:          string(action),
		MapID:           mapID,
		ClientRequestID: requestID,
	})
}

// Await skips envelopes until event arrives and decodes its payload into v.
// An Error event fails the wait.
func (c *SimClient) Await(event domain.EventType, v interface{}, timeout time.Duration) (websocket.Envelope, error) {
	deadline := time.After(timeout)
	for {
		select {
		case env, ok := <-c.messages:
			if !ok {
				return env, fmt.Errorf("%s: connection closed waiting for %s", c.name, event)
			}
			if env.Event == domain.EventError && event != domain.EventError {
				var payload domain.ErrorPayload
				_ = env.Decode(&payload)
				return env, fmt.Errorf("%s: server error %s: %s", c.name, payload.Code, payload.Message)
			}
			if env.Event != event {
				continue
			}
			if v != nil {
				if err := env.Decode(v); err != nil {
					return env, fmt.Errorf("%s: decode %s: %w", c.name, event, err)
				}
			}
			return env, nil
		case <-deadline:
			return websocket.Envelope{}, fmt.Errorf("%s: timeout waiting for %s", c.name, event)
		}
	}
}

// Drain discards everything buffered so far.
func (c *SimClient) Drain() {
	for {
		select {
		case <-c.messages:
		default:
			return
		}
	}
}
