// Package store is the shared state every server instance coordinates
// through: counters, expiring markers, versioned documents and presence
// counts. Redis backs multi-instance deployments; Memory serves a single
// process and tests.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("key not found")
	ErrVersionConflict = errors.New("version conflict")
)

type Store interface {
	// Incr atomically increments key and returns the new value. Missing keys start at 0.
	Incr(ctx context.Context, key string) (int64, error)

	// SetNX stores a marker under key for ttl unless one already exists.
	// It reports whether the marker was written.
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Get returns a versioned value and its version, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, int64, error)

	// CompareAndSet writes value when the stored version equals expected and
	// returns the new version. Expected 0 means the key must not exist yet.
	// A ttl of 0 keeps the value without expiry.
	CompareAndSet(ctx context.Context, key string, expected int64, value []byte, ttl time.Duration) (int64, error)

	// PresenceAdd records member, one connection, under key until ttl from
	// now and returns how many live members key holds. Adding a member that is
	// already present only extends its expiry.
	PresenceAdd(ctx context.Context, key, member string, ttl time.Duration) (int64, error)

	// PresenceRemove drops member and returns how many live members are left.
	PresenceRemove(ctx context.Context, key, member string) (int64, error)

	// PresenceTouch pushes member's expiry out to ttl from now. A member that
	// was removed or has already expired is not brought back.
	PresenceTouch(ctx context.Context, key, member string, ttl time.Duration) error

	// PresenceCount returns how many live members key holds.
	PresenceCount(ctx context.Context, key string) (int64, error)

	Close() error
}

// Keys

func SequenceKey(scope, id string) string { return "seq:" + scope + ":" + id }

func IdempotencyKey(scope, clientRequestID string) string {
	return "idem:" + scope + ":" + clientRequestID
}

func VetoSessionKey(matchID string) string { return "veto:session:" + matchID }

// LobbyPresenceKey holds the open connections of one user in one lobby.
func LobbyPresenceKey(lobbyID, userID string) string {
	return "presence:lobby:" + lobbyID + ":" + userID
}

// presenceTTL maps a non-positive ttl to an expiry far enough out to never matter.
func presenceTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 100 * 365 * 24 * time.Hour
	}
	return ttl
}
