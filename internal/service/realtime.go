package service

import (
	"context"
	"time"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/google/uuid"
)

// Caller identifies who issued a realtime command and over which connection.
type Caller struct {
	UserID uuid.UUID
	ConnID uuid.UUID
}

// Publisher fans an envelope out to every subscriber of topic on every instance.
type Publisher interface {
	Publish(ctx context.Context, topic string, env domain.Envelope) error
}

// Groups is the local connection registry of this instance.
type Groups interface {
	// Subscribe adds the connection to topic and reports whether it was new.
	Subscribe(connID uuid.UUID, topic string) bool
	// Unsubscribe removes the connection from topic and reports whether it was there.
	Unsubscribe(connID uuid.UUID, topic string) bool
	// SendTo delivers env to one local connection only.
	SendTo(connID uuid.UUID, env domain.Envelope)
	// Subscriptions lists the local connections of every topic starting with prefix.
	Subscriptions(prefix string) map[string][]Caller
}

// Options tunes the coordinators.
type Options struct {
	IdempotencyTTL time.Duration
	PresenceTTL    time.Duration
	VetoSessionTTL time.Duration
	MaxAttempts    int
}

func (o Options) withDefaults() Options {
	if o.IdempotencyTTL <= 0 {
		o.IdempotencyTTL = DefaultIdempotencyTTL
	}
	if o.PresenceTTL <= 0 {
		o.PresenceTTL = 2 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	return o
}

// rejection is a domain failure reported to clients as an Error event.
type rejection struct {
	code    domain.ErrorCode
	message string
}

func reject(code domain.ErrorCode, message string) *rejection {
	return &rejection{code: code, message: message}
}
