package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const fanoutPrefix = "fanout:"

// Broker carries envelopes from the instance that produced them to the Hub of
// every instance. Run blocks until ctx is done.
type Broker interface {
	Publish(ctx context.Context, topic string, env domain.Envelope) error
	Run(ctx context.Context) error
}

// LocalBroker delivers straight into the local Hub. It is only correct when a
// single server instance is running.
type LocalBroker struct {
	hub *Hub
}

func NewLocalBroker(hub *Hub) *LocalBroker {
	return &LocalBroker{hub: hub}
}

func (b *LocalBroker) Publish(_ context.Context, topic string, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	b.hub.Deliver(topic, data)
	return nil
}

func (b *LocalBroker) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// RedisBroker publishes on fanout:{topic} and pattern-subscribes to fanout:*
// so every instance's Hub sees every event, its own included.
type RedisBroker struct {
	rdb    *redis.Client
	hub    *Hub
	logger *zap.Logger
	ready  chan struct{}
}

func NewRedisBroker(rdb *redis.Client, hub *Hub, logger *zap.Logger) *RedisBroker {
	return &RedisBroker{
		rdb:    rdb,
		hub:    hub,
		logger: logger.Named("broker"),
		ready:  make(chan struct{}),
	}
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, fanoutPrefix+topic, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Ready is closed once the subscription is confirmed by the server.
func (b *RedisBroker) Ready() <-chan struct{} {
	return b.ready
}

func (b *RedisBroker) Run(ctx context.Context) error {
	pubsub := b.rdb.PSubscribe(ctx, fanoutPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	close(b.ready)
	b.logger.Info("Subscribed to fan-out channels")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			topic := strings.TrimPrefix(msg.Channel, fanoutPrefix)
			b.hub.Deliver(topic, []byte(msg.Payload))
		}
	}
}
