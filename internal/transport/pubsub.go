package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/classlive/backend/internal/live"
)

const (
	channelPrefix  = "livesession:"
	publishTimeout = 5 * time.Second
)

// mirrorPayload is the message published to Redis for cross-instance event
// delivery. Instance lets subscribers drop their own publications so local
// clients never see an event twice.
type mirrorPayload struct {
	Instance string          `json:"instance"`
	Event    json.RawMessage `json:"event"`
	At       int64           `json:"at"`
}

// PubSub bridges session events across instances via Redis pub/sub. It
// implements live.EventMirror; Publish never blocks the caller.
type PubSub struct {
	client     *redis.Client
	logger     *zap.Logger
	instanceID string
}

// NewPubSub creates a Redis pub/sub bridge for session events.
func NewPubSub(client *redis.Client, logger *zap.Logger) *PubSub {
	return &PubSub{
		client:     client,
		logger:     logger,
		instanceID: uuid.NewString(),
	}
}

// Publish mirrors an event to the session's Redis channel.
func (p *PubSub) Publish(sessionID uuid.UUID, ev live.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	raw, err := json.Marshal(mirrorPayload{Instance: p.instanceID, Event: body, At: time.Now().Unix()})
	if err != nil {
		return
	}
	// The core calls Publish under the session lock; hand off to a
	// goroutine so the hot path never waits on Redis.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.client.Publish(ctx, channelPrefix+sessionID.String(), raw).Err(); err != nil {
			p.logger.Debug("mirror publish failed", zap.Error(err))
		}
	}()
}

// Subscribe listens on a session's channel and calls handler with each raw
// event from other instances. Returns a cancel function.
func (p *PubSub) Subscribe(sessionID uuid.UUID, handler func(raw []byte)) (cancel func(), err error) {
	channel := channelPrefix + sessionID.String()
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := p.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var payload mirrorPayload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					continue
				}
				if payload.Instance == p.instanceID {
					continue
				}
				handler(payload.Event)
			}
		}
	}()
	return func() { cancelCtx() }, nil
}
