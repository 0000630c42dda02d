package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	userChannelPrefix = "notify:user:"
	broadcastChannel  = "notify:all"
	publishTimeout    = 5 * time.Second
)

// Fanout spreads hub events across instances via Redis pub/sub. Events are
// published only; the subscription callback performs the local delivery
// exactly once per instance, including on the publisher itself, so local
// clients never see duplicates.
//
// Per-user channels are subscribed on demand: when a user's first stream
// registers on this instance and dropped again with their last one.
type Fanout struct {
	hub    *Hub
	client *redis.Client
	logger *zap.Logger

	// mu serializes per-user presence transitions; subs holds at most one
	// live subscription per user.
	mu        sync.Mutex
	subs      map[uuid.UUID]func()
	cancelAll func()
}

// NewFanout wires a hub to Redis. The broadcast channel is subscribed
// immediately; per-user channels follow stream presence.
func NewFanout(hub *Hub, client *redis.Client, logger *zap.Logger) (*Fanout, error) {
	f := &Fanout{
		hub:    hub,
		client: client,
		logger: logger,
		subs:   make(map[uuid.UUID]func()),
	}
	cancel, err := f.subscribe(broadcastChannel, func(raw []byte) {
		hub.BroadcastRaw(raw)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe broadcast channel: %w", err)
	}
	f.cancelAll = cancel
	hub.SetPresenceHandlers(f.onFirstStream, f.onLastStream)
	return f, nil
}

// SendToUser publishes an event to the user's channel; whichever instances
// hold streams for that user deliver it.
func (f *Fanout) SendToUser(userID uuid.UUID, event string, data interface{}) {
	raw, err := json.Marshal(NewEnvelope(event, data))
	if err != nil {
		f.logger.Warn("marshal event failed", zap.String("event", event), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := f.client.Publish(ctx, userChannelPrefix+userID.String(), raw).Err(); err != nil {
		f.logger.Warn("publish user event failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// Broadcast publishes an event to every instance's hub.
func (f *Fanout) Broadcast(event string, data interface{}) {
	raw, err := json.Marshal(NewEnvelope(event, data))
	if err != nil {
		f.logger.Warn("marshal event failed", zap.String("event", event), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := f.client.Publish(ctx, broadcastChannel, raw).Err(); err != nil {
		f.logger.Warn("publish broadcast failed", zap.Error(err))
	}
}

// Close cancels the broadcast subscription and any per-user subscriptions.
func (f *Fanout) Close() {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[uuid.UUID]func())
	cancelAll := f.cancelAll
	f.cancelAll = nil
	f.mu.Unlock()
	for _, cancel := range subs {
		cancel()
	}
	if cancelAll != nil {
		cancelAll()
	}
}

// onFirstStream and onLastStream run outside the hub's lock, so when a
// reconnect races a disconnect they can arrive in either order. Each
// transition holds f.mu and re-checks the hub's current stream count,
// which the hub commits before firing callbacks; the stale callback of
// the pair then becomes a no-op instead of dropping or doubling the
// user's subscription.
func (f *Fanout) onFirstStream(userID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, live := f.subs[userID]; live {
		return
	}
	if f.hub.UserStreamCount(userID) == 0 {
		return
	}
	cancel, err := f.subscribe(userChannelPrefix+userID.String(), func(raw []byte) {
		f.hub.DeliverRaw(userID, raw)
	})
	if err != nil {
		f.logger.Warn("subscribe user channel failed", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	f.subs[userID] = cancel
}

func (f *Fanout) onLastStream(userID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hub.UserStreamCount(userID) > 0 {
		return
	}
	if cancel, ok := f.subs[userID]; ok {
		delete(f.subs, userID)
		cancel()
	}
}

// subscribe starts a Redis subscription and pumps raw payloads into handler
// until the returned cancel func is called.
func (f *Fanout) subscribe(channel string, handler func(raw []byte)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := f.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
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
				handler([]byte(msg.Payload))
			}
		}
	}()
	return func() { cancelCtx() }, nil
}
