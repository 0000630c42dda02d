package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Hub defaults, overridable via config.
const (
	DefaultGlobalCap         = 10000
	DefaultPerUserCap        = 10
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultSweepInterval     = 5 * time.Minute
)

// Event names pushed through the hub.
const (
	EventConnected      = "connected"
	EventHeartbeat      = "heartbeat"
	EventError          = "error"
	EventSessionCreated = "session_created"
	EventSessionUpdated = "session_updated"
)

// Envelope is the wire shape of every pushed event.
type Envelope struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEnvelope stamps an event payload with the current time.
func NewEnvelope(event string, data interface{}) Envelope {
	return Envelope{Event: event, Data: data, Timestamp: time.Now().UTC()}
}

// PresenceHandler is called when a user's first stream registers or their
// last stream goes away (e.g. to manage per-user Redis subscriptions).
type PresenceHandler func(userID uuid.UUID)

// Hub maintains user_id -> open streams and pushes events to them.
// Capacity is bounded globally and per user; the oldest stream of a user is
// evicted when they exceed their own cap.
type Hub struct {
	mu      sync.Mutex
	streams map[uuid.UUID][]*Stream // oldest first
	total   int

	globalCap  int
	perUserCap int
	logger     *zap.Logger

	onFirst PresenceHandler
	onLast  PresenceHandler
}

// NewHub creates a notification hub. Non-positive caps fall back to the
// defaults.
func NewHub(globalCap, perUserCap int, logger *zap.Logger) *Hub {
	if globalCap <= 0 {
		globalCap = DefaultGlobalCap
	}
	if perUserCap <= 0 {
		perUserCap = DefaultPerUserCap
	}
	return &Hub{
		streams:    make(map[uuid.UUID][]*Stream),
		globalCap:  globalCap,
		perUserCap: perUserCap,
		logger:     logger,
	}
}

// SetPresenceHandlers sets the first-stream/last-stream callbacks.
func (h *Hub) SetPresenceHandlers(onFirst, onLast PresenceHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onFirst = onFirst
	h.onLast = onLast
}

// Register adds a stream for its user. Returns false and terminates the
// stream with an error event when the global cap is reached. A user at
// their per-user cap has their oldest stream evicted to make room, so a
// reconnecting user is never blocked by their own stale tabs.
func (h *Hub) Register(s *Stream) bool {
	h.mu.Lock()
	if h.total >= h.globalCap {
		h.mu.Unlock()
		h.logger.Warn("stream rejected, global cap reached",
			zap.String("user_id", s.UserID.String()), zap.Int("cap", h.globalCap))
		s.trySend(h.marshal(EventError, map[string]string{"message": "connection limit reached"}))
		s.Close()
		return false
	}
	list := h.streams[s.UserID]
	first := len(list) == 0
	var evicted *Stream
	if len(list) >= h.perUserCap {
		evicted = list[0]
		list = list[1:]
		h.total--
	}
	h.streams[s.UserID] = append(list, s)
	h.total++
	total := h.total
	onFirst := h.onFirst
	h.mu.Unlock()

	if evicted != nil {
		evicted.Close()
		h.logger.Debug("evicted oldest stream for user", zap.String("user_id", s.UserID.String()))
	}
	s.trySend(h.marshal(EventConnected, map[string]string{"user_id": s.UserID.String()}))
	if first && onFirst != nil {
		onFirst(s.UserID)
	}
	h.logger.Debug("stream registered", zap.String("user_id", s.UserID.String()), zap.Int("total", total))
	return true
}

// Unregister removes a stream and closes it. Idempotent; removing an
// already-removed stream is a no-op. The user's registry entry is deleted
// when their last stream goes.
func (h *Hub) Unregister(s *Stream) {
	s.Close()
	h.mu.Lock()
	list, ok := h.streams[s.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	idx := -1
	for i, cur := range list {
		if cur == s {
			idx = i
			break
		}
	}
	if idx == -1 {
		h.mu.Unlock()
		return
	}
	list = append(list[:idx], list[idx+1:]...)
	h.total--
	last := len(list) == 0
	if last {
		delete(h.streams, s.UserID)
	} else {
		h.streams[s.UserID] = list
	}
	onLast := h.onLast
	h.mu.Unlock()

	if last && onLast != nil {
		onLast(s.UserID)
	}
	h.logger.Debug("stream unregistered", zap.String("user_id", s.UserID.String()))
}

// SendToUser pushes an event to every open stream of one user. A failed
// write drops only that stream.
func (h *Hub) SendToUser(userID uuid.UUID, event string, data interface{}) {
	raw := h.marshal(event, data)
	if raw == nil {
		return
	}
	h.DeliverRaw(userID, raw)
}

// Broadcast pushes an event to every registered stream of every user.
func (h *Hub) Broadcast(event string, data interface{}) {
	raw := h.marshal(event, data)
	if raw == nil {
		return
	}
	h.BroadcastRaw(raw)
}

// DeliverRaw writes an already-serialized envelope to one user's streams.
// Used by the Redis fan-in so cross-instance messages are not re-stamped.
func (h *Hub) DeliverRaw(userID uuid.UUID, raw []byte) {
	h.mu.Lock()
	streams := append([]*Stream(nil), h.streams[userID]...)
	h.mu.Unlock()
	for _, s := range streams {
		if !s.trySend(raw) {
			h.drop(s)
		}
	}
}

// BroadcastRaw writes an already-serialized envelope to every stream.
func (h *Hub) BroadcastRaw(raw []byte) {
	h.mu.Lock()
	streams := make([]*Stream, 0, h.total)
	for _, list := range h.streams {
		streams = append(streams, list...)
	}
	h.mu.Unlock()
	for _, s := range streams {
		if !s.trySend(raw) {
			h.drop(s)
		}
	}
}

// TotalStreams returns the number of registered streams.
func (h *Hub) TotalStreams() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// UserStreamCount returns the number of open streams for one user.
func (h *Hub) UserStreamCount(userID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams[userID])
}

// Run drives the heartbeat and the stale-stream sweep until ctx is
// cancelled. Non-positive intervals fall back to the defaults.
func (h *Hub) Run(ctx context.Context, heartbeatEvery, sweepEvery time.Duration) {
	if heartbeatEvery <= 0 {
		heartbeatEvery = DefaultHeartbeatInterval
	}
	if sweepEvery <= 0 {
		sweepEvery = DefaultSweepInterval
	}
	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()
	sweep := time.NewTicker(sweepEvery)
	defer sweep.Stop()

	h.logger.Info("notification hub running",
		zap.Duration("heartbeat", heartbeatEvery), zap.Duration("sweep", sweepEvery))
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("notification hub stopped")
			return
		case <-heartbeat.C:
			h.heartbeat()
		case <-sweep.C:
			h.sweepDead()
		}
	}
}

// heartbeat tells every client the server is alive. Intermediaries that
// kill idle connections see traffic at least this often.
func (h *Hub) heartbeat() {
	h.Broadcast(EventHeartbeat, map[string]string{"status": "alive"})
}

// sweepDead removes streams whose close signal was missed. The close/error
// handlers are the primary removal path; this is the backstop.
func (h *Hub) sweepDead() {
	h.mu.Lock()
	var stale []*Stream
	for _, list := range h.streams {
		for _, s := range list {
			if s.Closed() {
				stale = append(stale, s)
			}
		}
	}
	h.mu.Unlock()
	for _, s := range stale {
		h.Unregister(s)
	}
	if len(stale) > 0 {
		h.logger.Info("swept dead streams", zap.Int("count", len(stale)))
	}
}

func (h *Hub) drop(s *Stream) {
	h.logger.Debug("stream write failed, dropping", zap.String("user_id", s.UserID.String()))
	h.Unregister(s)
}

func (h *Hub) marshal(event string, data interface{}) []byte {
	raw, err := json.Marshal(NewEnvelope(event, data))
	if err != nil {
		h.logger.Warn("marshal event failed", zap.String("event", event), zap.Error(err))
		return nil
	}
	return raw
}
