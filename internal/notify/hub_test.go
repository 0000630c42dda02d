package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func recvEnvelope(t *testing.T, s *Stream) Envelope {
	t.Helper()
	select {
	case raw := <-s.Events():
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		return env
	default:
		t.Fatal("no event queued")
		return Envelope{}
	}
}

func drainStream(s *Stream) {
	for {
		select {
		case <-s.send:
		default:
			return
		}
	}
}

func TestRegisterSendsConnected(t *testing.T) {
	hub := NewHub(10, 5, zap.NewNop())
	s := NewStream(uuid.New())

	require.True(t, hub.Register(s))

	env := recvEnvelope(t, s)
	assert.Equal(t, EventConnected, env.Event)
	assert.False(t, env.Timestamp.IsZero())
}

func TestRegisterRejectsAtGlobalCap(t *testing.T) {
	hub := NewHub(2, 5, zap.NewNop())
	require.True(t, hub.Register(NewStream(uuid.New())))
	require.True(t, hub.Register(NewStream(uuid.New())))

	rejected := NewStream(uuid.New())
	assert.False(t, hub.Register(rejected))
	assert.True(t, rejected.Closed())
	assert.Equal(t, 2, hub.TotalStreams())

	env := recvEnvelope(t, rejected)
	assert.Equal(t, EventError, env.Event)
	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "connection limit reached", data["message"])
}

func TestRegisterEvictsOldestAtPerUserCap(t *testing.T) {
	hub := NewHub(100, 3, zap.NewNop())
	userID := uuid.New()

	s1 := NewStream(userID)
	s2 := NewStream(userID)
	s3 := NewStream(userID)
	s4 := NewStream(userID)
	for _, s := range []*Stream{s1, s2, s3} {
		require.True(t, hub.Register(s))
	}

	require.True(t, hub.Register(s4))

	assert.Equal(t, 3, hub.UserStreamCount(userID))
	assert.Equal(t, 3, hub.TotalStreams())
	assert.True(t, s1.Closed(), "oldest stream should be evicted")
	assert.False(t, s2.Closed())
	assert.False(t, s4.Closed(), "newest stream should survive")
	assert.Equal(t, []*Stream{s2, s3, s4}, hub.streams[userID])
}

func TestSendToUserReachesOnlyThatUser(t *testing.T) {
	hub := NewHub(100, 5, zap.NewNop())
	alice, bob := uuid.New(), uuid.New()
	a1, a2, b1 := NewStream(alice), NewStream(alice), NewStream(bob)
	for _, s := range []*Stream{a1, a2, b1} {
		require.True(t, hub.Register(s))
		drainStream(s)
	}

	hub.SendToUser(alice, EventSessionCreated, map[string]string{"id": "s-1"})

	for _, s := range []*Stream{a1, a2} {
		env := recvEnvelope(t, s)
		assert.Equal(t, EventSessionCreated, env.Event)
	}
	select {
	case raw := <-b1.Events():
		t.Fatalf("bob should not receive alice's event, got %s", raw)
	default:
	}
}

func TestBroadcastReachesAllUsers(t *testing.T) {
	hub := NewHub(100, 5, zap.NewNop())
	streams := []*Stream{NewStream(uuid.New()), NewStream(uuid.New()), NewStream(uuid.New())}
	for _, s := range streams {
		require.True(t, hub.Register(s))
		drainStream(s)
	}

	hub.Broadcast(EventSessionUpdated, map[string]string{"id": "s-2"})

	for _, s := range streams {
		env := recvEnvelope(t, s)
		assert.Equal(t, EventSessionUpdated, env.Event)
	}
}

func TestFailedWriteDropsOnlyThatStream(t *testing.T) {
	hub := NewHub(100, 5, zap.NewNop())
	userID := uuid.New()
	stalled, healthy := NewStream(userID), NewStream(userID)
	require.True(t, hub.Register(stalled))
	require.True(t, hub.Register(healthy))
	drainStream(healthy)

	// Fill the stalled stream's buffer so the next write fails.
	for stalled.trySend([]byte("{}")) {
	}

	hub.SendToUser(userID, EventSessionUpdated, map[string]string{"id": "s-3"})

	assert.Equal(t, 1, hub.UserStreamCount(userID))
	assert.True(t, stalled.Closed())
	env := recvEnvelope(t, healthy)
	assert.Equal(t, EventSessionUpdated, env.Event)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub(100, 5, zap.NewNop())
	userID := uuid.New()
	s := NewStream(userID)
	require.True(t, hub.Register(s))

	hub.Unregister(s)
	assert.Equal(t, 0, hub.TotalStreams())

	hub.Unregister(s) // second removal is a no-op
	assert.Equal(t, 0, hub.TotalStreams())
	_, present := hub.streams[userID]
	assert.False(t, present, "empty per-user entry should be deleted")
}

func TestSweepRemovesDeadStreams(t *testing.T) {
	hub := NewHub(100, 5, zap.NewNop())
	dead, live := NewStream(uuid.New()), NewStream(uuid.New())
	require.True(t, hub.Register(dead))
	require.True(t, hub.Register(live))

	// Simulate a transport close whose signal never reached the hub.
	dead.Close()
	hub.sweepDead()

	assert.Equal(t, 1, hub.TotalStreams())
	assert.Equal(t, 0, hub.UserStreamCount(dead.UserID))
	assert.Equal(t, 1, hub.UserStreamCount(live.UserID))
}

func TestHeartbeatEnvelope(t *testing.T) {
	hub := NewHub(100, 5, zap.NewNop())
	s := NewStream(uuid.New())
	require.True(t, hub.Register(s))
	drainStream(s)

	hub.heartbeat()

	env := recvEnvelope(t, s)
	assert.Equal(t, EventHeartbeat, env.Event)
	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "alive", data["status"])
	assert.False(t, env.Timestamp.IsZero())
}

func TestHeartbeatWithEmptyRegistryIsNoop(t *testing.T) {
	hub := NewHub(100, 5, zap.NewNop())
	hub.heartbeat()
	hub.sweepDead()
	assert.Equal(t, 0, hub.TotalStreams())
}

func TestPresenceHandlers(t *testing.T) {
	hub := NewHub(100, 5, zap.NewNop())
	var firsts, lasts []uuid.UUID
	hub.SetPresenceHandlers(
		func(id uuid.UUID) { firsts = append(firsts, id) },
		func(id uuid.UUID) { lasts = append(lasts, id) },
	)

	userID := uuid.New()
	s1, s2 := NewStream(userID), NewStream(userID)
	require.True(t, hub.Register(s1))
	require.True(t, hub.Register(s2))
	assert.Equal(t, []uuid.UUID{userID}, firsts, "only the first stream fires")

	hub.Unregister(s1)
	assert.Empty(t, lasts)
	hub.Unregister(s2)
	assert.Equal(t, []uuid.UUID{userID}, lasts, "only the last stream fires")
}

func TestRunHeartbeatsUntilCancelled(t *testing.T) {
	hub := NewHub(100, 5, zap.NewNop())
	s := NewStream(uuid.New())
	require.True(t, hub.Register(s))
	drainStream(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx, 5*time.Millisecond, time.Hour)
		close(done)
	}()

	select {
	case raw := <-s.Events():
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, EventHeartbeat, env.Event)
	case <-time.After(time.Second):
		t.Fatal("no heartbeat received")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop on cancel")
	}
}
