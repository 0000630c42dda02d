package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// streamBuffer is the per-stream send queue size. A client that falls this
// far behind is treated as dead and dropped.
const streamBuffer = 64

// Stream is one open server-push connection belonging to a user. The hub
// queues serialized envelopes on send; the transport loop drains them.
type Stream struct {
	UserID       uuid.UUID
	RegisteredAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewStream creates an unregistered stream for a user.
func NewStream(userID uuid.UUID) *Stream {
	return &Stream{
		UserID:       userID,
		RegisteredAt: time.Now(),
		send:         make(chan []byte, streamBuffer),
		done:         make(chan struct{}),
	}
}

// Events is the transport-side read end of the stream.
func (s *Stream) Events() <-chan []byte { return s.send }

// Done is closed when the stream is evicted or unregistered.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Close marks the stream dead and wakes its transport loop. Safe to call
// any number of times.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// trySend queues a message without blocking. False means the stream is
// closed or its buffer is full; the caller treats both as a write failure.
func (s *Stream) trySend(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}
