package signaling

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Events emitted to peers.
const (
	EventJoinedMeeting   = "joined-meeting"
	EventUserJoined      = "user-joined"
	EventUserLeft        = "user-left"
	EventOffer           = "offer"
	EventAnswer          = "answer"
	EventICECandidate    = "ice-candidate"
	EventRecordingStatus = "recording-status"
)

// Conn is the transport side of a peer. Emit must not block; a stalled
// client is the transport's problem, not the coordinator's.
type Conn interface {
	Emit(event string, data interface{})
}

// Participant identifies a peer already in a room, returned to a joiner so
// it knows who to negotiate with.
type Participant struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}

// JoinHandler observes a connection entering a room. firstInRoom is true
// when the join created the room.
type JoinHandler func(roomID, userID uuid.UUID, connID string, firstInRoom bool)

// LeaveHandler observes a connection leaving. roomEmptied is true when the
// departure deleted the room.
type LeaveHandler func(roomID, userID uuid.UUID, connID string, roomEmptied bool)

type member struct {
	connID string
	userID uuid.UUID
	roomID uuid.UUID
	conn   Conn
}

// Coordinator tracks video-call rooms and relays negotiation messages
// between peers. Rooms exist only while someone is in them; a connection
// belongs to at most one room.
type Coordinator struct {
	mu     sync.Mutex
	rooms  map[uuid.UUID]map[string]*member
	conns  map[string]*member
	logger *zap.Logger

	onJoin  JoinHandler
	onLeave LeaveHandler
}

// NewCoordinator creates an empty signaling coordinator.
func NewCoordinator(logger *zap.Logger) *Coordinator {
	return &Coordinator{
		rooms:  make(map[uuid.UUID]map[string]*member),
		conns:  make(map[string]*member),
		logger: logger,
	}
}

// SetSessionHooks wires join/leave observers (attendance log, lifecycle
// flips). Set before serving traffic.
func (co *Coordinator) SetSessionHooks(onJoin JoinHandler, onLeave LeaveHandler) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.onJoin = onJoin
	co.onLeave = onLeave
}

// Join adds a connection to a room, creating the room if absent, and
// returns the other participants already there. Everyone else in the room
// is told about the newcomer. A connection that joins again is first
// removed from its previous room, keeping it a member of at most one.
func (co *Coordinator) Join(roomID uuid.UUID, connID string, userID uuid.UUID, conn Conn) []Participant {
	co.mu.Lock()
	if _, rejoined := co.conns[connID]; rejoined {
		co.mu.Unlock()
		co.Leave(connID)
		co.mu.Lock()
	}
	room := co.rooms[roomID]
	if room == nil {
		room = make(map[string]*member)
		co.rooms[roomID] = room
	}
	first := len(room) == 0
	m := &member{connID: connID, userID: userID, roomID: roomID, conn: conn}
	room[connID] = m
	co.conns[connID] = m

	others := make([]Participant, 0, len(room)-1)
	peers := make([]*member, 0, len(room)-1)
	for id, other := range room {
		if id == connID {
			continue
		}
		others = append(others, Participant{ConnectionID: other.connID, UserID: other.userID.String()})
		peers = append(peers, other)
	}
	onJoin := co.onJoin
	co.mu.Unlock()

	for _, p := range peers {
		p.conn.Emit(EventUserJoined, map[string]interface{}{
			"connection_id": connID,
			"user_id":       userID.String(),
		})
	}
	if onJoin != nil {
		onJoin(roomID, userID, connID, first)
	}
	co.logger.Debug("peer joined room",
		zap.String("conn_id", connID), zap.String("room_id", roomID.String()))
	return others
}

// Leave removes a connection from its room. The room is deleted when its
// last member leaves; otherwise the remaining members are told who left.
// Leaving twice, or leaving while never joined, is a no-op.
func (co *Coordinator) Leave(connID string) {
	co.mu.Lock()
	m, ok := co.conns[connID]
	if !ok {
		co.mu.Unlock()
		return
	}
	delete(co.conns, connID)
	room := co.rooms[m.roomID]
	delete(room, connID)
	emptied := len(room) == 0
	var remaining []*member
	if emptied {
		delete(co.rooms, m.roomID)
	} else {
		remaining = make([]*member, 0, len(room))
		for _, p := range room {
			remaining = append(remaining, p)
		}
	}
	onLeave := co.onLeave
	co.mu.Unlock()

	for _, p := range remaining {
		p.conn.Emit(EventUserLeft, map[string]interface{}{
			"connection_id": connID,
			"user_id":       m.userID.String(),
		})
	}
	if onLeave != nil {
		onLeave(m.roomID, m.userID, connID, emptied)
	}
	co.logger.Debug("peer left room",
		zap.String("conn_id", connID), zap.String("room_id", m.roomID.String()))
}

// Relay forwards an opaque negotiation payload to one target connection,
// tagged with the sender. An unknown target is a silent drop: signaling
// races with disconnects and the sender recovers via its own timeout.
func (co *Coordinator) Relay(event, fromConnID, toConnID string, payload json.RawMessage) {
	co.mu.Lock()
	target, ok := co.conns[toConnID]
	co.mu.Unlock()
	if !ok {
		return
	}
	target.conn.Emit(event, map[string]interface{}{
		"from":    fromConnID,
		"payload": payload,
	})
}

// SetRecordingState tells everyone else in the room that a peer started or
// stopped recording. Informational only; nothing is persisted here. An
// unknown origin connection is ignored.
func (co *Coordinator) SetRecordingState(roomID uuid.UUID, connID string, recording bool) {
	co.mu.Lock()
	origin, ok := co.conns[connID]
	if !ok {
		co.mu.Unlock()
		return
	}
	room := co.rooms[roomID]
	peers := make([]*member, 0, len(room))
	for id, p := range room {
		if id == connID {
			continue
		}
		peers = append(peers, p)
	}
	co.mu.Unlock()

	for _, p := range peers {
		p.conn.Emit(EventRecordingStatus, map[string]interface{}{
			"connection_id": connID,
			"user_id":       origin.userID.String(),
			"recording":     recording,
		})
	}
}

// RoomMembers returns the deduplicated user IDs currently in a room.
func (co *Coordinator) RoomMembers(roomID uuid.UUID) []uuid.UUID {
	co.mu.Lock()
	defer co.mu.Unlock()
	room := co.rooms[roomID]
	seen := make(map[uuid.UUID]struct{}, len(room))
	out := make([]uuid.UUID, 0, len(room))
	for _, m := range room {
		if _, dup := seen[m.userID]; dup {
			continue
		}
		seen[m.userID] = struct{}{}
		out = append(out, m.userID)
	}
	return out
}

// RoomCount returns how many rooms are live.
func (co *Coordinator) RoomCount() int {
	co.mu.Lock()
	defer co.mu.Unlock()
	return len(co.rooms)
}
