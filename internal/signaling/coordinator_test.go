package signaling

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type emitted struct {
	event string
	data  map[string]interface{}
}

type fakeConn struct {
	events []emitted
}

func (f *fakeConn) Emit(event string, data interface{}) {
	m, _ := data.(map[string]interface{})
	f.events = append(f.events, emitted{event: event, data: m})
}

func (f *fakeConn) eventsNamed(event string) []emitted {
	var out []emitted
	for _, e := range f.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func TestJoinReturnsOthersAndNotifiesRoom(t *testing.T) {
	co := NewCoordinator(zap.NewNop())
	room := uuid.New()
	u1, u2 := uuid.New(), uuid.New()
	c1, c2 := &fakeConn{}, &fakeConn{}

	others := co.Join(room, "conn-1", u1, c1)
	assert.Empty(t, others, "first joiner sees an empty room")

	others = co.Join(room, "conn-2", u2, c2)
	require.Len(t, others, 1)
	assert.Equal(t, "conn-1", others[0].ConnectionID)
	assert.Equal(t, u1.String(), others[0].UserID)

	joined := c1.eventsNamed(EventUserJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "conn-2", joined[0].data["connection_id"])
	assert.Equal(t, u2.String(), joined[0].data["user_id"])
	assert.Empty(t, c2.eventsNamed(EventUserJoined), "joiner is not notified about itself")

	assert.ElementsMatch(t, []uuid.UUID{u1, u2}, co.RoomMembers(room))
}

func TestRoomMembersDeduplicatesUsers(t *testing.T) {
	co := NewCoordinator(zap.NewNop())
	room := uuid.New()
	userID := uuid.New()

	co.Join(room, "tab-1", userID, &fakeConn{})
	co.Join(room, "tab-2", userID, &fakeConn{})

	assert.Equal(t, []uuid.UUID{userID}, co.RoomMembers(room))
}

func TestRelayReachesOnlyTarget(t *testing.T) {
	co := NewCoordinator(zap.NewNop())
	room := uuid.New()
	c1, c2, c3 := &fakeConn{}, &fakeConn{}, &fakeConn{}
	co.Join(room, "conn-1", uuid.New(), c1)
	co.Join(room, "conn-2", uuid.New(), c2)
	co.Join(room, "conn-3", uuid.New(), c3)

	payload := json.RawMessage(`{"sdp":"v=0..."}`)
	co.Relay(EventOffer, "conn-1", "conn-2", payload)

	offers := c2.eventsNamed(EventOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, "conn-1", offers[0].data["from"])
	raw, ok := offers[0].data["payload"].(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"sdp":"v=0..."}`, string(raw))

	assert.Empty(t, c1.eventsNamed(EventOffer))
	assert.Empty(t, c3.eventsNamed(EventOffer))
}

func TestRelayToUnknownTargetIsSilentlyDropped(t *testing.T) {
	co := NewCoordinator(zap.NewNop())
	room := uuid.New()
	c1 := &fakeConn{}
	co.Join(room, "conn-1", uuid.New(), c1)

	co.Relay(EventAnswer, "conn-1", "gone", json.RawMessage(`{}`))

	assert.Empty(t, c1.eventsNamed(EventAnswer))
}

func TestLeaveNotifiesRemainingAndDeletesEmptyRoom(t *testing.T) {
	co := NewCoordinator(zap.NewNop())
	room := uuid.New()
	u1, u2 := uuid.New(), uuid.New()
	c1, c2 := &fakeConn{}, &fakeConn{}
	co.Join(room, "conn-1", u1, c1)
	co.Join(room, "conn-2", u2, c2)

	co.Leave("conn-1")

	left := c2.eventsNamed(EventUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "conn-1", left[0].data["connection_id"])
	assert.Equal(t, u1.String(), left[0].data["user_id"])
	assert.Equal(t, []uuid.UUID{u2}, co.RoomMembers(room))
	assert.Equal(t, 1, co.RoomCount())

	co.Leave("conn-2")
	assert.Empty(t, co.RoomMembers(room))
	assert.Equal(t, 0, co.RoomCount(), "last leave deletes the room")
}

func TestLeaveIsIdempotent(t *testing.T) {
	co := NewCoordinator(zap.NewNop())
	room := uuid.New()
	c1, c2 := &fakeConn{}, &fakeConn{}
	co.Join(room, "conn-1", uuid.New(), c1)
	co.Join(room, "conn-2", uuid.New(), c2)

	co.Leave("conn-1")
	co.Leave("conn-1")

	assert.Len(t, c2.eventsNamed(EventUserLeft), 1, "second leave emits nothing")
	co.Leave("never-joined")
	assert.Equal(t, 1, co.RoomCount())
}

func TestJoinAgainMovesConnectionBetweenRooms(t *testing.T) {
	co := NewCoordinator(zap.NewNop())
	roomA, roomB := uuid.New(), uuid.New()
	u1, u2 := uuid.New(), uuid.New()
	c1, c2 := &fakeConn{}, &fakeConn{}
	co.Join(roomA, "conn-1", u1, c1)
	co.Join(roomA, "conn-2", u2, c2)

	others := co.Join(roomB, "conn-1", u1, c1)

	assert.Empty(t, others, "the new room starts empty")
	left := c2.eventsNamed(EventUserLeft)
	require.Len(t, left, 1, "the old room is told the mover left")
	assert.Equal(t, "conn-1", left[0].data["connection_id"])
	assert.Equal(t, []uuid.UUID{u2}, co.RoomMembers(roomA))
	assert.Equal(t, []uuid.UUID{u1}, co.RoomMembers(roomB))
	assert.Equal(t, 2, co.RoomCount())
}

func TestJoinAgainDeletesEmptiedRoom(t *testing.T) {
	co := NewCoordinator(zap.NewNop())
	roomA, roomB := uuid.New(), uuid.New()
	u := uuid.New()
	c := &fakeConn{}
	co.Join(roomA, "conn-1", u, c)

	co.Join(roomB, "conn-1", u, c)

	assert.Empty(t, co.RoomMembers(roomA))
	assert.Equal(t, 1, co.RoomCount(), "the emptied room is deleted")
	assert.Equal(t, []uuid.UUID{u}, co.RoomMembers(roomB))
}

func TestSetRecordingStateReachesOthersOnly(t *testing.T) {
	co := NewCoordinator(zap.NewNop())
	room := uuid.New()
	u1 := uuid.New()
	c1, c2 := &fakeConn{}, &fakeConn{}
	co.Join(room, "conn-1", u1, c1)
	co.Join(room, "conn-2", uuid.New(), c2)

	co.SetRecordingState(room, "conn-1", true)

	status := c2.eventsNamed(EventRecordingStatus)
	require.Len(t, status, 1)
	assert.Equal(t, "conn-1", status[0].data["connection_id"])
	assert.Equal(t, u1.String(), status[0].data["user_id"])
	assert.Equal(t, true, status[0].data["recording"])
	assert.Empty(t, c1.eventsNamed(EventRecordingStatus))

	co.SetRecordingState(room, "gone", true)
	assert.Len(t, c2.eventsNamed(EventRecordingStatus), 1, "unknown origin is ignored")
}

func TestSessionHooks(t *testing.T) {
	co := NewCoordinator(zap.NewNop())
	room := uuid.New()
	u1, u2 := uuid.New(), uuid.New()

	type joinCall struct {
		userID uuid.UUID
		first  bool
	}
	type leaveCall struct {
		userID  uuid.UUID
		emptied bool
	}
	var joins []joinCall
	var leaves []leaveCall
	co.SetSessionHooks(
		func(_, userID uuid.UUID, _ string, first bool) {
			joins = append(joins, joinCall{userID, first})
		},
		func(_, userID uuid.UUID, _ string, emptied bool) {
			leaves = append(leaves, leaveCall{userID, emptied})
		},
	)

	co.Join(room, "conn-1", u1, &fakeConn{})
	co.Join(room, "conn-2", u2, &fakeConn{})
	require.Equal(t, []joinCall{{u1, true}, {u2, false}}, joins)

	co.Leave("conn-1")
	co.Leave("conn-2")
	require.Equal(t, []leaveCall{{u1, false}, {u2, true}}, leaves)
}
