package live

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlive/backend/internal/models"
)

// populateSession starts the session and joins n attendees with distinct
// join times, returning their identities in join order.
func populateSession(t *testing.T, s *Session, clk *testClock, host uuid.UUID, n int) []uuid.UUID {
	t.Helper()
	_, err := s.Start(host)
	require.NoError(t, err)
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
		_, err := s.RequestJoin(ids[i], "student", &fakeEndpoint{})
		require.NoError(t, err)
		clk.advance(time.Second)
	}
	return ids
}

func TestBreakoutRoundRobinBalance(t *testing.T) {
	s, clk, host := newTestSession(t, models.SessionSettings{})
	ids := populateSession(t, s, clk, host, 10)

	rooms, err := s.CreateBreakouts(host, BreakoutAssignment{Count: 3})
	require.NoError(t, err)
	require.Len(t, rooms, 3)

	seen := make(map[uuid.UUID]int)
	for _, room := range rooms {
		assert.Equal(t, models.BreakoutActive, room.Status)
		for _, m := range room.Members {
			seen[m]++
		}
	}
	// Every participant in exactly one room.
	require.Len(t, seen, len(ids))
	for _, id := range ids {
		assert.Equal(t, 1, seen[id])
	}
	// Sizes differ by at most one.
	min, max := len(rooms[0].Members), len(rooms[0].Members)
	for _, room := range rooms {
		if len(room.Members) < min {
			min = len(room.Members)
		}
		if len(room.Members) > max {
			max = len(room.Members)
		}
	}
	assert.LessOrEqual(t, max-min, 1)

	// Roster room assignments match the returned member lists.
	for _, p := range s.Roster() {
		assert.False(t, p.InMainRoom())
	}
}

func TestBreakoutExplicitAssignment(t *testing.T) {
	s, clk, host := newTestSession(t, models.SessionSettings{})
	ids := populateSession(t, s, clk, host, 4)
	a, b := ids[0], ids[1]

	rooms, err := s.CreateBreakouts(host, BreakoutAssignment{
		Count:    2,
		Explicit: map[uuid.UUID]int{a: 1, b: 0},
	})
	require.NoError(t, err)
	require.Len(t, rooms, 2)

	assert.Contains(t, rooms[0].Members, b)
	assert.Contains(t, rooms[1].Members, a)
	// Unmapped participants are filled in; totals still cover everyone.
	assert.Equal(t, 4, len(rooms[0].Members)+len(rooms[1].Members))
	assert.LessOrEqual(t, absDiff(len(rooms[0].Members), len(rooms[1].Members)), 1)
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

func TestBreakoutLifecycle(t *testing.T) {
	s, clk, host := newTestSession(t, models.SessionSettings{})
	ids := populateSession(t, s, clk, host, 4)

	// Not permitted for attendees, and only when LIVE.
	_, err := s.CreateBreakouts(ids[0], BreakoutAssignment{Count: 2})
	assert.ErrorIs(t, err, ErrNotPermitted)

	_, err = s.CreateBreakouts(host, BreakoutAssignment{Count: 0})
	assert.ErrorIs(t, err, ErrRoomNotFound)

	rooms, err := s.CreateBreakouts(host, BreakoutAssignment{Count: 2})
	require.NoError(t, err)

	// Re-partitioning closes the open set first.
	rooms2, err := s.CreateBreakouts(host, BreakoutAssignment{Count: 4})
	require.NoError(t, err)
	require.Len(t, rooms2, 4)
	assert.NotEqual(t, rooms[0].ID, rooms2[0].ID)

	require.NoError(t, s.CloseBreakouts(host))
	for _, p := range s.Roster() {
		assert.True(t, p.InMainRoom())
	}
	for _, room := range s.Rooms() {
		assert.Equal(t, models.BreakoutClosed, room.Status)
	}
	assert.ErrorIs(t, s.CloseBreakouts(host), ErrRoomNotFound)
}

func TestBreakoutReassign(t *testing.T) {
	s, clk, host := newTestSession(t, models.SessionSettings{})
	ids := populateSession(t, s, clk, host, 2)
	a, b := ids[0], ids[1]

	rooms, err := s.CreateBreakouts(host, BreakoutAssignment{
		Count:    2,
		Explicit: map[uuid.UUID]int{a: 0, b: 1},
	})
	require.NoError(t, err)

	require.NoError(t, s.Reassign(host, a, rooms[1].ID))
	require.NoError(t, s.Relay(a, b, []byte(`{}`)), "reassigned participants share a signaling scope")

	// Back to the main room is always a valid target.
	require.NoError(t, s.Reassign(host, a, models.MainRoom))

	assert.ErrorIs(t, s.Reassign(host, a, uuid.New()), ErrRoomNotFound)
	assert.ErrorIs(t, s.Reassign(host, uuid.New(), rooms[1].ID), ErrParticipantNotFound)
	assert.ErrorIs(t, s.Reassign(a, b, rooms[0].ID), ErrNotPermitted)

	require.NoError(t, s.CloseBreakouts(host))
	assert.ErrorIs(t, s.Reassign(host, a, rooms[1].ID), ErrRoomNotFound)
}

func TestReconnectAfterBreakoutsClosed(t *testing.T) {
	s, clk, host := newTestSession(t, models.SessionSettings{})
	ids := populateSession(t, s, clk, host, 2)
	a, b := ids[0], ids[1]

	_, err := s.CreateBreakouts(host, BreakoutAssignment{
		Count:    2,
		Explicit: map[uuid.UUID]int{a: 0, b: 1},
	})
	require.NoError(t, err)

	require.NoError(t, s.MarkDisconnected(a))
	token, ok := s.ReconnectTokenFor(a)
	require.True(t, ok)

	require.NoError(t, s.CloseBreakouts(host))

	// The token still names the closed room; the reconnect must not restore it.
	p, err := s.Reconnect(token, &fakeEndpoint{})
	require.NoError(t, err)
	assert.True(t, p.InMainRoom())
	require.NoError(t, s.Relay(a, b, []byte(`{}`)), "reconnected participant shares the main room's signaling scope")
}

func TestReconnectRestoresActiveRoom(t *testing.T) {
	s, clk, host := newTestSession(t, models.SessionSettings{})
	ids := populateSession(t, s, clk, host, 2)
	a := ids[0]

	_, err := s.CreateBreakouts(host, BreakoutAssignment{Count: 2})
	require.NoError(t, err)
	var before uuid.UUID
	for _, p := range s.Roster() {
		if p.Identity == a {
			before = p.RoomID
		}
	}
	require.NotEqual(t, models.MainRoom, before)

	require.NoError(t, s.MarkDisconnected(a))
	token, ok := s.ReconnectTokenFor(a)
	require.True(t, ok)

	p, err := s.Reconnect(token, &fakeEndpoint{})
	require.NoError(t, err)
	assert.Equal(t, before, p.RoomID, "an open room assignment survives the reconnect")
}

func TestBreakoutMaxRooms(t *testing.T) {
	s, clk, host := newTestSession(t, models.SessionSettings{})
	populateSession(t, s, clk, host, 2)

	_, err := s.CreateBreakouts(host, BreakoutAssignment{Count: 51})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestPartitionRoundRobin(t *testing.T) {
	ids := make([]uuid.UUID, 7)
	for i := range ids {
		ids[i] = uuid.New()
	}
	groups := partitionRoundRobin(ids, 3)
	require.Len(t, groups, 3)
	assert.Len(t, groups[0], 3)
	assert.Len(t, groups[1], 2)
	assert.Len(t, groups[2], 2)
	assert.Equal(t, ids[0], groups[0][0])
	assert.Equal(t, ids[1], groups[1][0])
	assert.Equal(t, ids[3], groups[0][1])
}
