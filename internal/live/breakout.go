package live

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/classlive/backend/internal/models"
)

// breakoutSet owns a session's breakout rooms. At most one set is open at a
// time; closing merges everyone back to the main room. Invoked under the
// owning session's lock. Authoritative membership lives on the participant
// records; the Members lists here are kept in sync for queries.
type breakoutSet struct {
	rooms map[uuid.UUID]*models.BreakoutRoom
	open  bool
}

func newBreakoutSet() *breakoutSet {
	return &breakoutSet{rooms: make(map[uuid.UUID]*models.BreakoutRoom)}
}

// create opens rooms from pre-partitioned member groups.
func (b *breakoutSet) create(sessionID uuid.UUID, groups [][]uuid.UUID, limit time.Duration, now time.Time) []*models.BreakoutRoom {
	b.rooms = make(map[uuid.UUID]*models.BreakoutRoom, len(groups))
	out := make([]*models.BreakoutRoom, 0, len(groups))
	for i, members := range groups {
		room := &models.BreakoutRoom{
			ID:        uuid.New(),
			SessionID: sessionID,
			Name:      fmt.Sprintf("Room %d", i+1),
			Members:   append([]uuid.UUID(nil), members...),
			TimeLimit: limit,
			Status:    models.BreakoutActive,
			CreatedAt: now,
		}
		b.rooms[room.ID] = room
		out = append(out, room)
	}
	b.open = true
	return out
}

// active returns the room only while the set is open.
func (b *breakoutSet) active(roomID uuid.UUID) (*models.BreakoutRoom, bool) {
	if !b.open {
		return nil, false
	}
	room, ok := b.rooms[roomID]
	if !ok || room.Status != models.BreakoutActive {
		return nil, false
	}
	return room, true
}

// move reassigns an identity between rooms. MainRoom on either side means
// the session's main room (no member list to maintain).
func (b *breakoutSet) move(identity, from, to uuid.UUID) {
	if room, ok := b.rooms[from]; ok {
		for i, m := range room.Members {
			if m == identity {
				room.Members = append(room.Members[:i], room.Members[i+1:]...)
				break
			}
		}
	}
	if room, ok := b.rooms[to]; ok {
		room.Members = append(room.Members, identity)
	}
}

// closeAll marks every room closed and returns them. The set stays queryable
// for post-close reads but accepts no further assignment.
func (b *breakoutSet) closeAll() []*models.BreakoutRoom {
	out := make([]*models.BreakoutRoom, 0, len(b.rooms))
	for _, room := range b.rooms {
		room.Status = models.BreakoutClosed
		out = append(out, room)
	}
	b.open = false
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// snapshot returns a copy of all rooms in the current set.
func (b *breakoutSet) snapshot() []models.BreakoutRoom {
	out := make([]models.BreakoutRoom, 0, len(b.rooms))
	for _, room := range b.rooms {
		cp := *room
		cp.Members = append([]uuid.UUID(nil), room.Members...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// partitionRoundRobin deals identities into k groups in order. Group sizes
// differ by at most one.
func partitionRoundRobin(ids []uuid.UUID, k int) [][]uuid.UUID {
	groups := make([][]uuid.UUID, k)
	for i, id := range ids {
		groups[i%k] = append(groups[i%k], id)
	}
	return groups
}
