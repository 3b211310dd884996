package live

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classlive/backend/internal/models"
)

// CreateBreakouts partitions the current roster into breakout rooms. Every
// connected non-host participant ends up in exactly one room; automatic
// distribution is round-robin in join order, so room sizes differ by at most
// one. An optional time limit closes the rooms automatically.
func (s *Session) CreateBreakouts(by uuid.UUID, assignment BreakoutAssignment) ([]models.BreakoutRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requirePermitLocked(by, ActionManageBreakouts); err != nil {
		return nil, err
	}
	if s.model.Status != models.SessionLive {
		return nil, ErrInvalidStateTransition
	}
	count := assignment.Count
	if count <= 0 {
		for _, idx := range assignment.Explicit {
			if idx+1 > count {
				count = idx + 1
			}
		}
	}
	if count <= 0 || (s.defaults.BreakoutMaxRooms > 0 && count > s.defaults.BreakoutMaxRooms) {
		return nil, ErrRoomNotFound
	}
	if s.breakouts.open {
		// One open set at a time; close before re-partitioning.
		s.closeBreakoutsLocked()
	}

	eligible := s.presence.connectedNonHosts()
	sort.Slice(eligible, func(i, j int) bool {
		a, _ := s.presence.get(eligible[i])
		b, _ := s.presence.get(eligible[j])
		return a.model.JoinedAt.Before(b.model.JoinedAt)
	})

	groups := make([][]uuid.UUID, count)
	var unassigned []uuid.UUID
	if assignment.Explicit != nil {
		for _, id := range eligible {
			idx, ok := assignment.Explicit[id]
			if ok && idx >= 0 && idx < count {
				groups[idx] = append(groups[idx], id)
			} else {
				unassigned = append(unassigned, id)
			}
		}
		// Unmapped participants are dealt into the smallest groups so the
		// disjoint-assignment invariant holds for the whole roster.
		for _, id := range unassigned {
			smallest := 0
			for i := range groups {
				if len(groups[i]) < len(groups[smallest]) {
					smallest = i
				}
			}
			groups[smallest] = append(groups[smallest], id)
		}
	} else {
		groups = partitionRoundRobin(eligible, count)
	}

	rooms := s.breakouts.create(s.model.ID, groups, assignment.TimeLimit, s.now())
	for _, room := range rooms {
		for _, member := range room.Members {
			if rec, ok := s.presence.get(member); ok {
				rec.model.RoomID = room.ID
			}
		}
	}

	if assignment.TimeLimit > 0 {
		s.breakoutTimer = time.AfterFunc(assignment.TimeLimit, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.model.Status != models.SessionLive || !s.breakouts.open {
				return
			}
			s.log.Info("breakout time limit reached")
			s.closeBreakoutsLocked()
		})
	}

	s.broadcastLocked(Event{Name: EventRoomAssignmentChanged, Data: map[string]interface{}{
		"rooms": s.breakouts.snapshot(),
	}})
	s.log.Info("breakout rooms created", zap.Int("rooms", len(rooms)), zap.Int("assigned", len(eligible)))

	return s.breakouts.snapshot(), nil
}

// CloseBreakouts moves everyone back to the main room and marks all rooms
// CLOSED. In-flight signaling within a closed room is implicitly torn down:
// the relay routes by membership read at relay time, so participants must
// renegotiate in the main room.
func (s *Session) CloseBreakouts(by uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requirePermitLocked(by, ActionManageBreakouts); err != nil {
		return err
	}
	if !s.breakouts.open {
		return ErrRoomNotFound
	}
	s.closeBreakoutsLocked()
	return nil
}

func (s *Session) closeBreakoutsLocked() {
	if s.breakoutTimer != nil {
		s.breakoutTimer.Stop()
		s.breakoutTimer = nil
	}
	s.breakouts.closeAll()
	for _, p := range s.presence.roster() {
		if p.RoomID != models.MainRoom {
			if rec, ok := s.presence.get(p.Identity); ok {
				rec.model.RoomID = models.MainRoom
			}
		}
	}
	s.broadcastLocked(Event{Name: EventRoomAssignmentChanged, Data: map[string]interface{}{
		"rooms": s.breakouts.snapshot(),
	}})
	s.log.Info("breakout rooms closed")
}

// Reassign moves one participant to another breakout room (or MainRoom).
// The move is atomic with respect to signaling: it takes effect for the next
// relayed message, never for ones already delivered.
func (s *Session) Reassign(by, identity, roomID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requirePermitLocked(by, ActionManageBreakouts); err != nil {
		return err
	}
	rec, ok := s.presence.connected(identity)
	if !ok {
		return ErrParticipantNotFound
	}
	if roomID != models.MainRoom {
		if _, ok := s.breakouts.active(roomID); !ok {
			return ErrRoomNotFound
		}
	}
	if rec.model.RoomID == roomID {
		return nil
	}
	s.breakouts.move(identity, rec.model.RoomID, roomID)
	rec.model.RoomID = roomID

	s.broadcastLocked(Event{Name: EventRoomAssignmentChanged, Data: map[string]interface{}{
		"identity": identity,
		"room_id":  roomID,
	}})
	return nil
}

// Rooms returns the current breakout room set.
func (s *Session) Rooms() []models.BreakoutRoom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.breakouts.snapshot()
}
