package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionRole is a participant's role within one session.
type SessionRole string

const (
	RoleHost     SessionRole = "host"
	RoleCoHost   SessionRole = "co_host"
	RoleAttendee SessionRole = "attendee"
)

// ConnectionQuality is the reported link quality of a participant.
type ConnectionQuality string

const (
	QualityGood         ConnectionQuality = "good"
	QualityFair         ConnectionQuality = "fair"
	QualityPoor         ConnectionQuality = "poor"
	QualityDisconnected ConnectionQuality = "disconnected"
)

// MainRoom is the room ID participants hold when not in a breakout room.
var MainRoom = uuid.Nil

// Participant is one identity's live record within a session. One record per
// (session, identity); a rejoin reuses the record rather than duplicating it.
type Participant struct {
	SessionID uuid.UUID         `json:"session_id"`
	Identity  uuid.UUID         `json:"identity"`
	Role      SessionRole       `json:"role"`
	Quality   ConnectionQuality `json:"quality"`
	RoomID    uuid.UUID         `json:"room_id"` // MainRoom or a breakout room ID
	JoinedAt  time.Time         `json:"joined_at"`
	LeftAt    *time.Time        `json:"left_at,omitempty"`
}

// InMainRoom reports whether the participant is in the session's main room.
func (p *Participant) InMainRoom() bool {
	return p.RoomID == MainRoom
}
