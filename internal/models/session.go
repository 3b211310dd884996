package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionWaiting   SessionStatus = "waiting"
	SessionLive      SessionStatus = "live"
	SessionEnded     SessionStatus = "ended"
)

// SessionSettings are per-session overrides of the platform defaults.
type SessionSettings struct {
	WaitingRoom      bool          `json:"waiting_room"`
	MaxParticipants  int           `json:"max_participants"` // 0 = unlimited
	RecordingEnabled bool          `json:"recording_enabled"`
	ReconnectGrace   time.Duration `json:"reconnect_grace"`
}

// Session represents one scheduled or live class meeting.
type Session struct {
	ID        uuid.UUID       `json:"id"`
	ClassID   uuid.UUID       `json:"class_id"`
	HostID    uuid.UUID       `json:"host_id"`
	Status    SessionStatus   `json:"status"`
	Settings  SessionSettings `json:"settings"`
	CreatedAt time.Time       `json:"created_at"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
}

// WaitingEntry is a join request held in the waiting room pending a host decision.
type WaitingEntry struct {
	SessionID   uuid.UUID `json:"session_id"`
	Identity    uuid.UUID `json:"identity"`
	DisplayName string    `json:"display_name"`
	RequestedAt time.Time `json:"requested_at"`
}
