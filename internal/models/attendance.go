package models

import (
	"time"

	"github.com/google/uuid"
)

// AttendanceRecord is the finalized attendance for one identity in one
// session: the sum of its disjoint connected intervals. Grace-window
// reconnect gaps are excluded from the total.
type AttendanceRecord struct {
	SessionID uuid.UUID     `json:"session_id"`
	Identity  uuid.UUID     `json:"identity"`
	Total     time.Duration `json:"total"`
	FirstJoin time.Time     `json:"first_join"`
	LastLeave time.Time     `json:"last_leave"`
}
