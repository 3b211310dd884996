package models

import (
	"time"

	"github.com/google/uuid"
)

// BreakoutStatus is the lifecycle state of a breakout room.
type BreakoutStatus string

const (
	BreakoutActive BreakoutStatus = "active"
	BreakoutClosed BreakoutStatus = "closed"
)

// BreakoutRoom is a disjoint sub-group of a session's roster with its own
// signaling scope. Members holds identities in assignment order.
type BreakoutRoom struct {
	ID        uuid.UUID      `json:"id"`
	SessionID uuid.UUID      `json:"session_id"`
	Name      string         `json:"name"`
	Members   []uuid.UUID    `json:"members"`
	TimeLimit time.Duration  `json:"time_limit,omitempty"` // 0 = no limit
	Status    BreakoutStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}
