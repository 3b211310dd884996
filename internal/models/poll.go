package models

import (
	"time"

	"github.com/google/uuid"
)

// PollStatus is the lifecycle state of a poll.
type PollStatus string

const (
	PollOpen   PollStatus = "open"
	PollClosed PollStatus = "closed"
)

// Poll is a session-scoped live poll. Options is nil for free-text polls.
type Poll struct {
	ID        uuid.UUID  `json:"id"`
	SessionID uuid.UUID  `json:"session_id"`
	Question  string     `json:"question"`
	Options   []string   `json:"options,omitempty"`
	Status    PollStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// FreeText reports whether the poll collects free-text responses.
func (p *Poll) FreeText() bool {
	return len(p.Options) == 0
}

// Tally is the aggregated result of a closed poll: per-option counts for
// choice polls, the collected responses for free-text polls.
type Tally struct {
	PollID    uuid.UUID `json:"poll_id"`
	Counts    []int     `json:"counts,omitempty"`
	Responses []string  `json:"responses,omitempty"`
	Total     int       `json:"total"`
}
