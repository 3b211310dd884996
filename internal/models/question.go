package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionQuestion is an audience question asked during a session.
type SessionQuestion struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Author    uuid.UUID `json:"author"`
	Text      string    `json:"text"`
	Upvotes   int       `json:"upvotes"`
	Answered  bool      `json:"answered"`
	Answer    string    `json:"answer,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HandRaise is one entry in a session's FIFO hand-raise queue.
type HandRaise struct {
	Identity uuid.UUID `json:"identity"`
	RaisedAt time.Time `json:"raised_at"`
}

// Annotation is one append-only record on a session's shared canvas. Payload
// is opaque to the core; ShapeID lets clients that support editing treat the
// latest record for a shape as authoritative.
type Annotation struct {
	Seq     int       `json:"seq"`
	Author  uuid.UUID `json:"author"`
	ShapeID string    `json:"shape_id"`
	Payload []byte    `json:"payload"`
	AddedAt time.Time `json:"added_at"`
}
