package live

import "github.com/google/uuid"

// Outbound event names emitted by the core. The transport collaborator
// consumes these from per-participant endpoints; the core never calls back
// into transport code synchronously.
const (
	EventParticipantJoined     = "participant-joined"
	EventParticipantLeft       = "participant-left"
	EventParticipantUpdated    = "participant-updated"
	EventWaitingRoomUpdate     = "waiting-room-update"
	EventJoinDenied            = "join-denied"
	EventSignalForwarded       = "signal-forwarded"
	EventRoomAssignmentChanged = "room-assignment-changed"
	EventPollOpened            = "poll-opened"
	EventPollClosed            = "poll-closed"
	EventQuestionAdded         = "question-added"
	EventQuestionUpdated       = "question-updated"
	EventHandQueueChanged      = "hand-queue-changed"
	EventAnnotationAdded       = "annotation-added"
	EventSessionEnded          = "session-ended"
	EventICEServers            = "ice-servers"
	EventChat                  = "chat"
)

// Event is one outbound message to a participant endpoint.
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data,omitempty"`
}

// Endpoint is a stable handle to one participant's transport channel.
// Send must not block; it reports false when the message was dropped
// (e.g. the endpoint's buffer is full or the connection is gone).
type Endpoint interface {
	Send(ev Event) bool
}

// EventMirror publishes session events for delivery on other instances of a
// horizontally scaled deployment. Implementations must not block the caller.
type EventMirror interface {
	Publish(sessionID uuid.UUID, ev Event)
}
