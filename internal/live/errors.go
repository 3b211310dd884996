package live

import "errors"

// Errors returned by the orchestration core. All are local and recoverable:
// no operation leaves session state partially mutated.
var (
	// ErrSessionNotFound means the session is not registered (never started,
	// or already ended and evicted from the live registry).
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidStateTransition means a lifecycle operation is not legal from
	// the session's current status. Session state is unchanged.
	ErrInvalidStateTransition = errors.New("invalid session state transition")

	// ErrParticipantNotFound means a signaling or query target is not
	// currently connected in the session. The caller retries after presence
	// changes; undeliverable signaling is never buffered.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrEntryNotFound means a stale waiting-room or queue reference. Safe
	// for callers to ignore.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrCapacityExceeded means the session or room is at its configured
	// maximum. The join is refused outright; no partial admission.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrRoomNotFound means the referenced breakout room does not exist or
	// is closed.
	ErrRoomNotFound = errors.New("breakout room not found")

	// ErrNotPermitted means the acting role lacks the capability for the
	// requested action.
	ErrNotPermitted = errors.New("role not permitted")

	// Reconnection flow violations. The caller recovers by re-requesting
	// admission as a fresh join.
	ErrReconnectionTokenRequired = errors.New("reconnection token required")
	ErrTokenAlreadyUsed          = errors.New("reconnection token already used")
	ErrTokenExpired              = errors.New("reconnection token expired")
	ErrTokenScopeMismatch        = errors.New("reconnection token scope mismatch")

	// Interaction engine misuse.
	ErrPollClosed       = errors.New("poll closed")
	ErrQuestionNotFound = errors.New("question not found")
)
