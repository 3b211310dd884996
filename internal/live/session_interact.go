package live

import (
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classlive/backend/internal/models"
)

// OpenPoll creates and announces a new poll. Empty options means free-text
// mode.
func (s *Session) OpenPoll(by uuid.UUID, question string, options []string) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requirePermitLocked(by, ActionOpenPoll); err != nil {
		return nil, err
	}
	if s.model.Status != models.SessionLive {
		return nil, ErrInvalidStateTransition
	}
	p := s.interact.openPoll(s.model.ID, question, options, s.now())
	s.broadcastLocked(Event{Name: EventPollOpened, Data: map[string]interface{}{"poll": p}})
	s.log.Info("poll opened", zap.String("poll_id", p.ID.String()))
	return p, nil
}

// SubmitPoll records a response with overwrite semantics: at most one
// response per identity per poll, later submissions replace earlier ones.
func (s *Session) SubmitPoll(pollID, identity uuid.UUID, resp PollResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presence.connected(identity); !ok {
		return ErrParticipantNotFound
	}
	return s.interact.submitPoll(pollID, identity, resp)
}

// ClosePoll transitions the poll to CLOSED and broadcasts the tally.
func (s *Session) ClosePoll(by, pollID uuid.UUID) (*models.Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requirePermitLocked(by, ActionClosePoll); err != nil {
		return nil, err
	}
	tally, err := s.interact.closePoll(pollID)
	if err != nil {
		return nil, err
	}
	s.broadcastLocked(Event{Name: EventPollClosed, Data: map[string]interface{}{"tally": tally}})
	return tally, nil
}

// PollTally returns the current tally without closing the poll.
func (s *Session) PollTally(pollID uuid.UUID) (*models.Tally, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interact.tally(pollID)
}

// AskQuestion records and announces an audience question.
func (s *Session) AskQuestion(identity uuid.UUID, text string) (*models.SessionQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presence.connected(identity); !ok {
		return nil, ErrParticipantNotFound
	}
	q := s.interact.ask(s.model.ID, identity, text, s.now())
	s.broadcastLocked(Event{Name: EventQuestionAdded, Data: map[string]interface{}{"question": q}})
	return q, nil
}

// UpvoteQuestion counts at most one vote per identity; a repeat vote from
// the same identity has no additional effect.
func (s *Session) UpvoteQuestion(questionID, identity uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presence.connected(identity); !ok {
		return 0, ErrParticipantNotFound
	}
	votes, err := s.interact.upvote(questionID, identity)
	if err != nil {
		return 0, err
	}
	s.broadcastLocked(Event{Name: EventQuestionUpdated, Data: map[string]interface{}{
		"question_id": questionID,
		"upvotes":     votes,
	}})
	return votes, nil
}

// AnswerQuestion marks a question answered.
func (s *Session) AnswerQuestion(by, questionID uuid.UUID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requirePermitLocked(by, ActionAnswerQuestion); err != nil {
		return err
	}
	q, err := s.interact.answer(questionID, text)
	if err != nil {
		return err
	}
	s.broadcastLocked(Event{Name: EventQuestionUpdated, Data: map[string]interface{}{"question": q}})
	return nil
}

// Questions returns all session questions, oldest first.
func (s *Session) Questions() []models.SessionQuestion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interact.questionList()
}

// RaiseHand appends the identity to the FIFO hand-raise queue. Raising an
// already-raised hand is a no-op.
func (s *Session) RaiseHand(identity uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presence.connected(identity); !ok {
		return ErrParticipantNotFound
	}
	if s.interact.raise(identity, s.now()) {
		s.broadcastHandQueueLocked()
	}
	return nil
}

// LowerHand removes the identity from the queue.
func (s *Session) LowerHand(identity uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.interact.lower(identity) {
		return ErrEntryNotFound
	}
	s.broadcastHandQueueLocked()
	return nil
}

// NextInQueue peeks at the head of the hand-raise queue without removing it.
func (s *Session) NextInQueue() (models.HandRaise, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interact.peek()
}

// HandQueue returns the queue in FIFO order.
func (s *Session) HandQueue() []models.HandRaise {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interact.queue()
}

func (s *Session) broadcastHandQueueLocked() {
	s.broadcastLocked(Event{Name: EventHandQueueChanged, Data: map[string]interface{}{
		"queue": s.interact.queue(),
	}})
}

// Annotate appends a record to the shared canvas and fans it out. The core
// keeps append order only; it never diffs or merges shapes.
func (s *Session) Annotate(identity uuid.UUID, shapeID string, payload []byte) (*models.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presence.connected(identity); !ok {
		return nil, ErrParticipantNotFound
	}
	a := s.interact.annotate(identity, shapeID, payload, s.now())
	s.broadcastLocked(Event{Name: EventAnnotationAdded, Data: map[string]interface{}{"annotation": a}})
	return &a, nil
}

// Chat broadcasts a chat message to the sender's current room.
func (s *Session) Chat(identity uuid.UUID, text string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sender, ok := s.presence.connected(identity)
	if !ok {
		return ErrParticipantNotFound
	}
	s.broadcastRoomLocked(sender.model.RoomID, Event{Name: EventChat, Data: map[string]interface{}{
		"from": identity,
		"text": text,
		"at":   s.now(),
	}})
	return nil
}

// DeliverMirrored hands an event received from another instance to every
// locally connected endpoint. Used by the transport's pub/sub bridge.
func (s *Session) DeliverMirrored(raw []byte) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.presence.each(func(rec *participantRecord) {
		if rec.endpoint != nil {
			rec.endpoint.Send(ev)
		}
	})
}
