package live

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/classlive/backend/internal/models"
)

// PollResponse is one identity's submission: an option index for choice
// polls, free text otherwise.
type PollResponse struct {
	Option int    `json:"option"`
	Text   string `json:"text,omitempty"`
}

type pollState struct {
	model     models.Poll
	responses map[uuid.UUID]PollResponse
}

type questionState struct {
	model    models.SessionQuestion
	upvoters map[uuid.UUID]struct{}
}

// interactions manages transient session-scoped shared state: polls,
// questions, the hand-raise queue and canvas annotations. Invoked under the
// owning session's lock.
type interactions struct {
	polls       map[uuid.UUID]*pollState
	questions   map[uuid.UUID]*questionState
	handQueue   []models.HandRaise
	annotations []models.Annotation
	annotSeq    int
}

func newInteractions() *interactions {
	return &interactions{
		polls:     make(map[uuid.UUID]*pollState),
		questions: make(map[uuid.UUID]*questionState),
	}
}

// openPoll creates an OPEN poll. Empty options means free-text mode.
func (x *interactions) openPoll(sessionID uuid.UUID, question string, options []string, now time.Time) *models.Poll {
	p := &pollState{
		model: models.Poll{
			ID:        uuid.New(),
			SessionID: sessionID,
			Question:  question,
			Options:   append([]string(nil), options...),
			Status:    models.PollOpen,
			CreatedAt: now,
		},
		responses: make(map[uuid.UUID]PollResponse),
	}
	x.polls[p.model.ID] = p
	cp := p.model
	return &cp
}

// submitPoll records a response, overwriting any earlier submission by the
// same identity. Rejects submissions to closed or unknown polls.
func (x *interactions) submitPoll(pollID, identity uuid.UUID, resp PollResponse) error {
	p, ok := x.polls[pollID]
	if !ok {
		return ErrEntryNotFound
	}
	if p.model.Status != models.PollOpen {
		return ErrPollClosed
	}
	if !p.model.FreeText() {
		if resp.Option < 0 || resp.Option >= len(p.model.Options) {
			return ErrEntryNotFound
		}
	}
	p.responses[identity] = resp
	return nil
}

// closePoll transitions the poll to CLOSED and returns its tally. Closing an
// already-closed poll returns the existing tally.
func (x *interactions) closePoll(pollID uuid.UUID) (*models.Tally, error) {
	p, ok := x.polls[pollID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	p.model.Status = models.PollClosed
	return x.tallyOf(p), nil
}

// tally returns the current tally without changing poll status.
func (x *interactions) tally(pollID uuid.UUID) (*models.Tally, error) {
	p, ok := x.polls[pollID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return x.tallyOf(p), nil
}

func (x *interactions) tallyOf(p *pollState) *models.Tally {
	t := &models.Tally{PollID: p.model.ID, Total: len(p.responses)}
	if p.model.FreeText() {
		t.Responses = make([]string, 0, len(p.responses))
		for _, resp := range p.responses {
			t.Responses = append(t.Responses, resp.Text)
		}
		sort.Strings(t.Responses)
		return t
	}
	t.Counts = make([]int, len(p.model.Options))
	for _, resp := range p.responses {
		if resp.Option >= 0 && resp.Option < len(t.Counts) {
			t.Counts[resp.Option]++
		}
	}
	return t
}

// closeAllPolls closes every open poll and returns (poll, tally) pairs for
// all polls. Called on session end.
func (x *interactions) closeAllPolls() []PollResult {
	out := make([]PollResult, 0, len(x.polls))
	for _, p := range x.polls {
		p.model.Status = models.PollClosed
		out = append(out, PollResult{Poll: p.model, Tally: *x.tallyOf(p)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Poll.CreatedAt.Before(out[j].Poll.CreatedAt) })
	return out
}

// ask records a new audience question.
func (x *interactions) ask(sessionID, author uuid.UUID, text string, now time.Time) *models.SessionQuestion {
	q := &questionState{
		model: models.SessionQuestion{
			ID:        uuid.New(),
			SessionID: sessionID,
			Author:    author,
			Text:      text,
			CreatedAt: now,
		},
		upvoters: make(map[uuid.UUID]struct{}),
	}
	x.questions[q.model.ID] = q
	cp := q.model
	return &cp
}

// upvote counts at most one vote per identity; repeats are no-ops. Returns
// the resulting vote count.
func (x *interactions) upvote(questionID, identity uuid.UUID) (int, error) {
	q, ok := x.questions[questionID]
	if !ok {
		return 0, ErrQuestionNotFound
	}
	if _, voted := q.upvoters[identity]; !voted {
		q.upvoters[identity] = struct{}{}
		q.model.Upvotes = len(q.upvoters)
	}
	return q.model.Upvotes, nil
}

// answer marks the question answered with the given text.
func (x *interactions) answer(questionID uuid.UUID, text string) (*models.SessionQuestion, error) {
	q, ok := x.questions[questionID]
	if !ok {
		return nil, ErrQuestionNotFound
	}
	q.model.Answered = true
	q.model.Answer = text
	cp := q.model
	return &cp, nil
}

// questionList returns all questions, oldest first.
func (x *interactions) questionList() []models.SessionQuestion {
	out := make([]models.SessionQuestion, 0, len(x.questions))
	for _, q := range x.questions {
		out = append(out, q.model)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// raise appends the identity to the hand-raise queue if not already present.
func (x *interactions) raise(identity uuid.UUID, now time.Time) bool {
	for _, h := range x.handQueue {
		if h.Identity == identity {
			return false
		}
	}
	x.handQueue = append(x.handQueue, models.HandRaise{Identity: identity, RaisedAt: now})
	return true
}

// lower removes the identity from the queue.
func (x *interactions) lower(identity uuid.UUID) bool {
	for i, h := range x.handQueue {
		if h.Identity == identity {
			x.handQueue = append(x.handQueue[:i], x.handQueue[i+1:]...)
			return true
		}
	}
	return false
}

// peek returns the head of the queue without removing it.
func (x *interactions) peek() (models.HandRaise, bool) {
	if len(x.handQueue) == 0 {
		return models.HandRaise{}, false
	}
	return x.handQueue[0], true
}

// queue returns a copy of the queue in FIFO order.
func (x *interactions) queue() []models.HandRaise {
	return append([]models.HandRaise(nil), x.handQueue...)
}

// annotate appends an annotation record. The core never diffs or merges;
// append order is the only ordering clients get.
func (x *interactions) annotate(author uuid.UUID, shapeID string, payload []byte, now time.Time) models.Annotation {
	x.annotSeq++
	a := models.Annotation{
		Seq:     x.annotSeq,
		Author:  author,
		ShapeID: shapeID,
		Payload: append([]byte(nil), payload...),
		AddedAt: now,
	}
	x.annotations = append(x.annotations, a)
	return a
}
