package live

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/classlive/backend/config"
	"github.com/classlive/backend/internal/models"
)

// fakeEndpoint records every event the core delivers to it. Delivery can come
// from timer goroutines, so access is mutex-protected.
type fakeEndpoint struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakeEndpoint) Send(ev Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return true
}

func (f *fakeEndpoint) received(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if ev.Name == name {
			return true
		}
	}
	return false
}

func (f *fakeEndpoint) last(name string) (Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].Name == name {
			return f.events[i], true
		}
	}
	return Event{}, false
}

func (f *fakeEndpoint) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testDefaults() config.SessionConfig {
	return config.SessionConfig{
		IdleGrace:        time.Minute,
		ReconnectGrace:   90 * time.Second,
		ImmediateRejoin:  10 * time.Second,
		MaxParticipants:  200,
		WaitingRoom:      true,
		BreakoutMaxRooms: 50,
	}
}

// newTestSession builds a session in SCHEDULED state with an injected clock.
func newTestSession(t *testing.T, settings models.SessionSettings) (*Session, *testClock, uuid.UUID) {
	t.Helper()
	return newTestSessionWith(t, settings, testDefaults())
}

func newTestSessionWith(t *testing.T, settings models.SessionSettings, defaults config.SessionConfig) (*Session, *testClock, uuid.UUID) {
	t.Helper()
	host := uuid.New()
	model := models.Session{
		ID:       uuid.New(),
		ClassID:  uuid.New(),
		HostID:   host,
		Status:   models.SessionScheduled,
		Settings: settings,
	}
	s := newSession(model, defaults, nil, zap.NewNop(), nil, nil)
	clk := &testClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	s.now = clk.now
	return s, clk, host
}

// joinDirect starts the session and admits an attendee without a waiting
// room, returning the attendee's endpoint.
func joinDirect(t *testing.T, s *Session, host, identity uuid.UUID) *fakeEndpoint {
	t.Helper()
	_, err := s.Start(host)
	require.NoError(t, err)
	ep := &fakeEndpoint{}
	res, err := s.RequestJoin(identity, "student", ep)
	require.NoError(t, err)
	require.NotNil(t, res.Participant)
	return ep
}

func TestStartLifecycle(t *testing.T) {
	s, _, host := newTestSession(t, models.SessionSettings{})

	_, err := s.Start(uuid.New())
	assert.ErrorIs(t, err, ErrNotPermitted)
	assert.Equal(t, models.SessionScheduled, s.Status())

	status, err := s.Start(host)
	require.NoError(t, err)
	assert.Equal(t, models.SessionWaiting, status)
	require.NotNil(t, s.Model().StartedAt)

	// Idempotent: anyone may re-issue start once the session is underway.
	status, err = s.Start(uuid.New())
	require.NoError(t, err)
	assert.Equal(t, models.SessionWaiting, status)

	require.NoError(t, s.End(host))
	_, err = s.Start(host)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestJoinBeforeStart(t *testing.T) {
	s, _, _ := newTestSession(t, models.SessionSettings{})
	_, err := s.RequestJoin(uuid.New(), "early", &fakeEndpoint{})
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestWaitingRoomFlow(t *testing.T) {
	s, _, host := newTestSession(t, models.SessionSettings{WaitingRoom: true})
	_, err := s.Start(host)
	require.NoError(t, err)

	hostEP := &fakeEndpoint{}
	res, err := s.RequestJoin(host, "teacher", hostEP)
	require.NoError(t, err)
	require.NotNil(t, res.Participant)
	assert.Equal(t, models.RoleHost, res.Participant.Role)
	// The host alone does not take the session live.
	assert.Equal(t, models.SessionWaiting, s.Status())

	studentEP := &fakeEndpoint{}
	student := uuid.New()
	res, err = s.RequestJoin(student, "student", studentEP)
	require.NoError(t, err)
	require.Nil(t, res.Participant)
	require.NotNil(t, res.Waiting)
	assert.Equal(t, student, res.Waiting.Identity)
	assert.True(t, hostEP.received(EventWaitingRoomUpdate))
	assert.Equal(t, 1, len(s.WaitingList()))

	p, err := s.Admit(host, student)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAttendee, p.Role)
	assert.Equal(t, models.SessionLive, s.Status())
	assert.Empty(t, s.WaitingList())
	assert.True(t, studentEP.received(EventICEServers))
	assert.True(t, studentEP.received(EventParticipantJoined))

	// Deny a second requester.
	deniedEP := &fakeEndpoint{}
	denied := uuid.New()
	_, err = s.RequestJoin(denied, "other", deniedEP)
	require.NoError(t, err)
	require.NoError(t, s.Deny(host, denied))
	assert.True(t, deniedEP.received(EventJoinDenied))
	assert.Empty(t, s.WaitingList())

	// Resolving the same entry twice fails, but harmlessly.
	_, err = s.Admit(host, denied)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestAdmitRequiresHostRole(t *testing.T) {
	s, _, host := newTestSession(t, models.SessionSettings{WaitingRoom: true})
	_, err := s.Start(host)
	require.NoError(t, err)

	waiter := uuid.New()
	_, err = s.RequestJoin(waiter, "w", &fakeEndpoint{})
	require.NoError(t, err)

	_, err = s.Admit(uuid.New(), waiter)
	assert.ErrorIs(t, err, ErrNotPermitted)
	assert.Equal(t, 1, len(s.WaitingList()))
}

func TestCancelJoin(t *testing.T) {
	s, _, host := newTestSession(t, models.SessionSettings{WaitingRoom: true})
	_, err := s.Start(host)
	require.NoError(t, err)

	waiter := uuid.New()
	_, err = s.RequestJoin(waiter, "w", &fakeEndpoint{})
	require.NoError(t, err)
	require.NoError(t, s.CancelJoin(waiter))
	assert.Empty(t, s.WaitingList())
	assert.ErrorIs(t, s.CancelJoin(waiter), ErrEntryNotFound)
}

func TestCapacityExceeded(t *testing.T) {
	s, _, host := newTestSession(t, models.SessionSettings{MaxParticipants: 2})
	_, err := s.Start(host)
	require.NoError(t, err)

	_, err = s.RequestJoin(host, "teacher", &fakeEndpoint{})
	require.NoError(t, err)
	_, err = s.RequestJoin(uuid.New(), "a", &fakeEndpoint{})
	require.NoError(t, err)

	_, err = s.RequestJoin(uuid.New(), "b", &fakeEndpoint{})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestRelay(t *testing.T) {
	s, _, host := newTestSession(t, models.SessionSettings{})
	a, b := uuid.New(), uuid.New()
	joinDirect(t, s, host, a)
	epB := &fakeEndpoint{}
	_, err := s.RequestJoin(b, "b", epB)
	require.NoError(t, err)

	// Unknown target: refused immediately, nothing buffered.
	err = s.Relay(a, uuid.New(), []byte(`{"sdp":"offer"}`))
	assert.ErrorIs(t, err, ErrParticipantNotFound)

	require.NoError(t, s.Relay(a, b, []byte(`{"sdp":"offer"}`)))
	ev, ok := epB.last(EventSignalForwarded)
	require.True(t, ok)
	data := ev.Data.(map[string]interface{})
	assert.Equal(t, a, data["from"])
	assert.JSONEq(t, `{"sdp":"offer"}`, string(data["payload"].(json.RawMessage)))

	// A disconnected target is unreachable until it resumes.
	require.NoError(t, s.MarkDisconnected(b))
	err = s.Relay(a, b, []byte(`{}`))
	assert.ErrorIs(t, err, ErrParticipantNotFound)

	epB2 := &fakeEndpoint{}
	res, err := s.RequestJoin(b, "b", epB2)
	require.NoError(t, err)
	assert.True(t, res.Reconnected)
	require.NoError(t, s.Relay(a, b, []byte(`{}`)))
	assert.True(t, epB2.received(EventSignalForwarded))
}

func TestRelayScopedToRoom(t *testing.T) {
	s, clk, host := newTestSession(t, models.SessionSettings{})
	a, b := uuid.New(), uuid.New()
	joinDirect(t, s, host, a)
	clk.advance(time.Second)
	_, err := s.RequestJoin(b, "b", &fakeEndpoint{})
	require.NoError(t, err)

	_, err = s.CreateBreakouts(host, BreakoutAssignment{
		Count:    2,
		Explicit: map[uuid.UUID]int{a: 0, b: 1},
	})
	require.NoError(t, err)

	err = s.Relay(a, b, []byte(`{}`))
	assert.ErrorIs(t, err, ErrParticipantNotFound)

	require.NoError(t, s.CloseBreakouts(host))
	require.NoError(t, s.Relay(a, b, []byte(`{}`)))
}

func TestImmediateRejoinWindow(t *testing.T) {
	s, clk, host := newTestSession(t, models.SessionSettings{})
	student := uuid.New()
	joinDirect(t, s, host, student)

	require.NoError(t, s.MarkDisconnected(student))
	clk.advance(5 * time.Second)
	res, err := s.RequestJoin(student, "student", &fakeEndpoint{})
	require.NoError(t, err)
	assert.True(t, res.Reconnected)
	assert.Equal(t, models.QualityGood, res.Participant.Quality)

	require.NoError(t, s.MarkDisconnected(student))
	clk.advance(11 * time.Second)
	_, err = s.RequestJoin(student, "student", &fakeEndpoint{})
	assert.ErrorIs(t, err, ErrReconnectionTokenRequired)
}

func TestReconnectTokenRoundTrip(t *testing.T) {
	s, clk, host := newTestSession(t, models.SessionSettings{})
	student := uuid.New()
	joinDirect(t, s, host, student)
	require.NoError(t, s.Promote(host, student, models.RoleCoHost))

	require.NoError(t, s.MarkDisconnected(student))
	token, ok := s.ReconnectTokenFor(student)
	require.True(t, ok)

	clk.advance(30 * time.Second)
	p, err := s.Reconnect(token, &fakeEndpoint{})
	require.NoError(t, err)
	assert.Equal(t, student, p.Identity)
	assert.Equal(t, models.RoleCoHost, p.Role, "role survives the reconnect")

	// Single use: presenting the same token again must fail.
	_, err = s.Reconnect(token, &fakeEndpoint{})
	assert.ErrorIs(t, err, ErrTokenAlreadyUsed)

	_, ok = s.ReconnectTokenFor(student)
	assert.False(t, ok)
}

func TestReconnectTokenExpired(t *testing.T) {
	s, clk, host := newTestSession(t, models.SessionSettings{})
	student := uuid.New()
	joinDirect(t, s, host, student)

	require.NoError(t, s.MarkDisconnected(student))
	token, ok := s.ReconnectTokenFor(student)
	require.True(t, ok)

	clk.advance(2 * time.Minute)
	_, err := s.Reconnect(token, &fakeEndpoint{})
	assert.ErrorIs(t, err, ErrTokenExpired)

	// A token the session never issued reads as expired too.
	_, err = s.Reconnect("not-a-token", &fakeEndpoint{})
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestReconnectTokenScopeMismatch(t *testing.T) {
	a, _, hostA := newTestSession(t, models.SessionSettings{})
	b, _, hostB := newTestSession(t, models.SessionSettings{})
	student := uuid.New()
	joinDirect(t, a, hostA, student)
	joinDirect(t, b, hostB, student)

	require.NoError(t, b.MarkDisconnected(student))
	token, ok := b.ReconnectTokenFor(student)
	require.True(t, ok)

	_, err := a.Reconnect(token, &fakeEndpoint{})
	assert.ErrorIs(t, err, ErrTokenScopeMismatch)

	// The token stays valid for its own session.
	_, err = b.Reconnect(token, &fakeEndpoint{})
	require.NoError(t, err)
}

func TestAttendanceExcludesDisconnectedGap(t *testing.T) {
	s, clk, host := newTestSession(t, models.SessionSettings{})
	student := uuid.New()
	joinDirect(t, s, host, student)
	firstJoin := clk.now()

	clk.advance(30 * time.Second)
	require.NoError(t, s.MarkDisconnected(student))
	token, ok := s.ReconnectTokenFor(student)
	require.True(t, ok)

	clk.advance(15 * time.Second)
	_, err := s.Reconnect(token, &fakeEndpoint{})
	require.NoError(t, err)

	clk.advance(60 * time.Second)
	require.NoError(t, s.End(host))

	summary, ok := s.Summary()
	require.True(t, ok)
	require.Len(t, summary.Attendance, 1)
	rec := summary.Attendance[0]
	assert.Equal(t, student, rec.Identity)
	assert.Equal(t, 90*time.Second, rec.Total, "gap between intervals is not counted")
	assert.Equal(t, firstJoin, rec.FirstJoin)
	assert.Equal(t, clk.now(), rec.LastLeave)
}

func TestUpdateQuality(t *testing.T) {
	s, _, host := newTestSession(t, models.SessionSettings{})
	student := uuid.New()
	joinDirect(t, s, host, student)

	require.NoError(t, s.UpdateQuality(student, models.QualityPoor))
	roster := s.Roster()
	require.Len(t, roster, 1)
	assert.Equal(t, models.QualityPoor, roster[0].Quality)

	// Reporting disconnected routes through the full disconnect path.
	require.NoError(t, s.UpdateQuality(student, models.QualityDisconnected))
	_, ok := s.ReconnectTokenFor(student)
	assert.True(t, ok)

	assert.ErrorIs(t, s.UpdateQuality(uuid.New(), models.QualityFair), ErrParticipantNotFound)
}

func TestLeaveIsPermanent(t *testing.T) {
	s, _, host := newTestSession(t, models.SessionSettings{})
	student := uuid.New()
	joinDirect(t, s, host, student)

	require.NoError(t, s.Leave(student))
	assert.Empty(t, s.Roster())
	_, ok := s.ReconnectTokenFor(student)
	assert.False(t, ok, "leaving revokes any reconnection token")
	assert.ErrorIs(t, s.Leave(student), ErrParticipantNotFound)
}

func TestPromote(t *testing.T) {
	s, _, host := newTestSession(t, models.SessionSettings{})
	student := uuid.New()
	joinDirect(t, s, host, student)

	assert.ErrorIs(t, s.Promote(student, student, models.RoleCoHost), ErrNotPermitted)
	require.NoError(t, s.Promote(host, student, models.RoleCoHost))
	assert.ErrorIs(t, s.Promote(host, student, models.RoleHost), ErrNotPermitted)

	// A co-host can admit but cannot promote.
	assert.ErrorIs(t, s.Promote(student, uuid.New(), models.RoleCoHost), ErrNotPermitted)
}

func TestEndTeardown(t *testing.T) {
	var flushed *EndSummary
	s, clk, host := newTestSession(t, models.SessionSettings{WaitingRoom: true})
	s.onEnd = func(summary EndSummary) { flushed = &summary }
	_, err := s.Start(host)
	require.NoError(t, err)

	hostEP := &fakeEndpoint{}
	_, err = s.RequestJoin(host, "teacher", hostEP)
	require.NoError(t, err)

	studentEP := &fakeEndpoint{}
	student := uuid.New()
	_, err = s.RequestJoin(student, "student", studentEP)
	require.NoError(t, err)
	_, err = s.Admit(host, student)
	require.NoError(t, err)

	poll, err := s.OpenPoll(host, "ready?", []string{"yes", "no"})
	require.NoError(t, err)
	require.NoError(t, s.SubmitPoll(poll.ID, student, PollResponse{Option: 0}))

	waitingEP := &fakeEndpoint{}
	pending := uuid.New()
	_, err = s.RequestJoin(pending, "late", waitingEP)
	require.NoError(t, err)

	clk.advance(10 * time.Minute)
	require.NoError(t, s.End(host))

	assert.Equal(t, models.SessionEnded, s.Status())
	assert.True(t, hostEP.received(EventSessionEnded))
	assert.True(t, studentEP.received(EventSessionEnded))
	assert.True(t, waitingEP.received(EventJoinDenied), "pending entries are auto-denied")
	assert.Empty(t, s.Roster())
	assert.Empty(t, s.WaitingList())

	require.NotNil(t, flushed)
	assert.Len(t, flushed.Attendance, 2)
	require.Len(t, flushed.Polls, 1)
	assert.Equal(t, models.PollClosed, flushed.Polls[0].Poll.Status)
	assert.Equal(t, []int{1, 0}, flushed.Polls[0].Tally.Counts)

	// Idempotent: a second end neither errors nor flushes again.
	flushed = nil
	require.NoError(t, s.End(host))
	assert.Nil(t, flushed)

	// No operations after end.
	_, err = s.RequestJoin(uuid.New(), "x", &fakeEndpoint{})
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestIdleTimeoutEndsSession(t *testing.T) {
	defaults := testDefaults()
	defaults.IdleGrace = 25 * time.Millisecond
	defaults.ReconnectGrace = time.Minute
	s, clk, host := newTestSessionWith(t, models.SessionSettings{}, defaults)

	ended := make(chan EndSummary, 1)
	s.onEnd = func(summary EndSummary) { ended <- summary }

	student := uuid.New()
	joinDirect(t, s, host, student)
	assert.Equal(t, models.SessionLive, s.Status())

	clk.advance(time.Minute)
	require.NoError(t, s.MarkDisconnected(student))

	select {
	case summary := <-ended:
		assert.Equal(t, models.SessionEnded, summary.Session.Status)
		assert.Len(t, summary.Attendance, 1)
	case <-time.After(time.Second):
		t.Fatal("session did not auto-end after the idle grace")
	}
	assert.Equal(t, models.SessionEnded, s.Status())
}

func TestGraceWindowEvictsRecord(t *testing.T) {
	defaults := testDefaults()
	defaults.ReconnectGrace = 25 * time.Millisecond
	s, _, host := newTestSessionWith(t, models.SessionSettings{}, defaults)

	a, b := uuid.New(), uuid.New()
	joinDirect(t, s, host, a)
	epB := &fakeEndpoint{}
	_, err := s.RequestJoin(b, "b", epB)
	require.NoError(t, err)

	require.NoError(t, s.MarkDisconnected(a))
	_, ok := s.ReconnectTokenFor(a)
	require.True(t, ok)

	// The lapsed grace window removes the record permanently.
	require.Eventually(t, func() bool { return len(s.Roster()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, epB.received(EventParticipantLeft))
	_, ok = s.ReconnectTokenFor(a)
	assert.False(t, ok, "eviction revokes the outstanding token")
	// The other participant keeps the session alive.
	assert.Equal(t, models.SessionLive, s.Status())
}

func TestEndRequiresPermission(t *testing.T) {
	s, _, host := newTestSession(t, models.SessionSettings{})
	student := uuid.New()
	joinDirect(t, s, host, student)

	assert.ErrorIs(t, s.End(student), ErrNotPermitted)
	assert.Equal(t, models.SessionLive, s.Status())
	require.NoError(t, s.End(host))
}
