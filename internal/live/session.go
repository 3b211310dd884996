package live

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/classlive/backend/config"
	"github.com/classlive/backend/internal/models"
)

// JoinResult is the outcome of a join request: either an admitted
// participant or a waiting-room entry pending a host decision.
type JoinResult struct {
	Participant *models.Participant  `json:"participant,omitempty"`
	Waiting     *models.WaitingEntry `json:"waiting,omitempty"`
	Reconnected bool                 `json:"reconnected"`
}

// BreakoutAssignment describes how to partition the roster. When Explicit is
// nil, Count rooms are filled round-robin over the connected non-host roster.
// Explicitly mapped identities go to their room index; connected non-hosts
// left unmapped are dealt round-robin on top.
type BreakoutAssignment struct {
	Count     int               `json:"count"`
	Explicit  map[uuid.UUID]int `json:"explicit,omitempty"`
	TimeLimit time.Duration     `json:"time_limit,omitempty"`
}

// PollResult pairs a poll with its tally for write-behind persistence.
type PollResult struct {
	Poll  models.Poll  `json:"poll"`
	Tally models.Tally `json:"tally"`
}

// EndSummary is everything flushed to the external store when a session
// ends.
type EndSummary struct {
	Session    models.Session            `json:"session"`
	Attendance []models.AttendanceRecord `json:"attendance"`
	Polls      []PollResult              `json:"polls"`
	Questions  []models.SessionQuestion  `json:"questions"`
}

// Session is the runtime state machine for one live class meeting. All
// mutation of session-scoped state is serialized by its lock; operations on
// different sessions proceed fully in parallel. No method performs I/O while
// holding the lock.
type Session struct {
	mu sync.RWMutex

	model    models.Session
	defaults config.SessionConfig
	ice      []webrtc.ICEServer
	log      *zap.Logger
	now      func() time.Time

	presence   *presenceRegistry
	waiting    *waitingRoom
	breakouts  *breakoutSet
	interact   *interactions
	attendance *attendanceTracker
	tokens     *tokenVault

	idleTimer     *time.Timer
	breakoutTimer *time.Timer
	graceTimers   map[uuid.UUID]*time.Timer

	mirror EventMirror
	onEnd  func(EndSummary)

	summary *EndSummary // set once, on transition to ENDED
}

func newSession(model models.Session, defaults config.SessionConfig, ice []webrtc.ICEServer, log *zap.Logger, mirror EventMirror, onEnd func(EndSummary)) *Session {
	return &Session{
		model:       model,
		defaults:    defaults,
		ice:         ice,
		log:         log.With(zap.String("session_id", model.ID.String())),
		now:         time.Now,
		presence:    newPresenceRegistry(),
		waiting:     newWaitingRoom(),
		breakouts:   newBreakoutSet(),
		interact:    newInteractions(),
		attendance:  newAttendanceTracker(),
		tokens:      newTokenVault(model.ID),
		graceTimers: make(map[uuid.UUID]*time.Timer),
		mirror:      mirror,
		onEnd:       onEnd,
	}
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.model.ID
}

// Model returns a point-in-time copy of the session's persistent view.
func (s *Session) Model() models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// Status returns the current lifecycle state.
func (s *Session) Status() models.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model.Status
}

// reconnectGrace is the effective grace window for this session.
func (s *Session) reconnectGrace() time.Duration {
	if s.model.Settings.ReconnectGrace > 0 {
		return s.model.Settings.ReconnectGrace
	}
	return s.defaults.ReconnectGrace
}

// maxParticipants is the effective participant cap; 0 means unlimited.
func (s *Session) maxParticipants() int {
	if s.model.Settings.MaxParticipants > 0 {
		return s.model.Settings.MaxParticipants
	}
	return s.defaults.MaxParticipants
}

// Start transitions SCHEDULED to WAITING. Starting an already started
// session is idempotent and returns the current status.
func (s *Session) Start(by uuid.UUID) (models.SessionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.model.Status {
	case models.SessionScheduled:
		if by != s.model.HostID {
			return s.model.Status, ErrNotPermitted
		}
		now := s.now()
		s.model.Status = models.SessionWaiting
		s.model.StartedAt = &now
		s.log.Info("session started", zap.String("host", by.String()))
		return s.model.Status, nil
	case models.SessionWaiting, models.SessionLive:
		return s.model.Status, nil
	default:
		return s.model.Status, ErrInvalidStateTransition
	}
}

// RequestJoin screens a join request through the admission gate. The host and
// co-hosts bypass the waiting room, as does everyone when the session's
// waiting-room setting is disabled. A disconnected identity rejoining within
// the immediate-rejoin window resumes its record without a token; beyond
// that it must present a reconnection token via Reconnect.
func (s *Session) RequestJoin(identity uuid.UUID, name string, ep Endpoint) (*JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.model.Status != models.SessionWaiting && s.model.Status != models.SessionLive {
		return nil, ErrInvalidStateTransition
	}

	if rec, ok := s.presence.get(identity); ok {
		if rec.model.Quality != models.QualityDisconnected {
			// Concurrent registration for the same identity: the later call
			// wins and takes over the endpoint.
			rec.endpoint = ep
			p := rec.model
			return &JoinResult{Participant: &p, Reconnected: true}, nil
		}
		if s.now().Sub(rec.disconnectedAt) > s.defaults.ImmediateRejoin {
			return nil, ErrReconnectionTokenRequired
		}
		p := s.resumeLocked(rec, ep)
		return &JoinResult{Participant: p, Reconnected: true}, nil
	}

	role := models.RoleAttendee
	if identity == s.model.HostID {
		role = models.RoleHost
	}

	if role == models.RoleAttendee && s.model.Settings.WaitingRoom {
		entry := s.waiting.add(s.model.ID, identity, name, ep, s.now())
		s.notifyWaitingLocked()
		e := entry.model
		return &JoinResult{Waiting: &e}, nil
	}

	p, err := s.admitLocked(identity, role, ep)
	if err != nil {
		return nil, err
	}
	return &JoinResult{Participant: p}, nil
}

// Admit promotes a waiting entry to a participant. Double admission of an
// already resolved entry fails with ErrEntryNotFound, which callers may
// safely ignore.
func (s *Session) Admit(by, identity uuid.UUID) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requirePermitLocked(by, ActionAdmit); err != nil {
		return nil, err
	}
	entry, ok := s.waiting.take(identity)
	if !ok {
		return nil, ErrEntryNotFound
	}
	p, err := s.admitLocked(identity, models.RoleAttendee, entry.endpoint)
	if err != nil {
		// Leave the entry resolved: the requester must re-request.
		if entry.endpoint != nil {
			entry.endpoint.Send(Event{Name: EventJoinDenied, Data: map[string]interface{}{
				"session_id": s.model.ID,
				"reason":     err.Error(),
			}})
		}
		s.notifyWaitingLocked()
		return nil, err
	}
	s.notifyWaitingLocked()
	return p, nil
}

// Deny rejects a waiting entry and signals the requester.
func (s *Session) Deny(by, identity uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requirePermitLocked(by, ActionAdmit); err != nil {
		return err
	}
	entry, ok := s.waiting.take(identity)
	if !ok {
		return ErrEntryNotFound
	}
	if entry.endpoint != nil {
		entry.endpoint.Send(Event{Name: EventJoinDenied, Data: map[string]interface{}{
			"session_id": s.model.ID,
			"reason":     "denied by host",
		}})
	}
	s.notifyWaitingLocked()
	return nil
}

// CancelJoin withdraws the requester's own pending waiting entry.
func (s *Session) CancelJoin(identity uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.waiting.take(identity); !ok {
		return ErrEntryNotFound
	}
	s.notifyWaitingLocked()
	return nil
}

// admitLocked registers the identity in the presence registry and announces
// the join. WAITING transitions to LIVE on the first admitted non-host.
func (s *Session) admitLocked(identity uuid.UUID, role models.SessionRole, ep Endpoint) (*models.Participant, error) {
	if max := s.maxParticipants(); max > 0 && s.presence.size() >= max {
		return nil, ErrCapacityExceeded
	}

	now := s.now()
	rec, reconnected := s.presence.register(s.model.ID, identity, role, ep, now)
	s.attendance.onConnect(identity, now)
	s.cancelGraceLocked(identity)
	s.tokens.revoke(identity)

	if s.model.Status == models.SessionWaiting && rec.model.Role != models.RoleHost {
		s.model.Status = models.SessionLive
		s.log.Info("session live", zap.String("first_participant", identity.String()))
	}
	s.refreshIdleLocked()

	if ep != nil {
		ep.Send(Event{Name: EventICEServers, Data: map[string]interface{}{"ice_servers": s.ice}})
	}
	s.broadcastLocked(Event{Name: EventParticipantJoined, Data: map[string]interface{}{
		"participant": rec.model,
		"reconnected": reconnected,
	}})

	p := rec.model
	return &p, nil
}

// resumeLocked restores a disconnected record on the same endpoint terms as
// admitLocked, keeping prior role and room.
func (s *Session) resumeLocked(rec *participantRecord, ep Endpoint) *models.Participant {
	now := s.now()
	rec.endpoint = ep
	rec.model.Quality = models.QualityGood
	rec.disconnectedAt = time.Time{}
	s.attendance.onConnect(rec.model.Identity, now)
	s.cancelGraceLocked(rec.model.Identity)
	s.tokens.revoke(rec.model.Identity)
	s.refreshIdleLocked()

	if ep != nil {
		ep.Send(Event{Name: EventICEServers, Data: map[string]interface{}{"ice_servers": s.ice}})
	}
	s.broadcastLocked(Event{Name: EventParticipantJoined, Data: map[string]interface{}{
		"participant": rec.model,
		"reconnected": true,
	}})
	p := rec.model
	return &p
}

// UpdateQuality records a participant's reported connection quality.
func (s *Session) UpdateQuality(identity uuid.UUID, q models.ConnectionQuality) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q == models.QualityDisconnected {
		return s.markDisconnectedLocked(identity)
	}
	if !s.presence.updateQuality(identity, q) {
		return ErrParticipantNotFound
	}
	return nil
}

// MarkDisconnected keeps the participant's record, marks it disconnected and
// issues a reconnection token valid for the session's grace window. The
// record is evicted permanently when the window lapses.
func (s *Session) MarkDisconnected(identity uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markDisconnectedLocked(identity)
}

func (s *Session) markDisconnectedLocked(identity uuid.UUID) error {
	rec, ok := s.presence.markDisconnected(identity, s.now())
	if !ok {
		return ErrParticipantNotFound
	}
	now := s.now()
	s.attendance.onDisconnect(identity, now)

	grace := s.reconnectGrace()
	s.tokens.issue(identity, rec.model.Role, rec.model.RoomID, now.Add(grace))
	s.scheduleGraceLocked(identity, grace)
	s.refreshIdleLocked()

	s.broadcastLocked(Event{Name: EventParticipantUpdated, Data: map[string]interface{}{
		"participant": rec.model,
	}})
	s.log.Debug("participant disconnected", zap.String("identity", identity.String()))
	return nil
}

// Leave removes the participant permanently.
func (s *Session) Leave(identity uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(identity, "left")
}

func (s *Session) removeLocked(identity uuid.UUID, reason string) error {
	rec, ok := s.presence.remove(identity, s.now())
	if !ok {
		return ErrParticipantNotFound
	}
	s.attendance.onDisconnect(identity, s.now())
	s.cancelGraceLocked(identity)
	s.tokens.revoke(identity)
	s.interact.lower(identity)
	if rec.model.RoomID != models.MainRoom {
		s.breakouts.move(identity, rec.model.RoomID, models.MainRoom)
	}
	s.refreshIdleLocked()

	s.broadcastLocked(Event{Name: EventParticipantLeft, Data: map[string]interface{}{
		"identity": identity,
		"reason":   reason,
	}})
	return nil
}

// Reconnect consumes a reconnection token and restores the participant's
// prior role and room assignment on the new endpoint.
func (s *Session) Reconnect(token string, ep Endpoint) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.model.Status == models.SessionEnded {
		return nil, ErrInvalidStateTransition
	}

	grant, err := s.tokens.consume(token, s.now())
	if err != nil {
		return nil, err
	}

	if rec, ok := s.presence.get(grant.identity); ok {
		rec.model.Role = grant.role
		// The granted room may have been closed during the disconnect; a
		// stale assignment would strand the participant outside every
		// signaling scope.
		if _, active := s.breakouts.active(grant.roomID); active {
			rec.model.RoomID = grant.roomID
		} else {
			rec.model.RoomID = models.MainRoom
		}
		p := s.resumeLocked(rec, ep)
		return p, nil
	}

	// Record already evicted (grace timer raced the token). Recreate it with
	// the granted role and room.
	now := s.now()
	rec, _ := s.presence.register(s.model.ID, grant.identity, grant.role, ep, now)
	if room, ok := s.breakouts.active(grant.roomID); ok {
		rec.model.RoomID = room.ID
		s.breakouts.move(grant.identity, models.MainRoom, room.ID)
	}
	s.attendance.onConnect(grant.identity, now)
	s.refreshIdleLocked()

	if ep != nil {
		ep.Send(Event{Name: EventICEServers, Data: map[string]interface{}{"ice_servers": s.ice}})
	}
	s.broadcastLocked(Event{Name: EventParticipantJoined, Data: map[string]interface{}{
		"participant": rec.model,
		"reconnected": true,
	}})
	p := rec.model
	return &p, nil
}

// ReconnectTokenFor returns the identity's outstanding token, if any. Lets
// an authenticated client that lost its socket fetch the token over HTTP.
func (s *Session) ReconnectTokenFor(identity uuid.UUID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.outstanding(identity)
}

// Relay forwards an opaque signaling payload to one participant. Routing is
// by current room membership read at relay time: sender and target must both
// be connected in the same room. Undeliverable payloads are never buffered.
func (s *Session) Relay(from, to uuid.UUID, payload []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sender, ok := s.presence.connected(from)
	if !ok {
		return ErrParticipantNotFound
	}
	target, ok := s.presence.connected(to)
	if !ok || target.model.RoomID != sender.model.RoomID {
		return ErrParticipantNotFound
	}
	if target.endpoint == nil {
		return ErrParticipantNotFound
	}
	target.endpoint.Send(Event{Name: EventSignalForwarded, Data: map[string]interface{}{
		"from":    from,
		"payload": json.RawMessage(payload),
	}})
	return nil
}

// Promote changes a connected participant's role to co-host or attendee.
func (s *Session) Promote(by, identity uuid.UUID, role models.SessionRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requirePermitLocked(by, ActionPromote); err != nil {
		return err
	}
	if role != models.RoleCoHost && role != models.RoleAttendee {
		return ErrNotPermitted
	}
	rec, ok := s.presence.connected(identity)
	if !ok {
		return ErrParticipantNotFound
	}
	if rec.model.Role == models.RoleHost {
		return ErrNotPermitted
	}
	rec.model.Role = role
	s.broadcastLocked(Event{Name: EventParticipantUpdated, Data: map[string]interface{}{
		"participant": rec.model,
	}})
	return nil
}

// End transitions the session to ENDED and tears down all live state:
// breakout rooms and polls are closed, attendance is finalized, outstanding
// reconnection tokens are revoked, pending waiting entries are auto-denied
// and every participant is evicted. Ending an ended session is idempotent.
// The by argument is uuid.Nil for the internal idle-timeout path.
func (s *Session) End(by uuid.UUID) error {
	s.mu.Lock()

	if s.model.Status == models.SessionEnded {
		s.mu.Unlock()
		return nil
	}
	if by != uuid.Nil {
		if err := s.requirePermitLocked(by, ActionEndSession); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	now := s.now()
	s.model.Status = models.SessionEnded
	s.model.EndedAt = &now

	s.stopTimersLocked()
	s.breakouts.closeAll()
	polls := s.interact.closeAllPolls()
	s.tokens.revokeAll()

	for _, entry := range s.waiting.drain() {
		if entry.endpoint != nil {
			entry.endpoint.Send(Event{Name: EventJoinDenied, Data: map[string]interface{}{
				"session_id": s.model.ID,
				"reason":     "session ended",
			}})
		}
	}

	s.broadcastLocked(Event{Name: EventSessionEnded, Data: map[string]interface{}{
		"session_id": s.model.ID,
		"ended_at":   now,
	}})
	for _, p := range s.presence.roster() {
		s.presence.remove(p.Identity, now)
	}

	summary := EndSummary{
		Session:    s.model,
		Attendance: s.attendance.finalize(s.model.ID, now),
		Polls:      polls,
		Questions:  s.interact.questionList(),
	}
	s.summary = &summary
	s.mu.Unlock()

	s.log.Info("session ended",
		zap.String("by", by.String()),
		zap.Int("attendance_records", len(summary.Attendance)),
		zap.Int("polls", len(summary.Polls)))
	if s.onEnd != nil {
		s.onEnd(summary)
	}
	return nil
}

// Summary returns the end-of-session summary once the session has ended.
func (s *Session) Summary() (*EndSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.summary == nil {
		return nil, false
	}
	cp := *s.summary
	return &cp, true
}

// Roster returns a point-in-time copy of all participant records.
func (s *Session) Roster() []models.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presence.roster()
}

// WaitingList returns pending waiting-room entries, oldest first.
func (s *Session) WaitingList() []models.WaitingEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.waiting.snapshot()
}

// ConnectedCount returns the number of currently connected participants.
func (s *Session) ConnectedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presence.connectedCount()
}

// requirePermitLocked resolves the acting identity's role and checks the
// capability. The session host is always resolvable even before joining.
func (s *Session) requirePermitLocked(by uuid.UUID, action Action) error {
	role := models.RoleAttendee
	if rec, ok := s.presence.get(by); ok {
		role = rec.model.Role
	} else if by == s.model.HostID {
		role = models.RoleHost
	}
	if !Permits(role, action) {
		return ErrNotPermitted
	}
	return nil
}

// notifyWaitingLocked pushes the current waiting list to hosts and co-hosts.
func (s *Session) notifyWaitingLocked() {
	ev := Event{Name: EventWaitingRoomUpdate, Data: map[string]interface{}{
		"waiting": s.waiting.snapshot(),
	}}
	s.presence.each(func(rec *participantRecord) {
		if rec.model.Role == models.RoleAttendee || rec.endpoint == nil {
			return
		}
		rec.endpoint.Send(ev)
	})
	s.publishLocked(ev)
}

// broadcastLocked delivers an event to every connected endpoint and mirrors
// it for other instances.
func (s *Session) broadcastLocked(ev Event) {
	s.presence.each(func(rec *participantRecord) {
		if rec.endpoint != nil {
			rec.endpoint.Send(ev)
		}
	})
	s.publishLocked(ev)
}

// broadcastRoomLocked delivers an event to connected endpoints in one room.
func (s *Session) broadcastRoomLocked(roomID uuid.UUID, ev Event) {
	s.presence.each(func(rec *participantRecord) {
		if rec.model.RoomID == roomID && rec.endpoint != nil {
			rec.endpoint.Send(ev)
		}
	})
	s.publishLocked(ev)
}

func (s *Session) publishLocked(ev Event) {
	if s.mirror != nil {
		s.mirror.Publish(s.model.ID, ev)
	}
}

// refreshIdleLocked arms the idle auto-end timer while a LIVE session has no
// connected participants, and disarms it otherwise.
func (s *Session) refreshIdleLocked() {
	if s.model.Status != models.SessionLive {
		return
	}
	if s.presence.connectedCount() > 0 {
		if s.idleTimer != nil {
			s.idleTimer.Stop()
			s.idleTimer = nil
		}
		return
	}
	if s.idleTimer != nil {
		return
	}
	s.idleTimer = time.AfterFunc(s.defaults.IdleGrace, func() {
		if s.Status() != models.SessionLive || s.ConnectedCount() > 0 {
			return
		}
		s.log.Info("idle timeout, ending session")
		_ = s.End(uuid.Nil)
	})
}

// scheduleGraceLocked evicts the identity permanently when the reconnect
// grace window lapses without a resume.
func (s *Session) scheduleGraceLocked(identity uuid.UUID, grace time.Duration) {
	s.cancelGraceLocked(identity)
	s.graceTimers[identity] = time.AfterFunc(grace, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.graceTimers, identity)
		rec, ok := s.presence.get(identity)
		if !ok || rec.model.Quality != models.QualityDisconnected {
			return
		}
		_ = s.removeLocked(identity, "reconnect window expired")
	})
}

func (s *Session) cancelGraceLocked(identity uuid.UUID) {
	if t, ok := s.graceTimers[identity]; ok {
		t.Stop()
		delete(s.graceTimers, identity)
	}
}

func (s *Session) stopTimersLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	if s.breakoutTimer != nil {
		s.breakoutTimer.Stop()
		s.breakoutTimer = nil
	}
	for id, t := range s.graceTimers {
		t.Stop()
		delete(s.graceTimers, id)
	}
}
