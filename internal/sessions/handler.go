package sessions

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classlive/backend/internal/live"
	"github.com/classlive/backend/internal/livestore"
	"github.com/classlive/backend/internal/middleware"
	"github.com/classlive/backend/internal/models"
	"github.com/classlive/backend/pkg/response"
)

// Handler exposes the session lifecycle and host controls over REST. Live
// in-session traffic (signaling, hand raises, poll submissions) flows over
// the WebSocket instead; these endpoints cover scheduling, host moderation
// from a dashboard, and post-session reporting.
type Handler struct {
	manager *live.Manager
	store   *livestore.Store
	logger  *zap.Logger
}

// NewHandler creates a sessions handler. store may be nil when running
// without persistence.
func NewHandler(manager *live.Manager, store *livestore.Store, logger *zap.Logger) *Handler {
	return &Handler{manager: manager, store: store, logger: logger}
}

// ScheduleRequest is the body for POST /sessions.
type ScheduleRequest struct {
	ClassID           uuid.UUID `json:"class_id" binding:"required"`
	WaitingRoom       *bool     `json:"waiting_room"`
	MaxParticipants   int       `json:"max_participants"`
	RecordingEnabled  bool      `json:"recording_enabled"`
	ReconnectGraceSec int       `json:"reconnect_grace_sec"`
}

// Schedule handles POST /sessions. The caller becomes the session host.
func (h *Handler) Schedule(c *gin.Context) {
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	settings := models.SessionSettings{
		WaitingRoom:      true,
		MaxParticipants:  req.MaxParticipants,
		RecordingEnabled: req.RecordingEnabled,
		ReconnectGrace:   time.Duration(req.ReconnectGraceSec) * time.Second,
	}
	if req.WaitingRoom != nil {
		settings.WaitingRoom = *req.WaitingRoom
	}
	session, err := h.manager.Schedule(c.Request.Context(), req.ClassID, callerID(c), settings)
	if err != nil {
		h.logger.Error("schedule session failed", zap.Error(err))
		response.Internal(c, "failed to schedule session")
		return
	}
	response.Created(c, session)
}

// Start handles POST /sessions/:id/start.
func (h *Handler) Start(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	s, err := h.manager.Start(c.Request.Context(), id, callerID(c))
	if err != nil {
		h.replyErr(c, err)
		return
	}
	response.OK(c, s.Model())
}

// End handles POST /sessions/:id/end.
func (h *Handler) End(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.manager.End(id, callerID(c)); err != nil {
		h.replyErr(c, err)
		return
	}
	response.OK(c, gin.H{"status": models.SessionEnded})
}

// Get handles GET /sessions/:id. Prefers the live registry; falls back to
// the store for scheduled or ended sessions.
func (h *Handler) Get(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if s, err := h.manager.Get(id); err == nil {
		response.OK(c, s.Model())
		return
	}
	if h.store != nil {
		model, err := h.store.GetSession(c.Request.Context(), id)
		if err != nil {
			response.Internal(c, "failed to load session")
			return
		}
		if model != nil {
			response.OK(c, model)
			return
		}
	}
	response.NotFound(c, "session not found")
}

// Roster handles GET /sessions/:id/roster.
func (h *Handler) Roster(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	response.OK(c, gin.H{"participants": s.Roster()})
}

// WaitingList handles GET /sessions/:id/waiting.
func (h *Handler) WaitingList(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	response.OK(c, gin.H{"entries": s.WaitingList()})
}

// Admit handles POST /sessions/:id/waiting/:identity/admit.
func (h *Handler) Admit(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	identity, ok := identityParam(c)
	if !ok {
		return
	}
	participant, err := s.Admit(callerID(c), identity)
	if err != nil {
		h.replyErr(c, err)
		return
	}
	response.OK(c, participant)
}

// Deny handles POST /sessions/:id/waiting/:identity/deny.
func (h *Handler) Deny(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	identity, ok := identityParam(c)
	if !ok {
		return
	}
	if err := s.Deny(callerID(c), identity); err != nil {
		h.replyErr(c, err)
		return
	}
	response.NoContent(c)
}

// Promote handles POST /sessions/:id/participants/:identity/promote.
func (h *Handler) Promote(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	identity, ok := identityParam(c)
	if !ok {
		return
	}
	var req struct {
		Role models.SessionRole `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := s.Promote(callerID(c), identity, req.Role); err != nil {
		h.replyErr(c, err)
		return
	}
	response.NoContent(c)
}

// OpenPoll handles POST /sessions/:id/polls. An empty options list opens a
// free-text poll.
func (h *Handler) OpenPoll(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	var req struct {
		Question string   `json:"question" binding:"required"`
		Options  []string `json:"options"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	poll, err := s.OpenPoll(callerID(c), req.Question, req.Options)
	if err != nil {
		h.replyErr(c, err)
		return
	}
	response.Created(c, poll)
}

// ClosePoll handles POST /sessions/:id/polls/:pollId/close.
func (h *Handler) ClosePoll(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	pollID, err := uuid.Parse(c.Param("pollId"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	tally, err := s.ClosePoll(callerID(c), pollID)
	if err != nil {
		h.replyErr(c, err)
		return
	}
	response.OK(c, tally)
}

// PollTally handles GET /sessions/:id/polls/:pollId/tally.
func (h *Handler) PollTally(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	pollID, err := uuid.Parse(c.Param("pollId"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	tally, err := s.PollTally(pollID)
	if err != nil {
		h.replyErr(c, err)
		return
	}
	response.OK(c, tally)
}

// Questions handles GET /sessions/:id/questions.
func (h *Handler) Questions(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	response.OK(c, gin.H{"questions": s.Questions()})
}

// AnswerQuestion handles POST /sessions/:id/questions/:questionId/answer.
func (h *Handler) AnswerQuestion(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	questionID, err := uuid.Parse(c.Param("questionId"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := s.AnswerQuestion(callerID(c), questionID, req.Text); err != nil {
		h.replyErr(c, err)
		return
	}
	response.NoContent(c)
}

// BreakoutRequest is the body for POST /sessions/:id/rooms.
type BreakoutRequest struct {
	Count        int            `json:"count"`
	Explicit     map[string]int `json:"explicit"`
	TimeLimitSec int            `json:"time_limit_sec"`
}

// CreateBreakouts handles POST /sessions/:id/rooms.
func (h *Handler) CreateBreakouts(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	var req BreakoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	assignment := live.BreakoutAssignment{
		Count:     req.Count,
		TimeLimit: time.Duration(req.TimeLimitSec) * time.Second,
	}
	if len(req.Explicit) > 0 {
		assignment.Explicit = make(map[uuid.UUID]int, len(req.Explicit))
		for k, v := range req.Explicit {
			id, err := uuid.Parse(k)
			if err != nil {
				response.BadRequest(c, "invalid participant id in explicit assignment")
				return
			}
			assignment.Explicit[id] = v
		}
	}
	rooms, err := s.CreateBreakouts(callerID(c), assignment)
	if err != nil {
		h.replyErr(c, err)
		return
	}
	response.Created(c, gin.H{"rooms": rooms})
}

// CloseBreakouts handles POST /sessions/:id/rooms/close.
func (h *Handler) CloseBreakouts(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	if err := s.CloseBreakouts(callerID(c)); err != nil {
		h.replyErr(c, err)
		return
	}
	response.NoContent(c)
}

// Rooms handles GET /sessions/:id/rooms.
func (h *Handler) Rooms(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	response.OK(c, gin.H{"rooms": s.Rooms()})
}

// Reassign handles POST /sessions/:id/participants/:identity/room.
func (h *Handler) Reassign(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	identity, ok := identityParam(c)
	if !ok {
		return
	}
	var req struct {
		RoomID uuid.UUID `json:"room_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := s.Reassign(callerID(c), identity, req.RoomID); err != nil {
		h.replyErr(c, err)
		return
	}
	response.NoContent(c)
}

// ReconnectToken handles GET /sessions/:id/reconnect-token. Returns the
// caller's outstanding token, if a disconnect left one.
func (h *Handler) ReconnectToken(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	token, ok := s.ReconnectTokenFor(callerID(c))
	if !ok {
		response.NotFound(c, "no outstanding reconnection token")
		return
	}
	response.OK(c, gin.H{"token": token})
}

// Attendance handles GET /sessions/:id/attendance. Records exist only after
// the session ended and the flush worker ran.
func (h *Handler) Attendance(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if h.store == nil {
		response.NotFound(c, "attendance not available")
		return
	}
	records, err := h.store.ListAttendance(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("list attendance failed", zap.Error(err))
		response.Internal(c, "failed to list attendance")
		return
	}
	response.OK(c, gin.H{"records": records})
}

func (h *Handler) liveSession(c *gin.Context) (*live.Session, bool) {
	id, ok := sessionID(c)
	if !ok {
		return nil, false
	}
	s, err := h.manager.Get(id)
	if err != nil {
		response.NotFound(c, "session not live")
		return nil, false
	}
	return s, true
}

// replyErr maps core errors to HTTP statuses. Anything unmapped is a bad
// request: core errors are caller mistakes, not server faults.
func (h *Handler) replyErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, live.ErrSessionNotFound),
		errors.Is(err, live.ErrParticipantNotFound),
		errors.Is(err, live.ErrEntryNotFound),
		errors.Is(err, live.ErrRoomNotFound),
		errors.Is(err, live.ErrQuestionNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, live.ErrNotPermitted):
		response.Forbidden(c, err.Error())
	case errors.Is(err, live.ErrInvalidStateTransition),
		errors.Is(err, live.ErrCapacityExceeded),
		errors.Is(err, live.ErrPollClosed):
		response.Conflict(c, err.Error())
	default:
		response.BadRequest(c, err.Error())
	}
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

func identityParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("identity"))
	if err != nil {
		response.BadRequest(c, "invalid participant id")
		return uuid.Nil, false
	}
	return id, true
}

func callerID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(middleware.ContextUserID); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}
