package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/classlive/backend/internal/live"
	"github.com/classlive/backend/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the inbound WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// IdentityValidator resolves a bearer token to the connecting identity.
type IdentityValidator func(token string) (identity uuid.UUID, name string, err error)

// Client is one WebSocket connection bound to a session. It implements
// live.Endpoint: the core pushes events into the buffered send channel and
// never blocks on the socket.
type Client struct {
	ConnID    string
	SessionID uuid.UUID
	Identity  uuid.UUID
	Name      string

	hub     *Hub
	manager *live.Manager
	session *live.Session
	joined  bool
	left    bool

	conn   *websocket.Conn
	send   chan live.Event
	logger *zap.Logger
}

// Send implements live.Endpoint. It reports false when the client's buffer
// is full and the event was dropped.
func (c *Client) Send(ev live.Event) bool {
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, manager *live.Manager, validate IdentityValidator, logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		sessionIDStr := ctx.Query("session_id")
		token := ctx.Query("token")
		if sessionIDStr == "" || token == "" {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "session_id and token required"})
			return
		}
		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
			return
		}
		identity, name, err := validate(token)
		if err != nil {
			ctx.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ConnID:    uuid.NewString(),
			SessionID: sessionID,
			Identity:  identity,
			Name:      name,
			hub:       hub,
			manager:   manager,
			conn:      conn,
			send:      make(chan live.Event, sendBuffer),
			logger:    logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		// A dropped socket is a transient disconnect, not a leave: the
		// presence record survives for the reconnect grace window.
		if c.joined && !c.left && c.session != nil {
			_ = c.session.MarkDisconnected(c.Identity)
		}
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		c.dispatch(msg)
		if c.left {
			break
		}
	}
}

// dispatch routes one inbound message to the orchestration core.
func (c *Client) dispatch(msg WSMessage) {
	switch msg.Event {
	case "join":
		c.handleJoin()
	case "reconnect":
		c.handleReconnect(msg.Data)
	case "leave":
		if c.session != nil {
			_ = c.session.Leave(c.Identity)
		}
		c.left = true
	case "signal":
		c.handleSignal(msg.Data)
	case "quality":
		c.handleQuality(msg.Data)
	case "raise-hand":
		if c.session != nil {
			c.replyErr(c.session.RaiseHand(c.Identity))
		}
	case "lower-hand":
		if c.session != nil {
			c.replyErr(c.session.LowerHand(c.Identity))
		}
	case "poll-submit":
		c.handlePollSubmit(msg.Data)
	case "question-ask":
		c.handleQuestionAsk(msg.Data)
	case "question-upvote":
		c.handleQuestionUpvote(msg.Data)
	case "breakout-assign":
		c.handleBreakoutAssign(msg.Data)
	case "breakout-close":
		if c.session != nil {
			c.replyErr(c.session.CloseBreakouts(c.Identity))
		}
	case "waiting-admit":
		c.handleWaitingDecision(msg.Data, true)
	case "waiting-deny":
		c.handleWaitingDecision(msg.Data, false)
	case "annotate":
		c.handleAnnotate(msg.Data)
	case "chat":
		c.handleChat(msg.Data)
	default:
		// ignore
	}
}

func (c *Client) handleJoin() {
	session, err := c.manager.Get(c.SessionID)
	if err != nil {
		c.replyErr(err)
		return
	}
	c.session = session
	result, err := session.RequestJoin(c.Identity, c.Name, c)
	if err != nil {
		c.replyErr(err)
		return
	}
	c.joined = true
	if result.Waiting != nil {
		c.Send(live.Event{Name: live.EventWaitingRoomUpdate, Data: map[string]interface{}{
			"entry": result.Waiting,
		}})
	}
}

func (c *Client) handleReconnect(data json.RawMessage) {
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Token == "" {
		c.replyErr(live.ErrTokenExpired)
		return
	}
	_, session, err := c.manager.Reconnect(payload.Token, c)
	if err != nil {
		c.replyErr(err)
		return
	}
	c.session = session
	c.SessionID = session.ID()
	c.joined = true
}

func (c *Client) handleSignal(data json.RawMessage) {
	if c.session == nil {
		return
	}
	var payload struct {
		To      uuid.UUID       `json:"to"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	c.replyErr(c.session.Relay(c.Identity, payload.To, payload.Payload))
}

func (c *Client) handleQuality(data json.RawMessage) {
	if c.session == nil {
		return
	}
	var payload struct {
		Level models.ConnectionQuality `json:"level"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	c.replyErr(c.session.UpdateQuality(c.Identity, payload.Level))
}

func (c *Client) handlePollSubmit(data json.RawMessage) {
	if c.session == nil {
		return
	}
	var payload struct {
		PollID uuid.UUID `json:"poll_id"`
		Option int       `json:"option"`
		Text   string    `json:"text"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	c.replyErr(c.session.SubmitPoll(payload.PollID, c.Identity, live.PollResponse{
		Option: payload.Option,
		Text:   payload.Text,
	}))
}

func (c *Client) handleQuestionAsk(data json.RawMessage) {
	if c.session == nil {
		return
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Text == "" {
		return
	}
	_, err := c.session.AskQuestion(c.Identity, payload.Text)
	c.replyErr(err)
}

func (c *Client) handleQuestionUpvote(data json.RawMessage) {
	if c.session == nil {
		return
	}
	var payload struct {
		QuestionID uuid.UUID `json:"question_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	_, err := c.session.UpvoteQuestion(payload.QuestionID, c.Identity)
	c.replyErr(err)
}

func (c *Client) handleBreakoutAssign(data json.RawMessage) {
	if c.session == nil {
		return
	}
	var payload struct {
		Count        int            `json:"count"`
		Explicit     map[string]int `json:"explicit"`
		TimeLimitSec int            `json:"time_limit_sec"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	assignment := live.BreakoutAssignment{
		Count:     payload.Count,
		TimeLimit: time.Duration(payload.TimeLimitSec) * time.Second,
	}
	if len(payload.Explicit) > 0 {
		assignment.Explicit = make(map[uuid.UUID]int, len(payload.Explicit))
		for k, v := range payload.Explicit {
			id, err := uuid.Parse(k)
			if err != nil {
				continue
			}
			assignment.Explicit[id] = v
		}
	}
	_, err := c.session.CreateBreakouts(c.Identity, assignment)
	c.replyErr(err)
}

func (c *Client) handleWaitingDecision(data json.RawMessage, admit bool) {
	if c.session == nil {
		return
	}
	var payload struct {
		Identity uuid.UUID `json:"identity"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	if admit {
		_, err := c.session.Admit(c.Identity, payload.Identity)
		c.replyErr(err)
		return
	}
	c.replyErr(c.session.Deny(c.Identity, payload.Identity))
}

func (c *Client) handleAnnotate(data json.RawMessage) {
	if c.session == nil {
		return
	}
	var payload struct {
		ShapeID string          `json:"shape_id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	_, err := c.session.Annotate(c.Identity, payload.ShapeID, payload.Payload)
	c.replyErr(err)
}

func (c *Client) handleChat(data json.RawMessage) {
	if c.session == nil {
		return
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Text == "" {
		return
	}
	c.replyErr(c.session.Chat(c.Identity, payload.Text))
}

// replyErr sends an error event back to this client. A nil error is a no-op;
// core errors are recoverable and the client corrects its request.
func (c *Client) replyErr(err error) {
	if err == nil {
		return
	}
	c.Send(live.Event{Name: "error", Data: map[string]interface{}{"message": err.Error()}})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
