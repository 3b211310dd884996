package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/classlive/backend/config"
	"github.com/classlive/backend/internal/models"
)

// Store is the persistence collaborator. The core consults it only for
// initial session lookup at start time and write-behind at session end; no
// live operation ever blocks on it.
type Store interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	UpdateSessionStatus(ctx context.Context, s *models.Session) error
}

// Flusher receives the end-of-session summary for asynchronous write-behind.
// Implementations enqueue and return quickly; retries happen elsewhere.
type Flusher interface {
	FlushSessionEnd(summary EndSummary)
}

// Manager owns every live session in process memory. Sessions enter the
// registry when they start and leave it when they end; all access goes
// through the manager's lookup.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	cfg    config.SessionConfig
	ice    []webrtc.ICEServer
	log    *zap.Logger
	store  Store
	flush  Flusher
	mirror EventMirror
}

// NewManager creates a session manager. store and flush may be nil (e.g. in
// tests); mirror is optional and used for multi-instance event delivery.
func NewManager(cfg config.SessionConfig, ice []config.ICEServerConfig, store Store, flush Flusher, mirror EventMirror, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		sessions: make(map[uuid.UUID]*Session),
		cfg:      cfg,
		ice:      toICEServers(ice),
		log:      log,
		store:    store,
		flush:    flush,
		mirror:   mirror,
	}
}

// toICEServers converts configured endpoint/credential triples into the
// webrtc configuration handed to participants. Credentials are distributed
// opaquely, never generated or validated here.
func toICEServers(cfg []config.ICEServerConfig) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(cfg))
	for _, c := range cfg {
		srv := webrtc.ICEServer{URLs: []string{c.URL}}
		if c.Username != "" {
			srv.Username = c.Username
			srv.Credential = c.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, srv)
	}
	return out
}

// Schedule creates a new SCHEDULED session and persists it. Scheduling is
// not a live operation, so the store write is synchronous here.
func (m *Manager) Schedule(ctx context.Context, classID, hostID uuid.UUID, settings models.SessionSettings) (*models.Session, error) {
	if settings.MaxParticipants == 0 {
		settings.MaxParticipants = m.cfg.MaxParticipants
	}
	if settings.ReconnectGrace == 0 {
		settings.ReconnectGrace = m.cfg.ReconnectGrace
	}
	session := &models.Session{
		ID:        uuid.New(),
		ClassID:   classID,
		HostID:    hostID,
		Status:    models.SessionScheduled,
		Settings:  settings,
		CreatedAt: time.Now(),
	}
	if m.store != nil {
		if err := m.store.CreateSession(ctx, session); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
	}
	m.log.Info("session scheduled",
		zap.String("session_id", session.ID.String()),
		zap.String("class_id", classID.String()))
	return session, nil
}

// Start transitions a scheduled session to WAITING and inserts it into the
// live registry. Starting an already live session is idempotent.
func (m *Manager) Start(ctx context.Context, sessionID, by uuid.UUID) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()

	if !ok {
		if m.store == nil {
			return nil, ErrSessionNotFound
		}
		model, err := m.store.GetSession(ctx, sessionID)
		if err != nil || model == nil {
			return nil, ErrSessionNotFound
		}
		if model.Status == models.SessionEnded {
			return nil, ErrInvalidStateTransition
		}
		s = m.register(*model)
	}

	if _, err := s.Start(by); err != nil {
		return nil, err
	}

	// Persist the transition after the in-memory state is committed; a
	// failed write never rolls the live state back.
	if m.store != nil {
		model := s.Model()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.store.UpdateSessionStatus(ctx, &model); err != nil {
				m.log.Warn("persist session start failed", zap.Error(err), zap.String("session_id", model.ID.String()))
			}
		}()
	}
	return s, nil
}

// StartInMemory registers a session model directly, bypassing the store.
// Used by tests and by callers that already hold the model.
func (m *Manager) StartInMemory(model models.Session, by uuid.UUID) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[model.ID]
	m.mu.RUnlock()
	if !ok {
		s = m.register(model)
	}
	if _, err := s.Start(by); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) register(model models.Session) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[model.ID]; ok {
		return existing
	}
	s := newSession(model, m.cfg, m.ice, m.log, m.mirror, func(summary EndSummary) {
		m.onSessionEnd(summary)
	})
	m.sessions[model.ID] = s
	return s
}

// Get returns the live session or ErrSessionNotFound.
func (m *Manager) Get(sessionID uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// End ends a live session. Ending an unknown (already evicted) session is
// treated as idempotent success.
func (m *Manager) End(sessionID, by uuid.UUID) error {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.End(by)
}

// Reconnect routes a reconnection token to the session it was minted for.
// A token naming an unknown session fails like an expired one.
func (m *Manager) Reconnect(token string, ep Endpoint) (*models.Participant, *Session, error) {
	sessionID, ok := TokenSession(token)
	if !ok {
		return nil, nil, ErrTokenExpired
	}
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, nil, ErrTokenExpired
	}
	p, err := s.Reconnect(token, ep)
	if err != nil {
		return nil, nil, err
	}
	return p, s, nil
}

// Count returns the number of live sessions in the registry.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// onSessionEnd evicts the session from the registry and hands the summary
// to the write-behind flusher.
func (m *Manager) onSessionEnd(summary EndSummary) {
	m.mu.Lock()
	delete(m.sessions, summary.Session.ID)
	m.mu.Unlock()

	if m.store != nil {
		model := summary.Session
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.store.UpdateSessionStatus(ctx, &model); err != nil {
				m.log.Warn("persist session end failed", zap.Error(err), zap.String("session_id", model.ID.String()))
			}
		}()
	}
	if m.flush != nil {
		m.flush.FlushSessionEnd(summary)
	}
	m.log.Info("session evicted", zap.String("session_id", summary.Session.ID.String()))
}
