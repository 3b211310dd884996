package live

import (
	"time"

	"github.com/google/uuid"

	"github.com/classlive/backend/internal/models"
)

// participantRecord pairs a participant's live state with its transport
// endpoint. One record per (session, identity); a rejoin reuses the record.
type participantRecord struct {
	model          models.Participant
	endpoint       Endpoint
	disconnectedAt time.Time // zero unless quality == disconnected
}

// presenceRegistry tracks which identities are connected, their connection
// quality, and their transport endpoints. Not safe for concurrent use on its
// own: every method is invoked under the owning session's lock.
type presenceRegistry struct {
	records map[uuid.UUID]*participantRecord
}

func newPresenceRegistry() *presenceRegistry {
	return &presenceRegistry{records: make(map[uuid.UUID]*participantRecord)}
}

// register creates a live record, or resumes the existing record when the
// identity was previously marked disconnected. Returns the record and whether
// this was a reconnection.
func (r *presenceRegistry) register(sessionID, identity uuid.UUID, role models.SessionRole, ep Endpoint, now time.Time) (*participantRecord, bool) {
	if rec, ok := r.records[identity]; ok {
		rec.endpoint = ep
		rec.model.Quality = models.QualityGood
		rec.model.LeftAt = nil
		rec.disconnectedAt = time.Time{}
		return rec, true
	}
	rec := &participantRecord{
		model: models.Participant{
			SessionID: sessionID,
			Identity:  identity,
			Role:      role,
			Quality:   models.QualityGood,
			RoomID:    models.MainRoom,
			JoinedAt:  now,
		},
		endpoint: ep,
	}
	r.records[identity] = rec
	return rec, false
}

func (r *presenceRegistry) get(identity uuid.UUID) (*participantRecord, bool) {
	rec, ok := r.records[identity]
	return rec, ok
}

// connected returns the record only if the identity is currently connected.
func (r *presenceRegistry) connected(identity uuid.UUID) (*participantRecord, bool) {
	rec, ok := r.records[identity]
	if !ok || rec.model.Quality == models.QualityDisconnected {
		return nil, false
	}
	return rec, true
}

func (r *presenceRegistry) updateQuality(identity uuid.UUID, q models.ConnectionQuality) bool {
	rec, ok := r.records[identity]
	if !ok || rec.model.Quality == models.QualityDisconnected {
		return false
	}
	rec.model.Quality = q
	return true
}

// markDisconnected keeps the record but marks it disconnected, detaching the
// endpoint. Returns false if the identity has no live record.
func (r *presenceRegistry) markDisconnected(identity uuid.UUID, now time.Time) (*participantRecord, bool) {
	rec, ok := r.records[identity]
	if !ok || rec.model.Quality == models.QualityDisconnected {
		return nil, false
	}
	rec.model.Quality = models.QualityDisconnected
	rec.endpoint = nil
	rec.disconnectedAt = now
	return rec, true
}

// remove deletes the record permanently.
func (r *presenceRegistry) remove(identity uuid.UUID, now time.Time) (*participantRecord, bool) {
	rec, ok := r.records[identity]
	if !ok {
		return nil, false
	}
	left := now
	rec.model.LeftAt = &left
	delete(r.records, identity)
	return rec, true
}

// size counts all live records, including disconnected ones still inside
// their grace window. Used for capacity checks.
func (r *presenceRegistry) size() int {
	return len(r.records)
}

// connectedCount counts currently connected participants.
func (r *presenceRegistry) connectedCount() int {
	n := 0
	for _, rec := range r.records {
		if rec.model.Quality != models.QualityDisconnected {
			n++
		}
	}
	return n
}

// roster returns a point-in-time copy of all participant records.
func (r *presenceRegistry) roster() []models.Participant {
	out := make([]models.Participant, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.model)
	}
	return out
}

// connectedNonHosts returns identities eligible for breakout assignment.
func (r *presenceRegistry) connectedNonHosts() []uuid.UUID {
	var out []uuid.UUID
	for id, rec := range r.records {
		if rec.model.Quality == models.QualityDisconnected {
			continue
		}
		if rec.model.Role == models.RoleHost {
			continue
		}
		out = append(out, id)
	}
	return out
}

// each calls fn for every connected record.
func (r *presenceRegistry) each(fn func(rec *participantRecord)) {
	for _, rec := range r.records {
		if rec.model.Quality != models.QualityDisconnected {
			fn(rec)
		}
	}
}
