package live

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/classlive/backend/internal/models"
)

// waitingEntry holds an undecided join request together with the requester's
// endpoint so an admit or deny decision can be delivered.
type waitingEntry struct {
	model    models.WaitingEntry
	endpoint Endpoint
}

// waitingRoom intermediates join requests until a host admits or denies
// them, or the requester cancels. Invoked under the owning session's lock.
type waitingRoom struct {
	entries map[uuid.UUID]*waitingEntry
}

func newWaitingRoom() *waitingRoom {
	return &waitingRoom{entries: make(map[uuid.UUID]*waitingEntry)}
}

// add creates an entry for the identity. A repeated request refreshes the
// endpoint but keeps the original request time.
func (w *waitingRoom) add(sessionID, identity uuid.UUID, name string, ep Endpoint, now time.Time) *waitingEntry {
	if e, ok := w.entries[identity]; ok {
		e.endpoint = ep
		return e
	}
	e := &waitingEntry{
		model: models.WaitingEntry{
			SessionID:   sessionID,
			Identity:    identity,
			DisplayName: name,
			RequestedAt: now,
		},
		endpoint: ep,
	}
	w.entries[identity] = e
	return e
}

// take removes and returns the identity's entry. A missing entry means the
// request was already resolved.
func (w *waitingRoom) take(identity uuid.UUID) (*waitingEntry, bool) {
	e, ok := w.entries[identity]
	if !ok {
		return nil, false
	}
	delete(w.entries, identity)
	return e, true
}

// drain removes and returns all pending entries, oldest first. Used when the
// session ends and every pending request is auto-denied.
func (w *waitingRoom) drain() []*waitingEntry {
	out := make([]*waitingEntry, 0, len(w.entries))
	for _, e := range w.entries {
		out = append(out, e)
	}
	w.entries = make(map[uuid.UUID]*waitingEntry)
	sort.Slice(out, func(i, j int) bool { return out[i].model.RequestedAt.Before(out[j].model.RequestedAt) })
	return out
}

// snapshot returns pending entries, oldest first.
func (w *waitingRoom) snapshot() []models.WaitingEntry {
	out := make([]models.WaitingEntry, 0, len(w.entries))
	for _, e := range w.entries {
		out = append(out, e.model)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

func (w *waitingRoom) size() int {
	return len(w.entries)
}
