package live

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/classlive/backend/internal/models"
)

// connectedInterval is one closed span of connected time.
type connectedInterval struct {
	start time.Time
	end   time.Time
}

// attendanceTracker observes presence changes and maintains, per identity,
// a list of disjoint connected intervals. A reconnect inside the grace window
// simply opens a new interval; the disconnected gap is never counted.
// Invoked under the owning session's lock.
type attendanceTracker struct {
	closed map[uuid.UUID][]connectedInterval
	open   map[uuid.UUID]time.Time
}

func newAttendanceTracker() *attendanceTracker {
	return &attendanceTracker{
		closed: make(map[uuid.UUID][]connectedInterval),
		open:   make(map[uuid.UUID]time.Time),
	}
}

// onConnect opens an interval for the identity. A duplicate connect while an
// interval is already open is a no-op.
func (t *attendanceTracker) onConnect(identity uuid.UUID, now time.Time) {
	if _, ok := t.open[identity]; ok {
		return
	}
	t.open[identity] = now
}

// onDisconnect closes the identity's open interval, if any. Both a transient
// disconnect and a permanent leave end the counted span the same way.
func (t *attendanceTracker) onDisconnect(identity uuid.UUID, now time.Time) {
	start, ok := t.open[identity]
	if !ok {
		return
	}
	delete(t.open, identity)
	if !now.After(start) {
		return
	}
	t.closed[identity] = append(t.closed[identity], connectedInterval{start: start, end: now})
}

// finalize closes any still-open intervals at end time and derives one
// attendance record per identity that ever connected.
func (t *attendanceTracker) finalize(sessionID uuid.UUID, end time.Time) []models.AttendanceRecord {
	for identity := range t.open {
		t.onDisconnect(identity, end)
	}

	out := make([]models.AttendanceRecord, 0, len(t.closed))
	for identity, spans := range t.closed {
		if len(spans) == 0 {
			continue
		}
		rec := models.AttendanceRecord{
			SessionID: sessionID,
			Identity:  identity,
			FirstJoin: spans[0].start,
			LastLeave: spans[0].end,
		}
		for _, span := range spans {
			rec.Total += span.end.Sub(span.start)
			if span.start.Before(rec.FirstJoin) {
				rec.FirstJoin = span.start
			}
			if span.end.After(rec.LastLeave) {
				rec.LastLeave = span.end
			}
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstJoin.Before(out[j].FirstJoin) })
	return out
}
