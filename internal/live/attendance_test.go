package live

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttendanceTrackerIntervals(t *testing.T) {
	tr := newAttendanceTracker()
	sessionID := uuid.New()
	identity := uuid.New()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	tr.onConnect(identity, base)
	tr.onDisconnect(identity, base.Add(30*time.Second))
	tr.onConnect(identity, base.Add(45*time.Second))

	records := tr.finalize(sessionID, base.Add(105*time.Second))
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, 90*time.Second, rec.Total)
	assert.Equal(t, base, rec.FirstJoin)
	assert.Equal(t, base.Add(105*time.Second), rec.LastLeave)
}

func TestAttendanceTrackerDuplicateEvents(t *testing.T) {
	tr := newAttendanceTracker()
	identity := uuid.New()
	base := time.Now()

	// A duplicate connect keeps the original interval start.
	tr.onConnect(identity, base)
	tr.onConnect(identity, base.Add(10*time.Second))
	tr.onDisconnect(identity, base.Add(20*time.Second))
	// A disconnect with no open interval is ignored.
	tr.onDisconnect(identity, base.Add(30*time.Second))

	records := tr.finalize(uuid.New(), base.Add(time.Minute))
	require.Len(t, records, 1)
	assert.Equal(t, 20*time.Second, records[0].Total)
}

func TestAttendanceTrackerMultipleIdentities(t *testing.T) {
	tr := newAttendanceTracker()
	base := time.Now()
	a, b := uuid.New(), uuid.New()

	tr.onConnect(a, base)
	tr.onConnect(b, base.Add(10*time.Second))
	tr.onDisconnect(a, base.Add(30*time.Second))

	records := tr.finalize(uuid.New(), base.Add(time.Minute))
	require.Len(t, records, 2)
	// Sorted by first join.
	assert.Equal(t, a, records[0].Identity)
	assert.Equal(t, 30*time.Second, records[0].Total)
	assert.Equal(t, b, records[1].Identity)
	assert.Equal(t, 50*time.Second, records[1].Total)
}
