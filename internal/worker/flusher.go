package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/classlive/backend/internal/live"
	"github.com/classlive/backend/pkg/queue"
)

// QueueFlusher hands end-of-session summaries to the Redis job queue so the
// worker process persists them off the serving path. It implements
// live.Flusher.
type QueueFlusher struct {
	queue  *queue.Queue
	logger *zap.Logger
}

// NewQueueFlusher creates a flusher backed by the job queue.
func NewQueueFlusher(q *queue.Queue, logger *zap.Logger) *QueueFlusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueFlusher{queue: q, logger: logger}
}

// FlushSessionEnd enqueues the summary. Called from the manager after the
// session lock is released; the enqueue runs in its own goroutine so an
// unreachable Redis never stalls the caller.
func (f *QueueFlusher) FlushSessionEnd(summary live.EndSummary) {
	body, err := json.Marshal(summary)
	if err != nil {
		f.logger.Error("marshal end summary failed", zap.Error(err),
			zap.String("session_id", summary.Session.ID.String()))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.queue.EnqueueSessionFlush(ctx, summary.Session.ID, body); err != nil {
			f.logger.Error("enqueue session flush failed", zap.Error(err),
				zap.String("session_id", summary.Session.ID.String()))
		}
	}()
}
