package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/classlive/backend/internal/live"
	"github.com/classlive/backend/internal/livestore"
	"github.com/classlive/backend/pkg/queue"
)

// FlushProcessor consumes session flush jobs and writes attendance, poll and
// question records to PostgreSQL. Failures are retried through the queue; a
// job that exhausts its retries lands in the DLQ with the full summary intact.
type FlushProcessor struct {
	store  *livestore.Store
	queue  *queue.Queue
	logger *zap.Logger
}

// NewFlushProcessor creates a session flush processor.
func NewFlushProcessor(store *livestore.Store, q *queue.Queue, logger *zap.Logger) *FlushProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FlushProcessor{store: store, queue: q, logger: logger}
}

// Process executes one session flush job. All writes are upserts, so a retry
// after a partial failure is safe.
func (p *FlushProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeSessionFlush {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var summary live.EndSummary
	if err := json.Unmarshal(job.Payload, &summary); err != nil {
		return fmt.Errorf("unmarshal summary: %w", err)
	}

	if err := p.store.SaveAttendance(ctx, summary.Attendance); err != nil {
		return fmt.Errorf("attendance: %w", err)
	}
	if err := p.store.SavePollResults(ctx, summary.Polls); err != nil {
		return fmt.Errorf("polls: %w", err)
	}
	if err := p.store.SaveQuestions(ctx, summary.Questions); err != nil {
		return fmt.Errorf("questions: %w", err)
	}

	p.logger.Info("session flushed",
		zap.String("session_id", summary.Session.ID.String()),
		zap.Int("attendance", len(summary.Attendance)),
		zap.Int("polls", len(summary.Polls)),
		zap.Int("questions", len(summary.Questions)))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *FlushProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("flush worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("flush worker stopping")
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
		}
	}
}
