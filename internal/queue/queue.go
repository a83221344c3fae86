// Package queue implements the durable store-backed task queue that drives
// invoice processing. Tasks, attempt counters, and retry eligibility times
// live in the store, so a restart loses nothing and retry state is
// inspectable with plain queries.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
	"github.com/kosh-hq/invoice-pipeline/internal/resilience"
)

// DefaultClaimTTL is how long a claim holds before a crashed worker's task
// becomes claimable again.
const DefaultClaimTTL = 10 * time.Minute

// TaskStore is the persistence slice behind the queue.
type TaskStore interface {
	InsertTask(ctx context.Context, task *model.Task) error
	// ClaimNextTask atomically claims the oldest eligible task: queued with
	// next_eligible_at <= now, or claimed past the TTL. Returns nil when the
	// queue is empty.
	ClaimNextTask(ctx context.Context, now time.Time, claimTTL time.Duration) (*model.Task, error)
	UpdateTask(ctx context.Context, task *model.Task) error
	// FindActiveTask returns a queued or claimed task for the invoice, nil
	// when none exists.
	FindActiveTask(ctx context.Context, invoiceID string, kind model.TaskKind) (*model.Task, error)
	InsertDLQEntry(ctx context.Context, entry *resilience.DLQEntry) error
}

// Queue coordinates task lifecycle against the store.
type Queue struct {
	store    TaskStore
	policy   resilience.RetryPolicy
	claimTTL time.Duration
	nowFunc  func() time.Time
}

// New creates a queue with the given retry policy.
func New(store TaskStore, policy resilience.RetryPolicy) *Queue {
	return &Queue{
		store:    store,
		policy:   policy,
		claimTTL: DefaultClaimTTL,
		nowFunc:  time.Now,
	}
}

// WithClaimTTL overrides the claim TTL. Non-positive values keep the
// default. Returns q for chaining at construction time.
func (q *Queue) WithClaimTTL(ttl time.Duration) *Queue {
	if ttl > 0 {
		q.claimTTL = ttl
	}
	return q
}

// Enqueue adds a task for the invoice. Enqueueing is idempotent while a
// task for the same invoice and kind is still active: the existing task is
// returned instead of a duplicate.
func (q *Queue) Enqueue(ctx context.Context, invoiceID string, kind model.TaskKind) (*model.Task, error) {
	existing, err := q.store.FindActiveTask(ctx, invoiceID, kind)
	if err != nil {
		return nil, eris.Wrap(err, "queue: find active task")
	}
	if existing != nil {
		return existing, nil
	}

	now := q.nowFunc().UTC()
	task := &model.Task{
		ID:             uuid.New().String(),
		Kind:           kind,
		InvoiceID:      invoiceID,
		Status:         model.TaskQueued,
		Attempt:        0,
		MaxAttempts:    q.policy.MaxAttempts,
		NextEligibleAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := q.store.InsertTask(ctx, task); err != nil {
		return nil, eris.Wrap(err, "queue: insert task")
	}

	zap.L().Info("queue: task enqueued",
		zap.String("task_id", task.ID),
		zap.String("invoice_id", invoiceID),
		zap.String("kind", string(kind)),
	)
	return task, nil
}

// Claim takes the next eligible task and increments its attempt counter.
// Returns nil when nothing is eligible.
func (q *Queue) Claim(ctx context.Context) (*model.Task, error) {
	task, err := q.store.ClaimNextTask(ctx, q.nowFunc().UTC(), q.claimTTL)
	if err != nil {
		return nil, eris.Wrap(err, "queue: claim next task")
	}
	if task == nil {
		return nil, nil
	}

	task.Status = model.TaskClaimed
	task.Attempt++
	task.ClaimedAt = q.nowFunc().UTC()
	task.UpdatedAt = task.ClaimedAt
	if err := q.store.UpdateTask(ctx, task); err != nil {
		return nil, eris.Wrap(err, "queue: record claim")
	}
	return task, nil
}

// Ack marks the task done. Call it only after the processing result is
// durably persisted; a crash before Ack leaves the claim to expire and the
// task to be retried.
func (q *Queue) Ack(ctx context.Context, task *model.Task) error {
	task.Status = model.TaskDone
	task.UpdatedAt = q.nowFunc().UTC()
	if err := q.store.UpdateTask(ctx, task); err != nil {
		return eris.Wrap(err, "queue: ack task")
	}
	return nil
}

// Cancel marks the task cancelled without dead-lettering it. Used when the
// invoice was cancelled while the task waited.
func (q *Queue) Cancel(ctx context.Context, task *model.Task) error {
	task.Status = model.TaskCancelled
	task.UpdatedAt = q.nowFunc().UTC()
	if err := q.store.UpdateTask(ctx, task); err != nil {
		return eris.Wrap(err, "queue: cancel task")
	}
	zap.L().Info("queue: task cancelled",
		zap.String("task_id", task.ID),
		zap.String("invoice_id", task.InvoiceID),
	)
	return nil
}

// Nack records a failure. Transient failures with attempts left go back to
// queued with a backoff-scheduled eligibility time; everything else is
// dead-lettered.
func (q *Queue) Nack(ctx context.Context, task *model.Task, phase string, cause error) error {
	now := q.nowFunc().UTC()
	task.LastError = cause.Error()
	task.UpdatedAt = now

	if q.policy.ShouldRetry(task.Attempt, cause) {
		delay := q.policy.Backoff(task.Attempt)
		task.Status = model.TaskQueued
		task.NextEligibleAt = now.Add(delay)
		if err := q.store.UpdateTask(ctx, task); err != nil {
			return eris.Wrap(err, "queue: reschedule task")
		}
		zap.L().Warn("queue: task rescheduled",
			zap.String("task_id", task.ID),
			zap.String("invoice_id", task.InvoiceID),
			zap.String("phase", phase),
			zap.Int("attempt", task.Attempt),
			zap.Duration("delay", delay),
			zap.Error(cause),
		)
		return nil
	}

	task.Status = model.TaskDead
	if err := q.store.UpdateTask(ctx, task); err != nil {
		return eris.Wrap(err, "queue: mark task dead")
	}

	entry := &resilience.DLQEntry{
		ID:           uuid.New().String(),
		TaskID:       task.ID,
		TaskKind:     string(task.Kind),
		InvoiceID:    task.InvoiceID,
		Error:        cause.Error(),
		ErrorType:    resilience.ClassifyError(cause),
		FailedPhase:  phase,
		Trace:        eris.ToString(cause, true),
		RetryCount:   task.Attempt,
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := q.store.InsertDLQEntry(ctx, entry); err != nil {
		return eris.Wrap(err, "queue: insert dlq entry")
	}

	zap.L().Error("queue: task dead-lettered",
		zap.String("task_id", task.ID),
		zap.String("invoice_id", task.InvoiceID),
		zap.String("phase", phase),
		zap.String("error_type", entry.ErrorType),
		zap.Int("attempts", task.Attempt),
		zap.Error(cause),
	)
	return nil
}
