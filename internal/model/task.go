package model

import "time"

// TaskStatus is the queue-level state of a background task, distinct from
// the invoice lifecycle it drives.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskClaimed   TaskStatus = "claimed"
	TaskDone      TaskStatus = "done"
	TaskDead      TaskStatus = "dead"
	TaskCancelled TaskStatus = "cancelled"
)

// TaskKind identifies what a queued task does.
type TaskKind string

const (
	TaskKindOCR TaskKind = "ocr"
)

// Task is one durable unit of background work. The attempt counter and
// NextEligibleAt are persisted with the task so retry behavior is
// inspectable without relying on queue internals. A task is acknowledged
// (marked done) only after its state transition is durably persisted; a
// worker crash leaves the claim to expire and the task to be re-claimed.
type Task struct {
	ID             string     `json:"id"`
	Kind           TaskKind   `json:"kind"`
	InvoiceID      string     `json:"invoice_id"`
	Status         TaskStatus `json:"status"`
	Attempt        int        `json:"attempt"`
	MaxAttempts    int        `json:"max_attempts"`
	NextEligibleAt time.Time  `json:"next_eligible_at"`
	ClaimedAt      time.Time  `json:"claimed_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// AttemptsLeft reports whether the task may still be retried.
func (t *Task) AttemptsLeft() bool {
	return t.Attempt < t.MaxAttempts
}
