package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
	"github.com/kosh-hq/invoice-pipeline/internal/resilience"
)

// memTaskStore is an in-memory TaskStore with the same claim semantics the
// SQL stores implement.
type memTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*model.Task
	dlq   []*resilience.DLQEntry
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: make(map[string]*model.Task)}
}

func (m *memTaskStore) InsertTask(_ context.Context, task *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *memTaskStore) ClaimNextTask(_ context.Context, now time.Time, claimTTL time.Duration) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *model.Task
	for _, t := range m.tasks {
		eligible := (t.Status == model.TaskQueued && !t.NextEligibleAt.After(now)) ||
			(t.Status == model.TaskClaimed && now.Sub(t.ClaimedAt) > claimTTL)
		if !eligible {
			continue
		}
		if oldest == nil || t.CreatedAt.Before(oldest.CreatedAt) {
			oldest = t
		}
	}
	if oldest == nil {
		return nil, nil
	}
	// Atomic claim, same as the SQL stores: the row is marked before it is
	// handed out so no second worker can take it.
	oldest.Status = model.TaskClaimed
	oldest.ClaimedAt = now
	cp := *oldest
	return &cp, nil
}

func (m *memTaskStore) UpdateTask(_ context.Context, task *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *memTaskStore) FindActiveTask(_ context.Context, invoiceID string, kind model.TaskKind) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.InvoiceID == invoiceID && t.Kind == kind &&
			(t.Status == model.TaskQueued || t.Status == model.TaskClaimed) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memTaskStore) InsertDLQEntry(_ context.Context, entry *resilience.DLQEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlq = append(m.dlq, entry)
	return nil
}

func (m *memTaskStore) get(id string) *model.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id]
}

func transientErr(msg string) error {
	return resilience.NewTransientError(errors.New(msg), 503)
}

func TestEnqueueIsIdempotentWhileActive(t *testing.T) {
	store := newMemTaskStore()
	q := New(store, resilience.DefaultRetryPolicy())

	t1, err := q.Enqueue(context.Background(), "inv-1", model.TaskKindOCR)
	require.NoError(t, err)
	t2, err := q.Enqueue(context.Background(), "inv-1", model.TaskKindOCR)
	require.NoError(t, err)
	assert.Equal(t, t1.ID, t2.ID)

	// After the task is done a new enqueue creates a fresh task.
	require.NoError(t, q.Ack(context.Background(), t1))
	t3, err := q.Enqueue(context.Background(), "inv-1", model.TaskKindOCR)
	require.NoError(t, err)
	assert.NotEqual(t, t1.ID, t3.ID)
}

func TestClaimIncrementsAttempt(t *testing.T) {
	store := newMemTaskStore()
	q := New(store, resilience.DefaultRetryPolicy())

	enq, err := q.Enqueue(context.Background(), "inv-1", model.TaskKindOCR)
	require.NoError(t, err)

	claimed, err := q.Claim(context.Background())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, enq.ID, claimed.ID)
	assert.Equal(t, 1, claimed.Attempt)
	assert.Equal(t, model.TaskClaimed, claimed.Status)

	// Claimed task is invisible to the next claim.
	next, err := q.Claim(context.Background())
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestNackTransientReschedulesWithBackoff(t *testing.T) {
	store := newMemTaskStore()
	q := New(store, resilience.DefaultRetryPolicy())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.nowFunc = func() time.Time { return now }

	_, err := q.Enqueue(context.Background(), "inv-1", model.TaskKindOCR)
	require.NoError(t, err)
	task, err := q.Claim(context.Background())
	require.NoError(t, err)

	require.NoError(t, q.Nack(context.Background(), task, "ocr", transientErr("503")))

	stored := store.get(task.ID)
	assert.Equal(t, model.TaskQueued, stored.Status)
	assert.Contains(t, stored.LastError, "503")
	// First retry: 30s ± 25% jitter.
	delay := stored.NextEligibleAt.Sub(now)
	assert.GreaterOrEqual(t, delay, 22*time.Second)
	assert.LessOrEqual(t, delay, 38*time.Second)
	assert.Empty(t, store.dlq)

	// Not claimable until eligible.
	got, err := q.Claim(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)

	now = now.Add(time.Minute)
	got, err = q.Claim(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Attempt)
}

func TestNackPermanentDeadLettersImmediately(t *testing.T) {
	store := newMemTaskStore()
	q := New(store, resilience.DefaultRetryPolicy())

	_, err := q.Enqueue(context.Background(), "inv-1", model.TaskKindOCR)
	require.NoError(t, err)
	task, err := q.Claim(context.Background())
	require.NoError(t, err)

	require.NoError(t, q.Nack(context.Background(), task, "ocr", errors.New("unsupported media type")))

	assert.Equal(t, model.TaskDead, store.get(task.ID).Status)
	require.Len(t, store.dlq, 1)
	assert.Equal(t, "permanent", store.dlq[0].ErrorType)
	assert.Equal(t, "ocr", store.dlq[0].FailedPhase)
	assert.Equal(t, 1, store.dlq[0].RetryCount)
}

func TestNackExhaustedAttemptsDeadLetters(t *testing.T) {
	store := newMemTaskStore()
	policy := resilience.DefaultRetryPolicy()
	q := New(store, policy)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.nowFunc = func() time.Time { return now }

	_, err := q.Enqueue(context.Background(), "inv-1", model.TaskKindOCR)
	require.NoError(t, err)

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		now = now.Add(15 * time.Minute)
		task, err := q.Claim(context.Background())
		require.NoError(t, err)
		require.NotNil(t, task, "attempt %d", attempt)
		assert.Equal(t, attempt, task.Attempt)
		require.NoError(t, q.Nack(context.Background(), task, "ocr", transientErr("timeout")))
	}

	require.Len(t, store.dlq, 1)
	assert.Equal(t, "transient", store.dlq[0].ErrorType)
	assert.Equal(t, policy.MaxAttempts, store.dlq[0].RetryCount)

	now = now.Add(time.Hour)
	task, err := q.Claim(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestExpiredClaimIsReclaimable(t *testing.T) {
	store := newMemTaskStore()
	q := New(store, resilience.DefaultRetryPolicy())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.nowFunc = func() time.Time { return now }

	_, err := q.Enqueue(context.Background(), "inv-1", model.TaskKindOCR)
	require.NoError(t, err)
	first, err := q.Claim(context.Background())
	require.NoError(t, err)
	require.NotNil(t, first)

	// Simulated worker crash: no ack, TTL elapses.
	now = now.Add(DefaultClaimTTL + time.Minute)
	second, err := q.Claim(context.Background())
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Attempt)
}

func TestPoolProcessesAndAcks(t *testing.T) {
	store := newMemTaskStore()
	q := New(store, resilience.DefaultRetryPolicy())

	enq, err := q.Enqueue(context.Background(), "inv-1", model.TaskKindOCR)
	require.NoError(t, err)

	done := make(chan string, 1)
	pool := NewPool(q, func(_ context.Context, task *model.Task) error {
		done <- task.InvoiceID
		return nil
	}, PoolOptions{Workers: 2, PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- pool.Run(ctx) }()

	select {
	case id := <-done:
		assert.Equal(t, "inv-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not processed")
	}

	assert.Eventually(t, func() bool {
		return store.get(enq.ID).Status == model.TaskDone
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
}

func TestPoolCancelledTaskIsRetiredQuietly(t *testing.T) {
	store := newMemTaskStore()
	q := New(store, resilience.DefaultRetryPolicy())

	enq, err := q.Enqueue(context.Background(), "inv-1", model.TaskKindOCR)
	require.NoError(t, err)

	pool := NewPool(q, func(_ context.Context, _ *model.Task) error {
		return ErrCancelled
	}, PoolOptions{Workers: 1, PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- pool.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return store.get(enq.ID).Status == model.TaskCancelled
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, store.dlq)

	cancel()
	require.NoError(t, <-errCh)
}
