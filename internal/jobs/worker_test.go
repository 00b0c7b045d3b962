package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/slidesmith/slidesmith-backend/internal/jobs/runtime"
	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/services"
	"github.com/slidesmith/slidesmith-backend/internal/types"
)

type memQueue struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*types.JobRun
}

func newMemQueue() *memQueue {
	return &memQueue{jobs: map[uuid.UUID]*types.JobRun{}}
}

func (q *memQueue) add(job *types.JobRun) *types.JobRun {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	q.jobs[job.ID] = job
	return job
}

func (q *memQueue) Create(ctx context.Context, tx *gorm.DB, job *types.JobRun) (*types.JobRun, error) {
	return q.add(job), nil
}

func (q *memQueue) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.JobRun, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (q *memQueue) ListByDeck(ctx context.Context, tx *gorm.DB, deckID uuid.UUID) ([]*types.JobRun, error) {
	return nil, nil
}

func (q *memQueue) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, staleRunning time.Duration) (*types.JobRun, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now().UTC()
	for _, j := range q.jobs {
		due := j.NextRunAt == nil || !j.NextRunAt.After(now)
		runnable := (j.Status == types.JobStatusQueued && due) ||
			(j.Status == types.JobStatusFailed && j.Attempts < maxAttempts && due)
		if !runnable {
			continue
		}
		j.Status = types.JobStatusRunning
		j.Attempts++
		j.LockedAt = &now
		j.HeartbeatAt = &now
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func (q *memQueue) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	applyQueueFields(j, updates)
	return nil
}

func (q *memQueue) UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, excluded []string, updates map[string]interface{}) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return false, errors.New("job not found")
	}
	for _, st := range excluded {
		if j.Status == st {
			return false, nil
		}
	}
	applyQueueFields(j, updates)
	return true, nil
}

func (q *memQueue) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	now := time.Now().UTC()
	return q.UpdateFields(ctx, tx, id, map[string]interface{}{"heartbeat_at": now})
}

func (q *memQueue) CancelByDeck(ctx context.Context, tx *gorm.DB, deckID uuid.UUID) error {
	return nil
}

func applyQueueFields(j *types.JobRun, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			j.Status = v.(string)
		case "stage":
			j.Stage = v.(string)
		case "progress":
			j.Progress = v.(int)
		case "error":
			j.Error = v.(string)
		case "next_run_at":
			ts := v.(time.Time)
			j.NextRunAt = &ts
		case "heartbeat_at":
			ts := v.(time.Time)
			j.HeartbeatAt = &ts
		case "locked_at":
			if ts, ok := v.(time.Time); ok {
				j.LockedAt = &ts
			} else {
				j.LockedAt = nil
			}
		}
	}
}

type funcHandler struct {
	typ string
	fn  func(jc *runtime.Context) error
}

func (h funcHandler) Type() string                  { return h.typ }
func (h funcHandler) Run(jc *runtime.Context) error { return h.fn(jc) }

func workerLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lg, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return lg
}

func newTestWorker(t *testing.T, q *memQueue, reg *runtime.Registry) *Worker {
	t.Helper()
	return NewWorker(workerLogger(t), q, reg, nil, services.NewMemoryCancelRegistry(), WorkerOptions{
		Concurrency:  2,
		PollInterval: 5 * time.Millisecond,
	})
}

func waitForStatus(t *testing.T, q *memQueue, id uuid.UUID, want string) *types.JobRun {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		j, err := q.GetByID(context.Background(), nil, id)
		require.NoError(t, err)
		if j != nil && j.Status == want {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", id, want)
	return nil
}

func TestWorkerRunsQueuedJob(t *testing.T) {
	q := newMemQueue()
	reg := runtime.NewRegistry()
	require.NoError(t, reg.Register(funcHandler{typ: "noop", fn: func(jc *runtime.Context) error {
		jc.Succeed("done", nil)
		return nil
	}}))
	job := q.add(&types.JobRun{JobType: "noop", DeckID: uuid.New(), Status: types.JobStatusQueued})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	newTestWorker(t, q, reg).Start(ctx)

	done := waitForStatus(t, q, job.ID, types.JobStatusSucceeded)
	require.Equal(t, 1, done.Attempts)
	require.Equal(t, "done", done.Stage)
}

func TestWorkerFailsJobWithNoHandler(t *testing.T) {
	q := newMemQueue()
	job := q.add(&types.JobRun{JobType: "ghost", DeckID: uuid.New(), Status: types.JobStatusQueued})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	newTestWorker(t, q, runtime.NewRegistry()).Start(ctx)

	failed := waitForStatus(t, q, job.ID, types.JobStatusFailed)
	require.Equal(t, "dispatch", failed.Stage)
	require.Contains(t, failed.Error, "ghost")
}

func TestWorkerRecoversHandlerPanic(t *testing.T) {
	q := newMemQueue()
	reg := runtime.NewRegistry()
	require.NoError(t, reg.Register(funcHandler{typ: "boom", fn: func(jc *runtime.Context) error {
		panic("kaboom")
	}}))
	job := q.add(&types.JobRun{JobType: "boom", DeckID: uuid.New(), Status: types.JobStatusQueued})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	newTestWorker(t, q, reg).Start(ctx)

	failed := waitForStatus(t, q, job.ID, types.JobStatusFailed)
	require.Equal(t, "panic", failed.Stage)
	require.Contains(t, failed.Error, "kaboom")
}

func TestWorkerSafetyNetOnReturnedError(t *testing.T) {
	q := newMemQueue()
	reg := runtime.NewRegistry()
	require.NoError(t, reg.Register(funcHandler{typ: "leaky", fn: func(jc *runtime.Context) error {
		return errors.New("unreported failure")
	}}))
	job := q.add(&types.JobRun{JobType: "leaky", DeckID: uuid.New(), Status: types.JobStatusQueued})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	newTestWorker(t, q, reg).Start(ctx)

	failed := waitForStatus(t, q, job.ID, types.JobStatusFailed)
	require.Equal(t, "run", failed.Stage)
}

func TestWorkerSkipsCanceledJob(t *testing.T) {
	q := newMemQueue()
	reg := runtime.NewRegistry()
	ran := make(chan struct{}, 1)
	require.NoError(t, reg.Register(funcHandler{typ: "guarded", fn: func(jc *runtime.Context) error {
		ran <- struct{}{}
		jc.Succeed("done", nil)
		return nil
	}}))

	deckID := uuid.New()
	cancels := services.NewMemoryCancelRegistry()
	require.NoError(t, cancels.RequestCancel(context.Background(), deckID))
	job := q.add(&types.JobRun{JobType: "guarded", DeckID: deckID, Status: types.JobStatusQueued})

	w := NewWorker(workerLogger(t), q, reg, nil, cancels, WorkerOptions{
		Concurrency:  1,
		PollInterval: 5 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	canceled := waitForStatus(t, q, job.ID, types.JobStatusCanceled)
	require.Equal(t, "dispatch", canceled.Stage)
	select {
	case <-ran:
		t.Fatal("handler ran for a canceled job")
	default:
	}
}

func TestWorkerRetriesAfterBackoffWindow(t *testing.T) {
	q := newMemQueue()
	reg := runtime.NewRegistry()
	var mu sync.Mutex
	runs := 0
	require.NoError(t, reg.Register(funcHandler{typ: "flaky", fn: func(jc *runtime.Context) error {
		mu.Lock()
		runs++
		n := runs
		mu.Unlock()
		if n == 1 {
			jc.Fail("work", errors.New("transient"))
			return nil
		}
		jc.Succeed("done", nil)
		return nil
	}}))
	job := q.add(&types.JobRun{JobType: "flaky", DeckID: uuid.New(), Status: types.JobStatusQueued})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	newTestWorker(t, q, reg).Start(ctx)

	failed := waitForStatus(t, q, job.ID, types.JobStatusFailed)
	require.NotNil(t, failed.NextRunAt)

	// Pull the retry forward instead of waiting out the real backoff.
	past := time.Now().UTC().Add(-time.Second)
	require.NoError(t, q.UpdateFields(context.Background(), nil, job.ID, map[string]interface{}{
		"next_run_at": past,
	}))

	done := waitForStatus(t, q, job.ID, types.JobStatusSucceeded)
	require.Equal(t, 2, done.Attempts)
}
