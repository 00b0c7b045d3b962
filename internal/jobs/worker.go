package jobs

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/slidesmith/slidesmith-backend/internal/jobs/runtime"
	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/repos"
	"github.com/slidesmith/slidesmith-backend/internal/services"
	"github.com/slidesmith/slidesmith-backend/internal/types"
)

// Worker polls job_run for claimable rows and dispatches them to registered
// handlers. A weighted semaphore bounds the number of in-flight runs; the poll
// loop blocks on a slot before claiming so a busy pool never strands a
// claimed-but-unstarted row.
type Worker struct {
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *runtime.Registry
	notify   services.JobNotifier
	cancels  services.CancelRegistry

	concurrency  int64
	pollInterval time.Duration
	staleRunning time.Duration
}

type WorkerOptions struct {
	Concurrency  int
	PollInterval time.Duration
	StaleRunning time.Duration
}

func NewWorker(
	baseLog *logger.Logger,
	repo repos.JobRunRepo,
	registry *runtime.Registry,
	notify services.JobNotifier,
	cancels services.CancelRegistry,
	opts WorkerOptions,
) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.StaleRunning <= 0 {
		opts.StaleRunning = 10 * time.Minute
	}
	return &Worker{
		log:          baseLog.With("component", "JobWorker"),
		repo:         repo,
		registry:     registry,
		notify:       notify,
		cancels:      cancels,
		concurrency:  int64(opts.Concurrency),
		pollInterval: opts.PollInterval,
		staleRunning: opts.StaleRunning,
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting job worker pool", "concurrency", w.concurrency)
	go w.runLoop(ctx)
}

func (w *Worker) runLoop(ctx context.Context) {
	sem := semaphore.NewWeighted(w.concurrency)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped")
			return
		case <-ticker.C:
		}

		// Drain everything currently runnable before sleeping again.
		for {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			job, err := w.repo.ClaimNextRunnable(ctx, nil, runtime.MaxAttempts, w.staleRunning)
			if err != nil {
				sem.Release(1)
				w.log.Warn("ClaimNextRunnable failed", "error", err)
				break
			}
			if job == nil {
				sem.Release(1)
				break
			}
			go func(job *types.JobRun) {
				defer sem.Release(1)
				w.dispatch(ctx, job)
			}(job)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, job *types.JobRun) {
	jc := runtime.NewContext(ctx, job, w.repo, w.notify, w.cancels)

	if jc.Canceled() {
		jc.MarkCanceled("dispatch")
		return
	}

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		w.log.Warn("No handler registered for job_type", "job_type", job.JobType, "job_id", job.ID)
		jc.Fail("dispatch", &missingHandlerError{JobType: job.JobType})
		return
	}

	hb := w.startHeartbeat(ctx, job)
	defer hb()

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Job handler panic", "job_id", job.ID, "job_type", job.JobType, "panic", r)
			jc.Fail("panic", fmt.Errorf("panic: %v", r))
		}
	}()

	if runErr := h.Run(jc); runErr != nil {
		// Most pipelines call jc.Fail themselves; this is a safety net.
		jc.Fail("run", runErr)
	}
}

// startHeartbeat keeps heartbeat_at fresh while a handler runs so the stale
// reclaim window in the claim query never steals a live run.
func (w *Worker) startHeartbeat(ctx context.Context, job *types.JobRun) func() {
	hctx, cancel := context.WithCancel(ctx)
	go func() {
		interval := w.staleRunning / 3
		if interval < 10*time.Second {
			interval = 10 * time.Second
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-t.C:
				if err := w.repo.Heartbeat(hctx, nil, job.ID); err != nil {
					w.log.Warn("Heartbeat failed", "job_id", job.ID, "error", err)
				}
			}
		}
	}()
	return cancel
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string {
	return "no handler registered for job_type=" + e.JobType
}
