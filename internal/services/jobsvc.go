package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slidesmith/slidesmith-backend/internal/apierr"
	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/repos"
	"github.com/slidesmith/slidesmith-backend/internal/types"
)

// JobService enqueues pipeline work. A row in job_run is the unit of work;
// workers claim rows with SKIP LOCKED, so enqueue is a plain insert and the
// caller never blocks on a worker.
type JobService interface {
	EnqueuePlan(ctx context.Context, userID, deckID uuid.UUID, templateHints []string) (*types.JobRun, error)
	EnqueueSlideContent(ctx context.Context, userID, deckID, slideID uuid.UUID) (*types.JobRun, error)
	EnqueueFinalize(ctx context.Context, userID, deckID uuid.UUID) (*types.JobRun, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.JobRun, error)
	ListByDeck(ctx context.Context, deckID uuid.UUID) ([]*types.JobRun, error)
}

type jobService struct {
	jobs   repos.JobRunRepo
	notify JobNotifier
	log    *logger.Logger
}

func NewJobService(jobs repos.JobRunRepo, notify JobNotifier, baseLog *logger.Logger) JobService {
	return &jobService{
		jobs:   jobs,
		notify: notify,
		log:    baseLog.With("service", "JobService"),
	}
}

func (s *jobService) enqueue(ctx context.Context, jobType string, userID, deckID uuid.UUID, slideID *uuid.UUID, payload map[string]any) (*types.JobRun, error) {
	if deckID == uuid.Nil {
		return nil, apierr.NewValidation("deck_id", "required")
	}
	payload["deck_id"] = deckID
	payload["user_id"] = userID
	if slideID != nil {
		payload["slide_id"] = *slideID
	}

	now := time.Now().UTC()
	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: userID,
		JobType:     jobType,
		DeckID:      deckID,
		SlideID:     slideID,
		Status:      types.JobStatusQueued,
		Stage:       "queued",
		Payload:     mustJSON(payload),
		NextRunAt:   &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.jobs.Create(ctx, nil, job); err != nil {
		return nil, err
	}

	if s.notify != nil {
		s.notify.JobCreated(userID, job)
	}
	s.log.Info("Job enqueued", "job_id", job.ID, "job_type", jobType, "deck_id", deckID)
	return job, nil
}

func (s *jobService) EnqueuePlan(ctx context.Context, userID, deckID uuid.UUID, templateHints []string) (*types.JobRun, error) {
	payload := map[string]any{}
	// The planner honors a single family override; the first hint wins.
	for _, hint := range templateHints {
		if hint = strings.TrimSpace(hint); hint != "" {
			payload["template_family"] = hint
			break
		}
	}
	return s.enqueue(ctx, types.JobTypeDeckPlan, userID, deckID, nil, payload)
}

func (s *jobService) EnqueueSlideContent(ctx context.Context, userID, deckID, slideID uuid.UUID) (*types.JobRun, error) {
	if slideID == uuid.Nil {
		return nil, apierr.NewValidation("slide_id", "required")
	}
	return s.enqueue(ctx, types.JobTypeSlideContent, userID, deckID, &slideID, map[string]any{})
}

func (s *jobService) EnqueueFinalize(ctx context.Context, userID, deckID uuid.UUID) (*types.JobRun, error) {
	return s.enqueue(ctx, types.JobTypeDeckFinalize, userID, deckID, nil, map[string]any{})
}

func (s *jobService) GetByID(ctx context.Context, id uuid.UUID) (*types.JobRun, error) {
	job, err := s.jobs.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apierr.NewNotFound("job_run", id.String())
	}
	return job, nil
}

func (s *jobService) ListByDeck(ctx context.Context, deckID uuid.UUID) ([]*types.JobRun, error) {
	return s.jobs.ListByDeck(ctx, nil, deckID)
}
