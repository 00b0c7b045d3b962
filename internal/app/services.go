package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/slidesmith/slidesmith-backend/internal/jobs"
	pipelines "github.com/slidesmith/slidesmith-backend/internal/jobs/pipeline"
	jobruntime "github.com/slidesmith/slidesmith-backend/internal/jobs/runtime"
	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/services"
	"github.com/slidesmith/slidesmith-backend/internal/sse"
)

type Services struct {
	TxRunner services.TxRunner
	Bus      services.SSEBus
	Emitter  services.Emitter
	Cancels  services.CancelRegistry

	DeckNotifier services.DeckNotifier
	JobNotifier  services.JobNotifier

	DeckState services.DeckStateService
	Events    services.EventService
	Slides    services.SlideService
	Versions  services.VersionService
	Jobs      services.JobService

	Generator services.ContentGenerator
	Templates services.TemplateSelector

	Registry  *jobruntime.Registry
	JobWorker *jobs.Worker
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r Repos, hub *sse.Hub) (Services, error) {
	log.Info("Wiring services...")

	runner := services.NewTxRunner(db)

	// With Redis configured, events fan out through pub/sub so every API
	// instance delivers to its own SSE clients. Without it, emit straight
	// into the local hub.
	var (
		emitter services.Emitter
		bus     services.SSEBus
		cancels services.CancelRegistry
	)
	if cfg.RedisAddr != "" {
		var err error
		bus, err = services.NewRedisSSEBus(log, cfg.RedisAddr, cfg.SSEChannel)
		if err != nil {
			return Services{}, fmt.Errorf("init redis sse bus: %w", err)
		}
		if err := bus.StartForwarder(context.Background(), func(m sse.Message) {
			hub.Broadcast(m)
		}); err != nil {
			return Services{}, fmt.Errorf("start sse forwarder: %w", err)
		}
		emitter = &services.RedisEmitter{Bus: bus}

		cancels, err = services.NewRedisCancelRegistry(cfg.RedisAddr)
		if err != nil {
			return Services{}, fmt.Errorf("init cancel registry: %w", err)
		}
	} else {
		emitter = &services.HubEmitter{Hub: hub}
		cancels = services.NewMemoryCancelRegistry()
	}

	deckNotifier := services.NewDeckNotifier(emitter)
	jobNotifier := services.NewJobNotifier(emitter)

	generator := services.NewOpenAIGenerator(log, services.GeneratorConfig{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
	})
	templates := services.NewTemplateSelector()

	deckState := services.NewDeckStateService(runner, r.Deck, r.Slide, r.DeckEvent, r.JobRun, cancels, deckNotifier, log)
	events := services.NewEventService(r.Deck, r.DeckEvent)
	versions := services.NewVersionService(runner, r.Deck, r.Slide, r.SlideVersion, r.DeckEvent, deckNotifier, log)
	jobSvc := services.NewJobService(r.JobRun, jobNotifier, log)
	slides := services.NewSlideService(runner, r.Deck, r.Slide, r.DeckEvent, versions, templates, jobSvc, deckNotifier, log)

	registry := jobruntime.NewRegistry()
	pipelineSet := []jobruntime.Handler{
		pipelines.NewDeckPlanPipeline(log, runner, deckState, r.Deck, r.Slide, r.DeckEvent, versions, generator, templates, jobSvc, deckNotifier),
		pipelines.NewSlideContentPipeline(log, runner, deckState, r.Deck, r.Slide, r.DeckEvent, versions, generator, templates, jobSvc, deckNotifier),
		pipelines.NewDeckFinalizePipeline(log, deckState, r.Deck, r.Slide),
	}
	for _, h := range pipelineSet {
		if err := registry.Register(h); err != nil {
			return Services{}, fmt.Errorf("register pipeline %s: %w", h.Type(), err)
		}
	}

	worker := jobs.NewWorker(log, r.JobRun, registry, jobNotifier, cancels, jobs.WorkerOptions{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
		StaleRunning: cfg.WorkerStaleWindow,
	})

	return Services{
		TxRunner:     runner,
		Bus:          bus,
		Emitter:      emitter,
		Cancels:      cancels,
		DeckNotifier: deckNotifier,
		JobNotifier:  jobNotifier,
		DeckState:    deckState,
		Events:       events,
		Slides:       slides,
		Versions:     versions,
		Jobs:         jobSvc,
		Generator:    generator,
		Templates:    templates,
		Registry:     registry,
		JobWorker:    worker,
	}, nil
}
