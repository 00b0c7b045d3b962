package app

import (
	"github.com/slidesmith/slidesmith-backend/internal/handlers"
	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/sse"
)

type Handlers struct {
	Deck   *handlers.DeckHandler
	Slide  *handlers.SlideHandler
	Events *handlers.EventsHandler
	SSE    *handlers.SSEHandler
	Jobs   *handlers.JobsHandler
	Admin  *handlers.AdminHandler
}

func wireHandlers(log *logger.Logger, services Services, hub *sse.Hub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Deck:   handlers.NewDeckHandler(services.DeckState, services.Jobs),
		Slide:  handlers.NewSlideHandler(services.Slides, services.Versions),
		Events: handlers.NewEventsHandler(services.Events),
		SSE:    handlers.NewSSEHandler(hub, services.Events),
		Jobs:   handlers.NewJobsHandler(services.Jobs),
		Admin:  handlers.NewAdminHandler(hub),
	}
}
