package app

import (
	"github.com/gin-gonic/gin"

	"github.com/slidesmith/slidesmith-backend/internal/server"
)

func wireRouter(cfg Config, handlers Handlers, mw Middleware) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		CORSOrigins:        cfg.CORSOrigins,
		IdentityMiddleware: mw.Identity,
		DeckHandler:        handlers.Deck,
		SlideHandler:       handlers.Slide,
		EventsHandler:      handlers.Events,
		SSEHandler:         handlers.SSE,
		JobsHandler:        handlers.Jobs,
		AdminHandler:       handlers.Admin,
	})
}
