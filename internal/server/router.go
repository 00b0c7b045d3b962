package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/slidesmith/slidesmith-backend/internal/handlers"
	"github.com/slidesmith/slidesmith-backend/internal/middleware"
)

type RouterConfig struct {
	CORSOrigins []string

	IdentityMiddleware *middleware.IdentityMiddleware

	DeckHandler   *handlers.DeckHandler
	SlideHandler  *handlers.SlideHandler
	EventsHandler *handlers.EventsHandler
	SSEHandler    *handlers.SSEHandler
	JobsHandler   *handlers.JobsHandler
	AdminHandler  *handlers.AdminHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-User-ID"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)

	// ===============
	// || Protected ||
	// ===============
	protected := router.Group("/")
	protected.Use(cfg.IdentityMiddleware.RequireUser())

	// SSE
	protected.GET("/sse/stream", cfg.SSEHandler.Stream)

	api := protected.Group("/api")
	{
		// Decks
		api.POST("/decks", cfg.DeckHandler.CreateDeck)
		api.GET("/decks", cfg.DeckHandler.ListDecks)
		api.GET("/decks/:id", cfg.DeckHandler.GetDeck)
		api.POST("/decks/:id/cancel", cfg.DeckHandler.CancelDeck)

		// Events
		api.GET("/decks/:id/events", cfg.EventsHandler.ListEvents)

		// Slides
		api.GET("/decks/:id/slides", cfg.SlideHandler.ListSlides)
		api.POST("/decks/:id/slides", cfg.SlideHandler.InsertSlide)
		api.PUT("/decks/:id/slides/order", cfg.SlideHandler.ReorderSlides)
		api.PATCH("/decks/:id/slides/:slide_id", cfg.SlideHandler.EditSlide)
		api.DELETE("/decks/:id/slides/:slide_id", cfg.SlideHandler.DeleteSlide)
		api.PUT("/decks/:id/slides/:slide_id/template", cfg.SlideHandler.ChangeTemplate)
		api.GET("/decks/:id/slides/:slide_id/versions", cfg.SlideHandler.SlideHistory)
		api.POST("/decks/:id/slides/:slide_id/rollback", cfg.SlideHandler.RollbackSlide)

		// Jobs
		api.GET("/jobs/:id", cfg.JobsHandler.GetJobByID)
		api.GET("/decks/:id/jobs", cfg.JobsHandler.ListDeckJobs)
	}

	admin := protected.Group("/admin")
	{
		admin.GET("/sse/connections", cfg.AdminHandler.Connections)
		admin.POST("/sse/broadcast", cfg.AdminHandler.Broadcast)
	}

	return router
}
