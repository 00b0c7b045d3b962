package app

import (
	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/middleware"
)

type Middleware struct {
	Identity *middleware.IdentityMiddleware
}

func wireMiddleware(log *logger.Logger) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Identity: middleware.NewIdentityMiddleware(log),
	}
}
