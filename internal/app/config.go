package app

import (
	"strings"
	"time"

	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/utils"
)

type Config struct {
	Port        string
	CORSOrigins []string

	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string

	RedisAddr  string
	SSEChannel string

	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	WorkerStaleWindow  time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	origins := utils.GetEnv("CORS_ORIGINS", "", log)
	var originList []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			originList = append(originList, o)
		}
	}

	return Config{
		Port:        utils.GetEnv("PORT", "8080", log),
		CORSOrigins: originList,

		OpenAIBaseURL: utils.GetEnv("OPENAI_BASE_URL", "https://api.openai.com/v1", log),
		OpenAIAPIKey:  utils.GetEnv("OPENAI_API_KEY", "", log),
		OpenAIModel:   utils.GetEnv("OPENAI_MODEL", "gpt-4o-mini", log),

		RedisAddr:  utils.GetEnv("REDIS_ADDR", "", log),
		SSEChannel: utils.GetEnv("SSE_CHANNEL", "slidesmith:events", log),

		WorkerConcurrency:  utils.GetEnvAsInt("WORKER_CONCURRENCY", 4, log),
		WorkerPollInterval: time.Duration(utils.GetEnvAsInt("WORKER_POLL_MS", 1000, log)) * time.Millisecond,
		WorkerStaleWindow:  time.Duration(utils.GetEnvAsInt("WORKER_STALE_SECONDS", 600, log)) * time.Second,
	}
}
