package handlers

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

type replayCall struct {
	since int64
	limit int
}

// fakeEventService serves a seeded in-memory log and records every replay
// query so tests can observe paging.
type fakeEventService struct {
	mu     sync.Mutex
	events []*types.DeckEvent
	calls  []replayCall
}

func (f *fakeEventService) seed(deckID uuid.UUID, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for v := 1; v <= n; v++ {
		f.events = append(f.events, &types.DeckEvent{
			ID:        uuid.New(),
			DeckID:    deckID,
			Type:      types.EventSlideCompleted,
			Version:   int64(v),
			Data:      datatypes.JSON(`{}`),
			CreatedAt: time.Now().UTC(),
		})
	}
}

func (f *fakeEventService) ReplaySince(ctx context.Context, deckID uuid.UUID, sinceVersion int64, limit int) ([]*types.DeckEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, replayCall{since: sinceVersion, limit: limit})
	if limit <= 0 {
		limit = 100
	}
	var out []*types.DeckEvent
	for _, ev := range f.events {
		if ev.DeckID != deckID || ev.Version <= sinceVersion {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeEventService) LatestVersion(ctx context.Context, deckID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest int64
	for _, ev := range f.events {
		if ev.DeckID == deckID && ev.Version > latest {
			latest = ev.Version
		}
	}
	return latest, nil
}

func (f *fakeEventService) replayCalls() []replayCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]replayCall{}, f.calls...)
}

// flushRecorder is a flush-capable ResponseWriter safe to read while the
// stream goroutine writes.
type flushRecorder struct {
	mu     sync.Mutex
	header http.Header
	body   []byte
	status int
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{header: make(http.Header), status: http.StatusOK}
}

func (r *flushRecorder) Header() http.Header { return r.header }

func (r *flushRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.body = append(r.body, p...)
	return len(p), nil
}

func (r *flushRecorder) WriteHeader(statusCode int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = statusCode
}

func (r *flushRecorder) Flush() {}

func (r *flushRecorder) snapshot() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.body)
}
