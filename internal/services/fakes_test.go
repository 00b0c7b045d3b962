package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/sse"
	"github.com/slidesmith/slidesmith-backend/internal/types"
)

// The fakes run service logic against in-memory state. The tx handle is nil
// throughout; the real repos treat nil as "use my own db", the fakes ignore
// it entirely.

// fakeTxRunner serializes transactions the way row locks do in Postgres, so
// concurrent callers observe each other's committed state.
type fakeTxRunner struct {
	mu sync.Mutex
}

func (r *fakeTxRunner) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(nil)
}

func mustTestLogger() *logger.Logger {
	lg, err := logger.New("development")
	if err != nil {
		panic(err)
	}
	return lg
}

type fakeDeckRepo struct {
	mu    sync.Mutex
	decks map[uuid.UUID]*types.Deck
}

func newFakeDeckRepo() *fakeDeckRepo {
	return &fakeDeckRepo{decks: map[uuid.UUID]*types.Deck{}}
}

func (r *fakeDeckRepo) Create(ctx context.Context, tx *gorm.DB, deck *types.Deck) (*types.Deck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if deck.ID == uuid.Nil {
		deck.ID = uuid.New()
	}
	r.decks[deck.ID] = deck
	return deck, nil
}

func (r *fakeDeckRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Deck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decks[id], nil
}

func (r *fakeDeckRepo) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Deck, error) {
	return r.GetByID(ctx, tx, id)
}

func (r *fakeDeckRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Deck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Deck
	for _, d := range r.decks {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeDeckRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.decks[id]
	if d == nil {
		return gorm.ErrRecordNotFound
	}
	for k, v := range updates {
		switch k {
		case "status":
			switch s := v.(type) {
			case types.DeckStatus:
				d.Status = s
			case string:
				d.Status = types.DeckStatus(s)
			}
		case "slide_count":
			if n, ok := v.(int); ok {
				d.SlideCount = n
			}
		case "template_family":
			if s, ok := v.(string); ok {
				d.TemplateFamily = &s
			}
		case "completed_at":
			switch ts := v.(type) {
			case time.Time:
				d.CompletedAt = &ts
			case nil:
				d.CompletedAt = nil
			}
		}
	}
	d.UpdatedAt = time.Now().UTC()
	return nil
}

type fakeSlideRepo struct {
	mu     sync.Mutex
	slides map[uuid.UUID]*types.Slide
}

func newFakeSlideRepo() *fakeSlideRepo {
	return &fakeSlideRepo{slides: map[uuid.UUID]*types.Slide{}}
}

func (r *fakeSlideRepo) Create(ctx context.Context, tx *gorm.DB, slide *types.Slide) (*types.Slide, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slide.ID == uuid.Nil {
		slide.ID = uuid.New()
	}
	r.slides[slide.ID] = slide
	return slide, nil
}

func (r *fakeSlideRepo) CreateBatch(ctx context.Context, tx *gorm.DB, slides []*types.Slide) ([]*types.Slide, error) {
	for _, s := range slides {
		if _, err := r.Create(ctx, tx, s); err != nil {
			return nil, err
		}
	}
	return slides, nil
}

func (r *fakeSlideRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Slide, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slides[id], nil
}

func (r *fakeSlideRepo) ListByDeck(ctx context.Context, tx *gorm.DB, deckID uuid.UUID) ([]*types.Slide, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Slide
	for _, s := range r.slides {
		if s.DeckID == deckID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (r *fakeSlideRepo) IncompleteCount(ctx context.Context, tx *gorm.DB, deckID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.slides {
		if s.DeckID == deckID && !s.Complete() {
			n++
		}
	}
	return n, nil
}

func (r *fakeSlideRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slides[id]
	if s == nil {
		return gorm.ErrRecordNotFound
	}
	for k, v := range updates {
		switch k {
		case "title":
			if t, ok := v.(string); ok {
				s.Title = t
			}
		case "content_outline":
			if t, ok := v.(string); ok {
				s.ContentOutline = t
			}
		case "html_content":
			switch h := v.(type) {
			case string:
				s.HTMLContent = &h
			case *string:
				s.HTMLContent = h
			case nil:
				s.HTMLContent = nil
			}
		case "presenter_notes":
			if t, ok := v.(string); ok {
				s.PresenterNotes = t
			}
		case "template_filename":
			if t, ok := v.(string); ok {
				s.TemplateFilename = t
			}
		case "slide_order":
			if n, ok := v.(int); ok {
				s.Order = n
			}
		case "current_version":
			if n, ok := v.(int); ok {
				s.CurrentVersion = n
			}
		}
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeSlideRepo) ShiftOrders(ctx context.Context, tx *gorm.DB, deckID uuid.UUID, fromOrder int, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slides {
		if s.DeckID == deckID && s.Order >= fromOrder {
			s.Order += delta
		}
	}
	return nil
}

func (r *fakeSlideRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slides, id)
	return nil
}

type fakeEventRepo struct {
	mu     sync.Mutex
	events map[uuid.UUID][]*types.DeckEvent
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: map[uuid.UUID][]*types.DeckEvent{}}
}

func (r *fakeEventRepo) Append(ctx context.Context, tx *gorm.DB, event *types.DeckEvent) (*types.DeckEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.Version = int64(len(r.events[event.DeckID])) + 1
	r.events[event.DeckID] = append(r.events[event.DeckID], event)
	return event, nil
}

func (r *fakeEventRepo) ListSince(ctx context.Context, tx *gorm.DB, deckID uuid.UUID, sinceVersion int64, limit int) ([]*types.DeckEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.DeckEvent
	for _, ev := range r.events[deckID] {
		if ev.Version > sinceVersion {
			out = append(out, ev)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeEventRepo) LatestVersion(ctx context.Context, tx *gorm.DB, deckID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.events[deckID])), nil
}

func (r *fakeEventRepo) typesSeen(deckID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events[deckID] {
		out = append(out, string(ev.Type))
	}
	return out
}

type fakeVersionRepo struct {
	mu       sync.Mutex
	versions map[uuid.UUID][]*types.SlideVersion
}

func newFakeVersionRepo() *fakeVersionRepo {
	return &fakeVersionRepo{versions: map[uuid.UUID][]*types.SlideVersion{}}
}

func (r *fakeVersionRepo) Create(ctx context.Context, tx *gorm.DB, ver *types.SlideVersion) (*types.SlideVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ver.ID == uuid.Nil {
		ver.ID = uuid.New()
	}
	r.versions[ver.SlideID] = append(r.versions[ver.SlideID], ver)
	return ver, nil
}

func (r *fakeVersionRepo) GetBySlideAndNo(ctx context.Context, tx *gorm.DB, slideID uuid.UUID, versionNo int) (*types.SlideVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.versions[slideID] {
		if v.VersionNo == versionNo {
			return v, nil
		}
	}
	return nil, nil
}

func (r *fakeVersionRepo) ListBySlide(ctx context.Context, tx *gorm.DB, slideID uuid.UUID) ([]*types.SlideVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]*types.SlideVersion{}, r.versions[slideID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNo > out[j].VersionNo })
	return out, nil
}

type fakeJobRunRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*types.JobRun
}

func newFakeJobRunRepo() *fakeJobRunRepo {
	return &fakeJobRunRepo{jobs: map[uuid.UUID]*types.JobRun{}}
}

func (r *fakeJobRunRepo) Create(ctx context.Context, tx *gorm.DB, job *types.JobRun) (*types.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	r.jobs[job.ID] = job
	return job, nil
}

func (r *fakeJobRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id], nil
}

func (r *fakeJobRunRepo) ListByDeck(ctx context.Context, tx *gorm.DB, deckID uuid.UUID) ([]*types.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.JobRun
	for _, j := range r.jobs {
		if j.DeckID == deckID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeJobRunRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, staleRunning time.Duration) (*types.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var candidates []*types.JobRun
	for _, j := range r.jobs {
		due := j.NextRunAt == nil || !j.NextRunAt.After(now)
		switch j.Status {
		case types.JobStatusQueued:
			if due {
				candidates = append(candidates, j)
			}
		case types.JobStatusFailed:
			if due && j.Attempts < maxAttempts {
				candidates = append(candidates, j)
			}
		case types.JobStatusRunning:
			if j.HeartbeatAt != nil && now.Sub(*j.HeartbeatAt) > staleRunning {
				candidates = append(candidates, j)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	j := candidates[0]
	j.Status = types.JobStatusRunning
	j.Attempts++
	j.LockedAt = &now
	j.HeartbeatAt = &now
	j.UpdatedAt = now
	return j, nil
}

func (r *fakeJobRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	if j == nil {
		return gorm.ErrRecordNotFound
	}
	applyJobUpdates(j, updates)
	return nil
}

func (r *fakeJobRunRepo) UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, excluded []string, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	if j == nil {
		return false, nil
	}
	for _, ex := range excluded {
		if strings.EqualFold(j.Status, ex) {
			return false, nil
		}
	}
	applyJobUpdates(j, updates)
	return true, nil
}

func (r *fakeJobRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.UpdateFields(ctx, tx, id, map[string]interface{}{"heartbeat_at": now})
}

func (r *fakeJobRunRepo) CancelByDeck(ctx context.Context, tx *gorm.DB, deckID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.DeckID != deckID {
			continue
		}
		switch j.Status {
		case types.JobStatusQueued, types.JobStatusRunning, types.JobStatusFailed:
			j.Status = types.JobStatusCanceled
		}
	}
	return nil
}

func applyJobUpdates(j *types.JobRun, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			if s, ok := v.(string); ok {
				j.Status = s
			}
		case "stage":
			if s, ok := v.(string); ok {
				j.Stage = s
			}
		case "progress":
			if n, ok := v.(int); ok {
				j.Progress = n
			}
		case "error":
			if s, ok := v.(string); ok {
				j.Error = s
			}
		case "next_run_at":
			if ts, ok := v.(time.Time); ok {
				j.NextRunAt = &ts
			}
		case "last_error_at":
			if ts, ok := v.(time.Time); ok {
				j.LastErrorAt = &ts
			}
		case "heartbeat_at":
			if ts, ok := v.(time.Time); ok {
				j.HeartbeatAt = &ts
			}
		case "locked_at":
			switch ts := v.(type) {
			case time.Time:
				j.LockedAt = &ts
			case nil:
				j.LockedAt = nil
			}
		}
	}
	j.UpdatedAt = time.Now().UTC()
}

// fakeJobService records enqueues for assertions; methods the slide service
// never calls fall through to the embedded nil interface.
type fakeJobService struct {
	JobService
	mu           sync.Mutex
	slideContent []uuid.UUID
}

func (f *fakeJobService) EnqueueSlideContent(ctx context.Context, userID, deckID, slideID uuid.UUID) (*types.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slideContent = append(f.slideContent, slideID)
	return &types.JobRun{ID: uuid.New(), JobType: types.JobTypeSlideContent, DeckID: deckID, SlideID: &slideID}, nil
}

// captureNotifier records pushes so tests can assert post-commit delivery.
type captureNotifier struct {
	mu     sync.Mutex
	events []*types.DeckEvent
}

func (n *captureNotifier) EventAppended(userID uuid.UUID, ev *types.DeckEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

// captureEmitter satisfies Emitter for notifier tests.
type captureEmitter struct {
	mu   sync.Mutex
	msgs []sse.Message
}

func (e *captureEmitter) Emit(ctx context.Context, msg sse.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgs = append(e.msgs, msg)
}
