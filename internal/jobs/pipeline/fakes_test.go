package pipelines

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/slidesmith/slidesmith-backend/internal/apierr"
	"github.com/slidesmith/slidesmith-backend/internal/jobs/runtime"
	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/repos"
	"github.com/slidesmith/slidesmith-backend/internal/services"
	"github.com/slidesmith/slidesmith-backend/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lg, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return lg
}

type passthroughTx struct{}

func (passthroughTx) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

// store is the shared in-memory backing for all the fakes; pipelines read and
// write through the repo and service interfaces below.
type store struct {
	mu     sync.Mutex
	decks  map[uuid.UUID]*types.Deck
	slides map[uuid.UUID]*types.Slide
	events map[uuid.UUID][]*types.DeckEvent
	jobs   map[uuid.UUID]*types.JobRun
}

func newStore() *store {
	return &store{
		decks:  map[uuid.UUID]*types.Deck{},
		slides: map[uuid.UUID]*types.Slide{},
		events: map[uuid.UUID][]*types.DeckEvent{},
		jobs:   map[uuid.UUID]*types.JobRun{},
	}
}

func (s *store) eventTypes(deckID uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ev := range s.events[deckID] {
		out = append(out, string(ev.Type))
	}
	return out
}

type deckRepo struct {
	repos.DeckRepo
	s *store
}

func (r deckRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Deck, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.decks[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r deckRepo) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Deck, error) {
	return r.GetByID(ctx, tx, id)
}

func (r deckRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.decks[id]
	if !ok {
		return fmt.Errorf("deck %s not found", id)
	}
	for k, v := range updates {
		switch k {
		case "status":
			d.Status = types.DeckStatus(fmt.Sprint(v))
		case "template_family":
			f := fmt.Sprint(v)
			d.TemplateFamily = &f
		case "slide_count":
			d.SlideCount = v.(int)
		}
	}
	return nil
}

type slideRepo struct {
	repos.SlideRepo
	s *store
}

func (r slideRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Slide, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sl, ok := r.s.slides[id]
	if !ok {
		return nil, nil
	}
	cp := *sl
	return &cp, nil
}

func (r slideRepo) ListByDeck(ctx context.Context, tx *gorm.DB, deckID uuid.UUID) ([]*types.Slide, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*types.Slide
	for _, sl := range r.s.slides {
		if sl.DeckID == deckID {
			cp := *sl
			out = append(out, &cp)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Order < out[i].Order {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (r slideRepo) CreateBatch(ctx context.Context, tx *gorm.DB, slides []*types.Slide) ([]*types.Slide, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sl := range slides {
		if sl.ID == uuid.Nil {
			sl.ID = uuid.New()
		}
		cp := *sl
		r.s.slides[sl.ID] = &cp
	}
	return slides, nil
}

func (r slideRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sl, ok := r.s.slides[id]
	if !ok {
		return fmt.Errorf("slide %s not found", id)
	}
	for k, v := range updates {
		switch k {
		case "html_content":
			html := fmt.Sprint(v)
			sl.HTMLContent = &html
		case "template_filename":
			sl.TemplateFilename = fmt.Sprint(v)
		case "current_version":
			sl.CurrentVersion = v.(int)
		}
	}
	return nil
}

func (r slideRepo) IncompleteCount(ctx context.Context, tx *gorm.DB, deckID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, sl := range r.s.slides {
		if sl.DeckID == deckID && !sl.Complete() {
			n++
		}
	}
	return n, nil
}

type eventRepo struct {
	repos.DeckEventRepo
	s *store
}

func (r eventRepo) Append(ctx context.Context, tx *gorm.DB, event *types.DeckEvent) (*types.DeckEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.Version = int64(len(r.s.events[event.DeckID])) + 1
	r.s.events[event.DeckID] = append(r.s.events[event.DeckID], event)
	return event, nil
}

type jobRepo struct {
	repos.JobRunRepo
	s *store
}

func (r jobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.JobRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (r jobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	applyJobFields(j, updates)
	return nil
}

func (r jobRepo) UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, excluded []string, updates map[string]interface{}) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return false, fmt.Errorf("job %s not found", id)
	}
	for _, st := range excluded {
		if j.Status == st {
			return false, nil
		}
	}
	applyJobFields(j, updates)
	return true, nil
}

func applyJobFields(j *types.JobRun, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			j.Status = fmt.Sprint(v)
		case "stage":
			j.Stage = fmt.Sprint(v)
		case "progress":
			j.Progress = v.(int)
		case "error":
			j.Error = fmt.Sprint(v)
		case "next_run_at":
			ts := v.(time.Time)
			j.NextRunAt = &ts
		case "locked_at":
			if ts, ok := v.(time.Time); ok {
				j.LockedAt = &ts
			} else {
				j.LockedAt = nil
			}
		}
	}
}

// fakeState applies deck transitions directly to the store and records the
// calls. Completion still enforces the no-incomplete-slides rule.
type fakeState struct {
	services.DeckStateService
	s           *store
	mu          sync.Mutex
	calls       []string
	failReasons []string
}

func (f *fakeState) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeState) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeState) setStatus(deckID uuid.UUID, status types.DeckStatus) (*types.Deck, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	d, ok := f.s.decks[deckID]
	if !ok {
		return nil, fmt.Errorf("deck %s not found", deckID)
	}
	if !d.Status.CanTransitionTo(status) {
		return nil, apierr.NewInvalidTransition("deck", string(d.Status), string(status))
	}
	d.Status = status
	cp := *d
	return &cp, nil
}

func (f *fakeState) BeginPlanning(ctx context.Context, deckID uuid.UUID) (*types.Deck, error) {
	f.record("begin_planning")
	return f.setStatus(deckID, types.DeckStatusPlanning)
}

func (f *fakeState) BeginGenerating(ctx context.Context, deckID uuid.UUID) (*types.Deck, error) {
	f.record("begin_generating")
	return f.setStatus(deckID, types.DeckStatusGenerating)
}

func (f *fakeState) MarkCompleted(ctx context.Context, deckID uuid.UUID) (*types.Deck, error) {
	f.record("mark_completed")
	f.s.mu.Lock()
	for _, sl := range f.s.slides {
		if sl.DeckID == deckID && !sl.Complete() {
			f.s.mu.Unlock()
			return nil, apierr.NewInvalidTransition("deck", string(types.DeckStatusGenerating), string(types.DeckStatusCompleted))
		}
	}
	f.s.mu.Unlock()
	return f.setStatus(deckID, types.DeckStatusCompleted)
}

func (f *fakeState) MarkFailed(ctx context.Context, deckID uuid.UUID, reason string) (*types.Deck, error) {
	f.record("mark_failed")
	f.mu.Lock()
	f.failReasons = append(f.failReasons, reason)
	f.mu.Unlock()
	return f.setStatus(deckID, types.DeckStatusFailed)
}

// fakeVersions mimics Snapshot's numbering without persisting version rows.
type fakeVersions struct {
	services.VersionService
	s *store
}

func (f fakeVersions) Snapshot(ctx context.Context, tx *gorm.DB, slide *types.Slide, reason types.VersionReason, createdBy *uuid.UUID, changeDesc string, parentVersion *int) (*types.SlideVersion, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	next := slide.CurrentVersion + 1
	slide.CurrentVersion = next
	if stored, ok := f.s.slides[slide.ID]; ok {
		stored.CurrentVersion = next
	}
	return &types.SlideVersion{ID: uuid.New(), SlideID: slide.ID, VersionNo: next, Reason: reason}, nil
}

type scriptedGenerator struct {
	mu          sync.Mutex
	planErr     error
	genErr      error
	genFailures int
	outlines    []services.SlideOutline
	markup      string
	planCalls   int
	genCalls    int
	templates   []string
}

func (g *scriptedGenerator) Plan(ctx context.Context, prompt string, stylePrefs map[string]any) ([]services.SlideOutline, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.planCalls++
	if g.planErr != nil {
		return nil, g.planErr
	}
	return g.outlines, nil
}

func (g *scriptedGenerator) Generate(ctx context.Context, req services.GenerateRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.genCalls++
	g.templates = append(g.templates, req.Template)
	if g.genErr != nil {
		return "", g.genErr
	}
	if g.genCalls <= g.genFailures {
		return "", fmt.Errorf("template %s rejected", req.Template)
	}
	if g.markup != "" {
		return g.markup, nil
	}
	return fmt.Sprintf("<section><h1>%s</h1></section>", req.Title), nil
}

type enqueueRecord struct {
	jobType string
	slideID uuid.UUID
}

type fakeJobs struct {
	services.JobService
	mu       sync.Mutex
	enqueued []enqueueRecord
}

func (f *fakeJobs) EnqueueSlideContent(ctx context.Context, userID, deckID, slideID uuid.UUID) (*types.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, enqueueRecord{jobType: types.JobTypeSlideContent, slideID: slideID})
	return &types.JobRun{ID: uuid.New(), JobType: types.JobTypeSlideContent, DeckID: deckID}, nil
}

func (f *fakeJobs) EnqueueFinalize(ctx context.Context, userID, deckID uuid.UUID) (*types.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, enqueueRecord{jobType: types.JobTypeDeckFinalize})
	return &types.JobRun{ID: uuid.New(), JobType: types.JobTypeDeckFinalize, DeckID: deckID}, nil
}

func (f *fakeJobs) countType(jobType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rec := range f.enqueued {
		if rec.jobType == jobType {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*types.DeckEvent
}

func (n *recordingNotifier) EventAppended(userID uuid.UUID, ev *types.DeckEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func strRef(s string) *string { return &s }

type pipelineFixture struct {
	store     *store
	decks     deckRepo
	slides    slideRepo
	events    eventRepo
	jobRows   jobRepo
	state     *fakeState
	versions  fakeVersions
	generator *scriptedGenerator
	templates services.TemplateSelector
	jobs      *fakeJobs
	notify    *recordingNotifier
	cancels   *services.MemoryCancelRegistry
	log       *logger.Logger
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	s := newStore()
	return &pipelineFixture{
		store:    s,
		decks:    deckRepo{s: s},
		slides:   slideRepo{s: s},
		events:   eventRepo{s: s},
		jobRows:  jobRepo{s: s},
		state:    &fakeState{s: s},
		versions: fakeVersions{s: s},
		generator: &scriptedGenerator{
			outlines: []services.SlideOutline{
				{Order: 1, Title: "Opening", Content: "Hook the room", Notes: "Smile"},
				{Order: 2, Title: "Body", Content: "Main argument", Notes: ""},
				{Order: 3, Title: "Close", Content: "Call to action", Notes: "Slow down"},
			},
		},
		templates: services.NewTemplateSelector(),
		jobs:      &fakeJobs{},
		notify:    &recordingNotifier{},
		cancels:   services.NewMemoryCancelRegistry(),
		log:       testLogger(t),
	}
}

func (f *pipelineFixture) planPipeline() *DeckPlanPipeline {
	return NewDeckPlanPipeline(f.log, passthroughTx{}, f.state, f.decks, f.slides, f.events, f.versions, f.generator, f.templates, f.jobs, f.notify)
}

func (f *pipelineFixture) contentPipeline() *SlideContentPipeline {
	return NewSlideContentPipeline(f.log, passthroughTx{}, f.state, f.decks, f.slides, f.events, f.versions, f.generator, f.templates, f.jobs, f.notify)
}

func (f *pipelineFixture) finalizePipeline() *DeckFinalizePipeline {
	return NewDeckFinalizePipeline(f.log, f.state, f.decks, f.slides)
}

func (f *pipelineFixture) seedDeck(status types.DeckStatus) *types.Deck {
	d := &types.Deck{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Prompt: "Quarterly sales review for the board",
		Status: status,
	}
	f.store.mu.Lock()
	f.store.decks[d.ID] = d
	f.store.mu.Unlock()
	return d
}

func (f *pipelineFixture) seedSlide(deck *types.Deck, order int, html *string) *types.Slide {
	sl := &types.Slide{
		ID:               uuid.New(),
		DeckID:           deck.ID,
		Order:            order,
		Title:            fmt.Sprintf("Slide %d", order),
		ContentOutline:   "outline",
		TemplateFilename: "minimal-title.html",
		HTMLContent:      html,
	}
	if html != nil {
		sl.CurrentVersion = 1
	}
	f.store.mu.Lock()
	f.store.slides[sl.ID] = sl
	f.store.mu.Unlock()
	return sl
}

// runContext registers a running job row and hands back the execution handle
// a worker would pass to the pipeline.
func (f *pipelineFixture) runContext(t *testing.T, jobType string, deck *types.Deck, attempts int, payload map[string]string) *runtime.Context {
	t.Helper()
	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: deck.UserID,
		JobType:     jobType,
		DeckID:      deck.ID,
		Status:      types.JobStatusRunning,
		Attempts:    attempts,
		Payload:     mustPayload(payload),
	}
	f.store.mu.Lock()
	f.store.jobs[job.ID] = job
	f.store.mu.Unlock()
	return runtime.NewContext(context.Background(), job, f.jobRows, nil, f.cancels)
}

func (f *pipelineFixture) jobRow(t *testing.T, id uuid.UUID) *types.JobRun {
	t.Helper()
	j, err := f.jobRows.GetByID(context.Background(), nil, id)
	if err != nil || j == nil {
		t.Fatalf("job %s not found: %v", id, err)
	}
	return j
}

func mustPayload(kv map[string]string) datatypes.JSON {
	var b strings.Builder
	b.WriteString("{")
	first := true
	for k, v := range kv {
		if !first {
			b.WriteString(",")
		}
		first = false
		fmt.Fprintf(&b, "%q: %q", k, v)
	}
	b.WriteString("}")
	return datatypes.JSON(b.String())
}
