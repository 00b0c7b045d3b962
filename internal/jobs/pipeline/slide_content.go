package pipelines

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slidesmith/slidesmith-backend/internal/jobs/runtime"
	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/repos"
	"github.com/slidesmith/slidesmith-backend/internal/services"
	"github.com/slidesmith/slidesmith-backend/internal/types"
)

// SlideContentPipeline fills one slide with generated markup. A slide that is
// already complete succeeds immediately, which makes duplicate or replayed
// jobs harmless. The job that completes the deck's last slide enqueues the
// finalize run.
type SlideContentPipeline struct {
	log       *logger.Logger
	runner    services.TxRunner
	state     services.DeckStateService
	decks     repos.DeckRepo
	slides    repos.SlideRepo
	events    repos.DeckEventRepo
	versions  services.VersionService
	generator services.ContentGenerator
	templates services.TemplateSelector
	jobs      services.JobService
	notify    services.DeckNotifier
}

func NewSlideContentPipeline(
	baseLog *logger.Logger,
	runner services.TxRunner,
	state services.DeckStateService,
	decks repos.DeckRepo,
	slides repos.SlideRepo,
	events repos.DeckEventRepo,
	versions services.VersionService,
	generator services.ContentGenerator,
	templates services.TemplateSelector,
	jobs services.JobService,
	notify services.DeckNotifier,
) *SlideContentPipeline {
	return &SlideContentPipeline{
		log:       baseLog.With("job", types.JobTypeSlideContent),
		runner:    runner,
		state:     state,
		decks:     decks,
		slides:    slides,
		events:    events,
		versions:  versions,
		generator: generator,
		templates: templates,
		jobs:      jobs,
		notify:    notify,
	}
}

func (p *SlideContentPipeline) Type() string { return types.JobTypeSlideContent }

func (p *SlideContentPipeline) Run(jc *runtime.Context) error {
	ctx := jc.Ctx
	if jc.Job == nil {
		return nil
	}
	deckID, ok := jc.PayloadUUID("deck_id")
	if !ok || deckID == uuid.Nil {
		jc.Fail("validate", fmt.Errorf("missing deck_id"))
		return nil
	}
	slideID, ok := jc.PayloadUUID("slide_id")
	if !ok || slideID == uuid.Nil {
		jc.Fail("validate", fmt.Errorf("missing slide_id"))
		return nil
	}

	if jc.Canceled() {
		jc.MarkCanceled("validate")
		return nil
	}

	deck, err := p.decks.GetByID(ctx, nil, deckID)
	if err != nil {
		jc.Fail("validate", fmt.Errorf("load deck: %w", err))
		return nil
	}
	if deck == nil {
		jc.Fail("validate", fmt.Errorf("deck %s not found", deckID))
		return nil
	}
	if deck.Status.Terminal() && deck.Status != types.DeckStatusCompleted {
		jc.MarkCanceled("validate")
		return nil
	}

	slide, err := p.slides.GetByID(ctx, nil, slideID)
	if err != nil {
		jc.Fail("validate", fmt.Errorf("load slide: %w", err))
		return nil
	}
	if slide == nil || slide.DeckID != deckID {
		jc.Fail("validate", fmt.Errorf("slide %s not found in deck %s", slideID, deckID))
		return nil
	}

	if slide.Complete() {
		jc.Succeed("done", map[string]any{"skipped": true})
		p.maybeFinalize(jc, deck)
		return nil
	}

	jc.Progress("generate", 20, fmt.Sprintf("Generating slide %d", slide.Order))

	var (
		markup       string
		usedTemplate string
		genErr       error
	)
	for _, tpl := range p.templateCandidates(deck, slide) {
		out, err := p.generator.Generate(ctx, services.GenerateRequest{
			Title:          slide.Title,
			Outline:        slide.ContentOutline,
			PresenterNotes: slide.PresenterNotes,
			Template:       tpl,
		})
		if err != nil {
			genErr = err
			p.log.Warn("Generation failed for template", "slide_id", slide.ID, "template", tpl, "error", err)
			continue
		}
		out = services.SanitizeMarkup(out)
		if out == "" {
			genErr = fmt.Errorf("generator returned empty markup for template %s", tpl)
			continue
		}
		markup = out
		usedTemplate = tpl
		break
	}
	if markup == "" {
		p.failSlide(jc, deck, slide, genErr)
		return nil
	}

	if jc.Canceled() {
		jc.MarkCanceled("generate")
		return nil
	}

	jc.Progress("persist", 70, fmt.Sprintf("Saving slide %d", slide.Order))

	var ev *types.DeckEvent
	err = p.runner.InTx(ctx, func(tx *gorm.DB) error {
		locked, err := p.decks.GetByIDForUpdate(ctx, tx, deckID)
		if err != nil {
			return err
		}
		if locked == nil || (locked.Status.Terminal() && locked.Status != types.DeckStatusCompleted) {
			return fmt.Errorf("deck %s no longer accepts generation", deckID)
		}

		fresh, err := p.slides.GetByID(ctx, tx, slideID)
		if err != nil {
			return err
		}
		if fresh == nil {
			return fmt.Errorf("slide %s disappeared", slideID)
		}
		if fresh.Complete() {
			// Another run finished this slide between our check and the lock.
			return nil
		}

		fresh.HTMLContent = &markup
		fresh.TemplateFilename = usedTemplate
		if _, err := p.versions.Snapshot(ctx, tx, fresh, types.ReasonAIGenerated, nil, "Generated content", nil); err != nil {
			return err
		}
		if err := p.slides.UpdateFields(ctx, tx, fresh.ID, map[string]interface{}{
			"html_content":      markup,
			"template_filename": usedTemplate,
		}); err != nil {
			return err
		}

		data, _ := json.Marshal(map[string]any{
			"slide_id": slideID,
			"order":    fresh.Order,
			"version":  fresh.CurrentVersion,
		})
		ev, err = p.events.Append(ctx, tx, &types.DeckEvent{
			DeckID:    deckID,
			Type:      types.EventSlideCompleted,
			Data:      data,
			CreatedAt: time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		p.failSlide(jc, deck, slide, err)
		return nil
	}

	if p.notify != nil && ev != nil {
		p.notify.EventAppended(deck.UserID, ev)
	}

	jc.Succeed("done", map[string]any{"slide_id": slideID, "order": slide.Order})
	p.maybeFinalize(jc, deck)
	return nil
}

// templateCandidates returns the slide's own template first, then up to two
// alternates from the deck's family as fallback when generation rejects the
// primary.
func (p *SlideContentPipeline) templateCandidates(deck *types.Deck, slide *types.Slide) []string {
	candidates := []string{slide.TemplateFilename}
	family := ""
	if deck.TemplateFamily != nil {
		family = *deck.TemplateFamily
	}
	for _, tpl := range p.templates.TemplatesFor(family) {
		if len(candidates) == 3 {
			break
		}
		if tpl == slide.TemplateFilename {
			continue
		}
		candidates = append(candidates, tpl)
	}
	return candidates
}

// maybeFinalize enqueues the finalize job once no incomplete slides remain.
// Racing callers may both enqueue; the finalize run itself is idempotent.
func (p *SlideContentPipeline) maybeFinalize(jc *runtime.Context, deck *types.Deck) {
	incomplete, err := p.slides.IncompleteCount(jc.Ctx, nil, deck.ID)
	if err != nil {
		p.log.Warn("Could not count incomplete slides", "deck_id", deck.ID, "error", err)
		return
	}
	if incomplete > 0 {
		return
	}
	if _, err := p.jobs.EnqueueFinalize(jc.Ctx, deck.UserID, deck.ID); err != nil {
		p.log.Warn("Could not enqueue finalize", "deck_id", deck.ID, "error", err)
	}
}

// failSlide schedules the retry; on the final attempt it records the slide
// failure in the event log and fails the deck.
func (p *SlideContentPipeline) failSlide(jc *runtime.Context, deck *types.Deck, slide *types.Slide, err error) {
	jc.Fail("generate", err)
	if !jc.Exhausted() {
		return
	}

	var ev *types.DeckEvent
	txErr := p.runner.InTx(jc.Ctx, func(tx *gorm.DB) error {
		locked, lockErr := p.decks.GetByIDForUpdate(jc.Ctx, tx, deck.ID)
		if lockErr != nil {
			return lockErr
		}
		if locked == nil || locked.Status.Terminal() {
			return nil
		}
		data, _ := json.Marshal(map[string]any{
			"slide_id": slide.ID,
			"order":    slide.Order,
			"error":    err.Error(),
		})
		var appendErr error
		ev, appendErr = p.events.Append(jc.Ctx, tx, &types.DeckEvent{
			DeckID:    deck.ID,
			Type:      types.EventSlideGenerationFailed,
			Data:      data,
			CreatedAt: time.Now().UTC(),
		})
		return appendErr
	})
	if txErr != nil {
		p.log.Warn("Could not record slide failure", "slide_id", slide.ID, "error", txErr)
	}
	if p.notify != nil && ev != nil {
		p.notify.EventAppended(deck.UserID, ev)
	}

	if _, ferr := p.state.MarkFailed(jc.Ctx, deck.ID, fmt.Sprintf("slide %d: %s", slide.Order, err.Error())); ferr != nil {
		p.log.Warn("Could not mark deck failed", "deck_id", deck.ID, "error", ferr)
	}
}
