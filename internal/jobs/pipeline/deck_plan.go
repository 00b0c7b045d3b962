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

// DeckPlanPipeline turns a prompt into a slide skeleton: it picks a template
// family, asks the model for an outline, creates the slide rows, and fans out
// one content job per slide. Re-runs are safe; a deck that already has slides
// skips straight to the fan-out.
type DeckPlanPipeline struct {
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

func NewDeckPlanPipeline(
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
) *DeckPlanPipeline {
	return &DeckPlanPipeline{
		log:       baseLog.With("job", types.JobTypeDeckPlan),
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

func (p *DeckPlanPipeline) Type() string { return types.JobTypeDeckPlan }

func (p *DeckPlanPipeline) Run(jc *runtime.Context) error {
	ctx := jc.Ctx
	if jc.Job == nil {
		return nil
	}
	deckID, ok := jc.PayloadUUID("deck_id")
	if !ok || deckID == uuid.Nil {
		jc.Fail("validate", fmt.Errorf("missing deck_id"))
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
	if deck.Status.Terminal() {
		// Cancelled or failed while the job sat in the queue.
		jc.MarkCanceled("validate")
		return nil
	}

	if deck.Status == types.DeckStatusPending {
		if _, err := p.state.BeginPlanning(ctx, deckID); err != nil {
			jc.Fail("transition", fmt.Errorf("begin planning: %w", err))
			return nil
		}
		deck.Status = types.DeckStatusPlanning
	}

	existing, err := p.slides.ListByDeck(ctx, nil, deckID)
	if err != nil {
		jc.Fail("plan", fmt.Errorf("list slides: %w", err))
		return nil
	}

	if len(existing) == 0 {
		jc.Progress("plan", 10, "Planning slide outline")

		var stylePrefs map[string]any
		if len(deck.StylePreferences) > 0 {
			_ = json.Unmarshal(deck.StylePreferences, &stylePrefs)
		}

		outlines, err := p.generator.Plan(ctx, deck.Prompt, stylePrefs)
		if err != nil {
			p.failDeckIfExhausted(jc, deck, "plan", err)
			return nil
		}
		if len(outlines) == 0 {
			p.failDeckIfExhausted(jc, deck, "plan", fmt.Errorf("planner returned no slides"))
			return nil
		}

		if jc.Canceled() {
			jc.MarkCanceled("plan")
			return nil
		}

		family := p.templates.SelectFamily(deck.Prompt, stylePrefs)
		if hint := jc.PayloadString("template_family"); hint != "" {
			family = hint
		}
		filenames := p.templates.TemplatesFor(family)

		jc.Progress("materialize", 40, "Creating slides")
		existing, err = p.materializeSlides(jc, deck, family, filenames, outlines)
		if err != nil {
			jc.Fail("materialize", err)
			return nil
		}
	}

	if deck.Status == types.DeckStatusPlanning {
		if _, err := p.state.BeginGenerating(ctx, deckID); err != nil {
			jc.Fail("transition", fmt.Errorf("begin generating: %w", err))
			return nil
		}
	}

	jc.Progress("fanout", 80, "Queueing slide generation")
	queued := 0
	for _, sl := range existing {
		if sl.Complete() {
			continue
		}
		if _, err := p.jobs.EnqueueSlideContent(ctx, deck.UserID, deckID, sl.ID); err != nil {
			jc.Fail("fanout", fmt.Errorf("enqueue slide %s: %w", sl.ID, err))
			return nil
		}
		queued++
	}

	jc.Succeed("done", map[string]any{
		"slide_count": len(existing),
		"queued":      queued,
	})
	return nil
}

// materializeSlides creates the slide rows, seeds version 1 for each, stamps
// the template family on the deck, and appends the planning events, all under
// one deck row lock.
func (p *DeckPlanPipeline) materializeSlides(
	jc *runtime.Context,
	deck *types.Deck,
	family string,
	filenames []string,
	outlines []services.SlideOutline,
) ([]*types.Slide, error) {
	ctx := jc.Ctx
	created := make([]*types.Slide, 0, len(outlines))
	var pushed []*types.DeckEvent

	err := p.runner.InTx(ctx, func(tx *gorm.DB) error {
		locked, err := p.decks.GetByIDForUpdate(ctx, tx, deck.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return fmt.Errorf("deck %s disappeared", deck.ID)
		}
		if locked.Status.Terminal() {
			return fmt.Errorf("deck %s is %s", deck.ID, locked.Status)
		}

		now := time.Now().UTC()
		for i, outline := range outlines {
			sl := &types.Slide{
				ID:               uuid.New(),
				DeckID:           deck.ID,
				Order:            i + 1,
				Title:            outline.Title,
				ContentOutline:   outline.Content,
				PresenterNotes:   outline.Notes,
				TemplateFilename: filenames[i%len(filenames)],
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			created = append(created, sl)
		}
		if _, err := p.slides.CreateBatch(ctx, tx, created); err != nil {
			return err
		}
		for _, sl := range created {
			if _, err := p.versions.Snapshot(ctx, tx, sl, types.ReasonAIGenerated, nil, "Planned", nil); err != nil {
				return err
			}
		}

		if err := p.decks.UpdateFields(ctx, tx, deck.ID, map[string]interface{}{
			"template_family": family,
			"slide_count":     len(created),
		}); err != nil {
			return err
		}
		deck.TemplateFamily = &family
		deck.SlideCount = len(created)

		tplData, _ := json.Marshal(map[string]any{"family": family, "templates": filenames})
		ev, err := p.events.Append(ctx, tx, &types.DeckEvent{
			DeckID:    deck.ID,
			Type:      types.EventTemplatesSelected,
			Data:      tplData,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		pushed = append(pushed, ev)

		for _, sl := range created {
			data, _ := json.Marshal(map[string]any{
				"slide_id": sl.ID,
				"order":    sl.Order,
				"title":    sl.Title,
			})
			ev, err := p.events.Append(ctx, tx, &types.DeckEvent{
				DeckID:    deck.ID,
				Type:      types.EventSlideAdded,
				Data:      data,
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
			pushed = append(pushed, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if p.notify != nil {
		for _, ev := range pushed {
			p.notify.EventAppended(deck.UserID, ev)
		}
	}
	return created, nil
}

// failDeckIfExhausted schedules a retry, and on the final attempt also moves
// the deck to failed so clients stop waiting.
func (p *DeckPlanPipeline) failDeckIfExhausted(jc *runtime.Context, deck *types.Deck, stage string, err error) {
	jc.Fail(stage, err)
	if !jc.Exhausted() {
		return
	}
	if _, ferr := p.state.MarkFailed(jc.Ctx, deck.ID, err.Error()); ferr != nil {
		p.log.Warn("Could not mark deck failed", "deck_id", deck.ID, "error", ferr)
	}
}
