package pipelines

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/slidesmith/slidesmith-backend/internal/apierr"
	"github.com/slidesmith/slidesmith-backend/internal/jobs/runtime"
	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/repos"
	"github.com/slidesmith/slidesmith-backend/internal/services"
	"github.com/slidesmith/slidesmith-backend/internal/types"
)

// DeckFinalizePipeline closes out a deck once every slide has content. The
// completion check re-runs under the deck row lock inside MarkCompleted, so a
// finalize racing a straggler slide is rejected and retried rather than
// completing a half-done deck.
type DeckFinalizePipeline struct {
	log    *logger.Logger
	state  services.DeckStateService
	decks  repos.DeckRepo
	slides repos.SlideRepo
}

func NewDeckFinalizePipeline(
	baseLog *logger.Logger,
	state services.DeckStateService,
	decks repos.DeckRepo,
	slides repos.SlideRepo,
) *DeckFinalizePipeline {
	return &DeckFinalizePipeline{
		log:    baseLog.With("job", types.JobTypeDeckFinalize),
		state:  state,
		decks:  decks,
		slides: slides,
	}
}

func (p *DeckFinalizePipeline) Type() string { return types.JobTypeDeckFinalize }

func (p *DeckFinalizePipeline) Run(jc *runtime.Context) error {
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

	switch deck.Status {
	case types.DeckStatusCompleted:
		// A duplicate finalize after the first one won.
		jc.Succeed("done", map[string]any{"skipped": true})
		return nil
	case types.DeckStatusCancelled, types.DeckStatusFailed:
		jc.MarkCanceled("validate")
		return nil
	}

	jc.Progress("finalize", 50, "Checking slide completeness")

	if _, err := p.state.MarkCompleted(ctx, deckID); err != nil {
		if apierr.IsInvalidTransition(err) {
			// Slides still in flight; retry after backoff.
			jc.Fail("finalize", err)
			return nil
		}
		jc.Fail("finalize", fmt.Errorf("mark completed: %w", err))
		return nil
	}

	jc.Succeed("done", map[string]any{"deck_id": deckID})
	return nil
}
