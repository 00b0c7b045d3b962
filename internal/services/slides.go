package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slidesmith/slidesmith-backend/internal/apierr"
	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/repos"
	"github.com/slidesmith/slidesmith-backend/internal/types"
)

// EditInput carries a partial slide update. Nil fields are left untouched.
// BaseVersion is the version the client last saw; a mismatch against the
// slide's current version rejects the edit instead of silently clobbering.
type EditInput struct {
	Title          *string
	ContentOutline *string
	HTMLContent    *string
	PresenterNotes *string
	BaseVersion    int
}

// SlideService covers post-generation slide editing. Every mutation locks the
// parent deck row, snapshots the new content into the version ledger, and
// appends exactly one deck event.
type SlideService interface {
	Get(ctx context.Context, slideID uuid.UUID) (*types.Slide, error)
	ListByDeck(ctx context.Context, deckID uuid.UUID) ([]*types.Slide, error)
	Edit(ctx context.Context, deckID, slideID, userID uuid.UUID, in EditInput) (*types.Slide, error)
	Insert(ctx context.Context, deckID, userID uuid.UUID, position int, title string) (*types.Slide, error)
	Delete(ctx context.Context, deckID, slideID, userID uuid.UUID) error
	// Reorder takes the full permutation of the deck's slide IDs in the
	// desired order. Partial lists are rejected.
	Reorder(ctx context.Context, deckID, userID uuid.UUID, orderedIDs []uuid.UUID) ([]*types.Slide, error)
	ChangeTemplate(ctx context.Context, deckID, slideID, userID uuid.UUID, templateFilename string) (*types.Slide, error)
}

type slideService struct {
	runner    TxRunner
	decks     repos.DeckRepo
	slides    repos.SlideRepo
	events    repos.DeckEventRepo
	versions  VersionService
	templates TemplateSelector
	jobs      JobService
	notify    DeckNotifier
	log       *logger.Logger
}

func NewSlideService(
	runner TxRunner,
	decks repos.DeckRepo,
	slides repos.SlideRepo,
	events repos.DeckEventRepo,
	versions VersionService,
	templates TemplateSelector,
	jobs JobService,
	notify DeckNotifier,
	baseLog *logger.Logger,
) SlideService {
	return &slideService{
		runner:    runner,
		decks:     decks,
		slides:    slides,
		events:    events,
		versions:  versions,
		templates: templates,
		jobs:      jobs,
		notify:    notify,
		log:       baseLog.With("service", "SlideService"),
	}
}

func (s *slideService) Get(ctx context.Context, slideID uuid.UUID) (*types.Slide, error) {
	slide, err := s.slides.GetByID(ctx, nil, slideID)
	if err != nil {
		return nil, err
	}
	if slide == nil {
		return nil, apierr.NewNotFound("slide", slideID.String())
	}
	return slide, nil
}

func (s *slideService) ListByDeck(ctx context.Context, deckID uuid.UUID) ([]*types.Slide, error) {
	deck, err := s.decks.GetByID(ctx, nil, deckID)
	if err != nil {
		return nil, err
	}
	if deck == nil {
		return nil, apierr.NewNotFound("deck", deckID.String())
	}
	return s.slides.ListByDeck(ctx, nil, deckID)
}

// lockEditableDeck fetches the deck under lock and checks it accepts edits.
// Any non-terminal deck moves to editing on its first edit; a completed deck
// re-opens and sheds its completion stamp. The pending status update is
// merged into deckUpdates.
func (s *slideService) lockEditableDeck(ctx context.Context, tx *gorm.DB, deckID, userID uuid.UUID, deckUpdates map[string]interface{}) (*types.Deck, error) {
	deck, err := s.decks.GetByIDForUpdate(ctx, tx, deckID)
	if err != nil {
		return nil, err
	}
	if deck == nil {
		return nil, apierr.NewNotFound("deck", deckID.String())
	}
	if userID != uuid.Nil && deck.UserID != userID {
		return nil, apierr.NewNotFound("deck", deckID.String())
	}
	if deck.Status == types.DeckStatusEditing {
		return deck, nil
	}
	if !deck.Status.CanTransitionTo(types.DeckStatusEditing) {
		return nil, apierr.NewInvalidTransition("deck", string(deck.Status), string(types.DeckStatusEditing))
	}
	deckUpdates["status"] = types.DeckStatusEditing
	if deck.Status == types.DeckStatusCompleted {
		deckUpdates["completed_at"] = nil
		deck.CompletedAt = nil
	}
	deck.Status = types.DeckStatusEditing
	return deck, nil
}

func (s *slideService) Edit(ctx context.Context, deckID, slideID, userID uuid.UUID, in EditInput) (*types.Slide, error) {
	if in.Title == nil && in.ContentOutline == nil && in.HTMLContent == nil && in.PresenterNotes == nil {
		return nil, apierr.NewValidation("body", "no fields to update")
	}

	var (
		slide *types.Slide
		ev    *types.DeckEvent
		owner uuid.UUID
	)
	err := s.runner.InTx(ctx, func(tx *gorm.DB) error {
		deckUpdates := map[string]interface{}{}
		deck, err := s.lockEditableDeck(ctx, tx, deckID, userID, deckUpdates)
		if err != nil {
			return err
		}
		owner = deck.UserID

		slide, err = s.slides.GetByID(ctx, tx, slideID)
		if err != nil {
			return err
		}
		if slide == nil || slide.DeckID != deckID {
			return apierr.NewNotFound("slide", slideID.String())
		}
		if in.BaseVersion != slide.CurrentVersion {
			return apierr.NewConflict("slide", in.BaseVersion, slide.CurrentVersion)
		}

		if in.Title != nil {
			if strings.TrimSpace(*in.Title) == "" {
				return apierr.NewValidation("title", "must not be empty")
			}
			slide.Title = *in.Title
		}
		if in.ContentOutline != nil {
			slide.ContentOutline = *in.ContentOutline
		}
		if in.HTMLContent != nil {
			clean := SanitizeMarkup(*in.HTMLContent)
			slide.HTMLContent = &clean
		}
		if in.PresenterNotes != nil {
			slide.PresenterNotes = *in.PresenterNotes
		}

		var createdBy *uuid.UUID
		if userID != uuid.Nil {
			createdBy = &userID
		}
		if _, err := s.versions.Snapshot(ctx, tx, slide, types.ReasonUserEdit, createdBy, "Manual edit", nil); err != nil {
			return err
		}

		if err := s.slides.UpdateFields(ctx, tx, slide.ID, map[string]interface{}{
			"title":           slide.Title,
			"content_outline": slide.ContentOutline,
			"html_content":    slide.HTMLContent,
			"presenter_notes": slide.PresenterNotes,
		}); err != nil {
			return err
		}
		if len(deckUpdates) > 0 {
			if err := s.decks.UpdateFields(ctx, tx, deckID, deckUpdates); err != nil {
				return err
			}
		}

		ev, err = s.events.Append(ctx, tx, &types.DeckEvent{
			DeckID: deckID,
			Type:   types.EventSlideUpdated,
			Data: mustJSON(map[string]any{
				"slide_id": slideID,
				"version":  slide.CurrentVersion,
			}),
			CreatedAt: time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.pushEvent(owner, ev)
	return slide, nil
}

func (s *slideService) Insert(ctx context.Context, deckID, userID uuid.UUID, position int, title string) (*types.Slide, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New Slide"
	}

	var (
		slide *types.Slide
		ev    *types.DeckEvent
		owner uuid.UUID
	)
	err := s.runner.InTx(ctx, func(tx *gorm.DB) error {
		deckUpdates := map[string]interface{}{}
		deck, err := s.lockEditableDeck(ctx, tx, deckID, userID, deckUpdates)
		if err != nil {
			return err
		}
		owner = deck.UserID

		existing, err := s.slides.ListByDeck(ctx, tx, deckID)
		if err != nil {
			return err
		}
		if len(existing) >= types.MaxSlidesPerDeck {
			return apierr.NewValidation("position", fmt.Sprintf("deck already has the maximum of %d slides", types.MaxSlidesPerDeck))
		}
		if position < 1 || position > len(existing)+1 {
			return apierr.NewValidation("position", fmt.Sprintf("must be between 1 and %d", len(existing)+1))
		}

		if err := s.slides.ShiftOrders(ctx, tx, deckID, position, 1); err != nil {
			return err
		}

		family := defaultTemplateFamily
		if deck.TemplateFamily != nil && *deck.TemplateFamily != "" {
			family = *deck.TemplateFamily
		}
		templates := s.templates.TemplatesFor(family)

		slide = &types.Slide{
			ID:               uuid.New(),
			DeckID:           deckID,
			Order:            position,
			Title:            title,
			TemplateFilename: templates[0],
			CreatedAt:        time.Now().UTC(),
			UpdatedAt:        time.Now().UTC(),
		}
		if _, err := s.slides.Create(ctx, tx, slide); err != nil {
			return err
		}

		var createdBy *uuid.UUID
		if userID != uuid.Nil {
			createdBy = &userID
		}
		if _, err := s.versions.Snapshot(ctx, tx, slide, types.ReasonInsert, createdBy, "Inserted slide", nil); err != nil {
			return err
		}

		deckUpdates["slide_count"] = len(existing) + 1
		if err := s.decks.UpdateFields(ctx, tx, deckID, deckUpdates); err != nil {
			return err
		}

		ev, err = s.events.Append(ctx, tx, &types.DeckEvent{
			DeckID: deckID,
			Type:   types.EventSlideAdded,
			Data: mustJSON(map[string]any{
				"slide_id": slide.ID,
				"order":    position,
				"title":    title,
			}),
			CreatedAt: time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.pushEvent(owner, ev)
	return slide, nil
}

func (s *slideService) Delete(ctx context.Context, deckID, slideID, userID uuid.UUID) error {
	var (
		ev    *types.DeckEvent
		owner uuid.UUID
	)
	err := s.runner.InTx(ctx, func(tx *gorm.DB) error {
		deckUpdates := map[string]interface{}{}
		deck, err := s.lockEditableDeck(ctx, tx, deckID, userID, deckUpdates)
		if err != nil {
			return err
		}
		owner = deck.UserID

		slide, err := s.slides.GetByID(ctx, tx, slideID)
		if err != nil {
			return err
		}
		if slide == nil || slide.DeckID != deckID {
			return apierr.NewNotFound("slide", slideID.String())
		}
		if deck.SlideCount <= 1 {
			return apierr.NewValidation("slide_id", "cannot delete the last slide")
		}

		// Snapshot before the row goes away so the content stays recoverable
		// from the version history.
		var createdBy *uuid.UUID
		if userID != uuid.Nil {
			createdBy = &userID
		}
		if _, err := s.versions.Snapshot(ctx, tx, slide, types.ReasonDelete, createdBy, "Deleted", nil); err != nil {
			return err
		}

		if err := s.slides.Delete(ctx, tx, slideID); err != nil {
			return err
		}
		if err := s.slides.ShiftOrders(ctx, tx, deckID, slide.Order+1, -1); err != nil {
			return err
		}

		deckUpdates["slide_count"] = deck.SlideCount - 1
		if err := s.decks.UpdateFields(ctx, tx, deckID, deckUpdates); err != nil {
			return err
		}

		ev, err = s.events.Append(ctx, tx, &types.DeckEvent{
			DeckID: deckID,
			Type:   types.EventSlideDeleted,
			Data: mustJSON(map[string]any{
				"slide_id": slideID,
				"order":    slide.Order,
			}),
			CreatedAt: time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return err
	}

	s.pushEvent(owner, ev)
	return nil
}

func (s *slideService) Reorder(ctx context.Context, deckID, userID uuid.UUID, orderedIDs []uuid.UUID) ([]*types.Slide, error) {
	if len(orderedIDs) == 0 {
		return nil, apierr.NewValidation("slide_ids", "must not be empty")
	}

	var (
		result []*types.Slide
		ev     *types.DeckEvent
		owner  uuid.UUID
	)
	err := s.runner.InTx(ctx, func(tx *gorm.DB) error {
		deckUpdates := map[string]interface{}{}
		deck, err := s.lockEditableDeck(ctx, tx, deckID, userID, deckUpdates)
		if err != nil {
			return err
		}
		owner = deck.UserID

		existing, err := s.slides.ListByDeck(ctx, tx, deckID)
		if err != nil {
			return err
		}
		if len(orderedIDs) != len(existing) {
			return apierr.NewValidation("slide_ids", fmt.Sprintf("expected %d slide ids, got %d", len(existing), len(orderedIDs)))
		}
		byID := make(map[uuid.UUID]*types.Slide, len(existing))
		for _, sl := range existing {
			byID[sl.ID] = sl
		}
		seen := make(map[uuid.UUID]bool, len(orderedIDs))
		for _, id := range orderedIDs {
			if seen[id] {
				return apierr.NewValidation("slide_ids", fmt.Sprintf("duplicate slide id %s", id))
			}
			seen[id] = true
			if byID[id] == nil {
				return apierr.NewNotFound("slide", id.String())
			}
		}

		var createdBy *uuid.UUID
		if userID != uuid.Nil {
			createdBy = &userID
		}
		for i, id := range orderedIDs {
			sl := byID[id]
			newOrder := i + 1
			if sl.Order == newOrder {
				result = append(result, sl)
				continue
			}
			sl.Order = newOrder
			if _, err := s.versions.Snapshot(ctx, tx, sl, types.ReasonReorder, createdBy, "Reordered", nil); err != nil {
				return err
			}
			if err := s.slides.UpdateFields(ctx, tx, sl.ID, map[string]interface{}{"slide_order": newOrder}); err != nil {
				return err
			}
			result = append(result, sl)
		}

		if len(deckUpdates) > 0 {
			if err := s.decks.UpdateFields(ctx, tx, deckID, deckUpdates); err != nil {
				return err
			}
		}

		ev, err = s.events.Append(ctx, tx, &types.DeckEvent{
			DeckID: deckID,
			Type:   types.EventSlideReordered,
			Data: mustJSON(map[string]any{
				"slide_ids": orderedIDs,
			}),
			CreatedAt: time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.pushEvent(owner, ev)
	return result, nil
}

func (s *slideService) ChangeTemplate(ctx context.Context, deckID, slideID, userID uuid.UUID, templateFilename string) (*types.Slide, error) {
	templateFilename = strings.TrimSpace(templateFilename)
	if templateFilename == "" {
		return nil, apierr.NewValidation("template_filename", "must not be empty")
	}

	var (
		slide *types.Slide
		ev    *types.DeckEvent
		owner uuid.UUID
	)
	err := s.runner.InTx(ctx, func(tx *gorm.DB) error {
		deckUpdates := map[string]interface{}{}
		deck, err := s.lockEditableDeck(ctx, tx, deckID, userID, deckUpdates)
		if err != nil {
			return err
		}
		owner = deck.UserID

		slide, err = s.slides.GetByID(ctx, tx, slideID)
		if err != nil {
			return err
		}
		if slide == nil || slide.DeckID != deckID {
			return apierr.NewNotFound("slide", slideID.String())
		}

		// The old markup was rendered for the old template; drop it and let
		// the regeneration job fill the slide for the new one. The snapshot
		// keeps the old content reachable through rollback.
		slide.TemplateFilename = templateFilename
		slide.HTMLContent = nil

		var createdBy *uuid.UUID
		if userID != uuid.Nil {
			createdBy = &userID
		}
		if _, err := s.versions.Snapshot(ctx, tx, slide, types.ReasonTemplateChange, createdBy, "Template changed", nil); err != nil {
			return err
		}
		if err := s.slides.UpdateFields(ctx, tx, slide.ID, map[string]interface{}{
			"template_filename": templateFilename,
			"html_content":      nil,
		}); err != nil {
			return err
		}
		if len(deckUpdates) > 0 {
			if err := s.decks.UpdateFields(ctx, tx, deckID, deckUpdates); err != nil {
				return err
			}
		}

		ev, err = s.events.Append(ctx, tx, &types.DeckEvent{
			DeckID: deckID,
			Type:   types.EventSlideUpdated,
			Data: mustJSON(map[string]any{
				"slide_id": slideID,
				"template": templateFilename,
				"version":  slide.CurrentVersion,
			}),
			CreatedAt: time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	// Best-effort after commit; a lost job is recovered by changing the
	// template again or editing the slide content directly.
	if s.jobs != nil {
		if _, err := s.jobs.EnqueueSlideContent(ctx, owner, deckID, slideID); err != nil {
			s.log.Warn("Could not enqueue regeneration after template change", "slide_id", slideID, "error", err)
		}
	}

	s.pushEvent(owner, ev)
	return slide, nil
}

func (s *slideService) pushEvent(userID uuid.UUID, ev *types.DeckEvent) {
	if s.notify == nil || ev == nil {
		return
	}
	s.notify.EventAppended(userID, ev)
}
