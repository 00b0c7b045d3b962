package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slidesmith/slidesmith-backend/internal/apierr"
	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/repos"
	"github.com/slidesmith/slidesmith-backend/internal/types"
)

// VersionService keeps the per-slide version ledger. Version numbers are
// allocated from the slide row's current_version counter; every writer holds
// the parent deck row lock first, so numbers stay sequential with no gaps.
type VersionService interface {
	// Snapshot records the slide's current content as the next version and
	// bumps the slide's counter. Must run inside the caller's transaction.
	Snapshot(ctx context.Context, tx *gorm.DB, slide *types.Slide, reason types.VersionReason, createdBy *uuid.UUID, changeDesc string, parentVersion *int) (*types.SlideVersion, error)
	Rollback(ctx context.Context, deckID, slideID uuid.UUID, targetVersion int, userID uuid.UUID) (*types.Slide, error)
	History(ctx context.Context, slideID uuid.UUID) ([]*types.SlideVersion, error)
	GetVersion(ctx context.Context, slideID uuid.UUID, versionNo int) (*types.SlideVersion, error)
}

type versionService struct {
	runner   TxRunner
	decks    repos.DeckRepo
	slides   repos.SlideRepo
	versions repos.SlideVersionRepo
	events   repos.DeckEventRepo
	notify   DeckNotifier
	log      *logger.Logger
}

func NewVersionService(
	runner TxRunner,
	decks repos.DeckRepo,
	slides repos.SlideRepo,
	versions repos.SlideVersionRepo,
	events repos.DeckEventRepo,
	notify DeckNotifier,
	baseLog *logger.Logger,
) VersionService {
	return &versionService{
		runner:   runner,
		decks:    decks,
		slides:   slides,
		versions: versions,
		events:   events,
		notify:   notify,
		log:      baseLog.With("service", "VersionService"),
	}
}

func (s *versionService) Snapshot(ctx context.Context, tx *gorm.DB, slide *types.Slide, reason types.VersionReason, createdBy *uuid.UUID, changeDesc string, parentVersion *int) (*types.SlideVersion, error) {
	if !reason.Valid() {
		return nil, apierr.NewValidation("reason", fmt.Sprintf("unknown version reason %q", reason))
	}

	snap := types.SlideSnapshot{
		Title:            slide.Title,
		ContentOutline:   slide.ContentOutline,
		HTMLContent:      slide.HTMLContent,
		PresenterNotes:   slide.PresenterNotes,
		TemplateFilename: slide.TemplateFilename,
		Order:            slide.Order,
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal slide snapshot: %w", err)
	}

	nextNo := slide.CurrentVersion + 1
	ver := &types.SlideVersion{
		ID:                uuid.New(),
		SlideID:           slide.ID,
		VersionNo:         nextNo,
		Reason:            reason,
		Snapshot:          raw,
		CreatedBy:         createdBy,
		ChangeDescription: changeDesc,
		ParentVersion:     parentVersion,
		CreatedAt:         time.Now().UTC(),
	}
	if _, err := s.versions.Create(ctx, tx, ver); err != nil {
		return nil, err
	}
	if err := s.slides.UpdateFields(ctx, tx, slide.ID, map[string]interface{}{"current_version": nextNo}); err != nil {
		return nil, err
	}
	slide.CurrentVersion = nextNo
	return ver, nil
}

// Rollback restores a slide to the content of an earlier version. The restore
// is itself recorded as a new version so history is never rewritten.
func (s *versionService) Rollback(ctx context.Context, deckID, slideID uuid.UUID, targetVersion int, userID uuid.UUID) (*types.Slide, error) {
	if targetVersion < 1 {
		return nil, apierr.NewValidation("version", "must be at least 1")
	}

	var (
		slide *types.Slide
		ev    *types.DeckEvent
		owner uuid.UUID
	)
	err := s.runner.InTx(ctx, func(tx *gorm.DB) error {
		deck, err := s.decks.GetByIDForUpdate(ctx, tx, deckID)
		if err != nil {
			return err
		}
		if deck == nil {
			return apierr.NewNotFound("deck", deckID.String())
		}
		if deck.Status.Terminal() && deck.Status != types.DeckStatusCompleted {
			return apierr.NewInvalidTransition("deck", string(deck.Status), string(types.DeckStatusEditing))
		}
		owner = deck.UserID

		slide, err = s.slides.GetByID(ctx, tx, slideID)
		if err != nil {
			return err
		}
		if slide == nil || slide.DeckID != deckID {
			return apierr.NewNotFound("slide", slideID.String())
		}

		target, err := s.versions.GetBySlideAndNo(ctx, tx, slideID, targetVersion)
		if err != nil {
			return err
		}
		if target == nil {
			return apierr.NewNotFound("slide_version", fmt.Sprintf("%s@%d", slideID, targetVersion))
		}

		var snap types.SlideSnapshot
		if err := json.Unmarshal(target.Snapshot, &snap); err != nil {
			return fmt.Errorf("unmarshal version %d snapshot: %w", targetVersion, err)
		}

		// Restore content fields only; slide_order stays where it is so a
		// rollback never collides with the deck's current ordering.
		slide.Title = snap.Title
		slide.ContentOutline = snap.ContentOutline
		slide.HTMLContent = snap.HTMLContent
		slide.PresenterNotes = snap.PresenterNotes
		slide.TemplateFilename = snap.TemplateFilename

		parent := targetVersion
		desc := fmt.Sprintf("Rolled back to version %d", targetVersion)
		var createdBy *uuid.UUID
		if userID != uuid.Nil {
			createdBy = &userID
		}
		if _, err := s.Snapshot(ctx, tx, slide, types.ReasonRollback, createdBy, desc, &parent); err != nil {
			return err
		}

		if err := s.slides.UpdateFields(ctx, tx, slide.ID, map[string]interface{}{
			"title":             slide.Title,
			"content_outline":   slide.ContentOutline,
			"html_content":      slide.HTMLContent,
			"presenter_notes":   slide.PresenterNotes,
			"template_filename": slide.TemplateFilename,
		}); err != nil {
			return err
		}

		ev, err = s.events.Append(ctx, tx, &types.DeckEvent{
			DeckID: deckID,
			Type:   types.EventSlideRolledBack,
			Data: mustJSON(map[string]any{
				"slide_id":       slideID,
				"target_version": targetVersion,
				"new_version":    slide.CurrentVersion,
			}),
			CreatedAt: time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.notify != nil {
		s.notify.EventAppended(owner, ev)
	}
	s.log.Info("Slide rolled back", "slide_id", slideID, "target_version", targetVersion)
	return slide, nil
}

func (s *versionService) History(ctx context.Context, slideID uuid.UUID) ([]*types.SlideVersion, error) {
	slide, err := s.slides.GetByID(ctx, nil, slideID)
	if err != nil {
		return nil, err
	}
	if slide == nil {
		return nil, apierr.NewNotFound("slide", slideID.String())
	}
	return s.versions.ListBySlide(ctx, nil, slideID)
}

func (s *versionService) GetVersion(ctx context.Context, slideID uuid.UUID, versionNo int) (*types.SlideVersion, error) {
	ver, err := s.versions.GetBySlideAndNo(ctx, nil, slideID, versionNo)
	if err != nil {
		return nil, err
	}
	if ver == nil {
		return nil, apierr.NewNotFound("slide_version", fmt.Sprintf("%s@%d", slideID, versionNo))
	}
	return ver, nil
}
