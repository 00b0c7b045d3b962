package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/slidesmith/slidesmith-backend/internal/apierr"
	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/repos"
	"github.com/slidesmith/slidesmith-backend/internal/types"
)

const maxPromptLength = 4000

// DeckStateService owns every legal deck transition. Each operation runs one
// transaction holding the deck row lock: guard check, projection update, and
// exactly one event append commit together. The notifier push happens after
// commit and its failure never reaches the caller.
type DeckStateService interface {
	Start(ctx context.Context, userID uuid.UUID, prompt string, stylePrefs map[string]any) (*types.Deck, error)
	BeginPlanning(ctx context.Context, deckID uuid.UUID) (*types.Deck, error)
	BeginGenerating(ctx context.Context, deckID uuid.UUID) (*types.Deck, error)
	// MarkCompleted re-queries slide completeness under the deck row lock;
	// it never trusts a cached count, so two racing "last slide done"
	// callers cannot both complete the deck.
	MarkCompleted(ctx context.Context, deckID uuid.UUID) (*types.Deck, error)
	MarkFailed(ctx context.Context, deckID uuid.UUID, reason string) (*types.Deck, error)
	Cancel(ctx context.Context, deckID, userID uuid.UUID) (*types.Deck, error)
	Get(ctx context.Context, deckID uuid.UUID) (*types.Deck, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*types.Deck, error)
}

type deckStateService struct {
	runner  TxRunner
	decks   repos.DeckRepo
	slides  repos.SlideRepo
	events  repos.DeckEventRepo
	jobs    repos.JobRunRepo
	cancels CancelRegistry
	notify  DeckNotifier
	log     *logger.Logger
}

func NewDeckStateService(
	runner TxRunner,
	decks repos.DeckRepo,
	slides repos.SlideRepo,
	events repos.DeckEventRepo,
	jobs repos.JobRunRepo,
	cancels CancelRegistry,
	notify DeckNotifier,
	baseLog *logger.Logger,
) DeckStateService {
	return &deckStateService{
		runner:  runner,
		decks:   decks,
		slides:  slides,
		events:  events,
		jobs:    jobs,
		cancels: cancels,
		notify:  notify,
		log:     baseLog.With("service", "DeckStateService"),
	}
}

func mustJSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func (s *deckStateService) Start(ctx context.Context, userID uuid.UUID, prompt string, stylePrefs map[string]any) (*types.Deck, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, apierr.NewValidation("prompt", "must not be empty")
	}
	if len(prompt) > maxPromptLength {
		return nil, apierr.NewValidation("prompt", "exceeds maximum length")
	}
	if userID == uuid.Nil {
		return nil, apierr.NewValidation("user_id", "required")
	}

	deck := &types.Deck{
		ID:               uuid.New(),
		UserID:           userID,
		Prompt:           prompt,
		Status:           types.DeckStatusPending,
		StylePreferences: mustJSON(stylePrefs),
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}

	var ev *types.DeckEvent
	err := s.runner.InTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.decks.Create(ctx, tx, deck); err != nil {
			return err
		}
		var appendErr error
		ev, appendErr = s.events.Append(ctx, tx, &types.DeckEvent{
			DeckID:    deck.ID,
			Type:      types.EventDeckStarted,
			Data:      mustJSON(map[string]any{"prompt": prompt, "user_id": userID}),
			CreatedAt: time.Now().UTC(),
		})
		return appendErr
	})
	if err != nil {
		return nil, err
	}

	s.pushEvent(deck.UserID, ev)
	s.log.Info("Deck started", "deck_id", deck.ID, "user_id", userID)
	return deck, nil
}

// transition applies one guarded forward move. mutate may adjust the update
// set or veto with a typed error; it runs with the deck row locked.
func (s *deckStateService) transition(
	ctx context.Context,
	deckID uuid.UUID,
	to types.DeckStatus,
	evType types.EventType,
	evData map[string]any,
	mutate func(tx *gorm.DB, deck *types.Deck, updates map[string]interface{}) error,
) (*types.Deck, error) {
	var (
		deck *types.Deck
		ev   *types.DeckEvent
	)
	err := s.runner.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		deck, err = s.decks.GetByIDForUpdate(ctx, tx, deckID)
		if err != nil {
			return err
		}
		if deck == nil {
			return apierr.NewNotFound("deck", deckID.String())
		}
		if !deck.Status.CanTransitionTo(to) {
			return apierr.NewInvalidTransition("deck", string(deck.Status), string(to))
		}

		updates := map[string]interface{}{"status": to}
		if mutate != nil {
			if err := mutate(tx, deck, updates); err != nil {
				return err
			}
		}
		if err := s.decks.UpdateFields(ctx, tx, deck.ID, updates); err != nil {
			return err
		}

		data := map[string]any{"from": deck.Status, "to": to}
		for k, v := range evData {
			data[k] = v
		}
		ev, err = s.events.Append(ctx, tx, &types.DeckEvent{
			DeckID:    deck.ID,
			Type:      evType,
			Data:      mustJSON(data),
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}

		deck.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.pushEvent(deck.UserID, ev)
	return deck, nil
}

func (s *deckStateService) BeginPlanning(ctx context.Context, deckID uuid.UUID) (*types.Deck, error) {
	return s.transition(ctx, deckID, types.DeckStatusPlanning, types.EventDeckStatusChanged, nil, nil)
}

func (s *deckStateService) BeginGenerating(ctx context.Context, deckID uuid.UUID) (*types.Deck, error) {
	return s.transition(ctx, deckID, types.DeckStatusGenerating, types.EventDeckStatusChanged, nil, nil)
}

func (s *deckStateService) MarkCompleted(ctx context.Context, deckID uuid.UUID) (*types.Deck, error) {
	now := time.Now().UTC()
	deck, err := s.transition(ctx, deckID, types.DeckStatusCompleted, types.EventDeckCompleted,
		map[string]any{"completed_at": now},
		func(tx *gorm.DB, deck *types.Deck, updates map[string]interface{}) error {
			incomplete, err := s.slides.IncompleteCount(ctx, tx, deck.ID)
			if err != nil {
				return err
			}
			if incomplete > 0 {
				return apierr.NewInvalidTransition("deck", string(deck.Status), string(types.DeckStatusCompleted))
			}
			updates["completed_at"] = now
			deck.CompletedAt = &now
			return nil
		})
	if err != nil {
		return nil, err
	}
	s.log.Info("Deck completed", "deck_id", deckID)
	return deck, nil
}

func (s *deckStateService) MarkFailed(ctx context.Context, deckID uuid.UUID, reason string) (*types.Deck, error) {
	deck, err := s.transition(ctx, deckID, types.DeckStatusFailed, types.EventDeckFailed,
		map[string]any{"reason": reason}, nil)
	if err != nil {
		return nil, err
	}
	s.log.Warn("Deck failed", "deck_id", deckID, "reason", reason)
	return deck, nil
}

// Cancel flips the status, raises the cancellation flag, and cancels queued
// jobs. In-flight handlers observe the flag at their next checkpoint; work
// does not stop instantly.
func (s *deckStateService) Cancel(ctx context.Context, deckID, userID uuid.UUID) (*types.Deck, error) {
	deck, err := s.transition(ctx, deckID, types.DeckStatusCancelled, types.EventDeckCancelled, nil,
		func(tx *gorm.DB, deck *types.Deck, updates map[string]interface{}) error {
			if userID != uuid.Nil && deck.UserID != userID {
				return apierr.NewNotFound("deck", deckID.String())
			}
			return s.jobs.CancelByDeck(ctx, tx, deck.ID)
		})
	if err != nil {
		return nil, err
	}

	if err := s.cancels.RequestCancel(ctx, deckID); err != nil {
		s.log.Warn("Failed to set cancellation flag", "deck_id", deckID, "error", err)
	}
	s.log.Info("Deck cancelled", "deck_id", deckID)
	return deck, nil
}

func (s *deckStateService) Get(ctx context.Context, deckID uuid.UUID) (*types.Deck, error) {
	deck, err := s.decks.GetByID(ctx, nil, deckID)
	if err != nil {
		return nil, err
	}
	if deck == nil {
		return nil, apierr.NewNotFound("deck", deckID.String())
	}
	return deck, nil
}

func (s *deckStateService) ListByUser(ctx context.Context, userID uuid.UUID) ([]*types.Deck, error) {
	return s.decks.ListByUser(ctx, nil, userID)
}

func (s *deckStateService) pushEvent(userID uuid.UUID, ev *types.DeckEvent) {
	if s.notify == nil || ev == nil {
		return
	}
	s.notify.EventAppended(userID, ev)
}
