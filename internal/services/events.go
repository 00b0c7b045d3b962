package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/slidesmith/slidesmith-backend/internal/apierr"
	"github.com/slidesmith/slidesmith-backend/internal/repos"
	"github.com/slidesmith/slidesmith-backend/internal/types"
)

const (
	defaultReplayLimit = 100
	maxReplayLimit     = 500
)

// EventService reads the per-deck event log for polling clients and SSE
// reconnect replay.
type EventService interface {
	// ReplaySince returns events with version strictly greater than
	// sinceVersion, ascending. limit <= 0 uses the default window.
	ReplaySince(ctx context.Context, deckID uuid.UUID, sinceVersion int64, limit int) ([]*types.DeckEvent, error)
	LatestVersion(ctx context.Context, deckID uuid.UUID) (int64, error)
}

type eventService struct {
	decks  repos.DeckRepo
	events repos.DeckEventRepo
}

func NewEventService(decks repos.DeckRepo, events repos.DeckEventRepo) EventService {
	return &eventService{decks: decks, events: events}
}

func (s *eventService) ReplaySince(ctx context.Context, deckID uuid.UUID, sinceVersion int64, limit int) ([]*types.DeckEvent, error) {
	deck, err := s.decks.GetByID(ctx, nil, deckID)
	if err != nil {
		return nil, err
	}
	if deck == nil {
		return nil, apierr.NewNotFound("deck", deckID.String())
	}
	if sinceVersion < 0 {
		sinceVersion = 0
	}
	if limit <= 0 {
		limit = defaultReplayLimit
	}
	if limit > maxReplayLimit {
		limit = maxReplayLimit
	}
	return s.events.ListSince(ctx, nil, deckID, sinceVersion, limit)
}

func (s *eventService) LatestVersion(ctx context.Context, deckID uuid.UUID) (int64, error) {
	return s.events.LatestVersion(ctx, nil, deckID)
}
