package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/types"
)

type DeckEventRepo interface {
	// Append assigns version = max(existing)+1 and stores the event. The
	// caller must hold the deck row lock in tx; that lock is what serializes
	// concurrent appends and keeps the sequence gap-free.
	Append(ctx context.Context, tx *gorm.DB, event *types.DeckEvent) (*types.DeckEvent, error)
	ListSince(ctx context.Context, tx *gorm.DB, deckID uuid.UUID, sinceVersion int64, limit int) ([]*types.DeckEvent, error)
	LatestVersion(ctx context.Context, tx *gorm.DB, deckID uuid.UUID) (int64, error)
}

type deckEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeckEventRepo(db *gorm.DB, baseLog *logger.Logger) DeckEventRepo {
	return &deckEventRepo{db: db, log: baseLog.With("repo", "DeckEventRepo")}
}

func (r *deckEventRepo) Append(ctx context.Context, tx *gorm.DB, event *types.DeckEvent) (*types.DeckEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	next, err := r.LatestVersion(ctx, transaction, event.DeckID)
	if err != nil {
		return nil, err
	}
	event.Version = next + 1
	if err := transaction.WithContext(ctx).Create(event).Error; err != nil {
		return nil, err
	}
	return event, nil
}

func (r *deckEventRepo) ListSince(ctx context.Context, tx *gorm.DB, deckID uuid.UUID, sinceVersion int64, limit int) ([]*types.DeckEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).
		Where("deck_id = ? AND version > ?", deckID, sinceVersion).
		Order("version ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.DeckEvent
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *deckEventRepo) LatestVersion(ctx context.Context, tx *gorm.DB, deckID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var latest int64
	err := transaction.WithContext(ctx).
		Model(&types.DeckEvent{}).
		Where("deck_id = ?", deckID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&latest).Error
	if err != nil {
		return 0, err
	}
	return latest, nil
}
