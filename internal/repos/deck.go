package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/types"
)

type DeckRepo interface {
	Create(ctx context.Context, tx *gorm.DB, deck *types.Deck) (*types.Deck, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Deck, error)
	// GetByIDForUpdate takes the deck row lock. Every transition and event
	// append happens under this lock so per-deck versions stay gap-free.
	GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Deck, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Deck, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type deckRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeckRepo(db *gorm.DB, baseLog *logger.Logger) DeckRepo {
	return &deckRepo{db: db, log: baseLog.With("repo", "DeckRepo")}
}

func (r *deckRepo) Create(ctx context.Context, tx *gorm.DB, deck *types.Deck) (*types.Deck, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(deck).Error; err != nil {
		return nil, err
	}
	return deck, nil
}

func (r *deckRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Deck, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var deck types.Deck
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&deck).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &deck, nil
}

func (r *deckRepo) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Deck, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var deck types.Deck
	err := transaction.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&deck).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &deck, nil
}

func (r *deckRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Deck, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Deck
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *deckRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.Deck{}).
		Where("id = ?", id).
		Updates(updates).Error
}
