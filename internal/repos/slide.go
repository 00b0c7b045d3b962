package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/types"
)

type SlideRepo interface {
	Create(ctx context.Context, tx *gorm.DB, slide *types.Slide) (*types.Slide, error)
	CreateBatch(ctx context.Context, tx *gorm.DB, slides []*types.Slide) ([]*types.Slide, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Slide, error)
	ListByDeck(ctx context.Context, tx *gorm.DB, deckID uuid.UUID) ([]*types.Slide, error)
	// IncompleteCount re-queries completeness from the rows; completion
	// checks must never trust a cached count.
	IncompleteCount(ctx context.Context, tx *gorm.DB, deckID uuid.UUID) (int64, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	ShiftOrders(ctx context.Context, tx *gorm.DB, deckID uuid.UUID, fromOrder int, delta int) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type slideRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSlideRepo(db *gorm.DB, baseLog *logger.Logger) SlideRepo {
	return &slideRepo{db: db, log: baseLog.With("repo", "SlideRepo")}
}

func (r *slideRepo) Create(ctx context.Context, tx *gorm.DB, slide *types.Slide) (*types.Slide, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(slide).Error; err != nil {
		return nil, err
	}
	return slide, nil
}

func (r *slideRepo) CreateBatch(ctx context.Context, tx *gorm.DB, slides []*types.Slide) ([]*types.Slide, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(slides) == 0 {
		return []*types.Slide{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&slides).Error; err != nil {
		return nil, err
	}
	return slides, nil
}

func (r *slideRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Slide, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var slide types.Slide
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&slide).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &slide, nil
}

func (r *slideRepo) ListByDeck(ctx context.Context, tx *gorm.DB, deckID uuid.UUID) ([]*types.Slide, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Slide
	if err := transaction.WithContext(ctx).
		Where("deck_id = ?", deckID).
		Order("slide_order ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *slideRepo) IncompleteCount(ctx context.Context, tx *gorm.DB, deckID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.Slide{}).
		Where("deck_id = ? AND (html_content IS NULL OR btrim(html_content) = '')", deckID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *slideRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Slide{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ShiftOrders moves every slide at or after fromOrder by delta. Used by
// insert (delta=+1) and delete (delta=-1) to keep orders contiguous.
func (r *slideRepo) ShiftOrders(ctx context.Context, tx *gorm.DB, deckID uuid.UUID, fromOrder int, delta int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if delta == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.Slide{}).
		Where("deck_id = ? AND slide_order >= ?", deckID, fromOrder).
		Updates(map[string]interface{}{
			"slide_order": gorm.Expr("slide_order + ?", delta),
			"updated_at":  time.Now(),
		}).Error
}

func (r *slideRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.Slide{}).Error
}
