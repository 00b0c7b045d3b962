package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/types"
)

type SlideVersionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, version *types.SlideVersion) (*types.SlideVersion, error)
	GetBySlideAndNo(ctx context.Context, tx *gorm.DB, slideID uuid.UUID, versionNo int) (*types.SlideVersion, error)
	ListBySlide(ctx context.Context, tx *gorm.DB, slideID uuid.UUID) ([]*types.SlideVersion, error)
}

type slideVersionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSlideVersionRepo(db *gorm.DB, baseLog *logger.Logger) SlideVersionRepo {
	return &slideVersionRepo{db: db, log: baseLog.With("repo", "SlideVersionRepo")}
}

func (r *slideVersionRepo) Create(ctx context.Context, tx *gorm.DB, version *types.SlideVersion) (*types.SlideVersion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(version).Error; err != nil {
		return nil, err
	}
	return version, nil
}

func (r *slideVersionRepo) GetBySlideAndNo(ctx context.Context, tx *gorm.DB, slideID uuid.UUID, versionNo int) (*types.SlideVersion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var version types.SlideVersion
	err := transaction.WithContext(ctx).
		Where("slide_id = ? AND version_no = ?", slideID, versionNo).
		First(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &version, nil
}

func (r *slideVersionRepo) ListBySlide(ctx context.Context, tx *gorm.DB, slideID uuid.UUID) ([]*types.SlideVersion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.SlideVersion
	if err := transaction.WithContext(ctx).
		Where("slide_id = ?", slideID).
		Order("version_no DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
