package services

import (
	"context"

	"gorm.io/gorm"
)

// TxRunner is the unit-of-atomicity boundary: projection mutation, event
// append, and version snapshot commit together or not at all. Side effects
// that are not transactional (broadcast, enqueue) run strictly after InTx
// returns nil.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gormTxRunner struct {
	db *gorm.DB
}

func NewTxRunner(db *gorm.DB) TxRunner {
	return &gormTxRunner{db: db}
}

func (r *gormTxRunner) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}
