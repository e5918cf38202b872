package store

import (
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrStatusRegression = errors.New("batch status cannot move backwards")
	ErrCountMismatch    = errors.New("declared script count does not match stored scripts")
	ErrScriptsExist     = errors.New("batch already has scripts")
)

// Store is the durable record of batches, scripts and everything derived from them.
// It is the single source of truth for batch status.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "store")),
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
