// Package swap binds stored quotes to users: it builds transactions through
// the owning provider's adapter and tracks the swap record lifecycle.
package swap

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	pkgerrors "github.com/Aidin1998/dexroute_unified/pkg/errors"
	"github.com/Aidin1998/dexroute_unified/pkg/models"
)

// Store is the gorm repository for quote and swap-transaction records.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates a Store.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger, now: time.Now}
}

// AutoMigrate creates or updates the backing tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&models.QuoteRecord{}, &models.SwapTransactionRecord{})
}

// CreateQuote persists a quote record.
func (s *Store) CreateQuote(ctx context.Context, record *models.QuoteRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeDatabaseError, "failed to persist quote record")
	}
	return nil
}

// GetQuote loads a quote record by id. A missing id is ROUTE_NOT_FOUND.
func (s *Store) GetQuote(ctx context.Context, id string) (*models.QuoteRecord, error) {
	var record models.QuoteRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeRouteNotFound, "quote not found").WithDetail("quoteId", id)
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeDatabaseError, "failed to load quote record")
	}
	return &record, nil
}

// CreateSwap opens a swap transaction record. Unlike quote persistence this
// write is fatal to the request when it fails.
func (s *Store) CreateSwap(ctx context.Context, record *models.SwapTransactionRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeDatabaseError, "failed to persist swap transaction")
	}
	return nil
}

// GetSwap loads a swap transaction record by id.
func (s *Store) GetSwap(ctx context.Context, id string) (*models.SwapTransactionRecord, error) {
	var record models.SwapTransactionRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeRouteNotFound, "swap transaction not found").WithDetail("transactionId", id)
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeDatabaseError, "failed to load swap transaction")
	}
	return &record, nil
}

// SaveSwap persists updates to a swap record already held in memory, such as
// attaching the built transaction blob.
func (s *Store) SaveSwap(ctx context.Context, record *models.SwapTransactionRecord) error {
	if err := s.db.WithContext(ctx).Save(record).Error; err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeDatabaseError, "failed to update swap transaction")
	}
	return nil
}

// UpdateSwapStatus applies a monotone status transition. Transitioning into a
// terminal state stamps ExecutionTimeMs from the record's CreatedAt already in
// memory; the store is not re-queried for it.
func (s *Store) UpdateSwapStatus(ctx context.Context, id string, status models.SwapStatus, txHash, errCode, errMsg string) (*models.SwapTransactionRecord, error) {
	record, err := s.GetSwap(ctx, id)
	if err != nil {
		return nil, err
	}
	if !record.Status.CanTransitionTo(status) {
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalidInput,
			"swap transaction cannot transition from %s to %s", record.Status, status).
			WithDetail("transactionId", id)
	}

	record.Status = status
	if txHash != "" {
		record.TxHash = txHash
	}
	if errCode != "" {
		record.ErrorCode = errCode
	}
	if errMsg != "" {
		record.ErrorMessage = errMsg
	}
	if status.Terminal() {
		elapsed := s.now().Sub(record.CreatedAt).Milliseconds()
		record.ExecutionTimeMs = &elapsed
	}

	if err := s.SaveSwap(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}
