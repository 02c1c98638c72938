package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smartdevs17/pool-listener/internal/metrics"
	"github.com/smartdevs17/pool-listener/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metricsManager *metrics.Manager
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage:        storage,
		metricsManager: metricsManager,
	}
}

func (s *StorageWithMetrics) record(operation, table string, start time.Time, err error) {
	if s.metricsManager == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(operation, table, status, time.Since(start))
}

// UpsertPoolIfAbsent inserts a pool and records metrics
func (s *StorageWithMetrics) UpsertPoolIfAbsent(ctx context.Context, pool *models.Pool) (bool, error) {
	start := time.Now()
	inserted, err := s.Storage.UpsertPoolIfAbsent(ctx, pool)
	s.record("upsert", "pools", start, err)
	return inserted, err
}

// UpdateLiquidity updates a liquidity sample and records metrics
func (s *StorageWithMetrics) UpdateLiquidity(ctx context.Context, address string, liquidity decimal.Decimal, checkedAt time.Time) error {
	start := time.Now()
	err := s.Storage.UpdateLiquidity(ctx, address, liquidity, checkedAt)
	s.record("update_liquidity", "pools", start, err)
	return err
}

// TransitionToTradeable transitions a pool and records metrics
func (s *StorageWithMetrics) TransitionToTradeable(ctx context.Context, address string) (bool, error) {
	start := time.Now()
	ok, err := s.Storage.TransitionToTradeable(ctx, address)
	s.record("transition", "pools", start, err)
	return ok, err
}

// ListNonTradeablePools lists the working set and records metrics
func (s *StorageWithMetrics) ListNonTradeablePools(ctx context.Context, olderThan time.Time) ([]*models.Pool, error) {
	start := time.Now()
	pools, err := s.Storage.ListNonTradeablePools(ctx, olderThan)
	s.record("list_non_tradeable", "pools", start, err)
	return pools, err
}

// RecordNotification appends a notification record and records metrics
func (s *StorageWithMetrics) RecordNotification(ctx context.Context, notification *models.Notification) error {
	start := time.Now()
	err := s.Storage.RecordNotification(ctx, notification)
	s.record("insert", "notifications", start, err)
	return err
}

// GetCursor reads the cursor and records metrics
func (s *StorageWithMetrics) GetCursor(ctx context.Context) (uint64, bool, error) {
	start := time.Now()
	block, ok, err := s.Storage.GetCursor(ctx)
	s.record("get_cursor", "sync_state", start, err)
	return block, ok, err
}

// SetCursor writes the cursor and records metrics
func (s *StorageWithMetrics) SetCursor(ctx context.Context, block uint64) error {
	start := time.Now()
	err := s.Storage.SetCursor(ctx, block)
	s.record("set_cursor", "sync_state", start, err)
	if err == nil && s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().UpdateLatestProcessedBlock(block)
	}
	return err
}
