package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smartdevs17/pool-listener/internal/config"
	"github.com/smartdevs17/pool-listener/internal/metrics"
	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tokenT = "0x1111111111111111111111111111111111111111"
	tokenU = "0x2222222222222222222222222222222222222222"
)

func newTestSQLite(t *testing.T) Storage {
	t.Helper()
	utils.InitLogger("error", "text", "stdout", "")

	store := NewSQLiteStorage(&StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "pools.db"),
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })
	return store
}

func testPool(n int, block uint64) *models.Pool {
	return &models.Pool{
		Address:           fmt.Sprintf("0x%040x", 0xabc000+n),
		TokenA:            tokenT,
		TokenB:            tokenU,
		FeeTier:           3000,
		TickSpacing:       60,
		DiscoveredAtBlock: block,
		CreationTxHash:    fmt.Sprintf("0x%064x", n),
	}
}

func TestSQLiteStorage(t *testing.T) {
	runStorageContract(t, newTestSQLite)
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	store := newTestSQLite(t)
	require.NoError(t, store.Migrate())
	require.NoError(t, store.Migrate())
}

func TestSQLiteInMemory(t *testing.T) {
	store := NewSQLiteStorage(&StorageConfig{Type: "sqlite", ConnectionString: ":memory:"})
	require.NoError(t, store.Connect())
	defer store.Close()
	require.NoError(t, store.Migrate())

	inserted, err := store.UpsertPoolIfAbsent(context.Background(), testPool(1, 10))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestStorageWithMetrics(t *testing.T) {
	manager := metrics.NewManager()
	store := NewStorageWithMetrics(newTestSQLite(t), manager)
	ctx := context.Background()

	_, err := store.UpsertPoolIfAbsent(ctx, testPool(1, 10))
	require.NoError(t, err)
	require.NoError(t, store.SetCursor(ctx, 99))

	families, err := manager.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["pool_listener_db_operations_total"])
	assert.True(t, names["pool_listener_last_processed_block"])
}

func TestNewStorageRejectsUnknownType(t *testing.T) {
	_, err := NewStorage(&config.StorageConfig{Type: "mongo", ConnectionString: "x"})
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeConfiguration, utils.ErrorCode(err))
}

// runStorageContract exercises behaviour every backend must share.
func runStorageContract(t *testing.T, newStore func(t *testing.T) Storage) {
	t.Run("UpsertIsIdempotent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		inserted, err := store.UpsertPoolIfAbsent(ctx, testPool(1, 100))
		require.NoError(t, err)
		assert.True(t, inserted)

		// Same address seen again from an overlapping range at a later block.
		again := testPool(1, 150)
		again.TokenB = "0x3333333333333333333333333333333333333333"
		inserted, err = store.UpsertPoolIfAbsent(ctx, again)
		require.NoError(t, err)
		assert.False(t, inserted)

		pool, err := store.GetPool(ctx, testPool(1, 0).Address)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), pool.DiscoveredAtBlock)
		assert.Equal(t, tokenU, pool.TokenB)
		assert.Equal(t, models.PoolStateDiscovered, pool.State)
		assert.Nil(t, pool.LastCheckedAt)
		assert.True(t, pool.CurrentLiquidity.IsZero())

		all, err := store.ListPools(ctx, models.PoolFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("UpdateLiquidity", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		pool := testPool(2, 100)
		_, err := store.UpsertPoolIfAbsent(ctx, pool)
		require.NoError(t, err)

		big := decimal.RequireFromString("340282366920938463463374607431768211455")
		checkedAt := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, store.UpdateLiquidity(ctx, pool.Address, big, checkedAt))

		got, err := store.GetPool(ctx, pool.Address)
		require.NoError(t, err)
		assert.True(t, big.Equal(got.CurrentLiquidity))
		require.NotNil(t, got.LastCheckedAt)
		assert.True(t, checkedAt.Equal(*got.LastCheckedAt))

		err = store.UpdateLiquidity(ctx, "0xdead", big, checkedAt)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("TransitionIsCompareAndSet", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		pool := testPool(3, 100)
		_, err := store.UpsertPoolIfAbsent(ctx, pool)
		require.NoError(t, err)

		ok, err := store.TransitionToTradeable(ctx, pool.Address)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.TransitionToTradeable(ctx, pool.Address)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := store.GetPool(ctx, pool.Address)
		require.NoError(t, err)
		assert.Equal(t, models.PoolStateTradeable, got.State)
		assert.NotNil(t, got.TradeableAt)

		_, err = store.TransitionToTradeable(ctx, "0xmissing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ConcurrentTransitionHasOneWinner", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		pool := testPool(4, 100)
		_, err := store.UpsertPoolIfAbsent(ctx, pool)
		require.NoError(t, err)

		var winners atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.TransitionToTradeable(ctx, pool.Address)
				assert.NoError(t, err)
				if ok {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), winners.Load())
	})

	t.Run("ListNonTradeablePools", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		fresh, stale, never, done := testPool(10, 1), testPool(11, 2), testPool(12, 3), testPool(13, 4)
		for _, p := range []*models.Pool{fresh, stale, never, done} {
			_, err := store.UpsertPoolIfAbsent(ctx, p)
			require.NoError(t, err)
		}
		require.NoError(t, store.UpdateLiquidity(ctx, fresh.Address, decimal.NewFromInt(1), now))
		require.NoError(t, store.UpdateLiquidity(ctx, stale.Address, decimal.NewFromInt(1), now.Add(-time.Hour)))
		_, err := store.TransitionToTradeable(ctx, done.Address)
		require.NoError(t, err)

		due, err := store.ListNonTradeablePools(ctx, now.Add(-30*time.Second))
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, never.Address, due[0].Address, "never-checked pools come first")
		assert.Equal(t, stale.Address, due[1].Address)

		count, err := store.CountNonTradeablePools(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})

	t.Run("Cursor", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, ok, err := store.GetCursor(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, store.SetCursor(ctx, 100))
		require.NoError(t, store.SetCursor(ctx, 1100))
		block, ok, err := store.GetCursor(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(1100), block)
	})

	t.Run("Notifications", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		pool := testPool(20, 100)
		_, err := store.UpsertPoolIfAbsent(ctx, pool)
		require.NoError(t, err)

		failed := &models.Notification{
			PoolAddress: pool.Address,
			Kind:        models.NotificationKindLiquidityThresholdCrossed,
			Channel:     "webhook",
			Error:       "503 Service Unavailable",
		}
		require.NoError(t, store.RecordNotification(ctx, failed))
		assert.NotEmpty(t, failed.ID)

		ok := &models.Notification{
			ID:          uuid.New().String(),
			PoolAddress: pool.Address,
			Kind:        models.NotificationKindLiquidityThresholdCrossed,
			Channel:     "webhook",
			Success:     true,
		}
		require.NoError(t, store.RecordNotification(ctx, ok))

		dup := *ok
		dup.ID = uuid.New().String()
		err = store.RecordNotification(ctx, &dup)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDuplicateKey))

		// the once-only key is per channel
		other := *ok
		other.ID = uuid.New().String()
		other.Channel = "log"
		require.NoError(t, store.RecordNotification(ctx, &other))

		onlyFailed := false
		records, err := store.ListNotifications(ctx, models.NotificationFilter{Success: &onlyFailed})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "503 Service Unavailable", records[0].Error)

		stats, err := store.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.TotalPools)
		assert.Equal(t, int64(2), stats.SuccessfulNotifications)
		assert.Equal(t, int64(1), stats.FailedNotifications)
	})

	t.Run("Health", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.Ping())
		assert.True(t, store.GetHealth().Healthy)
	})
}
