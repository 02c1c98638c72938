package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/smartdevs17/pool-listener/internal/metrics"
	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPool(t *testing.T, store storage.Storage, n int) *models.Pool {
	t.Helper()
	pool := NewTargetFilter(targetToken).ToPool(creationEvent(n, uint64(n), targetToken, otherToken))
	require.NotNil(t, pool)
	inserted, err := store.UpsertPoolIfAbsent(context.Background(), pool)
	require.NoError(t, err)
	require.True(t, inserted)
	return pool
}

func newTestScheduler(store storage.Storage, ledger *fakeLedger, d *recordingDispatcher, mm *metrics.Manager, workers int) *Scheduler {
	cfg := testConfig()
	cfg.MaxWorkers = workers
	return NewScheduler(store, NewEvaluator(ledger, cfg.Threshold), newTestProcessor(store, d), mm, cfg)
}

func waitStarted(t *testing.T, ch <-chan string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d checks started", i, n)
		}
	}
}

func TestCheckBelowThresholdRecordsReading(t *testing.T) {
	store := newTestStore(t)
	pool := seedPool(t, store, 1)
	ledger := newFakeLedger(100)
	ledger.setLiquidity(pool.Address, 24000)
	d := &recordingDispatcher{}
	s := newTestScheduler(store, ledger, d, nil, 2)
	ctx := context.Background()

	require.NoError(t, s.Check(ctx, pool))

	got, err := store.GetPool(ctx, pool.Address)
	require.NoError(t, err)
	assert.Equal(t, models.PoolStateDiscovered, got.State)
	assert.True(t, decimal.NewFromInt(24000).Equal(got.CurrentLiquidity))
	assert.NotNil(t, got.LastCheckedAt)
	assert.Nil(t, got.TradeableAt)
	assert.Equal(t, 0, d.count(models.NotificationKindLiquidityThresholdCrossed))

	ledger.setLiquidity(pool.Address, 30000)
	require.NoError(t, s.Check(ctx, got))

	got, err = store.GetPool(ctx, pool.Address)
	require.NoError(t, err)
	assert.Equal(t, models.PoolStateTradeable, got.State)
	assert.True(t, decimal.NewFromInt(30000).Equal(got.CurrentLiquidity))
	assert.NotNil(t, got.TradeableAt)
	assert.Equal(t, 1, d.count(models.NotificationKindLiquidityThresholdCrossed))

	n, err := store.CountNonTradeablePools(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCheckThresholdBoundary(t *testing.T) {
	tests := []struct {
		name      string
		liquidity int64
		tradeable bool
	}{
		{"one below threshold", 24999, false},
		{"exactly threshold", 25000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			pool := seedPool(t, store, 1)
			ledger := newFakeLedger(100)
			ledger.setLiquidity(pool.Address, tt.liquidity)
			d := &recordingDispatcher{}
			s := newTestScheduler(store, ledger, d, nil, 1)

			require.NoError(t, s.Check(context.Background(), pool))

			got, err := store.GetPool(context.Background(), pool.Address)
			require.NoError(t, err)
			assert.Equal(t, tt.tradeable, got.IsTradeable())
			assert.True(t, decimal.NewFromInt(tt.liquidity).Equal(got.CurrentLiquidity))

			alerts := 0
			if tt.tradeable {
				alerts = 1
			}
			assert.Equal(t, alerts, d.count(models.NotificationKindLiquidityThresholdCrossed))
		})
	}
}

func TestConcurrentChecksTransitionOnce(t *testing.T) {
	store := newTestStore(t)
	pool := seedPool(t, store, 1)
	ledger := newFakeLedger(100)
	ledger.setLiquidity(pool.Address, 50000)
	d := &recordingDispatcher{}
	s := newTestScheduler(store, ledger, d, nil, 8)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			assert.NoError(t, s.Check(context.Background(), pool.Clone()))
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, d.count(models.NotificationKindLiquidityThresholdCrossed))
	assert.Equal(t, uint64(8), s.GetStats().Crossings)
}

func TestCheckFailureLeavesPoolDue(t *testing.T) {
	store := newTestStore(t)
	pool := seedPool(t, store, 1)
	ledger := newFakeLedger(100)
	ledger.setLiquidity(pool.Address, 50000)
	ledger.failReads = 1
	mm := metrics.NewManager()
	s := newTestScheduler(store, ledger, &recordingDispatcher{}, mm, 1)
	ctx := context.Background()

	require.Error(t, s.Check(ctx, pool))

	got, err := store.GetPool(ctx, pool.Address)
	require.NoError(t, err)
	assert.Nil(t, got.LastCheckedAt)
	assert.Equal(t, models.PoolStateDiscovered, got.State)

	due, err := store.ListNonTradeablePools(ctx, time.Now())
	require.NoError(t, err)
	assert.Len(t, due, 1)

	stats := s.GetStats()
	assert.Equal(t, uint64(1), stats.Checks)
	assert.Equal(t, uint64(1), stats.FailedChecks)
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.GetPrometheusMetrics().LiquidityChecksTotal.WithLabelValues("failure")))
}

func TestDispatchNeverBlocksWhenSaturated(t *testing.T) {
	store := newTestStore(t)
	for i := 1; i <= 5; i++ {
		seedPool(t, store, i)
	}
	ledger := newFakeLedger(100)
	ledger.gate = make(chan struct{})
	ledger.started = make(chan string, 16)
	s := newTestScheduler(store, ledger, &recordingDispatcher{}, nil, 2)
	ctx := context.Background()

	begin := time.Now()
	n, err := s.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	waitStarted(t, ledger.started, 2)

	n, err = s.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Less(t, time.Since(begin), time.Second)

	stats := s.GetStats()
	assert.Equal(t, 2, stats.InFlight)
	assert.Equal(t, uint64(6), stats.Deferred)
	assert.Equal(t, int64(5), stats.NonTradeable)

	close(ledger.gate)
	assert.True(t, s.Shutdown(2*time.Second))
	assert.Equal(t, int32(2), ledger.reads.Load())
	assert.Equal(t, 0, s.InFlight())

	n, err = s.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDispatchSkipsPoolsInFlight(t *testing.T) {
	store := newTestStore(t)
	seedPool(t, store, 1)
	ledger := newFakeLedger(100)
	ledger.gate = make(chan struct{})
	ledger.started = make(chan string, 16)
	s := newTestScheduler(store, ledger, &recordingDispatcher{}, nil, 4)
	ctx := context.Background()

	n, err := s.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	waitStarted(t, ledger.started, 1)

	for i := 0; i < 3; i++ {
		n, err = s.Dispatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	}
	assert.Equal(t, 1, s.InFlight())

	close(ledger.gate)
	assert.True(t, s.Shutdown(2*time.Second))
	assert.Equal(t, int32(1), ledger.reads.Load())
}

func TestShutdownCancelsChecksAfterTimeout(t *testing.T) {
	store := newTestStore(t)
	seedPool(t, store, 1)
	ledger := newFakeLedger(100)
	ledger.gate = make(chan struct{})
	ledger.started = make(chan string, 16)
	mm := metrics.NewManager()
	s := newTestScheduler(store, ledger, &recordingDispatcher{}, mm, 1)

	n, err := s.Dispatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	waitStarted(t, ledger.started, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.GetPrometheusMetrics().WorkersBusy))

	assert.False(t, s.Shutdown(20*time.Millisecond))
	assert.Equal(t, int32(1), ledger.canceled.Load())
	assert.Equal(t, 0, s.InFlight())
	assert.Equal(t, 0.0, testutil.ToFloat64(mm.GetPrometheusMetrics().WorkersBusy))
}

func TestCancellingDispatchContextDoesNotAbortChecks(t *testing.T) {
	store := newTestStore(t)
	pool := seedPool(t, store, 1)
	ledger := newFakeLedger(100)
	ledger.setLiquidity(pool.Address, 1000)
	ledger.gate = make(chan struct{})
	ledger.started = make(chan string, 16)
	s := newTestScheduler(store, ledger, &recordingDispatcher{}, nil, 1)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.Dispatch(ctx)
	require.NoError(t, err)
	waitStarted(t, ledger.started, 1)
	cancel()

	close(ledger.gate)
	assert.True(t, s.Shutdown(2*time.Second))
	assert.Equal(t, int32(0), ledger.canceled.Load())

	got, err := store.GetPool(context.Background(), pool.Address)
	require.NoError(t, err)
	assert.NotNil(t, got.LastCheckedAt)
}

func TestReopenAfterShutdownResumesDispatch(t *testing.T) {
	store := newTestStore(t)
	pool := seedPool(t, store, 1)
	ledger := newFakeLedger(100)
	ledger.setLiquidity(pool.Address, 30000)
	d := &recordingDispatcher{}
	s := newTestScheduler(store, ledger, d, nil, 2)
	ctx := context.Background()

	require.True(t, s.Shutdown(time.Second))
	n, err := s.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	s.Reopen()
	n, err = s.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.True(t, s.Shutdown(time.Second))

	got, err := store.GetPool(ctx, pool.Address)
	require.NoError(t, err)
	assert.True(t, got.IsTradeable())
	assert.Equal(t, 1, d.count(models.NotificationKindLiquidityThresholdCrossed))
}
