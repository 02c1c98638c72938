package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/pool-listener/internal/metrics"
	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/internal/storage"
	"github.com/smartdevs17/pool-listener/pkg/utils"
	"golang.org/x/sync/semaphore"
)

// CrossingHandler is called when a discovered pool reads at or above the threshold
type CrossingHandler interface {
	HandleCrossing(ctx context.Context, pool *models.Pool, liquidity decimal.Decimal) (bool, error)
}

// Scheduler periodically submits due non-tradeable pools to a bounded set
// of workers. Submission never blocks: when every worker is busy the
// remaining pools wait for the next tick. A pool is never checked by two
// workers at once.
type Scheduler struct {
	storage        storage.Storage
	evaluator      *Evaluator
	crossing       CrossingHandler
	metricsManager *metrics.Manager
	config         *MonitorConfig
	logger         *logrus.Entry

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	// cancelled by Shutdown, not by the cadence context
	workerCtx    context.Context
	workerCancel context.CancelFunc

	mu       sync.Mutex
	inFlight map[string]struct{}

	busy         atomic.Int64
	nonTradeable atomic.Int64
	stats        schedulerCounters
	closed       atomic.Bool
}

type schedulerCounters struct {
	dispatches   atomic.Uint64
	submitted    atomic.Uint64
	checks       atomic.Uint64
	failedChecks atomic.Uint64
	crossings    atomic.Uint64
	deferred     atomic.Uint64
}

// SchedulerStats provides scheduler statistics
type SchedulerStats struct {
	Dispatches   uint64 `json:"dispatches"`
	Submitted    uint64 `json:"submitted"`
	Checks       uint64 `json:"checks"`
	FailedChecks uint64 `json:"failed_checks"`
	Crossings    uint64 `json:"crossings"`
	Deferred     uint64 `json:"deferred"`
	InFlight     int    `json:"in_flight"`
	MaxWorkers   int    `json:"max_workers"`
	NonTradeable int64  `json:"non_tradeable"`
}

// NewScheduler creates a scheduler. metricsManager may be nil.
func NewScheduler(
	store storage.Storage,
	evaluator *Evaluator,
	crossing CrossingHandler,
	metricsManager *metrics.Manager,
	config *MonitorConfig,
) *Scheduler {
	workerCtx, workerCancel := context.WithCancel(context.Background())
	return &Scheduler{
		storage:        store,
		evaluator:      evaluator,
		crossing:       crossing,
		metricsManager: metricsManager,
		config:         config,
		logger:         utils.GetLogger().WithField("component", "scheduler"),
		sem:            semaphore.NewWeighted(int64(config.MaxWorkers)),
		workerCtx:      workerCtx,
		workerCancel:   workerCancel,
		inFlight:       make(map[string]struct{}),
	}
}

// Dispatch submits every due pool that is not already in flight, as long as
// a worker slot is free. It returns the number of pools submitted.
func (s *Scheduler) Dispatch(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, nil
	}
	s.stats.dispatches.Add(1)

	if count, err := s.storage.CountNonTradeablePools(ctx); err == nil {
		s.nonTradeable.Store(count)
		if s.metricsManager != nil {
			s.metricsManager.GetPrometheusMetrics().UpdateNonTradeablePools(count)
		}
	}

	olderThan := time.Now().Add(-s.config.LiquidityCheckInterval)
	pools, err := s.storage.ListNonTradeablePools(ctx, olderThan)
	if err != nil {
		s.logger.WithField("error", err.Error()).Warn("Failed to list pools due for a check")
		return 0, err
	}

	submitted := 0
	for i, pool := range pools {
		if !s.claim(pool.Address) {
			continue
		}
		if !s.sem.TryAcquire(1) {
			s.release(pool.Address)
			deferred := len(pools) - i
			s.stats.deferred.Add(uint64(deferred))
			s.logger.WithField("deferred", deferred).Debug("All workers busy, deferring to next tick")
			break
		}

		s.wg.Add(1)
		s.updateBusy(1)
		go s.worker(pool)
		submitted++
	}

	s.stats.submitted.Add(uint64(submitted))
	return submitted, nil
}

func (s *Scheduler) worker(pool *models.Pool) {
	defer s.wg.Done()
	defer s.sem.Release(1)
	defer s.release(pool.Address)
	defer s.updateBusy(-1)

	if err := s.Check(s.workerCtx, pool); err != nil {
		s.logger.WithFields(logrus.Fields{
			"pool":  pool.Address,
			"error": err.Error(),
		}).Warn("Liquidity check failed")
	}
}

// claim marks address as in flight. It returns false if it already was.
func (s *Scheduler) claim(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[address]; ok {
		return false
	}
	s.inFlight[address] = struct{}{}
	return true
}

func (s *Scheduler) release(address string) {
	s.mu.Lock()
	delete(s.inFlight, address)
	s.mu.Unlock()
}

func (s *Scheduler) updateBusy(delta int64) {
	n := s.busy.Add(delta)
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().UpdateWorkersBusy(int(n))
	}
}

// Check evaluates one pool, stores the reading and hands crossings to the
// state machine. A failed read leaves LastCheckedAt untouched so the pool
// stays due.
func (s *Scheduler) Check(ctx context.Context, pool *models.Pool) error {
	start := time.Now()
	s.stats.checks.Add(1)

	eval, err := s.evaluator.Evaluate(ctx, pool)
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordLiquidityCheck(err == nil, time.Since(start))
	}
	if err != nil {
		s.stats.failedChecks.Add(1)
		return err
	}
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordLiquidityEvaluation(eval.AboveThreshold)
	}

	checkedAt := time.Now().UTC()
	err = s.config.StorePolicy.Named("update_liquidity").Do(ctx, func(ctx context.Context) error {
		return s.storage.UpdateLiquidity(ctx, pool.Address, eval.Liquidity, checkedAt)
	})
	if err != nil {
		s.stats.failedChecks.Add(1)
		return err
	}

	logger := s.logger.WithFields(logrus.Fields{
		"pool":      pool.Address,
		"liquidity": eval.Liquidity.String(),
		"threshold": s.evaluator.Threshold().String(),
	})

	if !eval.AboveThreshold || pool.IsTradeable() {
		logger.Debug("Liquidity below threshold")
		return nil
	}

	s.stats.crossings.Add(1)
	logger.Info("Liquidity threshold reached")
	if s.crossing == nil {
		return nil
	}
	_, err = s.crossing.HandleCrossing(ctx, pool, eval.Liquidity)
	return err
}

// Run dispatches immediately and then every CheckCadence until ctx ends.
// In-flight workers keep running; call Shutdown to wait for them.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.WithFields(logrus.Fields{
		"cadence":     s.config.CheckCadence,
		"max_workers": s.config.MaxWorkers,
	}).Info("Starting liquidity scheduler")

	ticker := time.NewTicker(s.config.CheckCadence)
	defer ticker.Stop()

	for {
		if _, err := s.Dispatch(ctx); err != nil && ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			s.logger.Info("Liquidity scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Shutdown stops accepting work and waits up to timeout for in-flight
// checks. Checks still running at the deadline are cancelled. It reports
// whether every worker finished in time.
func (s *Scheduler) Shutdown(timeout time.Duration) bool {
	s.closed.Store(true)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		s.workerCancel()
		return true
	case <-timer.C:
		s.logger.WithField("in_flight", s.InFlight()).Warn("Shutdown timeout reached, cancelling checks")
		s.workerCancel()
		<-done
		return false
	}
}

// Reopen re-arms a scheduler after Shutdown so Run can be called again.
// It must not race with Run or Shutdown.
func (s *Scheduler) Reopen() {
	if !s.closed.Load() {
		return
	}
	s.workerCtx, s.workerCancel = context.WithCancel(context.Background())
	s.closed.Store(false)
}

// InFlight returns the number of pools being checked
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() SchedulerStats {
	return SchedulerStats{
		Dispatches:   s.stats.dispatches.Load(),
		Submitted:    s.stats.submitted.Load(),
		Checks:       s.stats.checks.Load(),
		FailedChecks: s.stats.failedChecks.Load(),
		Crossings:    s.stats.crossings.Load(),
		Deferred:     s.stats.deferred.Load(),
		InFlight:     s.InFlight(),
		MaxWorkers:   s.config.MaxWorkers,
		NonTradeable: s.nonTradeable.Load(),
	}
}
