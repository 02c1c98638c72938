// File: internal/processor/processor.go
package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/pool-listener/internal/metrics"
	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/internal/notification"
	"github.com/smartdevs17/pool-listener/internal/retry"
	"github.com/smartdevs17/pool-listener/internal/storage"
	"github.com/smartdevs17/pool-listener/pkg/utils"
)

// TransitionProcessor owns the pool state machine. Discovered pools become
// tradeable exactly once, and only the caller that wins the transition
// dispatches the alert.
type TransitionProcessor struct {
	// Dependencies
	storage        storage.Storage
	dispatcher     notification.Dispatcher
	metricsManager *metrics.Manager
	logger         *logrus.Entry

	config *ProcessorConfig

	mu    sync.RWMutex
	stats *ProcessorStats
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Channels      []string      `json:"channels"`
	NotifyTimeout time.Duration `json:"notify_timeout"`
	StorePolicy   retry.Policy  `json:"-"`
}

// ProcessorStats provides processor statistics
type ProcessorStats struct {
	Transitions         uint64     `json:"transitions"`
	LostRaces           uint64     `json:"lost_races"`
	NotificationsSent   uint64     `json:"notifications_sent"`
	NotificationsFailed uint64     `json:"notifications_failed"`
	RecordFailures      uint64     `json:"record_failures"`
	LastTransitionAt    *time.Time `json:"last_transition_at,omitempty"`
	LastError           *string    `json:"last_error,omitempty"`
	LastErrorTime       *time.Time `json:"last_error_time,omitempty"`
}

// NewTransitionProcessor creates a processor. metricsManager may be nil.
func NewTransitionProcessor(
	store storage.Storage,
	dispatcher notification.Dispatcher,
	metricsManager *metrics.Manager,
	config *ProcessorConfig,
) *TransitionProcessor {
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = 30 * time.Second
	}
	return &TransitionProcessor{
		storage:        store,
		dispatcher:     dispatcher,
		metricsManager: metricsManager,
		config:         config,
		logger:         utils.GetLogger().WithField("component", "processor"),
		stats:          &ProcessorStats{},
	}
}

// HandleCrossing is called when a discovered pool was observed at or above
// the threshold. The transition is retried until the store answers or ctx
// ends. A lost race returns false with no error and sends nothing.
func (tp *TransitionProcessor) HandleCrossing(ctx context.Context, pool *models.Pool, liquidity decimal.Decimal) (bool, error) {
	policy := tp.config.StorePolicy.Unbounded().Named("transition_to_tradeable")
	won, err := retry.DoValue(ctx, policy, func(ctx context.Context) (bool, error) {
		return tp.storage.TransitionToTradeable(ctx, pool.Address)
	})
	if err != nil {
		tp.recordError(err)
		return false, err
	}

	logger := tp.logger.WithFields(logrus.Fields{
		"pool":      pool.Address,
		"liquidity": liquidity.String(),
	})
	if !won {
		tp.mu.Lock()
		tp.stats.LostRaces++
		tp.mu.Unlock()
		logger.Debug("Pool already tradeable, skipping alert")
		return false, nil
	}

	now := time.Now().UTC()
	tp.mu.Lock()
	tp.stats.Transitions++
	tp.stats.LastTransitionAt = &now
	tp.mu.Unlock()
	if tp.metricsManager != nil {
		tp.metricsManager.GetPrometheusMetrics().RecordPoolTransition()
	}
	logger.Info("Pool is now tradeable")

	snapshot := pool.Clone()
	snapshot.CurrentLiquidity = liquidity
	snapshot.State = models.PoolStateTradeable
	snapshot.TradeableAt = &now

	tp.notify(ctx, models.NotificationKindLiquidityThresholdCrossed, snapshot)
	return true, nil
}

// HandleDiscovered announces a newly inserted pool
func (tp *TransitionProcessor) HandleDiscovered(ctx context.Context, pool *models.Pool) {
	tp.notify(ctx, models.NotificationKindPoolDiscovered, pool)
}

// notify dispatches kind and records one Notification per channel result.
// Both steps ignore cancellation of ctx and are bounded by NotifyTimeout.
func (tp *TransitionProcessor) notify(ctx context.Context, kind models.NotificationKind, pool *models.Pool) {
	if len(tp.config.Channels) == 0 || tp.dispatcher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tp.config.NotifyTimeout)
	defer cancel()

	results := tp.dispatcher.Send(ctx, kind, pool, tp.config.Channels)
	for _, r := range results {
		record := &models.Notification{
			PoolAddress: pool.Address,
			Kind:        kind,
			Channel:     r.Channel,
			Success:     r.Success,
			SentAt:      time.Now().UTC(),
		}
		if r.Err != nil {
			record.Error = r.Err.Error()
		}

		tp.mu.Lock()
		if r.Success {
			tp.stats.NotificationsSent++
		} else {
			tp.stats.NotificationsFailed++
		}
		tp.mu.Unlock()

		if err := tp.recordNotification(ctx, record); err != nil {
			tp.recordError(err)
			tp.mu.Lock()
			tp.stats.RecordFailures++
			tp.mu.Unlock()
			tp.logger.WithFields(logrus.Fields{
				"pool":    pool.Address,
				"kind":    string(kind),
				"channel": r.Channel,
				"error":   err.Error(),
			}).Error("Failed to record notification")
		}
	}
}

func (tp *TransitionProcessor) recordNotification(ctx context.Context, record *models.Notification) error {
	err := tp.config.StorePolicy.Named("record_notification").Do(ctx, func(ctx context.Context) error {
		return tp.storage.RecordNotification(ctx, record)
	})
	if errors.Is(err, storage.ErrDuplicateKey) {
		tp.logger.WithFields(logrus.Fields{
			"pool":    record.PoolAddress,
			"channel": record.Channel,
		}).Warn("Duplicate threshold alert suppressed by store")
		return nil
	}
	return err
}

func (tp *TransitionProcessor) recordError(err error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	msg := err.Error()
	now := time.Now()
	tp.stats.LastError = &msg
	tp.stats.LastErrorTime = &now
}

// GetStats returns a copy of the processor statistics
func (tp *TransitionProcessor) GetStats() ProcessorStats {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	return *tp.stats
}
