package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/pool-listener/internal/connection"
	"github.com/smartdevs17/pool-listener/internal/metrics"
	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/internal/storage"
	"github.com/smartdevs17/pool-listener/pkg/utils"
)

// DiscoveryHandler is told about pools inserted by discovery
type DiscoveryHandler interface {
	HandleDiscovered(ctx context.Context, pool *models.Pool)
}

// Discovery scans the ledger for new pools involving the target asset and
// persists them. The cursor only moves after a whole range is stored.
type Discovery struct {
	ledger         connection.Ledger
	storage        storage.Storage
	handler        DiscoveryHandler
	metricsManager *metrics.Manager
	config         *MonitorConfig
	logger         *logrus.Entry

	parser *EventParser
	filter *TargetFilter

	mu     sync.RWMutex
	cursor uint64
	loaded bool
	capped bool
	stats  DiscoveryStats
}

// DiscoveryStats provides discovery statistics
type DiscoveryStats struct {
	Cursor          uint64     `json:"cursor"`
	ChainHead       uint64     `json:"chain_head"`
	RangesProcessed uint64     `json:"ranges_processed"`
	EventsSeen      uint64     `json:"events_seen"`
	InvalidEvents   uint64     `json:"invalid_events"`
	PoolsDiscovered uint64     `json:"pools_discovered"`
	ErrorCount      uint64     `json:"error_count"`
	LastError       *string    `json:"last_error,omitempty"`
	LastErrorTime   *time.Time `json:"last_error_time,omitempty"`
	LastRangeAt     *time.Time `json:"last_range_at,omitempty"`
	LastTickAt      *time.Time `json:"last_tick_at,omitempty"`
}

// NewDiscovery creates a discovery loop. handler and metricsManager may be nil.
func NewDiscovery(
	ledger connection.Ledger,
	store storage.Storage,
	handler DiscoveryHandler,
	metricsManager *metrics.Manager,
	config *MonitorConfig,
) *Discovery {
	return &Discovery{
		ledger:         ledger,
		storage:        store,
		handler:        handler,
		metricsManager: metricsManager,
		config:         config,
		logger:         utils.GetLogger().WithField("component", "discovery"),
		parser:         NewEventParser(),
		filter:         NewTargetFilter(config.TargetToken),
	}
}

// Init loads the persisted cursor, or seeds it from the configured start
// block on first run. A stored cursor always wins over configuration.
func (d *Discovery) Init(ctx context.Context) error {
	block, ok, err := d.storage.GetCursor(ctx)
	if err != nil {
		return err
	}

	if !ok {
		if d.config.StartFromLatest {
			head, err := d.ledger.LatestBlock(ctx)
			if err != nil {
				return err
			}
			block = safeHead(head, d.config.ConfirmationBlocks)
		} else if d.config.StartBlock > 0 {
			block = d.config.StartBlock - 1
		}

		err := d.config.StorePolicy.Named("set_cursor").Do(ctx, func(ctx context.Context) error {
			return d.storage.SetCursor(ctx, block)
		})
		if err != nil {
			return err
		}
		d.logger.WithField("cursor", block).Info("Initialized discovery cursor")
	} else {
		d.logger.WithField("cursor", block).Info("Resuming from stored cursor")
	}

	d.mu.Lock()
	d.cursor = block
	d.loaded = true
	d.stats.Cursor = block
	d.mu.Unlock()
	return nil
}

func safeHead(head, confirmations uint64) uint64 {
	if head < confirmations {
		return 0
	}
	return head - confirmations
}

// Cursor returns the last block whose pools are durably stored
func (d *Discovery) Cursor() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cursor
}

// Behind reports whether the last range was capped by max_block_range
func (d *Discovery) Behind() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.capped
}

// Tick scans one range. advanced is true when the cursor moved. On any error
// the cursor is left unchanged and the same range is scanned next time.
func (d *Discovery) Tick(ctx context.Context) (advanced bool, err error) {
	d.mu.RLock()
	loaded := d.loaded
	d.mu.RUnlock()
	if !loaded {
		if err := d.Init(ctx); err != nil {
			d.recordError(err)
			return false, err
		}
	}

	head, err := d.ledger.LatestBlock(ctx)
	if err != nil {
		d.recordError(err)
		return false, err
	}

	cursor := d.Cursor()
	r, ok, capped := NextRange(cursor, head, d.config.ConfirmationBlocks, d.config.MaxBlockRange)

	d.mu.Lock()
	d.stats.ChainHead = head
	d.capped = capped
	d.mu.Unlock()
	if d.metricsManager != nil {
		var behind uint64
		if safe := safeHead(head, d.config.ConfirmationBlocks); safe > cursor {
			behind = safe - cursor
		}
		d.metricsManager.GetPrometheusMetrics().UpdateBlocksBehind(behind)
	}
	if !ok {
		d.markTick()
		return false, nil
	}

	inserted, err := d.processRange(ctx, r)
	if d.metricsManager != nil {
		d.metricsManager.GetPrometheusMetrics().RecordBlockRange(err == nil)
	}
	if err != nil {
		d.recordError(err)
		d.logger.WithFields(logrus.Fields{
			"from_block": r.From,
			"to_block":   r.To,
			"error":      err.Error(),
		}).Warn("Range failed, cursor unchanged")
		return false, err
	}
	d.markTick()

	if d.handler != nil && d.config.NotifyOnDiscovery {
		for _, pool := range inserted {
			d.handler.HandleDiscovered(ctx, pool)
		}
	}
	return true, nil
}

// processRange fetches, validates, filters and stores the pools created in
// r, then commits the cursor to r.To.
func (d *Discovery) processRange(ctx context.Context, r BlockRange) ([]*models.Pool, error) {
	events, err := d.ledger.GetCreationEvents(ctx, r.From, r.To)
	if err != nil {
		return nil, err
	}

	var inserted []*models.Pool
	invalid := 0
	for _, ev := range events {
		if err := d.parser.Validate(ev); err != nil {
			invalid++
			if d.metricsManager != nil {
				d.metricsManager.GetPrometheusMetrics().RecordInvalidEvent()
			}
			d.logger.WithFields(logrus.Fields{
				"block":   ev.BlockNumber,
				"tx_hash": ev.TxHash,
				"error":   err.Error(),
			}).Warn("Skipping invalid creation event")
			continue
		}

		pool := d.filter.ToPool(ev)
		if pool == nil {
			continue
		}

		var isNew bool
		err := d.config.StorePolicy.Named("upsert_pool").Do(ctx, func(ctx context.Context) error {
			var err error
			isNew, err = d.storage.UpsertPoolIfAbsent(ctx, pool)
			return err
		})
		if err != nil {
			return nil, err
		}
		if !isNew {
			continue
		}

		inserted = append(inserted, pool)
		if d.metricsManager != nil {
			d.metricsManager.GetPrometheusMetrics().RecordPoolDiscovered(d.config.TokenSymbol)
		}
		d.logger.WithFields(logrus.Fields{
			"pool":    pool.Address,
			"token_b": pool.TokenB,
			"fee":     utils.FormatFeeTier(pool.FeeTier),
			"block":   pool.DiscoveredAtBlock,
			"tx_hash": pool.CreationTxHash,
		}).Info("Discovered new pool")
	}

	err = d.config.StorePolicy.Named("set_cursor").Do(ctx, func(ctx context.Context) error {
		return d.storage.SetCursor(ctx, r.To)
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	d.mu.Lock()
	d.cursor = r.To
	d.stats.Cursor = r.To
	d.stats.RangesProcessed++
	d.stats.EventsSeen += uint64(len(events))
	d.stats.InvalidEvents += uint64(invalid)
	d.stats.PoolsDiscovered += uint64(len(inserted))
	d.stats.LastRangeAt = &now
	d.mu.Unlock()
	if d.metricsManager != nil {
		d.metricsManager.GetPrometheusMetrics().UpdateLatestProcessedBlock(r.To)
	}

	d.logger.WithFields(logrus.Fields{
		"from_block": r.From,
		"to_block":   r.To,
		"events":     len(events),
		"new_pools":  len(inserted),
		"invalid":    invalid,
	}).Debug("Range processed")
	return inserted, nil
}

// Run ticks every PollInterval until ctx ends. While behind it ticks again
// immediately. After an error it waits ErrorBackoff and retries the same range.
func (d *Discovery) Run(ctx context.Context) {
	d.logger.WithField("interval", d.config.PollInterval).Info("Starting discovery loop")

	for {
		advanced, err := d.Tick(ctx)

		wait := d.config.PollInterval
		switch {
		case ctx.Err() != nil:
			d.logger.WithField("cursor", d.Cursor()).Info("Discovery stopped at checkpoint")
			return
		case err != nil:
			wait = d.config.ErrorBackoff
		case advanced && d.Behind():
			wait = 0
		}

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				d.logger.WithField("cursor", d.Cursor()).Info("Discovery stopped at checkpoint")
				return
			case <-timer.C:
			}
		}
	}
}

// markTick records a tick that completed without error
func (d *Discovery) markTick() {
	now := time.Now()
	d.mu.Lock()
	d.stats.LastTickAt = &now
	d.mu.Unlock()
}

func (d *Discovery) recordError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	msg := err.Error()
	now := time.Now()
	d.stats.ErrorCount++
	d.stats.LastError = &msg
	d.stats.LastErrorTime = &now
}

// GetStats returns a copy of the discovery statistics
func (d *Discovery) GetStats() DiscoveryStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}
