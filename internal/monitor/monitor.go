// File: internal/monitor/monitor.go
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/pool-listener/internal/connection"
	"github.com/smartdevs17/pool-listener/internal/metrics"
	"github.com/smartdevs17/pool-listener/internal/storage"
	"github.com/smartdevs17/pool-listener/pkg/utils"
)

// Monitor defines the pool monitor interface
type Monitor interface {
	// Lifecycle management
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool

	// Statistics and monitoring
	GetStats() *MonitorStats
	GetHealth() *HealthStatus
}

// PoolMonitor runs the discovery loop and the liquidity scheduler
type PoolMonitor struct {
	// Dependencies
	storage        storage.Storage
	metricsManager *metrics.Manager
	logger         *logrus.Logger

	config *MonitorConfig

	// Components
	discovery *Discovery
	scheduler *Scheduler

	// State management
	lifecycle sync.Mutex
	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time
}

// MonitorStats provides monitoring statistics
type MonitorStats struct {
	StartTime time.Time      `json:"start_time"`
	Uptime    time.Duration  `json:"uptime"`
	IsRunning bool           `json:"is_running"`
	Discovery DiscoveryStats `json:"discovery"`
	Scheduler SchedulerStats `json:"scheduler"`
}

// HealthStatus provides health information
type HealthStatus struct {
	Healthy        bool       `json:"healthy"`
	Running        bool       `json:"running"`
	StorageHealthy bool       `json:"storage_healthy"`
	Cursor         uint64     `json:"cursor"`
	ChainHead      uint64     `json:"chain_head"`
	LastRangeAt    *time.Time `json:"last_range_at,omitempty"`
	Issues         []string   `json:"issues,omitempty"`
}

// NewPoolMonitor wires discovery and scheduling around the given ledger,
// store and state machine. ledger should already carry its retry policy.
func NewPoolMonitor(
	ledger connection.Ledger,
	store storage.Storage,
	handler interface {
		DiscoveryHandler
		CrossingHandler
	},
	metricsManager *metrics.Manager,
	config *MonitorConfig,
) *PoolMonitor {
	config.applyDefaults()
	return &PoolMonitor{
		storage:        store,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
		config:         config,
		discovery:      NewDiscovery(ledger, store, handler, metricsManager, config),
		scheduler:      NewScheduler(store, NewEvaluator(ledger, config.Threshold), handler, metricsManager, config),
	}
}

// Discovery returns the discovery loop
func (pm *PoolMonitor) Discovery() *Discovery {
	return pm.discovery
}

// Scheduler returns the liquidity scheduler
func (pm *PoolMonitor) Scheduler() *Scheduler {
	return pm.scheduler
}

// Start initializes the cursor and starts both loops. If the cursor cannot
// be seeded yet, discovery retries it on every tick.
func (pm *PoolMonitor) Start(ctx context.Context) error {
	pm.lifecycle.Lock()
	defer pm.lifecycle.Unlock()
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Monitor already running", "")
	}

	pm.logger.WithFields(logrus.Fields{
		"target":    pm.config.TargetToken,
		"symbol":    pm.config.TokenSymbol,
		"threshold": pm.config.Threshold.String(),
	}).Info("Starting pool monitor")

	if err := pm.discovery.Init(ctx); err != nil {
		pm.logger.WithField("error", err.Error()).Warn("Discovery cursor not initialized, retrying in the loop")
	}
	pm.scheduler.Reopen()

	loopCtx, cancel := context.WithCancel(ctx)
	pm.cancel = cancel
	pm.running = true
	pm.startTime = time.Now()

	pm.wg.Add(2)
	go func() {
		defer pm.wg.Done()
		pm.discovery.Run(loopCtx)
	}()
	go func() {
		defer pm.wg.Done()
		pm.scheduler.Run(loopCtx)
	}()

	pm.logger.Info("Pool monitor started")
	return nil
}

// Stop cancels both loops, waits for the current discovery step, then waits
// up to ShutdownTimeout for in-flight liquidity checks
func (pm *PoolMonitor) Stop() error {
	pm.lifecycle.Lock()
	defer pm.lifecycle.Unlock()

	pm.mu.Lock()
	if !pm.running {
		pm.mu.Unlock()
		return nil
	}
	pm.running = false
	cancel := pm.cancel
	pm.mu.Unlock()

	pm.logger.Info("Stopping pool monitor")
	cancel()
	pm.wg.Wait()

	clean := pm.scheduler.Shutdown(pm.config.ShutdownTimeout)
	pm.logger.WithFields(logrus.Fields{
		"cursor": pm.discovery.Cursor(),
		"clean":  clean,
	}).Info("Pool monitor stopped")
	return nil
}

// IsRunning returns whether the monitor is running
func (pm *PoolMonitor) IsRunning() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.running
}

// GetStats returns monitoring statistics
func (pm *PoolMonitor) GetStats() *MonitorStats {
	pm.mu.RLock()
	running, start := pm.running, pm.startTime
	pm.mu.RUnlock()

	stats := &MonitorStats{
		StartTime: start,
		IsRunning: running,
		Discovery: pm.discovery.GetStats(),
		Scheduler: pm.scheduler.GetStats(),
	}
	if running {
		stats.Uptime = time.Since(start)
	}
	return stats
}

// GetHealth reports whether both loops are making progress
func (pm *PoolMonitor) GetHealth() *HealthStatus {
	ds := pm.discovery.GetStats()
	health := &HealthStatus{
		Running:     pm.IsRunning(),
		Cursor:      ds.Cursor,
		ChainHead:   ds.ChainHead,
		LastRangeAt: ds.LastRangeAt,
	}

	if !health.Running {
		health.Issues = append(health.Issues, "monitor is not running")
	}

	if err := pm.storage.Ping(); err != nil {
		health.Issues = append(health.Issues, "storage unreachable: "+err.Error())
	} else {
		health.StorageHealthy = true
	}

	if ds.LastErrorTime != nil && (ds.LastTickAt == nil || ds.LastErrorTime.After(*ds.LastTickAt)) {
		health.Issues = append(health.Issues, "discovery failing: "+*ds.LastError)
	}

	health.Healthy = len(health.Issues) == 0
	if pm.metricsManager != nil {
		pm.metricsManager.UpdateComponentHealth("monitor", health.Healthy)
	}
	return health
}
