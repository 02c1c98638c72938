package monitor

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/smartdevs17/pool-listener/internal/config"
	"github.com/smartdevs17/pool-listener/internal/retry"
	"github.com/smartdevs17/pool-listener/pkg/utils"
)

// MonitorConfig holds the resolved settings for discovery and monitoring
type MonitorConfig struct {
	TargetToken string `json:"target_token"`
	TokenSymbol string `json:"token_symbol"`

	// Discovery
	PollInterval       time.Duration `json:"poll_interval"`
	ErrorBackoff       time.Duration `json:"error_backoff"`
	StartFromLatest    bool          `json:"start_from_latest"`
	StartBlock         uint64        `json:"start_block"`
	MaxBlockRange      uint64        `json:"max_block_range"`
	ConfirmationBlocks uint64        `json:"confirmation_blocks"`
	NotifyOnDiscovery  bool          `json:"notify_on_discovery"`

	// Liquidity monitoring
	LiquidityCheckInterval time.Duration   `json:"liquidity_check_interval"`
	CheckCadence           time.Duration   `json:"check_cadence"`
	Threshold              decimal.Decimal `json:"threshold"`
	MaxWorkers             int             `json:"max_workers"`
	ShutdownTimeout        time.Duration   `json:"shutdown_timeout"`

	// StorePolicy governs store writes
	StorePolicy retry.Policy `json:"-"`
}

// NewMonitorConfig resolves monitor settings from the application config
func NewMonitorConfig(cfg *config.Config) (*MonitorConfig, error) {
	threshold, err := cfg.Monitor.Threshold()
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeConfiguration, "Invalid liquidity threshold", err)
	}

	mc := &MonitorConfig{
		TargetToken:            utils.NormalizeAddress(cfg.Target.TokenAddress),
		TokenSymbol:            cfg.Target.TokenSymbol,
		PollInterval:           cfg.Monitor.PollInterval,
		ErrorBackoff:           cfg.Monitor.ErrorBackoff,
		StartFromLatest:        cfg.Monitor.StartFromLatest(),
		MaxBlockRange:          cfg.Monitor.MaxBlockRange,
		ConfirmationBlocks:     cfg.Monitor.ConfirmationBlocks,
		NotifyOnDiscovery:      cfg.Notifications.Enabled && cfg.Notifications.NotifyOnDiscovery,
		LiquidityCheckInterval: cfg.Monitor.LiquidityCheckInterval,
		CheckCadence:           cfg.Monitor.CheckCadence,
		Threshold:              threshold,
		MaxWorkers:             cfg.Monitor.MaxWorkers,
		ShutdownTimeout:        cfg.Monitor.ShutdownTimeout,
		StorePolicy:            retry.FromConfig(cfg.Retry),
	}

	if !mc.StartFromLatest {
		mc.StartBlock, err = utils.ParseBlockNumber(cfg.Monitor.StartBlock)
		if err != nil {
			return nil, utils.WrapError(utils.ErrCodeConfiguration, "Invalid start block", err)
		}
	}
	mc.applyDefaults()
	return mc, nil
}

func (mc *MonitorConfig) applyDefaults() {
	if mc.PollInterval <= 0 {
		mc.PollInterval = 12 * time.Second
	}
	if mc.ErrorBackoff <= 0 {
		mc.ErrorBackoff = 15 * time.Second
	}
	if mc.MaxBlockRange == 0 {
		mc.MaxBlockRange = 1000
	}
	if mc.LiquidityCheckInterval <= 0 {
		mc.LiquidityCheckInterval = 30 * time.Second
	}
	if mc.CheckCadence <= 0 {
		mc.CheckCadence = 5 * time.Second
	}
	if mc.MaxWorkers < 1 {
		mc.MaxWorkers = 1
	}
	if mc.ShutdownTimeout <= 0 {
		mc.ShutdownTimeout = 30 * time.Second
	}
	if mc.StorePolicy.MaxAttempts == 0 {
		mc.StorePolicy = retry.DefaultPolicy()
	}
}
