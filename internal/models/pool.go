package models

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// PoolState is the lifecycle state of a tracked pool
type PoolState string

const (
	// PoolStateDiscovered is the initial state: the pool exists but has not
	// yet been seen with liquidity at or above the threshold.
	PoolStateDiscovered PoolState = "discovered"
	// PoolStateTradeable is terminal.
	PoolStateTradeable PoolState = "tradeable"
)

// Valid reports whether s is a known state
func (s PoolState) Valid() bool {
	return s == PoolStateDiscovered || s == PoolStateTradeable
}

// Pool represents a trading pool that pairs the target asset with another asset
type Pool struct {
	Address           string          `json:"address" db:"address"`
	TokenA            string          `json:"token_a" db:"token_a"` // always the target asset
	TokenB            string          `json:"token_b" db:"token_b"`
	FeeTier           uint32          `json:"fee_tier" db:"fee_tier"`
	TickSpacing       int32           `json:"tick_spacing" db:"tick_spacing"`
	DiscoveredAtBlock uint64          `json:"discovered_at_block" db:"discovered_at_block"`
	CreationTxHash    string          `json:"creation_tx_hash" db:"creation_tx_hash"`
	CurrentLiquidity  decimal.Decimal `json:"current_liquidity" db:"current_liquidity"`
	State             PoolState       `json:"state" db:"state"`
	LastCheckedAt     *time.Time      `json:"last_checked_at,omitempty" db:"last_checked_at"`
	TradeableAt       *time.Time      `json:"tradeable_at,omitempty" db:"tradeable_at"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// IsTradeable reports whether the pool reached the terminal state
func (p *Pool) IsTradeable() bool {
	return p.State == PoolStateTradeable
}

// Clone returns a copy safe to hand to another goroutine
func (p *Pool) Clone() *Pool {
	c := *p
	if p.LastCheckedAt != nil {
		t := *p.LastCheckedAt
		c.LastCheckedAt = &t
	}
	if p.TradeableAt != nil {
		t := *p.TradeableAt
		c.TradeableAt = &t
	}
	return &c
}

// PoolFilter for querying pools
type PoolFilter struct {
	State  *PoolState `json:"state,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

// Reserves is the liquidity reading for a pool at a point in time
type Reserves struct {
	Liquidity    *big.Int  `json:"liquidity"`
	SqrtPriceX96 *big.Int  `json:"sqrt_price_x96,omitempty"`
	BlockNumber  uint64    `json:"block_number,omitempty"`
	ReadAt       time.Time `json:"read_at"`
}

// LiquidityDecimal returns the liquidity figure as a decimal, zero when unset
func (r *Reserves) LiquidityDecimal() decimal.Decimal {
	if r == nil || r.Liquidity == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(r.Liquidity, 0)
}

// PoolStats summarises persisted state
type PoolStats struct {
	TotalPools              int64  `json:"total_pools"`
	TradeablePools          int64  `json:"tradeable_pools"`
	NonTradeablePools       int64  `json:"non_tradeable_pools"`
	SuccessfulNotifications int64  `json:"successful_notifications"`
	FailedNotifications     int64  `json:"failed_notifications"`
	LastProcessedBlock      uint64 `json:"last_processed_block"`
}
