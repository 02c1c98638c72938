package monitor

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/smartdevs17/pool-listener/internal/connection"
	"github.com/smartdevs17/pool-listener/internal/models"
)

// Evaluation is one liquidity reading compared against the threshold
type Evaluation struct {
	Liquidity      decimal.Decimal  `json:"liquidity"`
	Reserves       *models.Reserves `json:"reserves"`
	AboveThreshold bool             `json:"above_threshold"`
}

// Evaluator reads a pool's liquidity and compares it to the threshold.
// Liquidity equal to the threshold counts as sufficient.
type Evaluator struct {
	ledger    connection.Ledger
	threshold decimal.Decimal
}

// NewEvaluator creates an evaluator
func NewEvaluator(ledger connection.Ledger, threshold decimal.Decimal) *Evaluator {
	return &Evaluator{ledger: ledger, threshold: threshold}
}

// Threshold returns the configured threshold
func (e *Evaluator) Threshold() decimal.Decimal {
	return e.threshold
}

// Evaluate reads the current liquidity of pool
func (e *Evaluator) Evaluate(ctx context.Context, pool *models.Pool) (*Evaluation, error) {
	reserves, err := e.ledger.GetReserves(ctx, pool.Address)
	if err != nil {
		return nil, err
	}
	liquidity := reserves.LiquidityDecimal()
	return &Evaluation{
		Liquidity:      liquidity,
		Reserves:       reserves,
		AboveThreshold: liquidity.GreaterThanOrEqual(e.threshold),
	}, nil
}
