package connection

import (
	"context"

	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/internal/retry"
)

type retryingLedger struct {
	next   Ledger
	policy retry.Policy
}

// WithRetry wraps every Ledger call in policy. Validation failures pass
// through on the first attempt.
func WithRetry(next Ledger, policy retry.Policy) Ledger {
	return &retryingLedger{next: next, policy: policy}
}

func (r *retryingLedger) LatestBlock(ctx context.Context) (uint64, error) {
	return retry.DoValue(ctx, r.policy.Named("latest_block"), r.next.LatestBlock)
}

func (r *retryingLedger) GetCreationEvents(ctx context.Context, fromBlock, toBlock uint64) ([]models.PoolCreatedEvent, error) {
	return retry.DoValue(ctx, r.policy.Named("get_creation_events"), func(ctx context.Context) ([]models.PoolCreatedEvent, error) {
		return r.next.GetCreationEvents(ctx, fromBlock, toBlock)
	})
}

func (r *retryingLedger) GetReserves(ctx context.Context, poolAddress string) (*models.Reserves, error) {
	return retry.DoValue(ctx, r.policy.Named("get_reserves"), func(ctx context.Context) (*models.Reserves, error) {
		return r.next.GetReserves(ctx, poolAddress)
	})
}
