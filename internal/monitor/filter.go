// File: internal/monitor/filter.go
package monitor

import (
	"strings"

	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/pkg/utils"
)

// TargetFilter keeps pools that pair the target asset with something else
type TargetFilter struct {
	target string
}

// NewTargetFilter creates a filter for the given asset address
func NewTargetFilter(target string) *TargetFilter {
	return &TargetFilter{target: utils.NormalizeAddress(target)}
}

// Target returns the normalized target address
func (f *TargetFilter) Target() string {
	return f.target
}

// Matches reports whether either side of the pair is the target
func (f *TargetFilter) Matches(ev models.PoolCreatedEvent) bool {
	return strings.EqualFold(ev.Token0, f.target) || strings.EqualFold(ev.Token1, f.target)
}

// ToPool builds a new pool from a matching event with the target in TokenA.
// It returns nil when the event does not match.
func (f *TargetFilter) ToPool(ev models.PoolCreatedEvent) *models.Pool {
	if !f.Matches(ev) {
		return nil
	}

	other := ev.Token1
	if strings.EqualFold(ev.Token1, f.target) {
		other = ev.Token0
	}

	return &models.Pool{
		Address:           utils.NormalizeAddress(ev.PoolAddress),
		TokenA:            f.target,
		TokenB:            utils.NormalizeAddress(other),
		FeeTier:           ev.FeeTier,
		TickSpacing:       ev.TickSpacing,
		DiscoveredAtBlock: ev.BlockNumber,
		CreationTxHash:    ev.TxHash,
		State:             models.PoolStateDiscovered,
	}
}
