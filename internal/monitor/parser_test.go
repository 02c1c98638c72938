package monitor

import (
	"strings"
	"testing"

	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/internal/retry"
	"github.com/smartdevs17/pool-listener/pkg/utils"
	"github.com/stretchr/testify/assert"
)

func TestEventParserValidate(t *testing.T) {
	p := NewEventParser()
	valid := creationEvent(1, 10, targetToken, otherToken)
	assert.NoError(t, p.Validate(valid))

	tests := []struct {
		name   string
		mutate func(ev *models.PoolCreatedEvent)
	}{
		{"decode error", func(ev *models.PoolCreatedEvent) { ev.DecodeError = "short data" }},
		{"missing pool", func(ev *models.PoolCreatedEvent) { ev.PoolAddress = "" }},
		{"malformed token0", func(ev *models.PoolCreatedEvent) { ev.Token0 = "0x1234" }},
		{"zero token1", func(ev *models.PoolCreatedEvent) { ev.Token1 = "0x0000000000000000000000000000000000000000" }},
		{"self pair", func(ev *models.PoolCreatedEvent) { ev.Token1 = strings.ToLower(ev.Token0) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := valid
			tt.mutate(&ev)
			err := p.Validate(ev)
			assert.Error(t, err)
			assert.True(t, retry.IsPermanent(err))
			assert.Equal(t, utils.ErrCodeValidation, utils.ErrorCode(err))
			assert.Contains(t, err.Error(), ev.TxHash)
		})
	}
}

func TestTargetFilter(t *testing.T) {
	f := NewTargetFilter(" " + targetToken)
	assert.Equal(t, strings.ToLower(targetToken), f.Target())

	assert.Nil(t, f.ToPool(creationEvent(1, 10, otherToken, thirdToken)))

	for _, ev := range []models.PoolCreatedEvent{
		creationEvent(2, 11, targetToken, otherToken),
		creationEvent(2, 11, strings.ToUpper(otherToken[2:]), strings.ToLower(targetToken)),
	} {
		assert.True(t, f.Matches(ev))
		pool := f.ToPool(ev)
		if assert.NotNil(t, pool) {
			assert.Equal(t, f.Target(), pool.TokenA)
			assert.Equal(t, otherToken, pool.TokenB)
			assert.Equal(t, poolAddr(2), pool.Address)
			assert.Equal(t, uint32(3000), pool.FeeTier)
			assert.Equal(t, int32(60), pool.TickSpacing)
			assert.Equal(t, uint64(11), pool.DiscoveredAtBlock)
			assert.Equal(t, models.PoolStateDiscovered, pool.State)
		}
	}
}
