package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPools(t *testing.T) {
	checked := time.Now()
	pools := []*models.Pool{
		{
			Address:           "0x00000000000000000000000000000000000000a1",
			TokenB:            "0x2222222222222222222222222222222222222222",
			FeeTier:           3000,
			CurrentLiquidity:  decimal.NewFromInt(24000),
			State:             models.PoolStateDiscovered,
			DiscoveredAtBlock: 42,
			LastCheckedAt:     &checked,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, renderPools(&buf, pools))
	out := buf.String()
	assert.Contains(t, out, "0x00000000000000000000000000000000000000a1")
	assert.Contains(t, out, "0.30%")
	assert.Contains(t, out, "24000")
	assert.Contains(t, out, "1 pools")
}

func TestRenderStats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderStats(&buf, &models.PoolStats{TotalPools: 7, TradeablePools: 2, FailedNotifications: 1}))
	out := buf.String()
	assert.Contains(t, out, "Total pools")
	assert.Contains(t, out, "7")
	assert.Contains(t, out, "Notifications failed")
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	assert.Equal(t, "pool-listener "+AppVersion+"\n", buf.String())
}
