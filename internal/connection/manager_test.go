package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartdevs17/pool-listener/internal/config"
	"github.com/smartdevs17/pool-listener/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenNode answers every JSON-RPC request with a 500
func brokenNode(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "unavailable", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestConnectTriesEveryEndpointEachRound(t *testing.T) {
	utils.InitLogger("error", "text", "stdout", "")
	primary, primaryHits := brokenNode(t)
	backup, backupHits := brokenNode(t)

	cm := NewConnectionManager(&config.ChainConfig{
		NodeURL:        primary.URL,
		BackupNodes:    []string{backup.URL},
		RequestTimeout: time.Second,
		RetryAttempts:  2,
		RetryDelay:     10 * time.Millisecond,
	})
	defer cm.Close()

	_, err := cm.GetClientWithContext(context.Background())
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeConnection, utils.ErrorCode(err))
	assert.Equal(t, int32(2), primaryHits.Load())
	assert.Equal(t, int32(2), backupHits.Load())
}

func TestSetDialRoundsLimitsDialing(t *testing.T) {
	utils.InitLogger("error", "text", "stdout", "")
	node, hits := brokenNode(t)

	cm := NewConnectionManager(&config.ChainConfig{
		NodeURL:        node.URL,
		RequestTimeout: time.Second,
		RetryAttempts:  5,
		RetryDelay:     time.Second,
	})
	defer cm.Close()
	cm.SetDialRounds(1)

	start := time.Now()
	_, err := cm.GetClientWithContext(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Less(t, time.Since(start), time.Second)
}
