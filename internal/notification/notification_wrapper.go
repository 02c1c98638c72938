// File: internal/notification/notification_wrapper.go
package notification

import (
	"context"

	"github.com/smartdevs17/pool-listener/internal/metrics"
	"github.com/smartdevs17/pool-listener/internal/models"
)

// DispatcherWithMetrics records per-channel delivery metrics
type DispatcherWithMetrics struct {
	Dispatcher
	metricsManager *metrics.Manager
}

// NewDispatcherWithMetrics wraps next with metrics
func NewDispatcherWithMetrics(next Dispatcher, metricsManager *metrics.Manager) *DispatcherWithMetrics {
	return &DispatcherWithMetrics{
		Dispatcher:     next,
		metricsManager: metricsManager,
	}
}

// Send delegates and records one sample per channel result
func (d *DispatcherWithMetrics) Send(ctx context.Context, kind models.NotificationKind, pool *models.Pool, channels []string) []models.ChannelResult {
	results := d.Dispatcher.Send(ctx, kind, pool, channels)
	prometheus := d.metricsManager.GetPrometheusMetrics()
	for _, r := range results {
		prometheus.RecordNotification(string(kind), r.Channel, r.Success, r.Duration)
	}
	return results
}
