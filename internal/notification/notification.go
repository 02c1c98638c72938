// File: internal/notification/notification.go
package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smartdevs17/pool-listener/internal/config"
	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/internal/retry"
	"github.com/smartdevs17/pool-listener/pkg/utils"
)

// Channel names
const (
	ChannelLog     = "log"
	ChannelWebhook = "webhook"
	ChannelDiscord = "discord"
	ChannelEmail   = "email"
)

// Dispatcher delivers a pool notification to a set of channels and reports
// the outcome per channel. It never returns an aggregate error.
type Dispatcher interface {
	Send(ctx context.Context, kind models.NotificationKind, pool *models.Pool, channels []string) []models.ChannelResult
}

// Channel delivers a rendered message to one destination
type Channel interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// NotificationManager implements Dispatcher over a fixed set of channels
type NotificationManager struct {
	target config.TargetConfig
	logger *NotificationLogger

	mu       sync.RWMutex
	channels map[string]Channel
	stats    *NotificationStats
}

// NotificationStats provides notification statistics
type NotificationStats struct {
	TotalNotificationsSent   uint64     `json:"total_notifications_sent"`
	TotalNotificationsFailed uint64     `json:"total_notifications_failed"`
	ActiveChannels           int        `json:"active_channels"`
	LastError                *string    `json:"last_error,omitempty"`
	LastErrorTime            *time.Time `json:"last_error_time,omitempty"`
}

type NotificationHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// NewNotificationManager creates a manager with the given channels
func NewNotificationManager(target config.TargetConfig, channels ...Channel) *NotificationManager {
	nm := &NotificationManager{
		target:   target,
		logger:   NewNotificationLogger().WithField("component", "dispatcher"),
		channels: make(map[string]Channel),
		stats:    &NotificationStats{},
	}
	for _, ch := range channels {
		nm.channels[ch.Name()] = ch
	}
	return nm
}

// NewFromConfig builds every channel the configuration enables, each wrapped
// in the retry policy.
func NewFromConfig(cfg *config.NotificationConfig, target config.TargetConfig, policy retry.Policy) *NotificationManager {
	var channels []Channel
	for _, name := range cfg.Channels {
		var ch Channel
		switch name {
		case ChannelLog:
			ch = NewLogChannel()
		case ChannelWebhook:
			ch = NewWebhookChannel(cfg.WebhookURL, cfg.Timeout)
		case ChannelDiscord:
			ch = NewDiscordChannel(cfg.DiscordWebhookURL, cfg.Timeout)
		case ChannelEmail:
			ch = NewEmailChannel(EmailSenderConfig{
				SMTPHost:  cfg.SMTPHost,
				SMTPPort:  cfg.SMTPPort,
				Username:  cfg.SMTPUsername,
				Password:  cfg.SMTPPassword,
				FromEmail: cfg.FromEmail,
				FromName:  "Pool Listener",
				To:        cfg.ToEmails,
				Timeout:   cfg.Timeout,
			})
		default:
			continue
		}
		channels = append(channels, WithRetry(ch, policy))
	}
	return NewNotificationManager(target, channels...)
}

// Send renders the message once and delivers it to every requested channel
// concurrently. Unknown channels fail without a send. Results keep the order
// of channels.
func (nm *NotificationManager) Send(ctx context.Context, kind models.NotificationKind, pool *models.Pool, channels []string) []models.ChannelResult {
	msg := BuildMessage(kind, pool, nm.target)
	results := make([]models.ChannelResult, len(channels))

	var wg sync.WaitGroup
	for i, name := range channels {
		nm.mu.RLock()
		ch, ok := nm.channels[name]
		nm.mu.RUnlock()

		if !ok {
			results[i] = models.ChannelResult{
				Channel: name,
				Err:     utils.NewAppError(utils.ErrCodeValidation, "Unknown notification channel", name),
			}
			continue
		}

		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			start := time.Now()
			err := ch.Send(ctx, msg)
			results[i] = models.ChannelResult{
				Channel:  ch.Name(),
				Success:  err == nil,
				Err:      err,
				Duration: time.Since(start),
			}
		}(i, ch)
	}
	wg.Wait()

	for _, r := range results {
		nm.updateNotificationStats(r)
		fields := map[string]interface{}{
			"pool":     pool.Address,
			"kind":     string(kind),
			"channel":  r.Channel,
			"duration": r.Duration,
		}
		if r.Err != nil {
			fields["error"] = r.Err.Error()
			nm.logger.Warn("Notification failed", fields)
		} else {
			nm.logger.Debug("Notification sent", fields)
		}
	}
	return results
}

func (nm *NotificationManager) updateNotificationStats(r models.ChannelResult) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	nm.stats.TotalNotificationsSent++
	if r.Err != nil {
		nm.stats.TotalNotificationsFailed++
		errorStr := r.Err.Error()
		nm.stats.LastError = &errorStr
		now := time.Now()
		nm.stats.LastErrorTime = &now
	}
}

// Channels returns the configured channel names, sorted
func (nm *NotificationManager) Channels() []string {
	nm.mu.RLock()
	defer nm.mu.RUnlock()

	names := make([]string, 0, len(nm.channels))
	for name := range nm.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetStats returns notification statistics
func (nm *NotificationManager) GetStats() NotificationStats {
	nm.mu.RLock()
	defer nm.mu.RUnlock()

	stats := *nm.stats
	stats.ActiveChannels = len(nm.channels)
	return stats
}

func (nm *NotificationManager) GetHealth() *NotificationHealth {
	nm.mu.RLock()
	defer nm.mu.RUnlock()

	health := &NotificationHealth{Healthy: true}
	if nm.stats.LastError != nil {
		health.Error = *nm.stats.LastError
	}
	return health
}
