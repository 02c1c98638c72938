// File: internal/notification/logger.go
package notification

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/pool-listener/pkg/utils"
)

// NotificationLogger handles logging for notification operations
type NotificationLogger struct {
	logger  *logrus.Logger
	context map[string]interface{}
}

// NewNotificationLogger creates a logger on the shared application logger
func NewNotificationLogger() *NotificationLogger {
	return &NotificationLogger{
		logger:  utils.GetLogger(),
		context: make(map[string]interface{}),
	}
}

// WithContext adds context to the logger
func (nl *NotificationLogger) WithContext(context map[string]interface{}) *NotificationLogger {
	newLogger := &NotificationLogger{
		logger:  nl.logger,
		context: make(map[string]interface{}, len(nl.context)+len(context)),
	}
	for k, v := range nl.context {
		newLogger.context[k] = v
	}
	for k, v := range context {
		newLogger.context[k] = v
	}
	return newLogger
}

// WithField adds a single field to the logger context
func (nl *NotificationLogger) WithField(key string, value interface{}) *NotificationLogger {
	return nl.WithContext(map[string]interface{}{key: value})
}

func (nl *NotificationLogger) Debug(message string, context ...map[string]interface{}) {
	nl.log(logrus.DebugLevel, message, context...)
}

func (nl *NotificationLogger) Info(message string, context ...map[string]interface{}) {
	nl.log(logrus.InfoLevel, message, context...)
}

func (nl *NotificationLogger) Warn(message string, context ...map[string]interface{}) {
	nl.log(logrus.WarnLevel, message, context...)
}

func (nl *NotificationLogger) Error(message string, context ...map[string]interface{}) {
	nl.log(logrus.ErrorLevel, message, context...)
}

func (nl *NotificationLogger) log(level logrus.Level, message string, context ...map[string]interface{}) {
	merged := make(logrus.Fields, len(nl.context)+1)
	for k, v := range nl.context {
		merged[k] = v
	}
	for _, ctx := range context {
		for k, v := range ctx {
			merged[k] = v
		}
	}
	if _, ok := merged["component"]; !ok {
		merged["component"] = "notification"
	}
	nl.logger.WithFields(merged).Log(level, message)
}

// LogWebhookResponse logs a webhook response
func (nl *NotificationLogger) LogWebhookResponse(url string, statusCode int, duration time.Duration, err error) {
	context := map[string]interface{}{
		"url":         url,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}
	if err != nil {
		context["error"] = err.Error()
		nl.Error("Webhook failed", context)
	} else {
		nl.Debug("Webhook completed", context)
	}
}

// LogEmailResult logs an email result
func (nl *NotificationLogger) LogEmailResult(to []string, subject string, duration time.Duration, err error) {
	context := map[string]interface{}{
		"recipients":  len(to),
		"subject":     subject,
		"duration_ms": duration.Milliseconds(),
	}
	if err != nil {
		context["error"] = err.Error()
		nl.Error("Email failed", context)
	} else {
		nl.Debug("Email sent", context)
	}
}

// LogChannel writes notifications to the application log. It is always
// available and is the default channel.
type LogChannel struct {
	logger *NotificationLogger
}

// NewLogChannel creates the log channel
func NewLogChannel() *LogChannel {
	return &LogChannel{logger: NewNotificationLogger().WithField("channel", ChannelLog)}
}

func (c *LogChannel) Name() string { return ChannelLog }

func (c *LogChannel) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.logger.Info(msg.Title, map[string]interface{}{
		"kind":      string(msg.Kind),
		"pool":      msg.Pool.Address,
		"token_a":   msg.Pool.TokenA,
		"token_b":   msg.Pool.TokenB,
		"fee":       utils.FormatFeeTier(msg.Pool.FeeTier),
		"liquidity": msg.Pool.CurrentLiquidity.String(),
		"pool_url":  msg.PoolURL,
	})
	return nil
}
