// File: internal/notification/email.go
package notification

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/pkg/utils"
)

// EmailSenderConfig holds SMTP settings
type EmailSenderConfig struct {
	SMTPHost  string
	SMTPPort  int
	Username  string
	Password  string
	FromEmail string
	FromName  string
	To        []string
	Timeout   time.Duration
}

// EmailChannel sends HTML mail over SMTP, upgrading with STARTTLS when the
// server offers it
type EmailChannel struct {
	config EmailSenderConfig
	logger *NotificationLogger
}

// NewEmailChannel creates an SMTP channel
func NewEmailChannel(cfg EmailSenderConfig) *EmailChannel {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &EmailChannel{
		config: cfg,
		logger: NewNotificationLogger().WithField("channel", ChannelEmail),
	}
}

func (c *EmailChannel) Name() string { return ChannelEmail }

func (c *EmailChannel) Send(ctx context.Context, msg *Message) error {
	start := time.Now()
	subject := msg.Title

	if err := c.validate(); err != nil {
		c.logger.LogEmailResult(c.config.To, subject, time.Since(start), err)
		return err
	}

	err := c.deliver(ctx, c.buildEmailMessage(msg))
	c.logger.LogEmailResult(c.config.To, subject, time.Since(start), err)
	if err != nil {
		return utils.WrapError(utils.ErrCodeExternal, "Failed to send email", err)
	}
	return nil
}

func (c *EmailChannel) deliver(ctx context.Context, message string) error {
	addr := net.JoinHostPort(c.config.SMTPHost, strconv.Itoa(c.config.SMTPPort))

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, c.config.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: c.config.SMTPHost}); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}

	if c.config.Username != "" && c.config.Password != "" {
		auth := smtp.PlainAuth("", c.config.Username, c.config.Password, c.config.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}

	if err := client.Mail(c.config.FromEmail); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, recipient := range c.config.To {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", recipient, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err := writer.Write([]byte(message)); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}
	return client.Quit()
}

func (c *EmailChannel) buildEmailMessage(msg *Message) string {
	var message strings.Builder

	fmt.Fprintf(&message, "From: %s <%s>\r\n", c.config.FromName, c.config.FromEmail)
	fmt.Fprintf(&message, "To: %s\r\n", strings.Join(c.config.To, ", "))
	fmt.Fprintf(&message, "Subject: %s\r\n", msg.Title)
	message.WriteString("MIME-Version: 1.0\r\n")
	message.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	if msg.Kind == models.NotificationKindLiquidityThresholdCrossed {
		message.WriteString("X-Priority: 1\r\n")
		message.WriteString("Importance: high\r\n")
	}
	fmt.Fprintf(&message, "Date: %s\r\n", msg.CreatedAt.Format(time.RFC1123Z))
	message.WriteString("\r\n")

	pool := msg.Pool
	message.WriteString("<html><body>")
	fmt.Fprintf(&message, "<h2>%s</h2>", html.EscapeString(msg.Title))
	message.WriteString("<table border='1' cellpadding='5' cellspacing='0'>")
	rows := [][2]string{
		{"Pool", pool.Address},
		{"Token A", pool.TokenA},
		{"Token B", pool.TokenB},
		{"Fee", utils.FormatFeeTier(pool.FeeTier)},
		{"Liquidity", pool.CurrentLiquidity.String()},
	}
	for _, row := range rows {
		fmt.Fprintf(&message, "<tr><td><strong>%s</strong></td><td>%s</td></tr>", row[0], html.EscapeString(row[1]))
	}
	message.WriteString("</table>")
	fmt.Fprintf(&message, "<p><a href=\"%s\">Pool</a> | <a href=\"%s\">Trade</a></p>", msg.PoolURL, msg.TradeURL)
	fmt.Fprintf(&message, "<p><small>Sent at: %s</small></p>", msg.CreatedAt.Format(time.RFC3339))
	message.WriteString("</body></html>")

	return message.String()
}

func (c *EmailChannel) validate() error {
	if c.config.SMTPHost == "" || c.config.FromEmail == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "SMTP host and sender are required", "")
	}
	if len(c.config.To) == 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Email recipients are required", "")
	}
	for _, email := range c.config.To {
		if !isValidEmail(email) {
			return utils.NewAppError(utils.ErrCodeValidation, "Invalid email address", email)
		}
	}
	return nil
}

func isValidEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return false
	}
	return len(local) > 0 && len(local) <= 64 && len(domain) > 0
}
