// File: internal/notification/webhook.go
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/pkg/utils"
)

const userAgent = "Pool-Listener/1.0"

// WebhookPayload is the JSON body posted to generic webhooks
type WebhookPayload struct {
	Kind      models.NotificationKind `json:"kind"`
	Timestamp time.Time               `json:"timestamp"`
	Source    string                  `json:"source"`
	Title     string                  `json:"title"`
	Text      string                  `json:"text"`
	Pool      *models.Pool            `json:"pool"`
	PoolURL   string                  `json:"pool_url"`
	TradeURL  string                  `json:"trade_url"`
	Version   string                  `json:"version"`
}

// poster sends JSON bodies and classifies the response
type poster struct {
	url        string
	httpClient *http.Client
	logger     *NotificationLogger
}

func newPoster(url string, timeout time.Duration, logger *NotificationLogger) *poster {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &poster{
		url:    url,
		logger: logger,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

func (p *poster) post(ctx context.Context, body interface{}) error {
	start := time.Now()

	jsonData, err := json.Marshal(body)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeValidation, "Failed to marshal webhook payload", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(jsonData))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeValidation, "Failed to create webhook request", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		err = utils.WrapError(utils.ErrCodeExternal, "Failed to send webhook", err)
		p.logger.LogWebhookResponse(p.url, 0, time.Since(start), err)
		return err
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	err = classifyStatus(resp.StatusCode, string(snippet))
	p.logger.LogWebhookResponse(p.url, resp.StatusCode, time.Since(start), err)
	return err
}

// classifyStatus maps an HTTP status to nil, a transient error, or a
// permanent one. Client errors other than timeouts and rate limits are
// not retried.
func classifyStatus(status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return utils.NewAppError(utils.ErrCodeExternal, "Webhook returned non-success status",
			fmt.Sprintf("status: %d, body: %s", status, body))
	default:
		return utils.NewAppError(utils.ErrCodeValidation, "Webhook rejected request",
			fmt.Sprintf("status: %d, body: %s", status, body))
	}
}

// WebhookChannel posts a JSON description of the notification
type WebhookChannel struct {
	poster *poster
}

// NewWebhookChannel creates a generic JSON webhook channel
func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	logger := NewNotificationLogger().WithField("channel", ChannelWebhook)
	return &WebhookChannel{poster: newPoster(url, timeout, logger)}
}

func (c *WebhookChannel) Name() string { return ChannelWebhook }

func (c *WebhookChannel) Send(ctx context.Context, msg *Message) error {
	return c.poster.post(ctx, &WebhookPayload{
		Kind:      msg.Kind,
		Timestamp: msg.CreatedAt,
		Source:    "pool-listener",
		Title:     msg.Title,
		Text:      msg.Text,
		Pool:      msg.Pool,
		PoolURL:   msg.PoolURL,
		TradeURL:  msg.TradeURL,
		Version:   "1.0",
	})
}

// Discord embed colours
const (
	discordColorMonitoring = 0x3498DB
	discordColorSuccess    = 0x00FF00
)

type discordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	URL         string              `json:"url,omitempty"`
	Color       int                 `json:"color"`
	Timestamp   string              `json:"timestamp"`
	Fields      []discordEmbedField `json:"fields"`
	Footer      *discordEmbedFooter `json:"footer,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbedFooter struct {
	Text string `json:"text"`
}

// DiscordChannel posts a rich embed to a Discord webhook
type DiscordChannel struct {
	poster *poster
}

// NewDiscordChannel creates a Discord webhook channel
func NewDiscordChannel(url string, timeout time.Duration) *DiscordChannel {
	logger := NewNotificationLogger().WithField("channel", ChannelDiscord)
	return &DiscordChannel{poster: newPoster(url, timeout, logger)}
}

func (c *DiscordChannel) Name() string { return ChannelDiscord }

func (c *DiscordChannel) Send(ctx context.Context, msg *Message) error {
	return c.poster.post(ctx, discordMessage(msg))
}

func discordMessage(msg *Message) *discordPayload {
	pool := msg.Pool
	embed := discordEmbed{
		Title:     msg.Title,
		URL:       msg.PoolURL,
		Timestamp: msg.CreatedAt.Format(time.RFC3339),
		Fields: []discordEmbedField{
			{Name: "Pool Address", Value: "```" + pool.Address + "```"},
			{Name: "Token Pair", Value: fmt.Sprintf("**Token A:** `%s`\n**Token B:** `%s`",
				shortAddress(pool.TokenA), shortAddress(pool.TokenB)), Inline: true},
			{Name: "Fee Tier", Value: fmt.Sprintf("**%s** (%d)", utils.FormatFeeTier(pool.FeeTier), pool.FeeTier), Inline: true},
			{Name: "Liquidity", Value: fmt.Sprintf("**%s**", pool.CurrentLiquidity.String())},
			{Name: "Links", Value: fmt.Sprintf("[Uniswap Pool](%s) • [Trade](%s)", msg.PoolURL, msg.TradeURL)},
		},
		Footer: &discordEmbedFooter{Text: fmt.Sprintf("Pool Listener • %s Monitor", msg.TokenSymbol)},
	}

	if msg.Kind == models.NotificationKindLiquidityThresholdCrossed {
		embed.Description = "**Pool has sufficient liquidity, ready to trade**"
		embed.Color = discordColorSuccess
	} else {
		embed.Description = "**New pool found, now monitoring for liquidity**"
		embed.Color = discordColorMonitoring
	}

	return &discordPayload{Embeds: []discordEmbed{embed}}
}
