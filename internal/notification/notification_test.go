package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/smartdevs17/pool-listener/internal/config"
	"github.com/smartdevs17/pool-listener/internal/metrics"
	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/internal/retry"
	"github.com/smartdevs17/pool-listener/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTarget = config.TargetConfig{
	TokenAddress: "0x1111111111111111111111111111111111111111",
	TokenSymbol:  "TKN",
}

func testPool() *models.Pool {
	return &models.Pool{
		Address:          "0x3333333333333333333333333333333333333333",
		TokenA:           testTarget.TokenAddress,
		TokenB:           "0x2222222222222222222222222222222222222222",
		FeeTier:          3000,
		CurrentLiquidity: decimal.NewFromInt(30000),
		State:            models.PoolStateTradeable,
	}
}

var fastPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}

type fakeChannel struct {
	name  string
	fails int32
	err   error
	calls atomic.Int32
	last  atomic.Pointer[Message]
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, msg *Message) error {
	f.last.Store(msg)
	if f.calls.Add(1) <= f.fails {
		return f.err
	}
	return nil
}

func TestBuildMessage(t *testing.T) {
	msg := BuildMessage(models.NotificationKindLiquidityThresholdCrossed, testPool(), testTarget)

	assert.Equal(t, "TKN NOW TRADEABLE", msg.Title)
	assert.Contains(t, msg.Text, "0.30%")
	assert.Contains(t, msg.Text, "30000")
	assert.Equal(t, "https://app.uniswap.org/#/pool/0x3333333333333333333333333333333333333333", msg.PoolURL)
	assert.Contains(t, msg.TradeURL, "outputCurrency="+testTarget.TokenAddress)

	discovered := BuildMessage(models.NotificationKindPoolDiscovered, testPool(), config.TargetConfig{})
	assert.Equal(t, "TOKEN pool discovered", discovered.Title)
}

func TestSendReportsPerChannel(t *testing.T) {
	ok := &fakeChannel{name: "ok"}
	bad := &fakeChannel{name: "bad", fails: 100, err: errors.New("down")}
	nm := NewNotificationManager(testTarget, ok, bad)

	results := nm.Send(context.Background(), models.NotificationKindLiquidityThresholdCrossed, testPool(),
		[]string{"ok", "bad", "missing"})

	require.Len(t, results, 3)
	assert.Equal(t, "ok", results[0].Channel)
	assert.True(t, results[0].Success)
	assert.NoError(t, results[0].Err)

	assert.Equal(t, "bad", results[1].Channel)
	assert.False(t, results[1].Success)
	assert.Error(t, results[1].Err)

	assert.Equal(t, "missing", results[2].Channel)
	assert.False(t, results[2].Success)
	assert.True(t, utils.IsPermanent(results[2].Err))

	stats := nm.GetStats()
	assert.Equal(t, uint64(3), stats.TotalNotificationsSent)
	assert.Equal(t, uint64(2), stats.TotalNotificationsFailed)
	assert.Equal(t, []string{"bad", "ok"}, nm.Channels())
}

func TestWithRetry(t *testing.T) {
	flaky := &fakeChannel{name: "flaky", fails: 2, err: utils.NewAppError(utils.ErrCodeExternal, "503", "")}
	require.NoError(t, WithRetry(flaky, fastPolicy).Send(context.Background(), &Message{}))
	assert.Equal(t, int32(3), flaky.calls.Load())

	down := &fakeChannel{name: "down", fails: 100, err: utils.NewAppError(utils.ErrCodeExternal, "503", "")}
	err := WithRetry(down, fastPolicy).Send(context.Background(), &Message{})
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeRetryExhausted, utils.ErrorCode(err))
	assert.Equal(t, int32(3), down.calls.Load())

	rejected := &fakeChannel{name: "rejected", fails: 100, err: utils.NewAppError(utils.ErrCodeValidation, "400", "")}
	require.Error(t, WithRetry(rejected, fastPolicy).Send(context.Background(), &Message{}))
	assert.Equal(t, int32(1), rejected.calls.Load())
}

func TestWebhookChannel(t *testing.T) {
	var got WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, time.Second)
	msg := BuildMessage(models.NotificationKindLiquidityThresholdCrossed, testPool(), testTarget)
	require.NoError(t, ch.Send(context.Background(), msg))

	assert.Equal(t, models.NotificationKindLiquidityThresholdCrossed, got.Kind)
	assert.Equal(t, "pool-listener", got.Source)
	require.NotNil(t, got.Pool)
	assert.Equal(t, testPool().Address, got.Pool.Address)
}

func TestWebhookStatusClassification(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, time.Second)
	msg := BuildMessage(models.NotificationKindPoolDiscovered, testPool(), testTarget)

	err := ch.Send(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, utils.IsTransient(err))

	status.Store(http.StatusBadRequest)
	err = ch.Send(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, utils.IsPermanent(err))
}

func TestDiscordChannel(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewDiscordChannel(srv.URL, time.Second)
	msg := BuildMessage(models.NotificationKindLiquidityThresholdCrossed, testPool(), testTarget)
	require.NoError(t, ch.Send(context.Background(), msg))

	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "TKN NOW TRADEABLE", got.Embeds[0].Title)
	assert.Equal(t, discordColorSuccess, got.Embeds[0].Color)
	assert.Contains(t, got.Embeds[0].Fields[2].Value, "0.30%")
}

func TestEmailChannelValidation(t *testing.T) {
	ch := NewEmailChannel(EmailSenderConfig{SMTPHost: "localhost", SMTPPort: 25, FromEmail: "a@b.c"})
	err := ch.Send(context.Background(), BuildMessage(models.NotificationKindPoolDiscovered, testPool(), testTarget))
	require.Error(t, err)
	assert.True(t, utils.IsPermanent(err))

	ch = NewEmailChannel(EmailSenderConfig{SMTPHost: "localhost", SMTPPort: 25, FromEmail: "a@b.c", To: []string{"nope"}})
	err = ch.Send(context.Background(), BuildMessage(models.NotificationKindPoolDiscovered, testPool(), testTarget))
	assert.True(t, utils.IsPermanent(err))
}

func TestEmailMessage(t *testing.T) {
	ch := NewEmailChannel(EmailSenderConfig{FromEmail: "bot@example.com", FromName: "Pool Listener", To: []string{"ops@example.com"}})
	body := ch.buildEmailMessage(BuildMessage(models.NotificationKindLiquidityThresholdCrossed, testPool(), testTarget))

	assert.Contains(t, body, "Subject: TKN NOW TRADEABLE\r\n")
	assert.Contains(t, body, "To: ops@example.com\r\n")
	assert.Contains(t, body, "Importance: high")
	assert.Contains(t, body, "0.30%")
}

func TestNewFromConfig(t *testing.T) {
	nm := NewFromConfig(&config.NotificationConfig{
		Channels:   []string{"log", "webhook", "bogus"},
		WebhookURL: "http://localhost:1",
	}, testTarget, fastPolicy)
	assert.Equal(t, []string{"log", "webhook"}, nm.Channels())

	results := nm.Send(context.Background(), models.NotificationKindPoolDiscovered, testPool(), []string{"log"})
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
}

func TestDispatcherWithMetrics(t *testing.T) {
	mm := metrics.NewManager()
	ok := &fakeChannel{name: "ok"}
	d := NewDispatcherWithMetrics(NewNotificationManager(testTarget, ok), mm)

	d.Send(context.Background(), models.NotificationKindLiquidityThresholdCrossed, testPool(), []string{"ok", "missing"})

	sent := mm.GetPrometheusMetrics().NotificationsSentTotal
	assert.Equal(t, 1.0, testutil.ToFloat64(sent.WithLabelValues("liquidity_threshold_crossed", "ok", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sent.WithLabelValues("liquidity_threshold_crossed", "missing", "failure")))
}
