package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/smartdevs17/pool-listener/internal/config"
	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/pkg/utils"
)

const uniswapAppURL = "https://app.uniswap.org/#"

// Message is a notification rendered once and shared by all channels
type Message struct {
	Kind        models.NotificationKind `json:"kind"`
	Pool        *models.Pool            `json:"pool"`
	TokenSymbol string                  `json:"token_symbol"`
	Title       string                  `json:"title"`
	Text        string                  `json:"text"`
	PoolURL     string                  `json:"pool_url"`
	TradeURL    string                  `json:"trade_url"`
	CreatedAt   time.Time               `json:"created_at"`
}

// BuildMessage renders the text for kind
func BuildMessage(kind models.NotificationKind, pool *models.Pool, target config.TargetConfig) *Message {
	symbol := target.TokenSymbol
	if symbol == "" {
		symbol = "TOKEN"
	}
	msg := &Message{
		Kind:        kind,
		Pool:        pool,
		TokenSymbol: symbol,
		PoolURL:     fmt.Sprintf("%s/pool/%s", uniswapAppURL, pool.Address),
		TradeURL:    fmt.Sprintf("%s/swap?inputCurrency=ETH&outputCurrency=%s", uniswapAppURL, target.TokenAddress),
		CreatedAt:   time.Now().UTC(),
	}

	var b strings.Builder
	switch kind {
	case models.NotificationKindLiquidityThresholdCrossed:
		msg.Title = fmt.Sprintf("%s NOW TRADEABLE", symbol)
		fmt.Fprintf(&b, "%s pool has sufficient liquidity\n", symbol)
	default:
		msg.Title = fmt.Sprintf("%s pool discovered", symbol)
		fmt.Fprintf(&b, "New %s pool found, monitoring for liquidity\n", symbol)
	}
	fmt.Fprintf(&b, "Pool: %s\n", pool.Address)
	fmt.Fprintf(&b, "Pair: %s / %s\n", shortAddress(pool.TokenA), shortAddress(pool.TokenB))
	fmt.Fprintf(&b, "Fee: %s (%d)\n", utils.FormatFeeTier(pool.FeeTier), pool.FeeTier)
	fmt.Fprintf(&b, "Liquidity: %s\n", pool.CurrentLiquidity.String())
	fmt.Fprintf(&b, "Trade: %s\n", msg.TradeURL)
	fmt.Fprintf(&b, "Pool: %s", msg.PoolURL)
	msg.Text = b.String()

	return msg
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:8] + "..." + addr[len(addr)-6:]
}
