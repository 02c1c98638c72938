package connection

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/pool-listener/internal/metrics"
	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/pkg/utils"
	"golang.org/x/time/rate"
)

// Ledger is the read surface the monitor needs from the chain
type Ledger interface {
	LatestBlock(ctx context.Context) (uint64, error)
	GetCreationEvents(ctx context.Context, fromBlock, toBlock uint64) ([]models.PoolCreatedEvent, error)
	GetReserves(ctx context.Context, poolAddress string) (*models.Reserves, error)
}

// ChainBackend is the subset of ethclient.Client used by PoolFactoryClient
type ChainBackend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// BackendFunc resolves the backend for one request
type BackendFunc func(ctx context.Context) (ChainBackend, error)

// ManagerBackend resolves requests through a connection manager
func ManagerBackend(m Manager) BackendFunc {
	return func(ctx context.Context) (ChainBackend, error) {
		client, err := m.GetClientWithContext(ctx)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// StaticBackend always uses b
func StaticBackend(b ChainBackend) BackendFunc {
	return func(context.Context) (ChainBackend, error) { return b, nil }
}

const uniswapV3ABI = `[
	{"anonymous":false,"name":"PoolCreated","type":"event","inputs":[
		{"indexed":true,"name":"token0","type":"address"},
		{"indexed":true,"name":"token1","type":"address"},
		{"indexed":true,"name":"fee","type":"uint24"},
		{"indexed":false,"name":"tickSpacing","type":"int24"},
		{"indexed":false,"name":"pool","type":"address"}]},
	{"name":"liquidity","type":"function","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint128"}]},
	{"name":"slot0","type":"function","stateMutability":"view","inputs":[],
	 "outputs":[
		{"name":"sqrtPriceX96","type":"uint160"},
		{"name":"tick","type":"int24"},
		{"name":"observationIndex","type":"uint16"},
		{"name":"observationCardinality","type":"uint16"},
		{"name":"observationCardinalityNext","type":"uint16"},
		{"name":"feeProtocol","type":"uint8"},
		{"name":"unlocked","type":"bool"}]}
]`

// PoolABI is the parsed factory event and pool view functions
var PoolABI = mustParseABI(uniswapV3ABI)

// PoolCreatedTopic is topic0 of PoolCreated(address,address,uint24,int24,address)
var PoolCreatedTopic = PoolABI.Events["PoolCreated"].ID

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid pool ABI: %v", err))
	}
	return parsed
}

// PoolFactoryClient reads pool creation events from a Uniswap V3 style
// factory and liquidity from the pools it creates
type PoolFactoryClient struct {
	backend        BackendFunc
	factory        common.Address
	limiter        *rate.Limiter
	metricsManager *metrics.Manager
	logger         *logrus.Entry
}

// ClientOption configures a PoolFactoryClient
type ClientOption func(*PoolFactoryClient)

// WithRateLimit caps outbound requests per second; rps <= 0 disables limiting
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *PoolFactoryClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMetrics records RPC metrics
func WithMetrics(m *metrics.Manager) ClientOption {
	return func(c *PoolFactoryClient) { c.metricsManager = m }
}

// NewPoolFactoryClient creates a ledger client for the given factory
func NewPoolFactoryClient(backend BackendFunc, factory common.Address, opts ...ClientOption) *PoolFactoryClient {
	c := &PoolFactoryClient{
		backend: backend,
		factory: factory,
		logger:  utils.GetLogger().WithField("component", "ledger"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LatestBlock returns the chain head
func (c *PoolFactoryClient) LatestBlock(ctx context.Context) (uint64, error) {
	var block uint64
	err := c.do(ctx, "eth_blockNumber", func(b ChainBackend) error {
		var err error
		block, err = b.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	return block, nil
}

// GetCreationEvents returns PoolCreated events emitted by the factory in [fromBlock, toBlock]
func (c *PoolFactoryClient) GetCreationEvents(ctx context.Context, fromBlock, toBlock uint64) ([]models.PoolCreatedEvent, error) {
	if fromBlock > toBlock {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid block range",
			fmt.Sprintf("from %d > to %d", fromBlock, toBlock))
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.factory},
		Topics:    [][]common.Hash{{PoolCreatedTopic}},
	}

	var logs []types.Log
	err := c.do(ctx, "eth_getLogs", func(b ChainBackend) error {
		var err error
		logs, err = b.FilterLogs(ctx, query)
		return err
	})
	if err != nil {
		return nil, err
	}

	events := make([]models.PoolCreatedEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		events = append(events, DecodePoolCreated(l))
	}

	c.logger.WithFields(logrus.Fields{
		"from_block": fromBlock,
		"to_block":   toBlock,
		"events":     len(events),
	}).Debug("Fetched pool creation events")
	return events, nil
}

// DecodePoolCreated turns a raw log into an event. Problems are reported in
// DecodeError rather than as an error so the caller can count and skip them.
func DecodePoolCreated(l types.Log) models.PoolCreatedEvent {
	event := models.PoolCreatedEvent{
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash.Hex(),
		LogIndex:    l.Index,
	}

	if len(l.Topics) != 4 || l.Topics[0] != PoolCreatedTopic {
		event.DecodeError = fmt.Sprintf("unexpected topics: got %d", len(l.Topics))
		return event
	}

	event.Token0 = utils.NormalizeAddress(common.BytesToAddress(l.Topics[1].Bytes()).Hex())
	event.Token1 = utils.NormalizeAddress(common.BytesToAddress(l.Topics[2].Bytes()).Hex())
	fee := new(big.Int).SetBytes(l.Topics[3].Bytes())
	if !fee.IsUint64() || fee.Uint64() > 1<<24-1 {
		event.DecodeError = "fee out of range"
		return event
	}
	event.FeeTier = uint32(fee.Uint64())

	values, err := PoolABI.Unpack("PoolCreated", l.Data)
	if err != nil || len(values) != 2 {
		event.DecodeError = fmt.Sprintf("undecodable data: %v", err)
		return event
	}
	tickSpacing, ok := values[0].(*big.Int)
	if !ok || !tickSpacing.IsInt64() {
		event.DecodeError = "bad tickSpacing"
		return event
	}
	pool, ok := values[1].(common.Address)
	if !ok {
		event.DecodeError = "bad pool address"
		return event
	}
	event.TickSpacing = int32(tickSpacing.Int64())
	event.PoolAddress = utils.NormalizeAddress(pool.Hex())
	return event
}

// GetReserves reads the pool's active liquidity and, best effort, its price
func (c *PoolFactoryClient) GetReserves(ctx context.Context, poolAddress string) (*models.Reserves, error) {
	if !utils.IsValidAddress(poolAddress) {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid pool address", poolAddress)
	}
	pool := common.HexToAddress(poolAddress)

	out, err := c.call(ctx, pool, "liquidity")
	if err != nil {
		return nil, err
	}
	values, err := PoolABI.Unpack("liquidity", out)
	if err != nil || len(values) != 1 {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Pool did not return liquidity", poolAddress)
	}
	liquidity, ok := values[0].(*big.Int)
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Unexpected liquidity type", poolAddress)
	}

	reserves := &models.Reserves{Liquidity: liquidity, ReadAt: time.Now().UTC()}

	if out, err := c.call(ctx, pool, "slot0"); err == nil {
		if values, err := PoolABI.Unpack("slot0", out); err == nil && len(values) > 0 {
			if price, ok := values[0].(*big.Int); ok {
				reserves.SqrtPriceX96 = price
			}
		}
	}

	return reserves, nil
}

func (c *PoolFactoryClient) call(ctx context.Context, to common.Address, method string) ([]byte, error) {
	data, err := PoolABI.Pack(method)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to pack call", err.Error())
	}

	var out []byte
	err = c.do(ctx, "eth_call", func(b ChainBackend) error {
		var err error
		out, err = b.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		return err
	})
	return out, err
}

// do applies rate limiting and metrics around one RPC request.
// Transport failures are returned as ErrCodeBlockchain, which callers retry.
func (c *PoolFactoryClient) do(ctx context.Context, method string, fn func(ChainBackend) error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	backend, err := c.backend(ctx)
	if err == nil {
		err = fn(backend)
	}

	if c.metricsManager != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metricsManager.GetPrometheusMetrics().RecordRPCRequest(method, status, time.Since(start))
	}

	if err != nil {
		if utils.ErrorCode(err) != "" {
			return err
		}
		return utils.WrapError(utils.ErrCodeBlockchain, method+" failed", err)
	}
	return nil
}
