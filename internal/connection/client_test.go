package connection

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/smartdevs17/pool-listener/internal/metrics"
	"github.com/smartdevs17/pool-listener/internal/retry"
	"github.com/smartdevs17/pool-listener/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	factoryAddr = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
	token0Addr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	token1Addr  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	poolAddr    = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type fakeBackend struct {
	head      uint64
	logs      []types.Log
	liquidity *big.Int
	failCalls int32
	calls     atomic.Int32
	lastQuery ethereum.FilterQuery
}

func (f *fakeBackend) fail() error {
	if f.calls.Add(1) <= f.failCalls {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	return f.head, nil
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	f.lastQuery = q
	return f.logs, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if bytes.Equal(msg.Data[:4], PoolABI.Methods["liquidity"].ID) {
		return PoolABI.Methods["liquidity"].Outputs.Pack(f.liquidity)
	}
	return nil, errors.New("execution reverted")
}

func poolCreatedLog(t *testing.T, block uint64, fee int64, tickSpacing int64, pool common.Address) types.Log {
	t.Helper()
	data, err := PoolABI.Events["PoolCreated"].Inputs.NonIndexed().Pack(big.NewInt(tickSpacing), pool)
	require.NoError(t, err)
	return types.Log{
		Address: factoryAddr,
		Topics: []common.Hash{
			PoolCreatedTopic,
			common.BytesToHash(token0Addr.Bytes()),
			common.BytesToHash(token1Addr.Bytes()),
			common.BigToHash(big.NewInt(fee)),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash("0xabc"),
		Index:       3,
	}
}

func TestPoolCreatedTopic(t *testing.T) {
	assert.Equal(t, utils.GetEventSignature("PoolCreated(address,address,uint24,int24,address)"), PoolCreatedTopic)
}

func TestGetCreationEventsDecodesLogs(t *testing.T) {
	utils.InitLogger("error", "text", "stdout", "")
	backend := &fakeBackend{logs: []types.Log{
		poolCreatedLog(t, 100, 3000, 60, poolAddr),
		{Topics: []common.Hash{PoolCreatedTopic}, BlockNumber: 101},
	}}
	client := NewPoolFactoryClient(StaticBackend(backend), factoryAddr, WithMetrics(metrics.NewManager()))

	events, err := client.GetCreationEvents(context.Background(), 100, 200)
	require.NoError(t, err)
	require.Len(t, events, 2)

	ev := events[0]
	assert.Empty(t, ev.DecodeError)
	assert.Equal(t, utils.NormalizeAddress(poolAddr.Hex()), ev.PoolAddress)
	assert.Equal(t, utils.NormalizeAddress(token0Addr.Hex()), ev.Token0)
	assert.Equal(t, utils.NormalizeAddress(token1Addr.Hex()), ev.Token1)
	assert.Equal(t, uint32(3000), ev.FeeTier)
	assert.Equal(t, int32(60), ev.TickSpacing)
	assert.Equal(t, uint64(100), ev.BlockNumber)

	assert.NotEmpty(t, events[1].DecodeError)
	assert.Empty(t, events[1].PoolAddress)

	assert.Equal(t, []common.Address{factoryAddr}, backend.lastQuery.Addresses)
	assert.Equal(t, int64(100), backend.lastQuery.FromBlock.Int64())
	assert.Equal(t, int64(200), backend.lastQuery.ToBlock.Int64())
}

func TestDecodePoolCreatedNegativeTickSpacing(t *testing.T) {
	ev := DecodePoolCreated(poolCreatedLog(t, 1, 100, -1, poolAddr))
	require.Empty(t, ev.DecodeError)
	assert.Equal(t, int32(-1), ev.TickSpacing)
}

func TestGetCreationEventsRejectsInvertedRange(t *testing.T) {
	client := NewPoolFactoryClient(StaticBackend(&fakeBackend{}), factoryAddr)
	_, err := client.GetCreationEvents(context.Background(), 10, 9)
	require.Error(t, err)
	assert.True(t, utils.IsPermanent(err))
}

func TestGetReserves(t *testing.T) {
	backend := &fakeBackend{liquidity: big.NewInt(30000)}
	client := NewPoolFactoryClient(StaticBackend(backend), factoryAddr)

	reserves, err := client.GetReserves(context.Background(), poolAddr.Hex())
	require.NoError(t, err)
	assert.Equal(t, "30000", reserves.LiquidityDecimal().String())
	assert.Nil(t, reserves.SqrtPriceX96, "slot0 is best effort")

	_, err = client.GetReserves(context.Background(), "not-an-address")
	require.Error(t, err)
	assert.True(t, utils.IsPermanent(err))
}

func TestTransportErrorsAreTransient(t *testing.T) {
	backend := &fakeBackend{head: 5, failCalls: 1}
	client := NewPoolFactoryClient(StaticBackend(backend), factoryAddr)

	_, err := client.LatestBlock(context.Background())
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeBlockchain, utils.ErrorCode(err))
	assert.True(t, utils.IsTransient(err))
}

func TestWithRetryRecoversTransientFailures(t *testing.T) {
	backend := &fakeBackend{head: 1234, failCalls: 2}
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}
	ledger := WithRetry(NewPoolFactoryClient(StaticBackend(backend), factoryAddr), policy)

	head, err := ledger.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), head)
	assert.Equal(t, int32(3), backend.calls.Load())
}

func TestWithRetryGivesUp(t *testing.T) {
	backend := &fakeBackend{failCalls: 100}
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}
	ledger := WithRetry(NewPoolFactoryClient(StaticBackend(backend), factoryAddr), policy)

	_, err := ledger.GetCreationEvents(context.Background(), 1, 2)
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeRetryExhausted, utils.ErrorCode(err))
	assert.Equal(t, int32(3), backend.calls.Load())
}

func TestRateLimitSpacesRequests(t *testing.T) {
	backend := &fakeBackend{head: 1}
	client := NewPoolFactoryClient(StaticBackend(backend), factoryAddr, WithRateLimit(20, 1))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.LatestBlock(context.Background())
		require.NoError(t, err)
	}
	// burst 1 at 20/s: the 2nd and 3rd calls wait ~50ms each
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

var _ Ledger = (*PoolFactoryClient)(nil)
