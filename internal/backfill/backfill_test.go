package backfill

import (
	"context"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/degenerus/event-indexer/internal/blocktime"
	"github.com/degenerus/event-indexer/internal/config"
	"github.com/degenerus/event-indexer/internal/registry"
	"github.com/degenerus/event-indexer/internal/rpcclient"
	"github.com/degenerus/event-indexer/internal/store"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	cfg := &config.Config{
		Contracts: map[string]config.ContractConfig{
			"game": {Name: "game", Address: "0x0000000000000000000000000000000000000001"},
		},
	}
	reg, err := registry.Load(cfg, nil)
	require.NoError(t, err)
	return reg
}

type noopHeaderFetcher struct{}

func (noopHeaderFetcher) GetHeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Time: 0}, nil
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

var errTooLarge = fakeErr("query returned more than 10000 results")

type fakeFetcher struct {
	tip          uint64
	logsByWindow map[[2]uint64][]types.Log
	rejectUntil  uint64 // reject windows wider than this, with RangeTooLargeError
	calls        []ethereum.FilterQuery
}

func (f *fakeFetcher) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return f.tip, nil
}

func (f *fakeFetcher) GetLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.calls = append(f.calls, q)
	from := q.FromBlock.Uint64()
	to := q.ToBlock.Uint64()
	if f.rejectUntil > 0 && to-from+1 > f.rejectUntil {
		return nil, &rpcclient.RangeTooLargeError{Err: errTooLarge}
	}
	return f.logsByWindow[[2]uint64{from, to}], nil
}

func TestBackfillRangeNoOpWhenFromAfterTo(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	reg := testRegistry(t)
	fetcher := &fakeFetcher{}
	times := blocktime.New(noopHeaderFetcher{})
	engine := New(fetcher, reg, st, times, 100)

	require.NoError(t, engine.BackfillRange(context.Background(), 10, 5))
	require.Empty(t, fetcher.calls)
}

func TestBackfillRangeAdvancesCursorAcrossWindows(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	reg := testRegistry(t)
	fetcher := &fakeFetcher{logsByWindow: map[[2]uint64][]types.Log{}}
	times := blocktime.New(noopHeaderFetcher{})
	engine := New(fetcher, reg, st, times, 10)

	require.NoError(t, engine.BackfillRange(context.Background(), 0, 25))

	block, _, ok, err := st.ReadCursor()
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 25, block)
	require.Len(t, fetcher.calls, 3) // [0,9] [10,19] [20,25]
}

func TestBackfillRangeHalvesOnRangeTooLarge(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	reg := testRegistry(t)
	fetcher := &fakeFetcher{logsByWindow: map[[2]uint64][]types.Log{}, rejectUntil: 4}
	times := blocktime.New(noopHeaderFetcher{})
	engine := New(fetcher, reg, st, times, 16)

	require.NoError(t, engine.BackfillRange(context.Background(), 0, 15))

	block, _, ok, err := st.ReadCursor()
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 15, block)
	require.LessOrEqual(t, engine.batchSize, uint64(4))
}

func TestBackfillPersistsDecodedLogs(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	reg := testRegistry(t)
	addr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	lg := types.Log{
		Address:     addr,
		Topics:      []common.Hash{common.HexToHash("0xdeadbeef")},
		TxHash:      common.HexToHash("0x1"),
		Index:       0,
		BlockNumber: 5,
	}
	fetcher := &fakeFetcher{logsByWindow: map[[2]uint64][]types.Log{{0, 9}: {lg}}}
	times := blocktime.New(noopHeaderFetcher{})
	engine := New(fetcher, reg, st, times, 10)

	require.NoError(t, engine.BackfillRange(context.Background(), 0, 9))

	rows, err := st.QueryEvents("", "", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Unknown", rows[0].EventName) // contract has no resolvable ABI in this fixture
}
