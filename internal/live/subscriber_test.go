package live

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/degenerus/event-indexer/internal/blocktime"
	"github.com/degenerus/event-indexer/internal/config"
	"github.com/degenerus/event-indexer/internal/registry"
	"github.com/degenerus/event-indexer/internal/store"
)

type fakeGapFiller struct {
	rangesBackfilled [][2]uint64
}

func (f *fakeGapFiller) BackfillRange(ctx context.Context, from, to uint64) error {
	f.rangesBackfilled = append(f.rangesBackfilled, [2]uint64{from, to})
	return nil
}

func (f *fakeGapFiller) BackfillMissedBlocks(ctx context.Context, startBlock uint64) error {
	return nil
}

func testSubscriber(t *testing.T, gf *fakeGapFiller) (*Subscriber, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Contracts: map[string]config.ContractConfig{
			"game": {Name: "game", Address: "0x0000000000000000000000000000000000000001"},
		},
	}
	reg, err := registry.Load(cfg, nil)
	require.NoError(t, err)

	sub := New("ws://unused", reg, st, blocktime.New(noopHeaders{}), gf, 0, 0)
	return sub, st
}

type noopHeaders struct{}

func (noopHeaders) GetHeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{}, nil
}

func TestHandleLogRemovedDeletes(t *testing.T) {
	gf := &fakeGapFiller{}
	sub, st := testSubscriber(t, gf)

	addr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	inserted, err := st.InsertEvent(store.EventRecord{
		BlockNumber: 5, TransactionHash: "0xabc", LogIndex: 0,
		ContractAddress: "0x0000000000000000000000000000000000000001", EventName: "Unknown", DecodedArgs: "{}",
	})
	require.NoError(t, err)
	require.True(t, inserted)

	lg := types.Log{Address: addr, TxHash: common.HexToHash("0xabc"), Index: 0, Removed: true}
	require.NoError(t, sub.handleLog(context.Background(), lg))

	rows, err := st.QueryEvents("", "", 0)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestHandleLogGapTriggersBackfill(t *testing.T) {
	gf := &fakeGapFiller{}
	sub, st := testSubscriber(t, gf)

	require.NoError(t, st.UpdateSync(10, nil))

	addr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	lg := types.Log{Address: addr, TxHash: common.HexToHash("0xdef"), Index: 0, BlockNumber: 15}
	require.NoError(t, sub.handleLog(context.Background(), lg))

	require.Len(t, gf.rangesBackfilled, 1)
	require.Equal(t, [2]uint64{11, 14}, gf.rangesBackfilled[0])
}

func TestHandleLogNoGapWhenContiguous(t *testing.T) {
	gf := &fakeGapFiller{}
	sub, st := testSubscriber(t, gf)

	require.NoError(t, st.UpdateSync(10, nil))

	addr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	lg := types.Log{Address: addr, TxHash: common.HexToHash("0xdef"), Index: 0, BlockNumber: 11}
	require.NoError(t, sub.handleLog(context.Background(), lg))

	require.Empty(t, gf.rangesBackfilled)
}
