package decoder

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/degenerus/event-indexer/internal/registry"
)

const transferABIJSON = `[
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}
	]}
]`

func buildEntry(t *testing.T) *registry.ContractEntry {
	t.Helper()
	parsed, err := abi.JSON(bytes.NewReader([]byte(transferABIJSON)))
	require.NoError(t, err)

	entry := &registry.ContractEntry{
		ABI:          &parsed,
		TopicToEvent: map[common.Hash]abi.Event{},
	}
	for _, ev := range parsed.Events {
		entry.AllEvents = append(entry.AllEvents, ev)
		entry.TopicToEvent[ev.ID] = ev
	}
	return entry
}

func transferLog(t *testing.T, entry *registry.ContractEntry, from, to common.Address, value int64) *types.Log {
	t.Helper()
	ev := entry.AllEvents[0]
	packed, err := ev.Inputs.NonIndexed().Pack(big.NewInt(value))
	require.NoError(t, err)

	return &types.Log{
		Topics: []common.Hash{ev.ID, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:   packed,
	}
}

func TestDecodeMatchedTopic0(t *testing.T) {
	entry := buildEntry(t)
	from := common.HexToAddress("0x1")
	to := common.HexToAddress("0x2")
	lg := transferLog(t, entry, from, to, 1000)

	evt := Decode(entry, lg)
	require.Equal(t, "Transfer", evt.Name)
	require.Equal(t, from.Hex(), evt.Args["from"])
	require.Equal(t, to.Hex(), evt.Args["to"])
	require.Equal(t, "1000", evt.Args["value"])
	require.Contains(t, evt.IndexedArgs, "from")
	require.Contains(t, evt.IndexedArgs, "to")
	require.NotContains(t, evt.IndexedArgs, "value")
}

func TestDecodeUnknownTopic0(t *testing.T) {
	entry := buildEntry(t)
	lg := &types.Log{Topics: []common.Hash{common.HexToHash("0xdeadbeef")}}

	evt := Decode(entry, lg)
	require.Equal(t, "Unknown", evt.Name)
	require.NotNil(t, evt.Signature)
	require.Equal(t, common.HexToHash("0xdeadbeef").Hex(), *evt.Signature)
}

func TestDecodeNoTopicsYieldsUnknown(t *testing.T) {
	entry := buildEntry(t)
	lg := &types.Log{}

	evt := Decode(entry, lg)
	require.Equal(t, "Unknown", evt.Name)
	require.Nil(t, evt.Signature)
}

func TestDecodeNilEntryYieldsUnknown(t *testing.T) {
	lg := &types.Log{Topics: []common.Hash{common.HexToHash("0x1")}}
	evt := Decode(nil, lg)
	require.Equal(t, "Unknown", evt.Name)
}

func TestDecodeMatchedTopicButBadDataDegradesToUnknown(t *testing.T) {
	entry := buildEntry(t)
	ev := entry.AllEvents[0]
	from := common.HexToAddress("0x1")
	to := common.HexToAddress("0x2")

	lg := &types.Log{
		Topics: []common.Hash{ev.ID, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:   []byte{0x01, 0x02}, // too short to unpack a uint256
	}

	evt := Decode(entry, lg)
	require.Equal(t, "Unknown", evt.Name, "a matched topic-0 with undecodable data must not fall through to try-all")
}
