package state

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/degenerus/event-indexer/internal/store"
)

type fakeSource struct {
	events []store.StoredEvent
}

func (f *fakeSource) IterEvents(uptoBlock uint64) ([]store.StoredEvent, error) {
	var out []store.StoredEvent
	for _, e := range f.events {
		if e.BlockNumber <= uptoBlock {
			out = append(out, e)
		}
	}
	return out, nil
}

func mustArgs(t *testing.T, v map[string]interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestAtBlockRespectsBlockCeiling(t *testing.T) {
	src := &fakeSource{events: []store.StoredEvent{
		{BlockNumber: 1, EventName: "PhaseAdvanced", DecodedArgs: mustArgs(t, map[string]interface{}{"newPhase": 1.0})},
		{BlockNumber: 5, EventName: "PhaseAdvanced", DecodedArgs: mustArgs(t, map[string]interface{}{"newPhase": 2.0})},
	}}
	r := New(src, nil)

	snap, err := r.AtBlock(2)
	require.NoError(t, err)
	require.EqualValues(t, 1.0, snap.Game.Phase)

	snap, err = r.AtBlock(5)
	require.NoError(t, err)
	require.EqualValues(t, 2.0, snap.Game.Phase)
}

func TestPrizePoolUpdateAbsoluteAssignment(t *testing.T) {
	src := &fakeSource{events: []store.StoredEvent{
		{BlockNumber: 1, EventName: "PrizePoolUpdated", DecodedArgs: mustArgs(t, map[string]interface{}{"current": 100.0, "baf": 50.0})},
	}}
	r := New(src, nil)

	snap, err := r.AtBlock(1)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), snap.Game.PrizePools.Current)
	require.Equal(t, big.NewInt(50), snap.Game.PrizePools.BAF)
}

func TestJackpotPayoutSubtractsAndFloorsAtZero(t *testing.T) {
	src := &fakeSource{events: []store.StoredEvent{
		{BlockNumber: 1, EventName: "PrizePoolUpdated", DecodedArgs: mustArgs(t, map[string]interface{}{"current": 100.0})},
		{BlockNumber: 2, EventName: "DailyJackpotPaid", DecodedArgs: mustArgs(t, map[string]interface{}{"amount": 80.0})},
		{BlockNumber: 3, EventName: "DailyJackpotPaid", DecodedArgs: mustArgs(t, map[string]interface{}{"amount": 80.0})},
	}}
	r := New(src, nil)

	snap, err := r.AtBlock(3)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), snap.Game.PrizePools.Current, "payout must floor at zero, not go negative")
}

func TestJackpotPayoutPreservesUint256Precision(t *testing.T) {
	// 5 ether in wei: well beyond float64's 2^53 exact-integer ceiling.
	const bigAmount = "5000000000000000000"
	src := &fakeSource{events: []store.StoredEvent{
		{BlockNumber: 1, EventName: "PrizePoolUpdated", DecodedArgs: mustArgs(t, map[string]interface{}{"current": bigAmount})},
		{BlockNumber: 2, EventName: "DailyJackpotPaid", DecodedArgs: mustArgs(t, map[string]interface{}{"amount": "1"})},
	}}
	r := New(src, nil)

	snap, err := r.AtBlock(2)
	require.NoError(t, err)
	want, ok := new(big.Int).SetString("4999999999999999999", 10)
	require.True(t, ok)
	require.Equal(t, want, snap.Game.PrizePools.Current)
}

func TestGamepieceMintAndBurn(t *testing.T) {
	src := &fakeSource{events: []store.StoredEvent{
		{BlockNumber: 1, EventName: "GamepieceMinted", DecodedArgs: mustArgs(t, map[string]interface{}{
			"tokenId": 1.0, "to": "0xdead", "traits": []interface{}{0.0, 1.0, 2.0, 3.0},
		})},
		{BlockNumber: 2, EventName: "GamepieceBurned", DecodedArgs: mustArgs(t, map[string]interface{}{"tokenId": 1.0})},
	}}
	r := New(src, nil)

	snap, err := r.AtBlock(2)
	require.NoError(t, err)
	require.True(t, snap.Gamepieces["1"].Burned)
	require.Equal(t, 1, snap.Game.TraitCounts[0][0])
	require.Equal(t, 1, snap.Game.TraitCounts[1][1])
	require.Equal(t, 1, snap.Game.TraitCounts[2][2])
	require.Equal(t, 1, snap.Game.TraitCounts[3][3])
}

func TestERC20TransferUpdatesBalancesAndSupply(t *testing.T) {
	src := &fakeSource{events: []store.StoredEvent{
		{BlockNumber: 1, ContractAddress: "0xtoken", EventName: "Transfer", DecodedArgs: mustArgs(t, map[string]interface{}{
			"from": zeroAddress, "to": "0xalice", "value": 1000.0,
		})},
		{BlockNumber: 2, ContractAddress: "0xtoken", EventName: "Transfer", DecodedArgs: mustArgs(t, map[string]interface{}{
			"from": "0xalice", "to": "0xbob", "value": 400.0,
		})},
	}}
	r := New(src, []NamedContract{{Address: "0xtoken", Name: "DGEN"}})

	snap, err := r.AtBlock(2)
	require.NoError(t, err)
	tok := snap.Tokens["0xtoken"]
	require.Equal(t, "DGEN", tok.Name)
	require.Equal(t, big.NewInt(1000), tok.TotalSupply)
	require.Equal(t, big.NewInt(600), tok.Balances["0xalice"])
	require.Equal(t, big.NewInt(400), tok.Balances["0xbob"])
}

func TestERC20TransferPreservesUint256Precision(t *testing.T) {
	const oneToken = "1000000000000000000"
	src := &fakeSource{events: []store.StoredEvent{
		{BlockNumber: 1, ContractAddress: "0xtoken", EventName: "Transfer", DecodedArgs: mustArgs(t, map[string]interface{}{
			"from": zeroAddress, "to": "0xalice", "value": oneToken,
		})},
	}}
	r := New(src, nil)

	snap, err := r.AtBlock(1)
	require.NoError(t, err)
	want, ok := new(big.Int).SetString(oneToken, 10)
	require.True(t, ok)
	require.Equal(t, want, snap.Tokens["0xtoken"].Balances["0xalice"])
	require.Equal(t, want, snap.Tokens["0xtoken"].TotalSupply)
}

func TestERC721TransferTracksOwnershipAndBurn(t *testing.T) {
	src := &fakeSource{events: []store.StoredEvent{
		{BlockNumber: 1, ContractAddress: "0xnft", EventName: "Transfer", DecodedArgs: mustArgs(t, map[string]interface{}{
			"from": zeroAddress, "to": "0xalice", "tokenId": 7.0,
		})},
		{BlockNumber: 2, ContractAddress: "0xnft", EventName: "Transfer", DecodedArgs: mustArgs(t, map[string]interface{}{
			"from": "0xalice", "to": zeroAddress, "tokenId": 7.0,
		})},
	}}
	r := New(src, nil)

	snap, err := r.AtBlock(1)
	require.NoError(t, err)
	require.Equal(t, "0xalice", snap.NFTs["0xnft"].Owners["7"])

	snap, err = r.AtBlock(2)
	require.NoError(t, err)
	_, stillOwned := snap.NFTs["0xnft"].Owners["7"]
	require.False(t, stillOwned, "burn to zero address must remove the owner entry")
}

func TestPlayerStateIncludesTokenBalancesAndNFTHoldings(t *testing.T) {
	src := &fakeSource{events: []store.StoredEvent{
		{BlockNumber: 1, ContractAddress: "0xtoken", EventName: "Transfer", DecodedArgs: mustArgs(t, map[string]interface{}{
			"from": zeroAddress, "to": "0xalice", "value": 500.0,
		})},
		{BlockNumber: 2, ContractAddress: "0xnft", EventName: "Transfer", DecodedArgs: mustArgs(t, map[string]interface{}{
			"from": zeroAddress, "to": "0xalice", "tokenId": 3.0,
		})},
		{BlockNumber: 3, EventName: "Deposit", DecodedArgs: mustArgs(t, map[string]interface{}{
			"player": "0xalice", "amount": 10.0,
		})},
	}}
	r := New(src, []NamedContract{{Address: "0xtoken", Name: "DGEN"}, {Address: "0xnft", Name: "Gamepiece"}})

	player, err := r.PlayerState("0xAlice", 3)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(500), player.TokenBalances["DGEN"])
	require.Equal(t, []string{"3"}, player.NFTHoldings["Gamepiece"])
	require.Equal(t, big.NewInt(10), player.EthDeposited)
}

func TestWithdrawFloorsDepositAtZero(t *testing.T) {
	src := &fakeSource{events: []store.StoredEvent{
		{BlockNumber: 1, EventName: "Deposit", DecodedArgs: mustArgs(t, map[string]interface{}{"player": "0xalice", "amount": 10.0})},
		{BlockNumber: 2, EventName: "Withdraw", DecodedArgs: mustArgs(t, map[string]interface{}{"player": "0xalice", "amount": 50.0})},
	}}
	r := New(src, nil)

	player, err := r.PlayerState("0xalice", 2)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), player.EthDeposited)
}

func TestMalformedDecodedArgsDegradeToEmpty(t *testing.T) {
	src := &fakeSource{events: []store.StoredEvent{
		{BlockNumber: 1, EventName: "PhaseAdvanced", DecodedArgs: "not json"},
	}}
	r := New(src, nil)

	snap, err := r.AtBlock(1)
	require.NoError(t, err)
	require.Nil(t, snap.Game.Phase)
	require.Equal(t, 1, snap.EventCounts["PhaseAdvanced"])
}
