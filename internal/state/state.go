// Package state deterministically reconstructs protocol state by
// left-folding the stored event sequence up to a target block (spec §4.6,
// §9). Every handler is best-effort: it recognizes a handful of argument
// names and quietly ignores events it doesn't understand, by design - the
// protocol's event surface evolves independently of this indexer.
package state

import (
	"encoding/json"
	"math/big"
	"sort"
	"strings"

	"github.com/degenerus/event-indexer/internal/store"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// PrizePools mirrors the five named jackpot/prize pools the game contracts
// track. Amounts are uint256 token quantities and are kept as *big.Int
// rather than float64: a single-token transfer (1e18) already exceeds the
// 2^53 precision ceiling of a float64.
type PrizePools struct {
	Current   *big.Int `json:"current"`
	Future    *big.Int `json:"future"`
	Next      *big.Int `json:"next"`
	BAF       *big.Int `json:"baf"`
	Decimator *big.Int `json:"decimator"`
}

func newPrizePools() PrizePools {
	return PrizePools{
		Current:   big.NewInt(0),
		Future:    big.NewInt(0),
		Next:      big.NewInt(0),
		BAF:       big.NewInt(0),
		Decimator: big.NewInt(0),
	}
}

// GameState is the singleton protocol-wide state.
type GameState struct {
	Level          *big.Int    `json:"level"`
	Phase          interface{} `json:"phase"`
	PrizePools     PrizePools  `json:"prize_pools"`
	TraitCounts    [4][4]int   `json:"trait_counts"`
	JackpotCounter *big.Int    `json:"jackpot_counter"`
	LastEventBlock *uint64     `json:"last_event_block"`
}

// PlayerState accumulates best-effort per-player activity.
type PlayerState struct {
	Address       string              `json:"address"`
	EthDeposited  *big.Int            `json:"eth_deposited"`
	Tickets       TicketState         `json:"tickets"`
	Activity      map[string]int      `json:"activity"`
	TokenBalances map[string]*big.Int `json:"token_balances,omitempty"`
	NFTHoldings   map[string][]string `json:"nft_holdings,omitempty"`
}

func newPlayerState(addr string) *PlayerState {
	return &PlayerState{
		Address:      addr,
		EthDeposited: big.NewInt(0),
		Tickets:      TicketState{Current: big.NewInt(0), Future: big.NewInt(0)},
		Activity:     map[string]int{},
	}
}

// TicketState tracks the two ticket pools players accumulate.
type TicketState struct {
	Current *big.Int `json:"current"`
	Future  *big.Int `json:"future"`
}

// TokenState is the reconstructed ERC-20 ledger for one contract.
type TokenState struct {
	Name        string              `json:"name"`
	TotalSupply *big.Int            `json:"total_supply"`
	Balances    map[string]*big.Int `json:"balances"`
}

func newTokenState(name string) *TokenState {
	return &TokenState{Name: name, TotalSupply: big.NewInt(0), Balances: map[string]*big.Int{}}
}

// NFTState is the reconstructed ERC-721 ownership map for one contract.
type NFTState struct {
	Name   string            `json:"name"`
	Owners map[string]string `json:"owners"`
}

// Gamepiece tracks one minted token's owner, traits, and burn status.
type Gamepiece struct {
	Owner  interface{} `json:"owner"`
	Traits interface{} `json:"traits"`
	Burned bool        `json:"burned"`
}

// Affiliate records one player's referral registration.
type Affiliate struct {
	Code   interface{} `json:"code"`
	Upline interface{} `json:"upline"`
}

// Snapshot is the full reconstructed state at a target block.
type Snapshot struct {
	Game        GameState               `json:"game"`
	Players     map[string]*PlayerState `json:"players"`
	Tokens      map[string]*TokenState  `json:"tokens"`
	NFTs        map[string]*NFTState    `json:"nfts"`
	Gamepieces  map[string]*Gamepiece   `json:"gamepieces"`
	Affiliates  map[string]*Affiliate   `json:"affiliates"`
	EventCounts map[string]int          `json:"event_counts"`
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		Game: GameState{
			Level:          big.NewInt(0),
			PrizePools:     newPrizePools(),
			JackpotCounter: big.NewInt(0),
		},
		Players:     make(map[string]*PlayerState),
		Tokens:      make(map[string]*TokenState),
		NFTs:        make(map[string]*NFTState),
		Gamepieces:  make(map[string]*Gamepiece),
		Affiliates:  make(map[string]*Affiliate),
		EventCounts: make(map[string]int),
	}
}

// EventSource is the subset of store.Store the reconstructor replays from.
type EventSource interface {
	IterEvents(uptoBlock uint64) ([]store.StoredEvent, error)
}

// Reconstructor replays stored events to materialize domain state.
type Reconstructor struct {
	source        EventSource
	contractNames map[string]string // lower-case address -> contract name
}

// NamedContract identifies a watched contract for player/token label lookup.
type NamedContract struct {
	Address string
	Name    string
}

// New builds a Reconstructor. contracts supplies the address->name mapping
// used to label token/NFT holdings by contract name instead of address.
func New(source EventSource, contracts []NamedContract) *Reconstructor {
	names := make(map[string]string, len(contracts))
	for _, c := range contracts {
		names[strings.ToLower(c.Address)] = c.Name
	}
	return &Reconstructor{source: source, contractNames: names}
}

// AtBlock replays every stored event with block_number <= blockNumber and
// returns the resulting snapshot (spec §4.6 at_block).
func (r *Reconstructor) AtBlock(blockNumber uint64) (*Snapshot, error) {
	events, err := r.source.IterEvents(blockNumber)
	if err != nil {
		return nil, err
	}

	snap := newSnapshot()
	for _, ev := range events {
		args := map[string]interface{}{}
		if ev.DecodedArgs != "" {
			_ = json.Unmarshal([]byte(ev.DecodedArgs), &args) // malformed JSON degrades to empty args, not a fatal error
		}
		r.applyEvent(snap, ev, args)
	}
	return snap, nil
}

// PlayerState reconstructs state at blockNumber and returns one player's
// view, including token balances and NFT holdings keyed by contract name
// (spec §4.6 player_state).
func (r *Reconstructor) PlayerState(address string, blockNumber uint64) (*PlayerState, error) {
	snap, err := r.AtBlock(blockNumber)
	if err != nil {
		return nil, err
	}

	addr := strings.ToLower(address)
	player, ok := snap.Players[addr]
	if !ok {
		player = newPlayerState(addr)
	}

	player.TokenBalances = make(map[string]*big.Int)
	for tokenAddr, tok := range snap.Tokens {
		name := tok.Name
		if name == "" {
			name = tokenAddr
		}
		bal := tok.Balances[addr]
		if bal == nil {
			bal = big.NewInt(0)
		}
		player.TokenBalances[name] = bal
	}

	player.NFTHoldings = make(map[string][]string)
	for nftAddr, nft := range snap.NFTs {
		name := nft.Name
		if name == "" {
			name = nftAddr
		}
		var owned []string
		for tokenID, owner := range nft.Owners {
			if owner == addr {
				owned = append(owned, tokenID)
			}
		}
		if len(owned) > 0 {
			sort.Strings(owned)
			player.NFTHoldings[name] = owned
		}
	}

	return player, nil
}

// GameStateAt reconstructs state at blockNumber and returns the game-wide
// singleton state (spec §4.6 game_state).
func (r *Reconstructor) GameStateAt(blockNumber uint64) (*GameState, error) {
	snap, err := r.AtBlock(blockNumber)
	if err != nil {
		return nil, err
	}
	return &snap.Game, nil
}
