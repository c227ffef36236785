package state

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/degenerus/event-indexer/internal/store"
)

func (r *Reconstructor) applyEvent(snap *Snapshot, ev store.StoredEvent, args map[string]interface{}) {
	name := ev.EventName
	addr := strings.ToLower(ev.ContractAddress)

	snap.EventCounts[name]++
	block := ev.BlockNumber
	snap.Game.LastEventBlock = &block

	switch name {
	case "PhaseAdvanced":
		if v, ok := args["newPhase"]; ok {
			snap.Game.Phase = v
		} else if v, ok := args["phase"]; ok {
			snap.Game.Phase = v
		}
	case "LevelAdvanced":
		if v, ok := argNumber(args, "newLevel"); ok {
			snap.Game.Level = v
		} else if v, ok := argNumber(args, "level"); ok {
			snap.Game.Level = v
		}
	case "PrizePoolUpdated":
		applyPrizePoolUpdate(&snap.Game.PrizePools, args)
	case "DailyJackpotPaid", "LevelJackpotPaid", "BAFDistributed", "DecimatorPaid":
		applyJackpotPayout(&snap.Game.PrizePools, name, args)
	case "GamepieceMinted":
		r.applyGamepieceMinted(snap, args)
	case "GamepieceBurned":
		applyGamepieceBurned(snap, args)
	case "AffiliateRegistered":
		applyAffiliateRegistered(snap, args)
	case "Transfer":
		r.applyTransfer(snap, addr, args)
	}

	r.applyPlayerHeuristics(snap, name, args)
}

func applyPrizePoolUpdate(pools *PrizePools, args map[string]interface{}) {
	if v, ok := argNumber(args, "current"); ok {
		pools.Current = v
	}
	if v, ok := argNumber(args, "future"); ok {
		pools.Future = v
	}
	if v, ok := argNumber(args, "next"); ok {
		pools.Next = v
	}
	if v, ok := argNumber(args, "baf"); ok {
		pools.BAF = v
	}
	if v, ok := argNumber(args, "decimator"); ok {
		pools.Decimator = v
	}
}

func applyJackpotPayout(pools *PrizePools, name string, args map[string]interface{}) {
	amount, ok := argNumber(args, "amount", "payout")
	if !ok {
		amount = big.NewInt(0)
	}

	switch name {
	case "DailyJackpotPaid", "LevelJackpotPaid":
		pools.Current = subtractFloor(pools.Current, amount)
	case "BAFDistributed":
		pools.BAF = subtractFloor(pools.BAF, amount)
	case "DecimatorPaid":
		pools.Decimator = subtractFloor(pools.Decimator, amount)
	}
}

// subtractFloor returns cur-amount, floored at zero, without mutating cur.
func subtractFloor(cur, amount *big.Int) *big.Int {
	result := new(big.Int).Sub(cur, amount)
	if result.Sign() < 0 {
		return big.NewInt(0)
	}
	return result
}

// addBig accumulates delta into m[key], treating a missing entry as zero,
// without mutating any *big.Int already stored elsewhere.
func addBig(m map[string]*big.Int, key string, delta *big.Int) {
	cur := m[key]
	if cur == nil {
		cur = big.NewInt(0)
	}
	m[key] = new(big.Int).Add(cur, delta)
}

func (r *Reconstructor) applyGamepieceMinted(snap *Snapshot, args map[string]interface{}) {
	tokenIDVal, ok := args["tokenId"]
	if !ok || tokenIDVal == nil {
		return
	}
	tokenID := stringifyTokenID(tokenIDVal)

	owner, _ := argString(args, "to", "owner")
	traits := args["traits"]

	snap.Gamepieces[tokenID] = &Gamepiece{Owner: owner, Traits: traits, Burned: false}
	applyTraitCounts(&snap.Game.TraitCounts, traits)
}

func applyGamepieceBurned(snap *Snapshot, args map[string]interface{}) {
	tokenIDVal, ok := args["tokenId"]
	if !ok || tokenIDVal == nil {
		return
	}
	tokenID := stringifyTokenID(tokenIDVal)
	if gp, ok := snap.Gamepieces[tokenID]; ok {
		gp.Burned = true
	}
}

func applyAffiliateRegistered(snap *Snapshot, args map[string]interface{}) {
	player, ok := argString(args, "player", "account")
	if !ok || player == "" {
		return
	}
	player = strings.ToLower(player)
	upline, _ := argString(args, "upline", "referrer")
	snap.Affiliates[player] = &Affiliate{Code: args["code"], Upline: upline}
}

// applyTransfer disambiguates ERC-20 from ERC-721 by the presence of a
// numeric "value" versus a "tokenId" field (spec §4.6), since both events
// share the Transfer(from, to, ...) shape.
func (r *Reconstructor) applyTransfer(snap *Snapshot, contractAddr string, args map[string]interface{}) {
	if contractAddr == "" {
		return
	}
	fromAddr, _ := argString(args, "from")
	fromAddr = strings.ToLower(fromAddr)
	toAddr, _ := argString(args, "to")
	toAddr = strings.ToLower(toAddr)

	if value, ok := argNumber(args, "value"); ok {
		r.applyERC20Transfer(snap, contractAddr, fromAddr, toAddr, value)
		return
	}

	if tokenIDVal, ok := args["tokenId"]; ok {
		r.applyERC721Transfer(snap, contractAddr, toAddr, stringifyTokenID(tokenIDVal))
	}
}

func (r *Reconstructor) applyERC20Transfer(snap *Snapshot, contractAddr, fromAddr, toAddr string, value *big.Int) {
	tok, ok := snap.Tokens[contractAddr]
	if !ok {
		tok = newTokenState(r.contractNames[contractAddr])
		if tok.Name == "" {
			tok.Name = contractAddr
		}
		snap.Tokens[contractAddr] = tok
	}

	if fromAddr != "" && fromAddr != zeroAddress {
		addBig(tok.Balances, fromAddr, new(big.Int).Neg(value))
	}
	if toAddr != "" && toAddr != zeroAddress {
		addBig(tok.Balances, toAddr, value)
	}
	if fromAddr == zeroAddress {
		tok.TotalSupply = new(big.Int).Add(tok.TotalSupply, value)
	}
	if toAddr == zeroAddress {
		tok.TotalSupply = new(big.Int).Sub(tok.TotalSupply, value)
	}
}

func (r *Reconstructor) applyERC721Transfer(snap *Snapshot, contractAddr, toAddr, tokenID string) {
	nft, ok := snap.NFTs[contractAddr]
	if !ok {
		nft = &NFTState{Name: r.contractNames[contractAddr], Owners: map[string]string{}}
		if nft.Name == "" {
			nft.Name = contractAddr
		}
		snap.NFTs[contractAddr] = nft
	}

	if toAddr == zeroAddress {
		delete(nft.Owners, tokenID)
	} else {
		nft.Owners[tokenID] = toAddr
	}
}

func applyTraitCounts(counts *[4][4]int, traits interface{}) {
	arr, ok := traits.([]interface{})
	if !ok || len(arr) != 4 {
		return
	}
	for idx, v := range arr {
		traitIndex, ok := toInt(v)
		if !ok {
			continue
		}
		if idx >= 0 && idx < 4 && traitIndex >= 0 && traitIndex < 4 {
			counts[idx][traitIndex]++
		}
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
	}
	return 0, false
}

func stringifyTokenID(v interface{}) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	default:
		return ""
	}
}

// applyPlayerHeuristics applies the best-effort player activity accounting
// that runs on every event regardless of name: deposit/withdraw amounts and
// ticket accrual, attributed to whichever of a fixed set of argument names
// identifies a player (spec §4.6, §9).
func (r *Reconstructor) applyPlayerHeuristics(snap *Snapshot, name string, args map[string]interface{}) {
	playerAddr, ok := argString(args, "player", "account", "owner", "sender", "to")
	if !ok {
		return
	}
	playerAddr = strings.ToLower(playerAddr)
	if playerAddr == "" || playerAddr == zeroAddress {
		return
	}

	player, ok := snap.Players[playerAddr]
	if !ok {
		player = newPlayerState(playerAddr)
		snap.Players[playerAddr] = player
	}
	player.Activity[name]++

	switch name {
	case "Deposit", "Deposited":
		if amount, ok := argNumber(args, "assets", "amount", "value"); ok {
			player.EthDeposited = new(big.Int).Add(player.EthDeposited, amount)
		}
	case "Withdraw", "Withdrawal", "Withdrawn":
		if amount, ok := argNumber(args, "assets", "amount", "value"); ok {
			player.EthDeposited = subtractFloor(player.EthDeposited, amount)
		}
	}

	if v, ok := argNumber(args, "tickets"); ok {
		player.Tickets.Current = new(big.Int).Add(player.Tickets.Current, v)
	}
	if v, ok := argNumber(args, "futureTickets"); ok {
		player.Tickets.Future = new(big.Int).Add(player.Tickets.Future, v)
	}
}
