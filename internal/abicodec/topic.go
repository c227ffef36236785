// Package abicodec canonicalizes ABI event signatures and derives topic-0
// hashes, the primary dispatch key used by the registry and decoder.
package abicodec

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Topic0 returns the keccak-256 hash of the canonical event signature for
// the given ABI event, e.g. Transfer(address,address,uint256). go-ethereum's
// abi.Event.ID already computes this per the Solidity canonicalization rules
// (uint -> uint256, tuples expand), so this is a thin, named wrapper kept for
// call-site clarity and symmetry with §9's "Topic dispatch" requirement.
func Topic0(event abi.Event) common.Hash {
	return event.ID
}

// Sig returns the canonical human-readable signature string for an ABI
// event, e.g. "Transfer(address,address,uint256)".
func Sig(event abi.Event) string {
	return event.Sig
}
