// Package registry loads the set of watched contracts and their ABIs into an
// immutable, topic-indexed dispatch table (spec §4.1).
package registry

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/degenerus/event-indexer/internal/abicodec"
	"github.com/degenerus/event-indexer/internal/config"
)

// ContractEntry is everything the decoder and persistence layer need to know
// about one watched contract.
type ContractEntry struct {
	Name          string
	Address       common.Address
	DeployedBlock *uint64
	ABI           *abi.ABI // nil when no ABI could be resolved
	ABIHash       string   // sha256 hex of the canonical ABI JSON, empty if ABI is nil
	TopicToEvent  map[common.Hash]abi.Event
	AllEvents     []abi.Event // includes anonymous events, used for fallback decode
}

// Registry is the immutable, load-time-built set of watched contracts.
type Registry struct {
	byAddress map[common.Address]*ContractEntry
	addresses []common.Address
}

// CatalogStore is the subset of LogStore the registry persists the contract
// catalog to. Satisfied by *store.Store.
type CatalogStore interface {
	UpsertContract(address, name, abiHash string, deployedBlock *uint64) error
}

// Load builds a Registry from config, resolving each contract's ABI per the
// precedence in spec §4.1: inline array, explicit file/directory, or
// recursive search of config.ABIDir. It persists the catalog to store on
// every load.
//
// Fails with *config.ConfigError when no contracts are configured, an
// address is missing, or an explicitly named ABI path cannot be resolved. A
// contract whose ABI is only looked up via abi_dir and not found decodes as
// Unknown rather than failing the load.
func Load(cfg *config.Config, store CatalogStore) (*Registry, error) {
	if len(cfg.Contracts) == 0 {
		return nil, &config.ConfigError{Reason: "no contracts configured"}
	}

	reg := &Registry{byAddress: make(map[common.Address]*ContractEntry, len(cfg.Contracts))}

	for name, cc := range cfg.Contracts {
		if cc.Address == "" {
			return nil, &config.ConfigError{Reason: "contract " + name + " is missing address"}
		}
		addr := common.HexToAddress(cc.Address)

		entry, err := buildEntry(name, addr, cc, cfg.ABIDir)
		if err != nil {
			return nil, err
		}

		reg.byAddress[addr] = entry
		reg.addresses = append(reg.addresses, addr)

		if store != nil {
			if err := store.UpsertContract(lowerHex(addr), entry.Name, entry.ABIHash, entry.DeployedBlock); err != nil {
				return nil, err
			}
		}
	}

	return reg, nil
}

func buildEntry(name string, addr common.Address, cc config.ContractConfig, abiDir string) (*ContractEntry, error) {
	entry := &ContractEntry{
		Name:          name,
		Address:       addr,
		DeployedBlock: cc.DeployedBlock,
		TopicToEvent:  make(map[common.Hash]abi.Event),
	}

	raw, explicit, err := resolveABIBytes(name, cc, abiDir)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		if explicit {
			return nil, &config.ConfigError{Reason: "abi not found for contract " + name}
		}
		logrus.Warnf("ABI not found for contract %q (searched %s); events will decode as Unknown", name, abiDir)
		return entry, nil
	}

	canonical, parsedABI, err := parseABI(raw)
	if err != nil {
		return nil, &config.ConfigError{Reason: "failed to parse abi for contract " + name + ": " + err.Error()}
	}
	entry.ABI = parsedABI
	entry.ABIHash = sha256Hex(canonical)

	for _, ev := range parsedABI.Events {
		if len(cc.Events) > 0 && !containsEventName(cc.Events, ev.Name) {
			continue
		}
		entry.AllEvents = append(entry.AllEvents, ev)
		if !ev.Anonymous {
			entry.TopicToEvent[abicodec.Topic0(ev)] = ev
		}
		logrus.Debugf("registry: contract %q watches %s (topic0 %s)", name, abicodec.Sig(ev), abicodec.Topic0(ev).Hex())
	}

	return entry, nil
}

// containsEventName reports whether name appears in an explicit per-contract
// event allowlist (config `contracts.<name>.events`). Names are
// case-sensitive, matching Solidity identifier rules.
func containsEventName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// Entries returns the watched contracts in no particular order.
func (r *Registry) Entries() []*ContractEntry {
	out := make([]*ContractEntry, 0, len(r.byAddress))
	for _, addr := range r.addresses {
		out = append(out, r.byAddress[addr])
	}
	return out
}

// Addresses returns the watched contract addresses.
func (r *Registry) Addresses() []common.Address {
	out := make([]common.Address, len(r.addresses))
	copy(out, r.addresses)
	return out
}

// Lookup returns the entry for a watched address, if any.
func (r *Registry) Lookup(addr common.Address) (*ContractEntry, bool) {
	e, ok := r.byAddress[addr]
	return e, ok
}

func lowerHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
