// Package decoder turns raw logs into decoded events by dispatching against
// the ABIs held in a registry.ContractEntry (spec §4.2).
package decoder

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/degenerus/event-indexer/internal/abicodec"
	"github.com/degenerus/event-indexer/internal/registry"
)

// Event is the output of a decode attempt. Args holds every ABI input
// (indexed and non-indexed); IndexedArgs is the subset whose descriptor
// carried the indexed flag. Both maps hold JSON-safe values produced by
// normalizeValue.
type Event struct {
	Name        string
	Args        map[string]interface{}
	Signature   *string // topic-0 hex of the matched ABI; for Unknown, the log's own topics[0], or nil if it carried none
	IndexedArgs map[string]interface{}
}

// unknownEvent is the degraded decode result used whenever nothing matches,
// or a matched ABI fails to decode (spec §4.2, §7 DecodeError).
func unknownEvent(topic0 *common.Hash) Event {
	var sig *string
	if topic0 != nil {
		s := topic0.Hex()
		sig = &s
	}
	return Event{Name: "Unknown", Args: map[string]interface{}{}, Signature: sig, IndexedArgs: map[string]interface{}{}}
}

// Decode implements the dispatch algorithm from spec §4.2:
//
//  1. If the log carries topics[0] and the contract has a topic-0 entry,
//     decode against that ABI only; a decode failure degrades to Unknown
//     (it does not fall through to step 2).
//  2. Otherwise, try every known event ABI for the contract and keep the
//     first successful decode.
//  3. If nothing matches, yield Unknown.
//
// entry may be nil (address not in the registry) or have a nil ABI (no ABI
// resolved for the contract); both degrade straight to Unknown.
func Decode(entry *registry.ContractEntry, log *types.Log) Event {
	var topic0 *common.Hash
	if len(log.Topics) > 0 {
		t := log.Topics[0]
		topic0 = &t
	}

	if entry == nil || entry.ABI == nil {
		return unknownEvent(topic0)
	}

	if topic0 != nil {
		if ev, ok := entry.TopicToEvent[*topic0]; ok {
			evt, err := decodeAgainst(entry.ABI, ev, log)
			if err != nil {
				logrus.Warnf("decode failed for %s on %s: %v", ev.Name, entry.Address.Hex(), err)
				return unknownEvent(topic0)
			}
			return evt
		}
	}

	for _, ev := range entry.AllEvents {
		evt, err := decodeAgainst(entry.ABI, ev, log)
		if err == nil {
			return evt
		}
	}

	return unknownEvent(topic0)
}

// decodeAgainst unpacks a log's data payload and indexed topics against a
// specific ABI event definition.
func decodeAgainst(contractABI *abi.ABI, ev abi.Event, log *types.Log) (Event, error) {
	args := make(map[string]interface{})
	if err := contractABI.UnpackIntoMap(args, ev.Name, log.Data); err != nil {
		return Event{}, err
	}

	inputByName := make(map[string]abi.Argument, len(ev.Inputs))
	for _, in := range ev.Inputs {
		inputByName[in.Name] = in
	}

	var indexedInputs abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexedInputs = append(indexedInputs, in)
		}
	}

	// A non-anonymous event carries its topic-0 in topics[0], so its indexed
	// values start at topics[1]; an anonymous event's start at topics[0].
	firstTopic := 1
	if ev.Anonymous {
		firstTopic = 0
	}

	indexed := make(map[string]interface{})
	for i, in := range indexedInputs {
		ti := i + firstTopic
		if len(log.Topics) <= ti {
			break
		}
		topicVals := make(map[string]interface{})
		if err := abi.ParseTopicsIntoMap(topicVals, abi.Arguments{in}, []common.Hash{log.Topics[ti]}); err != nil {
			// Keep the raw topic so the value is not discarded; this mirrors
			// the fallback behaviour of the teacher's parser.
			topicVals[in.Name] = log.Topics[ti].Hex()
		}
		for k, v := range topicVals {
			args[k] = v
			indexed[k] = v
		}
	}

	sig := abicodec.Topic0(ev).Hex()
	normalizedArgs := make(map[string]interface{}, len(args))
	for k, v := range args {
		normalizedArgs[k] = normalizeValue(v, inputByName[k].Type)
	}
	normalizedIndexed := make(map[string]interface{}, len(indexed))
	for k, v := range indexed {
		normalizedIndexed[k] = normalizeValue(v, inputByName[k].Type)
	}

	return Event{
		Name:        ev.Name,
		Args:        normalizedArgs,
		Signature:   &sig,
		IndexedArgs: normalizedIndexed,
	}, nil
}
