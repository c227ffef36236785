// Package backfill implements historical log ingestion over an explicit
// block range, adapting its window size to whatever the node's getLogs
// endpoint will tolerate (spec §4.4).
package backfill

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/degenerus/event-indexer/internal/blocktime"
	"github.com/degenerus/event-indexer/internal/decoder"
	"github.com/degenerus/event-indexer/internal/recordutil"
	"github.com/degenerus/event-indexer/internal/registry"
	"github.com/degenerus/event-indexer/internal/rpcclient"
	"github.com/degenerus/event-indexer/internal/store"
)

// LogFetcher is the subset of rpcclient.Client the engine needs.
type LogFetcher interface {
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// Engine runs backfill_range / backfill_missed_blocks (spec §4.4).
type Engine struct {
	client    LogFetcher
	reg       *registry.Registry
	store     *store.Store
	times     *blocktime.Cache
	batchSize uint64
}

// New builds a backfill Engine. batchSize is the starting window width; it
// is halved (down to a floor of 1) whenever the node rejects a window as too
// large, and is not restored between calls.
func New(client LogFetcher, reg *registry.Registry, st *store.Store, times *blocktime.Cache, batchSize uint64) *Engine {
	if batchSize == 0 {
		batchSize = 1000
	}
	return &Engine{client: client, reg: reg, store: st, times: times, batchSize: batchSize}
}

// BackfillRange ingests every log in [from, to] (inclusive), adapting its
// window size on range-too-large rejections and persisting each successful
// window atomically along with the advanced cursor (spec §4.4).
func (e *Engine) BackfillRange(ctx context.Context, from, to uint64) error {
	if from > to {
		return nil
	}

	addresses := e.reg.Addresses()
	current := from

	for current <= to {
		windowEnd := current + e.batchSize - 1
		if windowEnd > to || windowEnd < current {
			windowEnd = to
		}

		logs, err := e.fetchWindow(ctx, addresses, current, windowEnd)
		if err != nil {
			if _, ok := err.(*rpcclient.RangeTooLargeError); ok {
				if e.batchSize <= 1 {
					return fmt.Errorf("backfill: range too large at minimum batch size: %w", err)
				}
				e.batchSize = maxUint64(e.batchSize/2, 1)
				logrus.Warnf("backfill: range too large for [%d,%d], reducing batch size to %d", current, windowEnd, e.batchSize)
				continue
			}
			return fmt.Errorf("backfill: fetch [%d,%d]: %w", current, windowEnd, err)
		}

		if err := e.persistWindow(ctx, logs, windowEnd); err != nil {
			return err
		}

		current = windowEnd + 1
	}

	return nil
}

// BackfillMissedBlocks computes the gap between the stored cursor (or
// startBlock if no cursor exists yet) and the chain tip, and backfills it.
// No-op if the gap is empty (spec §4.4).
func (e *Engine) BackfillMissedBlocks(ctx context.Context, startBlock uint64) error {
	tip, err := e.client.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("backfill: fetch tip: %w", err)
	}

	from := startBlock
	if cursor, _, ok, err := e.store.ReadCursor(); err != nil {
		return err
	} else if ok {
		from = maxUint64(cursor+1, startBlock)
	}

	if from > tip {
		return nil
	}
	return e.BackfillRange(ctx, from, tip)
}

func (e *Engine) fetchWindow(ctx context.Context, addresses []common.Address, from, to uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: addresses,
	}
	return e.client.GetLogs(ctx, query)
}

// persistWindow decodes and stores every log in a successfully fetched
// window, then advances the cursor through windowEnd even if the window
// produced zero logs (spec §4.4: every block in range must be represented by
// cursor progress, not only blocks with logs).
func (e *Engine) persistWindow(ctx context.Context, logs []types.Log, windowEnd uint64) error {
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	records := make([]store.BatchRecord, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		rec, err := e.decodeLog(ctx, lg)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	ts, err := e.times.Timestamp(ctx, windowEnd)
	if err != nil {
		logrus.Warnf("backfill: timestamp lookup failed for block %d: %v", windowEnd, err)
		return e.store.WriteBatch(records, windowEnd, nil)
	}
	return e.store.WriteBatch(records, windowEnd, &ts)
}

func (e *Engine) decodeLog(ctx context.Context, lg types.Log) (store.BatchRecord, error) {
	addr := lg.Address
	entry, _ := e.reg.Lookup(addr)
	evt := decoder.Decode(entry, &lg)

	decodedJSON, err := recordutil.MarshalArgs(evt.Args)
	if err != nil {
		return store.BatchRecord{}, err
	}

	ts, tsErr := e.times.Timestamp(ctx, lg.BlockNumber)
	var tsPtr *uint64
	if tsErr == nil {
		tsPtr = &ts
	}

	rec := store.EventRecord{
		BlockNumber:      lg.BlockNumber,
		BlockTimestamp:   tsPtr,
		TransactionHash:  lg.TxHash.Hex(),
		TransactionIndex: uint32(lg.TxIndex),
		LogIndex:         uint32(lg.Index),
		ContractAddress:  recordutil.LowerHex(addr),
		EventName:        evt.Name,
		EventSignature:   evt.Signature,
		RawData:          rawDataPtr(lg.Data),
		DecodedArgs:      decodedJSON,
	}

	var indexed []store.IndexedArg
	for k, v := range evt.IndexedArgs {
		s, err := recordutil.MarshalArgValue(v)
		if err != nil {
			return store.BatchRecord{}, err
		}
		indexed = append(indexed, store.IndexedArg{ArgName: k, ArgValue: s})
	}

	return store.BatchRecord{Event: rec, IndexedArgs: indexed}, nil
}

func rawDataPtr(data []byte) *string {
	if len(data) == 0 {
		return nil
	}
	s := recordutil.RawDataHex(data)
	return &s
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
