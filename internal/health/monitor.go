// Package health runs the periodic tip-vs-cursor check that triggers a
// catch-up backfill if the live subscription has silently fallen behind
// (spec §4.5 health check, §9).
package health

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/degenerus/event-indexer/internal/store"
)

// TipFetcher is the subset of rpcclient.Client needed to learn the chain tip.
type TipFetcher interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// GapFiller triggers a catch-up backfill when the monitor detects the
// cursor has fallen behind the tip by more than the configured threshold.
type GapFiller interface {
	BackfillMissedBlocks(ctx context.Context, startBlock uint64) error
}

// Monitor runs the health check loop.
type Monitor struct {
	client     TipFetcher
	store      *store.Store
	backfill   GapFiller
	startBlock uint64
	interval   time.Duration
	threshold  uint64
}

// New builds a Monitor. interval and threshold default to 30s/3 blocks to
// match the documented configuration defaults when zero.
func New(client TipFetcher, st *store.Store, bf GapFiller, startBlock uint64, interval time.Duration, threshold uint64) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if threshold == 0 {
		threshold = 3
	}
	return &Monitor{client: client, store: st, backfill: bf, startBlock: startBlock, interval: interval, threshold: threshold}
}

// Run loops until ctx is cancelled, sleeping interval between checks.
// Every failure is logged and swallowed: a health check must never crash the
// process it is monitoring.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.checkOnce(ctx); err != nil {
				logrus.Warnf("health check error: %v", err)
			}
		}
	}
}

func (m *Monitor) checkOnce(ctx context.Context) error {
	cursor, _, ok, err := m.store.ReadCursor()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	latest, err := m.client.LatestBlockNumber(ctx)
	if err != nil {
		return err
	}

	if latest > cursor+m.threshold {
		logrus.Warnf("health check: cursor at %d, tip at %d, triggering catch-up backfill", cursor, latest)
		return m.backfill.BackfillMissedBlocks(ctx, m.startBlock)
	}
	return nil
}
