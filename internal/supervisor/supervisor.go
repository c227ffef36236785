// Package supervisor wires config, registry, store, and the ingestion
// engines into the startup sequence the run command drives (spec §4.5,
// §6): open the store, load the contract registry, run an initial
// backfill, then run the live subscriber and health monitor concurrently
// until cancelled.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/degenerus/event-indexer/internal/backfill"
	"github.com/degenerus/event-indexer/internal/blocktime"
	"github.com/degenerus/event-indexer/internal/config"
	"github.com/degenerus/event-indexer/internal/health"
	"github.com/degenerus/event-indexer/internal/live"
	"github.com/degenerus/event-indexer/internal/registry"
	"github.com/degenerus/event-indexer/internal/rpcclient"
	"github.com/degenerus/event-indexer/internal/store"
)

// Supervisor owns the opened store and the wired ingestion components for
// one run of the indexer.
type Supervisor struct {
	cfg   *config.Config
	store *store.Store
	reg   *registry.Registry
}

// New opens the store and loads the contract registry, persisting the
// catalog. Callers must call Close when done.
func New(cfg *config.Config) (*Supervisor, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg, err := registry.Load(cfg, st)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load registry: %w", err)
	}

	return &Supervisor{cfg: cfg, store: st, reg: reg}, nil
}

// Store exposes the opened store.
func (s *Supervisor) Store() *store.Store { return s.store }

// Close releases the underlying store.
func (s *Supervisor) Close() error { return s.store.Close() }

// Run performs the initial backfill and then runs the live subscriber and
// health monitor concurrently until ctx is cancelled or one of them returns
// a fatal error.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.cfg.RequireLive(); err != nil {
		return err
	}

	httpClient, err := rpcclient.Dial(ctx, s.cfg.RPCHTTP, rpcclient.RetryConfig{})
	if err != nil {
		return fmt.Errorf("dial rpc_http: %w", err)
	}

	times := blocktime.New(httpClient)
	bf := backfill.New(httpClient, s.reg, s.store, times, s.cfg.BatchSize)

	logrus.Infof("running initial backfill from block %d", s.cfg.StartBlock)
	if err := bf.BackfillMissedBlocks(ctx, s.cfg.StartBlock); err != nil {
		return fmt.Errorf("initial backfill: %w", err)
	}

	subscriber := live.New(s.cfg.RPCWS, s.reg, s.store, times, bf, s.cfg.StartBlock,
		time.Duration(s.cfg.ReconnectDelay)*time.Second)
	monitor := health.New(httpClient, s.store, bf, s.cfg.StartBlock,
		time.Duration(s.cfg.HealthCheckInterval)*time.Second, s.cfg.HealthCheckThreshold)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return subscriber.Run(gctx) })
	group.Go(func() error { monitor.Run(gctx); return nil })

	if err := group.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	return nil
}

// RunBackfill performs a one-shot historical backfill over [from, to] and
// returns, without starting the live subscriber (the `backfill` CLI
// subcommand).
func (s *Supervisor) RunBackfill(ctx context.Context, from, to uint64) error {
	if err := s.cfg.RequireBackfill(); err != nil {
		return err
	}

	httpClient, err := rpcclient.Dial(ctx, s.cfg.RPCHTTP, rpcclient.RetryConfig{})
	if err != nil {
		return fmt.Errorf("dial rpc_http: %w", err)
	}

	times := blocktime.New(httpClient)
	bf := backfill.New(httpClient, s.reg, s.store, times, s.cfg.BatchSize)

	if to == 0 {
		tip, err := httpClient.LatestBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("fetch tip: %w", err)
		}
		to = tip
	}

	logrus.Infof("backfilling blocks [%d,%d]", from, to)
	return bf.BackfillRange(ctx, from, to)
}
