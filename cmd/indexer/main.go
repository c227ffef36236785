package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/degenerus/event-indexer/internal/config"
	"github.com/degenerus/event-indexer/internal/state"
	"github.com/degenerus/event-indexer/internal/store"
	"github.com/degenerus/event-indexer/internal/supervisor"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runCommand(os.Args[2:])
	case "backfill":
		backfillCommand(os.Args[2:])
	case "state":
		stateCommand(os.Args[2:])
	case "events":
		eventsCommand(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: indexer <run|backfill|state|events> [flags]")
}

func withSignals() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Info("interrupt received, shutting down gracefully…")
		cancel()
	}()
	return ctx, cancel
}

func loadConfigOrDie(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func runCommand(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to configuration file")
	fs.Parse(args)

	cfg := loadConfigOrDie(*configPath)
	ctx, cancel := withSignals()
	defer cancel()

	sup, err := supervisor.New(cfg)
	if err != nil {
		log.Fatalf("failed to start supervisor: %v", err)
	}
	defer sup.Close()

	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("indexer terminated with error: %v", err)
	}
}

func backfillCommand(args []string) {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to configuration file")
	fromBlock := fs.Uint64("from-block", 0, "first block to backfill (required)")
	toBlock := fs.Uint64("to-block", 0, "last block to backfill (defaults to current tip)")
	fs.Parse(args)
	fromSet := false
	fs.Visit(func(f *flag.Flag) { fromSet = fromSet || f.Name == "from-block" })
	if !fromSet {
		log.Fatalf("backfill: --from-block is required")
	}

	cfg := loadConfigOrDie(*configPath)
	ctx, cancel := withSignals()
	defer cancel()

	sup, err := supervisor.New(cfg)
	if err != nil {
		log.Fatalf("failed to start supervisor: %v", err)
	}
	defer sup.Close()

	if err := sup.RunBackfill(ctx, *fromBlock, *toBlock); err != nil {
		log.Fatalf("backfill failed: %v", err)
	}
}

func stateCommand(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to configuration file")
	block := fs.Uint64("block", 0, "block number to reconstruct state at (required)")
	playerAddr := fs.String("player", "", "reconstruct one player's view instead of the full snapshot")
	fs.Parse(args)
	blockSet := false
	fs.Visit(func(f *flag.Flag) { blockSet = blockSet || f.Name == "block" })
	if !blockSet {
		log.Fatalf("state: --block is required")
	}

	cfg := loadConfigOrDie(*configPath)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	recon := state.New(st, namedContracts(cfg))

	var out interface{}
	if *playerAddr != "" {
		player, err := recon.PlayerState(*playerAddr, *block)
		if err != nil {
			log.Fatalf("failed to reconstruct player state: %v", err)
		}
		out = player
	} else {
		snap, err := recon.AtBlock(*block)
		if err != nil {
			log.Fatalf("failed to reconstruct state: %v", err)
		}
		out = snap
	}

	printJSON(out)
}

func eventsCommand(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to configuration file")
	contract := fs.String("contract", "", "filter by contract name or address")
	name := fs.String("name", "", "filter by event name")
	limit := fs.Int("limit", 200, "maximum rows to return")
	fs.Parse(args)

	cfg := loadConfigOrDie(*configPath)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	rows, err := st.QueryEvents(resolveContractFilter(st, *contract), *name, *limit)
	if err != nil {
		log.Fatalf("failed to query events: %v", err)
	}

	printJSON(rows)
}

// resolveContractFilter accepts the --contract flag as either a catalog
// name or a raw address (spec §6 NAME_OR_ADDR) and returns the lower-case
// address QueryEvents matches against. An unresolvable name is passed
// through unchanged so the query simply yields no rows rather than
// silently dropping the filter.
func resolveContractFilter(st *store.Store, value string) string {
	if value == "" {
		return ""
	}
	if addr, ok, err := st.ResolveContractAddress(value); err == nil && ok {
		return addr
	}
	if strings.HasPrefix(value, "0x") && len(value) == 42 {
		return strings.ToLower(value)
	}
	return value
}

func namedContracts(cfg *config.Config) []state.NamedContract {
	out := make([]state.NamedContract, 0, len(cfg.Contracts))
	for name, cc := range cfg.Contracts {
		out = append(out, state.NamedContract{Address: cc.Address, Name: name})
	}
	return out
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("failed to encode output: %v", err)
	}
}
