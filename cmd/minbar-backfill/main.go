// One-shot backfill tool: seeds ledger records for new symbols and runs a
// single batch pass.
//
// Usage:
//
//	go run cmd/minbar-backfill/main.go [-symbols 600000,000001] [-sector]
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"minbar/internal/acquire"
	"minbar/internal/batch"
	"minbar/internal/config"
	"minbar/internal/domain"
	"minbar/internal/fetch"
	"minbar/internal/ledger"
	"minbar/internal/store"
	"minbar/internal/util"
)

func main() {
	symbols := flag.String("symbols", "", "comma-separated symbols to onboard before the run")
	sector := flag.Bool("sector", false, "onboarded symbols are sector indices")
	resetFailed := flag.Bool("reset-failed", false, "flip failed records back to pending first")
	flag.Parse()

	cfgPath := "config/minbar.yaml"
	if p := os.Getenv("MINBAR_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	led, err := ledger.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open ledger: %v", err)
	}
	defer led.Close()

	bars, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open bar store: %v", err)
	}
	defer bars.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *symbols != "" {
		segment := domain.SegmentEquity
		if *sector {
			segment = domain.SegmentSector
		}
		list := strings.Split(*symbols, ",")
		created, err := led.Seed(ctx, list, segment)
		if err != nil {
			log.Fatalf("failed to seed symbols: %v", err)
		}
		logger.Info("symbols onboarded", "requested", len(list), "created", created, "segment", segment)
	}

	if *resetFailed {
		n, err := led.ResetFailed(ctx)
		if err != nil {
			log.Fatalf("failed to reset failed records: %v", err)
		}
		logger.Info("failed records reset", "count", n)
	}

	httpClient := fetch.NewClient(cfg.HTTP, cfg.Headers, logger)
	browser := fetch.NewBrowser(cfg.Browser, logger)
	orch := acquire.New(cfg, nil, httpClient, browser, logger)
	sched := batch.NewScheduler(cfg.Batch, led, bars, orch, logger)

	if err := sched.Run(ctx); err != nil {
		log.Fatalf("batch run failed: %v", err)
	}

	total, processed, succeeded, failed := sched.Progress().Snapshot()
	logger.Info("backfill finished", "total", total, "processed", processed,
		"succeeded", succeeded, "failed", failed)
}
