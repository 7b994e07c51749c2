// Long-running daily downloader: renews the 1-minute universe every
// trading day after settlement, driven by a cron schedule.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"minbar/internal/acquire"
	"minbar/internal/batch"
	"minbar/internal/config"
	"minbar/internal/fetch"
	"minbar/internal/ledger"
	"minbar/internal/store"
	"minbar/internal/util"
)

func main() {
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

	httpClient := fetch.NewClient(cfg.HTTP, cfg.Headers, logger)
	browser := fetch.NewBrowser(cfg.Browser, logger)

	// The quote-feed wire codec is deployed as a separate collaborator;
	// without one the chain starts at the HTTP tier.
	orch := acquire.New(cfg, nil, httpClient, browser, logger)
	sched := batch.NewScheduler(cfg.Batch, led, bars, orch, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := cron.New()
	_, err = c.AddFunc(cfg.Batch.CronSpec, func() {
		// Today's bars are only complete after settlement.
		if !util.AfterClose(time.Now()) {
			logger.Warn("scheduled run skipped before settlement")
			return
		}
		logger.Info("scheduled run triggered", "spec", cfg.Batch.CronSpec)
		if err := sched.Run(ctx); err != nil {
			logger.Error("batch run failed", "error", err)
		}
	})
	if err != nil {
		log.Fatalf("invalid cron spec %q: %v", cfg.Batch.CronSpec, err)
	}

	logger.Info("daily downloader started", "cron", cfg.Batch.CronSpec)
	c.Start()

	<-ctx.Done()
	logger.Info("shutting down")
	<-c.Stop().Done()
}
