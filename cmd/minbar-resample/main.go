// One-shot resampling tool: reads stored 1-minute bars and writes
// 15m/30m/60m/120m/daily parquet archives.
//
// Usage:
//
//	go run cmd/minbar-resample/main.go -from 2024-01-01 -to 2024-06-30 [-symbol 600000] [-intervals 15m,60m]
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"minbar/internal/config"
	"minbar/internal/domain"
	"minbar/internal/resample"
	"minbar/internal/store"
	"minbar/internal/util"
)

const dateLayout = "2006-01-02"

func main() {
	symbol := flag.String("symbol", "", "single symbol to resample (default: all stored symbols)")
	intervals := flag.String("intervals", "15m,30m,60m,120m,daily", "comma-separated target intervals")
	from := flag.String("from", "", "start date (YYYY-MM-DD, required)")
	to := flag.String("to", "", "end date (YYYY-MM-DD, required)")
	flag.Parse()

	if *from == "" || *to == "" {
		flag.Usage()
		os.Exit(2)
	}
	start, err := time.ParseInLocation(dateLayout, *from, time.Local)
	if err != nil {
		log.Fatalf("invalid -from: %v", err)
	}
	end, err := time.ParseInLocation(dateLayout, *to, time.Local)
	if err != nil {
		log.Fatalf("invalid -to: %v", err)
	}
	end = end.Add(24*time.Hour - time.Second)

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

	minutes, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open bar store: %v", err)
	}
	defer minutes.Close()
	archive := store.NewParquetStore(cfg.Storage.DataDir)

	ctx := context.Background()

	symbols := []string{*symbol}
	if *symbol == "" {
		symbols, err = minutes.ListSymbols(ctx, domain.Interval1m)
		if err != nil {
			log.Fatalf("failed to list symbols: %v", err)
		}
	}

	var targets []domain.Interval
	for _, s := range strings.Split(*intervals, ",") {
		targets = append(targets, domain.Interval(strings.TrimSpace(s)))
	}

	for _, sym := range symbols {
		bars, err := minutes.ReadBars(ctx, sym, domain.Interval1m, start, end)
		if err != nil {
			log.Fatalf("failed to read 1m bars for %s: %v", sym, err)
		}
		if len(bars) == 0 {
			logger.Warn("no 1m data in range", "symbol", sym)
			continue
		}

		for _, interval := range targets {
			out, err := resample.Resample(bars, interval)
			if err != nil {
				log.Fatalf("failed to resample %s to %s: %v", sym, interval, err)
			}
			if err := archive.WriteBars(ctx, interval, out); err != nil {
				log.Fatalf("failed to archive %s %s: %v", sym, interval, err)
			}
			logger.Info("archived", "symbol", sym, "interval", interval, "bars", len(out))
		}
	}
}
