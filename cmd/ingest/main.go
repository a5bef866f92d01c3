// ingest imports one or more source CSV files into the ledger, one batch per
// file. Files may be local paths or gs:// URIs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"golang.org/x/time/rate"

	"github.com/finledger/pipeline/internal/categorize"
	"github.com/finledger/pipeline/internal/config"
	"github.com/finledger/pipeline/internal/domain"
	infra "github.com/finledger/pipeline/internal/infra/bigquery"
	"github.com/finledger/pipeline/internal/logger"
	"github.com/finledger/pipeline/internal/pipeline"
	"github.com/finledger/pipeline/internal/refresh"
	"github.com/finledger/pipeline/internal/source"
)

func main() {
	log := logger.New()

	configPath := flag.String("config", "", "path to YAML config file")
	sourceType := flag.String("type", "", "declared source type (bank|credit|stock); optional when the file name encodes it")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall import timeout")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		log.Fatal().Msg("usage: ingest [flags] <file.csv|gs://bucket/file.csv> ...")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	var declared domain.SourceType
	if *sourceType != "" {
		declared, err = domain.ParseSourceType(*sourceType)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid -type")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	runner, cleanup, err := buildRunner(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("wiring pipeline")
	}
	defer cleanup()

	batches, importErr := runner.ImportAll(ctx, files, declared)
	printBatches(batches)

	if importErr != nil {
		log.Error().Err(importErr).Msg("some imports failed")
		os.Exit(1)
	}
}

func buildRunner(ctx context.Context, cfg config.Config) (*pipeline.Runner, func(), error) {
	store, err := infra.NewStore(ctx, cfg.ProjectID, cfg.Dataset)
	if err != nil {
		return nil, nil, err
	}

	cache, err := categorize.OpenSQLiteCache(cfg.Cache.Path)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	log := logger.FromContext(ctx)
	if evicted, err := cache.Prune(ctx, cfg.Cache.MaxEntries); err != nil {
		log.Warn().Err(err).Msg("pruning category cache")
	} else if evicted > 0 {
		log.Info().Int64("evicted", evicted).Msg("pruned category cache")
	}

	classifier, err := categorize.NewGeminiClassifier(ctx, cfg.Classifier.Model, cfg.Classifier.Categories)
	if err != nil {
		cache.Close()
		store.Close()
		return nil, nil, err
	}

	window := cfg.Classifier.Window.Std()
	limiter := rate.NewLimiter(rate.Limit(float64(cfg.Classifier.MaxCalls)/window.Seconds()), cfg.Classifier.MaxCalls)

	categorizer := categorize.New(cache, classifier, categorize.Options{
		MaxBatchSize:    cfg.Classifier.MaxBatchSize,
		MaxAttempts:     cfg.Classifier.MaxAttempts,
		BaseBackoff:     cfg.Classifier.BaseBackoff.Std(),
		Limiter:         limiter,
		ReviewThreshold: cfg.ReviewThreshold,
	})

	opener := source.New()

	refreshers := refresh.Multi{refresh.NewSummary(store)}
	if cfg.Notion.Enabled {
		refreshers = append(refreshers, refresh.NewNotion(cfg.Notion.Token, cfg.Notion.DatabaseID))
	}

	runner := pipeline.NewRunner(store, store, opener, categorizer, pipeline.RunnerOptions{
		FailureRateThreshold: cfg.FailureRateThreshold,
		Concurrency:          cfg.Worker.Concurrency,
		Refresher:            refreshers,
	})

	cleanup := func() {
		opener.Close()
		cache.Close()
		store.Close()
	}
	return runner, cleanup, nil
}

func printBatches(batches []*domain.ImportBatch) {
	for _, b := range batches {
		statusColor(b.Status).Printf("%-8s", b.Status)
		fmt.Printf(" %s  written=%d skipped=%d failed=%d needs_review=%d\n",
			b.FileName, b.Written, b.SkippedDuplicate, b.Failed, b.NeedsReview)
		if b.ErrorMessage != "" {
			fmt.Printf("         %s\n", b.ErrorMessage)
		}
	}
}

func statusColor(status domain.BatchStatus) *color.Color {
	switch status {
	case domain.BatchSuccess:
		return color.New(color.FgGreen)
	case domain.BatchPartial:
		return color.New(color.FgYellow)
	case domain.BatchFailed:
		return color.New(color.FgRed)
	}
	return color.New(color.FgWhite)
}
