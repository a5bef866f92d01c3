// worker is the long-running import service: it consumes import jobs from a
// queue and, optionally, scans a drop directory for new CSV files.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/finledger/pipeline/internal/categorize"
	"github.com/finledger/pipeline/internal/config"
	infra "github.com/finledger/pipeline/internal/infra/bigquery"
	"github.com/finledger/pipeline/internal/jobs"
	"github.com/finledger/pipeline/internal/jobs/inmemory"
	"github.com/finledger/pipeline/internal/logger"
	"github.com/finledger/pipeline/internal/pipeline"
	"github.com/finledger/pipeline/internal/refresh"
	"github.com/finledger/pipeline/internal/source"
)

func main() {
	log := logger.New()

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	runner, cleanup, err := buildRunner(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("wiring pipeline")
	}
	defer cleanup()

	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(cfg.Worker.BufferSize, cfg.Worker.Concurrency, jobStore)

	handler := func(ctx context.Context, job jobs.Job) error {
		importJob, ok := job.(*jobs.ImportFileJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		log.Info().
			Str("job_id", importJob.JobID).
			Str("uri", importJob.URI).
			Msg("processing import job")

		batch, err := runner.ImportFile(ctx, importJob.URI, importJob.SourceType)
		if batch != nil {
			importJob.BatchID = batch.BatchID
		}
		return err
	}

	if err := queue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("starting job consumer")
	}

	if cfg.Worker.ScanDir != "" {
		go scanLoop(ctx, queue, cfg.Worker.ScanDir, cfg.Worker.Interval.Std())
	}

	log.Info().
		Int("workers", cfg.Worker.Concurrency).
		Str("scan_dir", cfg.Worker.ScanDir).
		Msg("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}

	log.Info().Msg("worker exited")
}

// scanLoop publishes an import job for every .csv file that appears in dir.
// Seen paths are tracked in memory; deduplication of re-published files is
// the pipeline's job anyway.
func scanLoop(ctx context.Context, publisher jobs.Publisher, dir string, interval time.Duration) {
	log := logger.FromContext(ctx)

	var mu sync.Mutex
	seen := make(map[string]bool)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		entries, err := os.ReadDir(dir)
		if err != nil {
			log.Error().Err(err).Str("dir", dir).Msg("scanning drop directory")
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
				continue
			}
			uri := filepath.Join(dir, entry.Name())

			mu.Lock()
			published := seen[uri]
			seen[uri] = true
			mu.Unlock()
			if published {
				continue
			}

			job := &jobs.ImportFileJob{URI: uri}
			if err := publisher.PublishImportFile(ctx, job); err != nil {
				log.Error().Err(err).Str("uri", uri).Msg("publishing import job")
				continue
			}
			log.Info().Str("job_id", job.JobID).Str("uri", uri).Msg("queued import job")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
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
