// batches inspects the import batch audit log.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/finledger/pipeline/internal/config"
	"github.com/finledger/pipeline/internal/domain"
	infra "github.com/finledger/pipeline/internal/infra/bigquery"
	"github.com/finledger/pipeline/internal/logger"
)

func main() {
	log := logger.New()

	configPath := flag.String("config", "", "path to YAML config file")
	batchID := flag.String("id", "", "show one batch by ID")
	limit := flag.Int("limit", 20, "number of recent batches to list")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store, err := infra.NewStore(ctx, cfg.ProjectID, cfg.Dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to BigQuery")
	}
	defer store.Close()

	if *batchID != "" {
		batch, err := store.GetImportBatch(ctx, *batchID)
		if err != nil {
			log.Fatal().Err(err).Msg("fetching batch")
		}
		printBatch(batch)
		return
	}

	batches, err := store.ListImportBatches(ctx, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("listing batches")
	}
	for _, b := range batches {
		printBatchLine(b)
	}
}

func printBatchLine(b *domain.ImportBatch) {
	statusColor(b.Status).Printf("%-8s", b.Status)
	fmt.Printf(" %s  %-40s attempted=%-4d written=%-4d skipped=%-4d failed=%-4d\n",
		b.StartedAt.Format("2006-01-02 15:04"), b.FileName,
		b.Attempted, b.Written, b.SkippedDuplicate, b.Failed)
}

func printBatch(b *domain.ImportBatch) {
	fmt.Printf("Batch:        %s\n", b.BatchID)
	fmt.Printf("File:         %s\n", b.FileName)
	fmt.Printf("Source:       %s / %s / %s\n", b.SourceType, b.Institution, b.AccountID)
	fmt.Print("Status:       ")
	statusColor(b.Status).Println(b.Status)
	if !b.RangeStart.IsZero() {
		fmt.Printf("Date range:   %s .. %s\n",
			b.RangeStart.Format("2006-01-02"), b.RangeEnd.Format("2006-01-02"))
	}
	fmt.Printf("Attempted:    %d\n", b.Attempted)
	fmt.Printf("Written:      %d\n", b.Written)
	fmt.Printf("Skipped:      %d\n", b.SkippedDuplicate)
	fmt.Printf("Failed:       %d\n", b.Failed)
	fmt.Printf("Needs review: %d\n", b.NeedsReview)
	fmt.Printf("Started:      %s\n", b.StartedAt.Format(time.RFC3339))
	if b.FinishedAt != nil {
		fmt.Printf("Finished:     %s\n", b.FinishedAt.Format(time.RFC3339))
	}
	if b.ErrorMessage != "" {
		fmt.Printf("Error:        %s\n", b.ErrorMessage)
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
