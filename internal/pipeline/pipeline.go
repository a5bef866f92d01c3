// Package pipeline drives one source file through normalize, dedup,
// categorize, unify and load, recording the run in the import batch audit
// log. Batches for different files are independent; the Runner is safe for
// concurrent use.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/finledger/pipeline/internal/domain"
	"github.com/finledger/pipeline/internal/logger"
)

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []Step
}

func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially, stopping at the first error.
func (p *Pipeline) Execute(ctx context.Context, state *State) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d: %w", i+1, err)
		}
	}
	return nil
}

// Runner wires the import pipeline to its storage and classifier
// dependencies.
type Runner struct {
	batches     BatchStore
	ledger      LedgerStore
	source      Source
	categorizer Categorizer
	refresher   Refresher // optional

	failureThreshold float64
	concurrency      int
	now              func() time.Time
}

type RunnerOptions struct {
	// FailureRateThreshold aborts a batch when failed/attempted exceeds it.
	FailureRateThreshold float64

	// Concurrency caps the number of files ImportAll processes at once.
	Concurrency int

	// Refresher, when set, is invoked after every batch that wrote rows.
	Refresher Refresher

	// Now is the batch clock; defaults to time.Now.
	Now func() time.Time
}

func NewRunner(batches BatchStore, ledger LedgerStore, source Source, categorizer Categorizer, opts RunnerOptions) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{
		batches:          batches,
		ledger:           ledger,
		source:           source,
		categorizer:      categorizer,
		refresher:        opts.Refresher,
		failureThreshold: opts.FailureRateThreshold,
		concurrency:      opts.Concurrency,
		now:              opts.Now,
	}
}

// ImportFile runs the full pipeline for one source file. It always returns
// the batch record when one was created, including on failure: the audit row
// is finalized with status=failed before the error propagates.
func (r *Runner) ImportFile(ctx context.Context, uri string, declared domain.SourceType) (*domain.ImportBatch, error) {
	batch := &domain.ImportBatch{
		BatchID:    uuid.NewString(),
		FileName:   uri,
		SourceType: declared,
		Status:     domain.BatchPending,
		StartedAt:  r.now(),
	}

	log := logger.ForBatch(logger.FromContext(ctx), batch.BatchID, uri)
	ctx = logger.WithContext(ctx, log)
	log.Info().Msg("import started")

	if err := r.batches.CreateImportBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("ImportFile: %w", err)
	}

	state := &State{URI: uri, DeclaredType: declared, Batch: batch}
	pipe := NewPipeline(
		&StartBatchStep{},
		&FetchFileStep{Source: r.source},
		&NormalizeRecordsStep{FailureThreshold: r.failureThreshold},
		&DedupRecordsStep{Ledger: r.ledger},
		&CategorizeRecordsStep{Categorizer: r.categorizer},
		&MapRecordsStep{Now: r.now},
		&LoadBatchStep{Ledger: r.ledger},
		&FinalizeBatchStep{Now: r.now},
	)

	if err := pipe.Execute(ctx, state); err != nil {
		batch.Finalize(domain.BatchFailed, err.Error(), r.now())
		if ferr := r.batches.FinalizeImportBatch(ctx, batch); ferr != nil {
			log.Error().Err(ferr).Msg("finalizing failed batch")
		}
		log.Error().Err(err).Msg("import failed")
		return batch, fmt.Errorf("ImportFile: %s: %w", uri, err)
	}

	if err := r.batches.FinalizeImportBatch(ctx, batch); err != nil {
		return batch, fmt.Errorf("ImportFile: %w", err)
	}

	log.Info().
		Str("status", string(batch.Status)).
		Int("attempted", batch.Attempted).
		Int("written", batch.Written).
		Int("skipped_duplicate", batch.SkippedDuplicate).
		Int("failed", batch.Failed).
		Int("needs_review", batch.NeedsReview).
		Msg("import finished")

	r.refresh(ctx, batch)
	return batch, nil
}

func (r *Runner) refresh(ctx context.Context, batch *domain.ImportBatch) {
	if r.refresher == nil || batch.Written == 0 {
		return
	}
	if err := r.refresher.Refresh(ctx, batch); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("post-import refresh failed")
	}
}

// ImportAll imports several files concurrently. Each file gets its own batch
// and its own outcome; one file failing never stops the others. The returned
// error joins the per-file failures.
func (r *Runner) ImportAll(ctx context.Context, uris []string, declared domain.SourceType) ([]*domain.ImportBatch, error) {
	batches := make([]*domain.ImportBatch, len(uris))
	errs := make([]error, len(uris))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, uri := range uris {
		g.Go(func() error {
			batches[i], errs[i] = r.ImportFile(ctx, uri, declared)
			return nil
		})
	}
	// Goroutines report through the errs slice, never through the group.
	_ = g.Wait()

	out := make([]*domain.ImportBatch, 0, len(uris))
	for _, b := range batches {
		if b != nil {
			out = append(out, b)
		}
	}
	return out, errors.Join(errs...)
}
