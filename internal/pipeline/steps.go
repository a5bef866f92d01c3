package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/finledger/pipeline/internal/dedup"
	"github.com/finledger/pipeline/internal/domain"
	"github.com/finledger/pipeline/internal/logger"
	"github.com/finledger/pipeline/internal/normalize"
	"github.com/finledger/pipeline/internal/unify"
)

// Step is a single stage of the import pipeline.
type Step interface {
	Execute(ctx context.Context, state *State) error
}

// State is the shared state threaded through all steps of one import run.
type State struct {
	URI          string
	DeclaredType domain.SourceType

	Batch *domain.ImportBatch
	Meta  normalize.FileMeta

	Content io.ReadCloser

	Records      []domain.RawRecord
	Admitted     []domain.RawRecord
	Fingerprints []string
	Categorized  []domain.CategorizedRecord
	Rows         []*domain.LedgerRow

	Failed           int
	SkippedDuplicate int
	Written          int
	NeedsReview      int
}

// Step 1: StartBatchStep validates the file naming convention and stamps the
// batch with the parsed metadata.
type StartBatchStep struct{}

func (s *StartBatchStep) Execute(ctx context.Context, state *State) error {
	meta, err := normalize.ParseFileName(state.URI, state.DeclaredType)
	if err != nil {
		return err
	}
	state.Meta = meta
	state.Batch.FileName = meta.FileName
	state.Batch.SourceType = meta.SourceType
	state.Batch.Institution = meta.Institution
	state.Batch.AccountID = meta.AccountID
	return nil
}

// Step 2: FetchFileStep opens the source file.
type FetchFileStep struct {
	Source Source
}

func (s *FetchFileStep) Execute(ctx context.Context, state *State) error {
	rc, _, err := s.Source.Open(ctx, state.URI)
	if err != nil {
		return err
	}
	state.Content = rc
	return nil
}

// Step 3: NormalizeRecordsStep parses the CSV into raw records. Row-scoped
// failures are counted; crossing the failure threshold aborts the batch.
type NormalizeRecordsStep struct {
	FailureThreshold float64
}

func (s *NormalizeRecordsStep) Execute(ctx context.Context, state *State) error {
	defer state.Content.Close()

	normalizer, err := normalize.ForSourceType(state.Meta.SourceType, s.FailureThreshold)
	if err != nil {
		return err
	}

	result, err := normalizer.Parse(ctx, state.Content, state.Meta)
	if err != nil {
		// An aborted batch still reports how far it got.
		var aborted *domain.BatchAbortedError
		if errors.As(err, &aborted) {
			state.Batch.Attempted = aborted.Total
			state.Batch.Failed = aborted.Failed
		}
		return err
	}

	state.Records = result.Records
	state.Batch.Attempted = result.Attempted
	state.Failed = result.Failed
	return nil
}

// Step 4: DedupRecordsStep drops records whose fingerprint is already in the
// ledger or seen earlier in this batch.
type DedupRecordsStep struct {
	Ledger LedgerStore
}

func (s *DedupRecordsStep) Execute(ctx context.Context, state *State) error {
	admitted, fps, skipped, err := dedup.New(s.Ledger).Filter(ctx, state.Records)
	if err != nil {
		return err
	}
	state.Admitted = admitted
	state.Fingerprints = fps
	state.SkippedDuplicate = skipped
	return nil
}

// Step 5: CategorizeRecordsStep assigns categories. It cannot fail the batch;
// the categorizer degrades to the fallback category on its own.
type CategorizeRecordsStep struct {
	Categorizer Categorizer
}

func (s *CategorizeRecordsStep) Execute(ctx context.Context, state *State) error {
	state.Categorized = s.Categorizer.Categorize(ctx, state.Admitted)
	for i := range state.Categorized {
		if state.Categorized[i].NeedsReview {
			state.NeedsReview++
		}
	}
	return nil
}

// Step 6: MapRecordsStep projects categorized records onto the ledger
// schema. Mapping failures are row-scoped: the record is skipped and
// counted, the batch continues.
type MapRecordsStep struct {
	Now func() time.Time
}

func (s *MapRecordsStep) Execute(ctx context.Context, state *State) error {
	log := logger.FromContext(ctx)

	now := s.Now()
	rows := make([]*domain.LedgerRow, 0, len(state.Categorized))
	for i := range state.Categorized {
		row, err := unify.Map(&state.Categorized[i], state.Fingerprints[i], state.Batch.BatchID, now)
		if err != nil {
			log.Warn().
				Err(err).
				Int("line", state.Categorized[i].LineNo).
				Msg("skipping unmappable record")
			state.Failed++
			continue
		}
		rows = append(rows, row)
	}
	state.Rows = rows
	return nil
}

// Step 7: LoadBatchStep writes the rows in one atomic storage operation.
// Rows the merge refuses as already-present count as late duplicates.
type LoadBatchStep struct {
	Ledger LedgerStore
}

func (s *LoadBatchStep) Execute(ctx context.Context, state *State) error {
	written, err := s.Ledger.InsertLedgerRows(ctx, state.Batch.BatchID, state.Rows)
	if err != nil {
		return err
	}
	state.Written = int(written)
	state.SkippedDuplicate += len(state.Rows) - state.Written
	return nil
}

// Step 8: FinalizeBatchStep moves the counters onto the batch and picks the
// terminal status: failed batches never reach this step, so the outcome is
// success, or partial when row-scoped failures were skipped along the way.
type FinalizeBatchStep struct {
	Now func() time.Time
}

func (s *FinalizeBatchStep) Execute(ctx context.Context, state *State) error {
	b := state.Batch
	b.Written = state.Written
	b.SkippedDuplicate = state.SkippedDuplicate
	b.Failed = state.Failed
	b.NeedsReview = state.NeedsReview

	for _, rec := range state.Admitted {
		date := rec.TransactionDate
		if b.RangeStart.IsZero() || date.Before(b.RangeStart) {
			b.RangeStart = date
		}
		if b.RangeEnd.IsZero() || date.After(b.RangeEnd) {
			b.RangeEnd = date
		}
	}

	status := domain.BatchSuccess
	if state.Failed > 0 {
		status = domain.BatchPartial
	}
	b.Finalize(status, "", s.Now())
	return nil
}
