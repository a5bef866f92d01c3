package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/finledger/pipeline/internal/domain"
)

// CreateImportBatch inserts the pending audit row at the start of a run.
func (s *Store) CreateImportBatch(ctx context.Context, b *domain.ImportBatch) error {
	q := s.client.Query(fmt.Sprintf(`
		INSERT %s (batch_id, file_name, source_type, status, started_ts)
		VALUES (@batch_id, @file_name, @source_type, @status, @started_ts)
	`, s.qualified(importBatchesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "batch_id", Value: b.BatchID},
		{Name: "file_name", Value: b.FileName},
		{Name: "source_type", Value: string(b.SourceType)},
		{Name: "status", Value: string(domain.BatchPending)},
		{Name: "started_ts", Value: b.StartedAt},
	}

	if _, err := s.runDML(ctx, q); err != nil {
		return &domain.PersistenceError{Op: "CreateImportBatch", Err: err}
	}
	return nil
}

// FinalizeImportBatch stamps the terminal status and counters. Called exactly
// once per batch; the pending row keeps its started_ts.
func (s *Store) FinalizeImportBatch(ctx context.Context, b *domain.ImportBatch) error {
	if b.FinishedAt == nil {
		return fmt.Errorf("FinalizeImportBatch: batch %s not finalized", b.BatchID)
	}

	q := s.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET institution = @institution,
		    account_id = @account_id,
		    range_start = @range_start,
		    range_end = @range_end,
		    attempted = @attempted,
		    written = @written,
		    skipped_duplicate = @skipped_duplicate,
		    failed = @failed,
		    needs_review = @needs_review,
		    status = @status,
		    error_message = @error_message,
		    finished_ts = @finished_ts
		WHERE batch_id = @batch_id
	`, s.qualified(importBatchesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "institution", Value: b.Institution},
		{Name: "account_id", Value: b.AccountID},
		{Name: "range_start", Value: nullDateOf(b.RangeStart)},
		{Name: "range_end", Value: nullDateOf(b.RangeEnd)},
		{Name: "attempted", Value: int64(b.Attempted)},
		{Name: "written", Value: int64(b.Written)},
		{Name: "skipped_duplicate", Value: int64(b.SkippedDuplicate)},
		{Name: "failed", Value: int64(b.Failed)},
		{Name: "needs_review", Value: int64(b.NeedsReview)},
		{Name: "status", Value: string(b.Status)},
		{Name: "error_message", Value: truncateError(b.ErrorMessage)},
		{Name: "finished_ts", Value: *b.FinishedAt},
		{Name: "batch_id", Value: b.BatchID},
	}

	if _, err := s.runDML(ctx, q); err != nil {
		return &domain.PersistenceError{Op: "FinalizeImportBatch", Err: err}
	}
	return nil
}

// GetImportBatch fetches one batch by ID.
func (s *Store) GetImportBatch(ctx context.Context, batchID string) (*domain.ImportBatch, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT *
		FROM %s
		WHERE batch_id = @batch_id
	`, s.qualified(importBatchesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "batch_id", Value: batchID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "GetImportBatch", Err: err}
	}

	var r ImportBatchRow
	if err := it.Next(&r); err != nil {
		if err == iterator.Done {
			return nil, fmt.Errorf("GetImportBatch: batch %s not found", batchID)
		}
		return nil, &domain.PersistenceError{Op: "GetImportBatch", Err: err}
	}
	return r.toDomain(), nil
}

// ListImportBatches returns the most recent batches, newest first.
func (s *Store) ListImportBatches(ctx context.Context, limit int) ([]*domain.ImportBatch, error) {
	if limit <= 0 {
		limit = 50
	}

	q := s.client.Query(fmt.Sprintf(`
		SELECT *
		FROM %s
		ORDER BY started_ts DESC
		LIMIT @limit
	`, s.qualified(importBatchesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "limit", Value: int64(limit)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "ListImportBatches", Err: err}
	}

	var batches []*domain.ImportBatch
	for {
		var r ImportBatchRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &domain.PersistenceError{Op: "ListImportBatches", Err: err}
		}
		batches = append(batches, r.toDomain())
	}
	return batches, nil
}

func truncateError(msg string) string {
	const maxLen = 2000
	if len(msg) > maxLen {
		return msg[:maxLen]
	}
	return msg
}
