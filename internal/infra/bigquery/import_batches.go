package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/finledger/pipeline/internal/domain"
)

type ImportBatchRow struct {
	BatchID  string `bigquery:"batch_id"`  // REQUIRED
	FileName string `bigquery:"file_name"` // REQUIRED

	SourceType  string `bigquery:"source_type"` // REQUIRED
	Institution string `bigquery:"institution"` // NULLABLE until finalize
	AccountID   string `bigquery:"account_id"`  // NULLABLE until finalize

	RangeStart bigquery.NullDate `bigquery:"range_start"` // NULLABLE
	RangeEnd   bigquery.NullDate `bigquery:"range_end"`   // NULLABLE

	Attempted        int64 `bigquery:"attempted"`
	Written          int64 `bigquery:"written"`
	SkippedDuplicate int64 `bigquery:"skipped_duplicate"`
	Failed           int64 `bigquery:"failed"`
	NeedsReview      int64 `bigquery:"needs_review"`

	Status       string `bigquery:"status"`        // REQUIRED
	ErrorMessage string `bigquery:"error_message"` // NULLABLE

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE
}

func (r *ImportBatchRow) toDomain() *domain.ImportBatch {
	b := &domain.ImportBatch{
		BatchID:          r.BatchID,
		FileName:         r.FileName,
		SourceType:       domain.SourceType(r.SourceType),
		Institution:      r.Institution,
		AccountID:        r.AccountID,
		Attempted:        int(r.Attempted),
		Written:          int(r.Written),
		SkippedDuplicate: int(r.SkippedDuplicate),
		Failed:           int(r.Failed),
		NeedsReview:      int(r.NeedsReview),
		Status:           domain.BatchStatus(r.Status),
		ErrorMessage:     r.ErrorMessage,
		StartedAt:        r.StartedTS,
	}
	if r.RangeStart.Valid {
		b.RangeStart = r.RangeStart.Date.In(time.UTC)
	}
	if r.RangeEnd.Valid {
		b.RangeEnd = r.RangeEnd.Date.In(time.UTC)
	}
	if r.FinishedTS.Valid {
		finished := r.FinishedTS.Timestamp
		b.FinishedAt = &finished
	}
	return b
}

func nullDateOf(t time.Time) bigquery.NullDate {
	if t.IsZero() {
		return bigquery.NullDate{}
	}
	return bigquery.NullDate{Date: civil.DateOf(t), Valid: true}
}
