package pipeline

import (
	"context"
	"io"

	"github.com/finledger/pipeline/internal/domain"
)

// BatchStore persists the import batch audit log.
type BatchStore interface {
	CreateImportBatch(ctx context.Context, b *domain.ImportBatch) error
	FinalizeImportBatch(ctx context.Context, b *domain.ImportBatch) error
}

// LedgerStore persists unified rows and answers fingerprint lookups.
type LedgerStore interface {
	ExistingFingerprints(ctx context.Context, fps []string) (map[string]bool, error)
	InsertLedgerRows(ctx context.Context, batchID string, rows []*domain.LedgerRow) (int64, error)
}

// Source opens a file by URI and returns its content plus the bare file name.
type Source interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, string, error)
}

// Refresher rebuilds downstream views after a batch lands. Refresh failures
// never affect batch status.
type Refresher interface {
	Refresh(ctx context.Context, b *domain.ImportBatch) error
}

// Categorizer assigns categories to admitted records.
type Categorizer interface {
	Categorize(ctx context.Context, recs []domain.RawRecord) []domain.CategorizedRecord
}
