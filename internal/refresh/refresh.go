// Package refresh rebuilds downstream views after a batch lands: the
// BigQuery reporting rollup and, optionally, a batch note in Notion.
package refresh

import (
	"context"
	"errors"

	"github.com/finledger/pipeline/internal/domain"
	"github.com/finledger/pipeline/internal/logger"
)

// Refresher rebuilds one downstream view.
type Refresher interface {
	Refresh(ctx context.Context, b *domain.ImportBatch) error
}

// SummaryStore is the storage operation the BigQuery refresher needs.
type SummaryStore interface {
	RebuildMonthlySummary(ctx context.Context) error
}

// Summary rebuilds the monthly_summary rollup table.
type Summary struct {
	store SummaryStore
}

func NewSummary(store SummaryStore) *Summary {
	return &Summary{store: store}
}

func (s *Summary) Refresh(ctx context.Context, b *domain.ImportBatch) error {
	return s.store.RebuildMonthlySummary(ctx)
}

// Multi fans a refresh out to several refreshers. Every refresher runs even
// when an earlier one fails; failures are logged and joined.
type Multi []Refresher

func (m Multi) Refresh(ctx context.Context, b *domain.ImportBatch) error {
	log := logger.FromContext(ctx)

	var errs []error
	for _, r := range m {
		if err := r.Refresh(ctx, b); err != nil {
			log.Warn().Err(err).Msg("refresher failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
