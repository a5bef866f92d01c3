package bigquery

import (
	"context"
	"fmt"

	"github.com/finledger/pipeline/internal/domain"
)

// RebuildMonthlySummary recomputes the reporting rollup from scratch. The
// table is small enough that a full rebuild is cheaper than maintaining it
// incrementally, and CREATE OR REPLACE swaps it atomically.
func (s *Store) RebuildMonthlySummary(ctx context.Context) error {
	q := s.client.Query(fmt.Sprintf(`
		CREATE OR REPLACE TABLE %s AS
		SELECT
			DATE_TRUNC(transaction_date, MONTH) AS month,
			source_type,
			institution,
			account_id,
			category,
			kind,
			COUNT(*) AS row_count,
			SUM(amount) AS total_amount
		FROM %s
		GROUP BY month, source_type, institution, account_id, category, kind
	`, s.qualified(summaryTable), s.qualified(ledgerTable)))

	if _, err := s.runDML(ctx, q); err != nil {
		return &domain.PersistenceError{Op: "RebuildMonthlySummary", Err: err}
	}
	return nil
}
