package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/finledger/pipeline/internal/domain"
	"github.com/finledger/pipeline/internal/logger"
)

// ExistingFingerprints returns the subset of fps already present in the
// ledger, as a set.
func (s *Store) ExistingFingerprints(ctx context.Context, fps []string) (map[string]bool, error) {
	if len(fps) == 0 {
		return map[string]bool{}, nil
	}

	q := s.client.Query(fmt.Sprintf(`
		SELECT fingerprint
		FROM %s
		WHERE fingerprint IN UNNEST(@fingerprints)
	`, s.qualified(ledgerTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "fingerprints", Value: fps},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "ExistingFingerprints", Err: err}
	}

	existing := make(map[string]bool)
	for {
		var r struct {
			Fingerprint string `bigquery:"fingerprint"`
		}
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &domain.PersistenceError{Op: "ExistingFingerprints", Err: err}
		}
		existing[r.Fingerprint] = true
	}
	return existing, nil
}

// InsertLedgerRows writes a batch atomically: rows are streamed into a
// per-batch staging table, then a single MERGE moves them into the ledger.
// Either the MERGE commits and every non-duplicate row lands, or it fails and
// the ledger is untouched. Rows whose fingerprint raced into the ledger since
// the dedup check are silently not inserted; the returned count is the number
// the MERGE actually wrote, so callers recover late duplicates by difference.
func (s *Store) InsertLedgerRows(ctx context.Context, batchID string, rows []*domain.LedgerRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	log := logger.FromContext(ctx)

	stagingName := stagingTableName(batchID)
	staging := s.client.DatasetInProject(s.projectID, s.datasetID).Table(stagingName)

	schema, err := bigquery.InferSchema(LedgerRow{})
	if err != nil {
		return 0, &domain.PersistenceError{Op: "InsertLedgerRows: infer schema", Err: err}
	}
	meta := &bigquery.TableMetadata{
		Schema: schema,
		// Safety net if a crash skips the explicit cleanup below.
		ExpirationTime: time.Now().Add(24 * time.Hour),
	}
	if err := staging.Create(ctx, meta); err != nil {
		return 0, &domain.PersistenceError{Op: "InsertLedgerRows: create staging table", Err: err}
	}
	defer func() {
		if err := staging.Delete(context.WithoutCancel(ctx)); err != nil {
			log.Warn().
				Err(err).
				Str("staging_table", stagingName).
				Msg("InsertLedgerRows: staging table cleanup failed, expiration will collect it")
		}
	}()

	bqRows := make([]*LedgerRow, 0, len(rows))
	for _, row := range rows {
		bqRows = append(bqRows, ledgerRowFrom(row))
	}
	if err := staging.Inserter().Put(ctx, bqRows); err != nil {
		return 0, &domain.PersistenceError{Op: "InsertLedgerRows: staging insert", Err: err}
	}

	q := s.client.Query(fmt.Sprintf(`
		MERGE %s T
		USING %s S
		ON T.fingerprint = S.fingerprint
		WHEN NOT MATCHED THEN
		  INSERT (
			ledger_id, fingerprint, transaction_date, post_date,
			source_type, institution, account_id, counterparty,
			kind, amount, category, tags, metadata, batch_id, created_ts
		  )
		  VALUES (
			S.ledger_id, S.fingerprint, S.transaction_date, S.post_date,
			S.source_type, S.institution, S.account_id, S.counterparty,
			S.kind, S.amount, S.category, S.tags, S.metadata, S.batch_id, S.created_ts
		  )
	`, s.qualified(ledgerTable), s.qualified(stagingName)))

	written, err := s.runDML(ctx, q)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "InsertLedgerRows: merge", Err: err}
	}
	return written, nil
}

// stagingTableName derives a valid BigQuery table name from a batch UUID.
func stagingTableName(batchID string) string {
	return "ledger_staging_" + strings.ReplaceAll(batchID, "-", "_")
}
