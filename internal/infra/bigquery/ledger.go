package bigquery

import (
	"encoding/json"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/finledger/pipeline/internal/domain"
)

type LedgerRow struct {
	LedgerID    string `bigquery:"ledger_id"`   // REQUIRED
	Fingerprint string `bigquery:"fingerprint"` // REQUIRED, unique across the table

	TransactionDate civil.Date        `bigquery:"transaction_date"` // REQUIRED
	PostDate        bigquery.NullDate `bigquery:"post_date"`        // NULLABLE

	SourceType   string `bigquery:"source_type"`  // REQUIRED
	Institution  string `bigquery:"institution"`  // REQUIRED
	AccountID    string `bigquery:"account_id"`   // REQUIRED
	Counterparty string `bigquery:"counterparty"` // NULLABLE

	Kind   string   `bigquery:"kind"`   // REQUIRED credit|debit
	Amount *big.Rat `bigquery:"amount"` // REQUIRED NUMERIC

	Category string   `bigquery:"category"` // REQUIRED
	Tags     []string `bigquery:"tags"`     // REPEATED STRING

	Metadata bigquery.NullJSON `bigquery:"metadata"` // NULLABLE JSON

	BatchID   string    `bigquery:"batch_id"`   // REQUIRED
	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

func ledgerRowFrom(row *domain.LedgerRow) *LedgerRow {
	out := &LedgerRow{
		LedgerID:        uuid.NewString(),
		Fingerprint:     row.Fingerprint,
		TransactionDate: civil.DateOf(row.TransactionDate),
		SourceType:      string(row.SourceType),
		Institution:     row.Institution,
		AccountID:       row.AccountID,
		Counterparty:    row.Counterparty,
		Kind:            string(row.Kind),
		Amount:          row.Amount.Rat(),
		Category:        row.Category,
		Tags:            row.Tags,
		BatchID:         row.BatchID,
		CreatedTS:       row.CreatedAt,
	}
	if row.PostDate != nil {
		out.PostDate = bigquery.NullDate{Date: civil.DateOf(*row.PostDate), Valid: true}
	}
	if len(row.Metadata) > 0 {
		// NullJSON carries the serialized form.
		data, _ := json.Marshal(row.Metadata)
		out.Metadata = bigquery.NullJSON{JSONVal: string(data), Valid: true}
	}
	return out
}
