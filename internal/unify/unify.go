// Package unify projects categorized per-source records onto the common
// ledger schema. Mapping is a fixed table per source type; source-specific
// fields travel in the metadata map.
package unify

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finledger/pipeline/internal/domain"
)

// Map converts one categorized record into a ledger row. Pure: the record is
// not mutated, and the same inputs always produce the same row (IDs are
// assigned by storage, CreatedAt comes from the caller's clock).
func Map(rec *domain.CategorizedRecord, fingerprint, batchID string, now time.Time) (*domain.LedgerRow, error) {
	row := &domain.LedgerRow{
		Fingerprint:     fingerprint,
		TransactionDate: rec.TransactionDate,
		PostDate:        rec.PostDate,
		SourceType:      rec.SourceType,
		Institution:     rec.Institution,
		AccountID:       rec.AccountID,
		Counterparty:    rec.Counterparty,
		Category:        rec.Category,
		Tags:            rec.Tags,
		Metadata:        fiscalMetadata(rec.TransactionDate),
		BatchID:         batchID,
		CreatedAt:       now,
	}

	switch rec.SourceType {
	case domain.SourceBank, domain.SourceCredit:
		// Sign decides the kind for both feeds: card refunds are credits,
		// card charges debits, same as bank inflows/outflows.
		row.Amount = rec.Amount

	case domain.SourceStock:
		amount := rec.Amount
		// A buy is always a cash outflow regardless of how the export signs
		// it; sells and reinvestments keep the source convention.
		if rec.Action == domain.ActionBuy {
			amount = amount.Abs().Neg()
		}
		row.Amount = amount
		row.Metadata["action"] = string(rec.Action)
		row.Metadata["quantity"] = rec.Quantity.StringFixed(4)
		row.Metadata["price"] = rec.Price.StringFixed(4)

	default:
		return nil, &domain.UnknownSourceTypeError{Value: string(rec.SourceType)}
	}

	kind, err := kindOf(row.Amount)
	if err != nil {
		return nil, err
	}
	row.Kind = kind
	return row, nil
}

func kindOf(amount decimal.Decimal) (domain.TransactionKind, error) {
	switch amount.Sign() {
	case -1:
		return domain.KindDebit, nil
	case 1:
		return domain.KindCredit, nil
	}
	// Zero amounts are rejected by the normalizer; reaching here means a
	// caller bypassed it.
	return "", fmt.Errorf("unify.Map: zero amount has no transaction kind")
}

// fiscalMetadata records the calendar period fields the reporting views
// group by.
func fiscalMetadata(date time.Time) map[string]string {
	return map[string]string{
		"fiscal_year":    fmt.Sprintf("%d", date.Year()),
		"fiscal_quarter": fmt.Sprintf("%d", (int(date.Month())-1)/3+1),
		"month":          date.Month().String(),
	}
}
