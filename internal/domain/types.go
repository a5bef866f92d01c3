package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceType identifies the shape of a source export file.
type SourceType string

const (
	SourceBank   SourceType = "bank"
	SourceCredit SourceType = "credit"
	SourceStock  SourceType = "stock"
)

// ParseSourceType validates a source type string.
func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(s) {
	case SourceBank, SourceCredit, SourceStock:
		return SourceType(s), nil
	}
	return "", &UnknownSourceTypeError{Value: s}
}

// StockAction is the brokerage action on a stock transaction row.
type StockAction string

const (
	ActionBuy      StockAction = "buy"
	ActionSell     StockAction = "sell"
	ActionReinvest StockAction = "reinvest"
)

// RawRecord is one parsed row from a source file before unification.
// It is immutable after creation; downstream components copy, never mutate.
type RawRecord struct {
	SourceType  SourceType
	Institution string
	AccountID   string

	TransactionDate time.Time
	PostDate        *time.Time

	Amount       decimal.Decimal
	Description  string
	Counterparty string
	RawCategory  string
	RawTags      []string

	// Stock rows only.
	Action   StockAction
	Quantity decimal.Decimal
	Price    decimal.Decimal

	LineNo int
}

// CategorizedRecord is a RawRecord plus the classifier's verdict.
type CategorizedRecord struct {
	RawRecord

	Category   string
	Tags       []string
	Confidence float64

	// NeedsReview flags low-confidence or failed classifications for
	// later reprocessing. It never blocks persistence.
	NeedsReview bool
}

// TransactionKind is the unified debit/credit direction of a ledger row.
type TransactionKind string

const (
	KindCredit TransactionKind = "credit"
	KindDebit  TransactionKind = "debit"
)

// LedgerRow is the unified, persisted entity. Fingerprint is unique across
// the whole ledger; the Deduplicator enforces that before write and the
// storage MERGE is the backstop.
type LedgerRow struct {
	ID          string
	Fingerprint string

	TransactionDate time.Time
	PostDate        *time.Time

	SourceType   SourceType
	Institution  string
	AccountID    string
	Counterparty string

	Kind   TransactionKind
	Amount decimal.Decimal

	Category string
	Tags     []string
	Metadata map[string]string

	BatchID   string
	CreatedAt time.Time
}

// BatchStatus is the lifecycle status of an ImportBatch.
type BatchStatus string

const (
	BatchPending BatchStatus = "pending"
	BatchPartial BatchStatus = "partial"
	BatchSuccess BatchStatus = "success"
	BatchFailed  BatchStatus = "failed"
)

// ImportBatch tracks one pipeline run against one source file. A row is
// inserted with status=pending when the run starts and finalized exactly
// once at the end; after that the record is immutable.
type ImportBatch struct {
	BatchID     string
	FileName    string
	SourceType  SourceType
	Institution string
	AccountID   string

	// Date range covered by admitted records; zero when the batch wrote nothing.
	RangeStart time.Time
	RangeEnd   time.Time

	Attempted        int
	Written          int
	SkippedDuplicate int
	Failed           int
	NeedsReview      int

	Status       BatchStatus
	ErrorMessage string

	StartedAt  time.Time
	FinishedAt *time.Time
}

// Finalize stamps the terminal status and finish time. It is a no-op if the
// batch was already finalized.
func (b *ImportBatch) Finalize(status BatchStatus, errMsg string, at time.Time) {
	if b.FinishedAt != nil {
		return
	}
	b.Status = status
	b.ErrorMessage = errMsg
	b.FinishedAt = &at
}
