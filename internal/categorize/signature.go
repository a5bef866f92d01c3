package categorize

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/finledger/pipeline/internal/domain"
)

// bucketBounds are the upper bounds of the amount buckets used in cache
// signatures. Amounts above the last bound share one open-ended bucket.
var bucketBounds = []int64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// amountBucket maps an absolute amount onto a coarse label so that repeat
// purchases with small price drift still hit the cache.
func amountBucket(amount decimal.Decimal) string {
	abs := amount.Abs()
	lower := int64(0)
	for _, bound := range bucketBounds {
		if abs.LessThanOrEqual(decimal.NewFromInt(bound)) {
			return fmt.Sprintf("%d-%d", lower, bound)
		}
		lower = bound
	}
	return fmt.Sprintf("%d+", lower)
}

// Signature is the normalized cache key for a record: description, amount
// bucket and counterparty. Two records with the same signature are expected
// to classify identically.
func Signature(rec *domain.RawRecord) string {
	return strings.Join([]string{
		strings.ToLower(strings.TrimSpace(rec.Description)),
		amountBucket(rec.Amount),
		strings.ToLower(strings.TrimSpace(rec.Counterparty)),
	}, "|")
}
