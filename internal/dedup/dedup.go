// Package dedup assigns stable fingerprints to parsed records and filters
// out rows the ledger has already seen, either in a prior import or earlier
// in the same batch.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/finledger/pipeline/internal/domain"
	"github.com/finledger/pipeline/internal/logger"
)

// Fingerprint derives the deterministic dedup key for a record:
// SHA-256 over institution, account, date, amount and normalized
// description. Two records with equal fingerprints are the same transaction
// no matter which batch carried them.
//
// Known false-negative risk: two genuinely separate charges with the same
// date, amount and description collapse to one fingerprint. That is accepted
// and documented, not special-cased.
func Fingerprint(rec *domain.RawRecord) string {
	input := strings.Join([]string{
		strings.ToLower(rec.Institution),
		strings.ToLower(rec.AccountID),
		rec.TransactionDate.Format("2006-01-02"),
		rec.Amount.StringFixed(2),
		strings.ToLower(strings.TrimSpace(rec.Description)),
	}, "|")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// FingerprintStore answers which of the given fingerprints are already
// persisted in the ledger. Implementations must be safe for use by
// concurrent batches; the storage MERGE remains the final arbiter for races
// this check cannot see.
type FingerprintStore interface {
	ExistingFingerprints(ctx context.Context, fps []string) (map[string]bool, error)
}

// Deduper filters a batch against the persisted fingerprint set plus a
// running set of fingerprints admitted earlier in the same batch. One
// Deduper serves exactly one batch; it is not safe for concurrent use.
type Deduper struct {
	store FingerprintStore
	seen  map[string]struct{}
}

func New(store FingerprintStore) *Deduper {
	return &Deduper{
		store: store,
		seen:  make(map[string]struct{}),
	}
}

// Filter returns the admitted records in input order, their fingerprints
// (parallel slice), and the number of rows dropped as duplicates.
func (d *Deduper) Filter(ctx context.Context, recs []domain.RawRecord) (admitted []domain.RawRecord, fingerprints []string, skipped int, err error) {
	if len(recs) == 0 {
		return nil, nil, 0, nil
	}
	log := logger.FromContext(ctx)

	fps := make([]string, len(recs))
	for i := range recs {
		fps[i] = Fingerprint(&recs[i])
	}

	persisted, err := d.store.ExistingFingerprints(ctx, fps)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("dedup.Filter: querying persisted fingerprints: %w", err)
	}

	for i := range recs {
		fp := fps[i]
		if _, dup := d.seen[fp]; dup || persisted[fp] {
			skipped++
			log.Debug().Str("fingerprint", fp).Int("line", recs[i].LineNo).Msg("Dropping duplicate row")
			continue
		}
		d.seen[fp] = struct{}{}
		admitted = append(admitted, recs[i])
		fingerprints = append(fingerprints, fp)
	}
	return admitted, fingerprints, skipped, nil
}
