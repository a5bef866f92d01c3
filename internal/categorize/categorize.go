// Package categorize assigns a category, tag set and confidence score to
// each record, consulting a signature-keyed cache before calling the
// external classifier. Classifier trouble degrades records to
// "uncategorized"; it never blocks a batch.
package categorize

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/finledger/pipeline/internal/domain"
	"github.com/finledger/pipeline/internal/logger"
)

// FallbackCategory is assigned when the classifier is unavailable or over
// its call budget. Records carrying it are flagged for reprocessing.
const FallbackCategory = "uncategorized"

// Result is one classification verdict, cached by signature.
type Result struct {
	Category   string   `json:"category"`
	Tags       []string `json:"tags"`
	Confidence float64  `json:"confidence"`
}

// Cache provides get/put over classification results keyed by signature.
// Eviction policy is owned by the implementation.
type Cache interface {
	Get(ctx context.Context, signature string) (*Result, bool, error)
	Put(ctx context.Context, signature string, res Result) error
}

// Item is one classifier request entry.
type Item struct {
	Description  string
	Counterparty string
	Amount       decimal.Decimal
}

// Classifier is the external model. The response is a parallel array: one
// Result per Item, in order.
type Classifier interface {
	Classify(ctx context.Context, items []Item) ([]Result, error)
}

// Options tune retry, batching and the external call budget.
type Options struct {
	// MaxBatchSize bounds how many cache misses go into one classifier call.
	MaxBatchSize int
	// MaxAttempts and BaseBackoff control retries per classifier call; the
	// backoff doubles after every failed attempt.
	MaxAttempts int
	BaseBackoff time.Duration
	// Limiter caps external calls per time window. Nil means unlimited.
	Limiter *rate.Limiter
	// ReviewThreshold marks results below this confidence for manual review.
	ReviewThreshold float64
}

// Categorizer maps RawRecords to CategorizedRecords.
type Categorizer struct {
	cache      Cache
	classifier Classifier
	opts       Options
}

func New(cache Cache, classifier Classifier, opts Options) *Categorizer {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 20
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	return &Categorizer{cache: cache, classifier: classifier, opts: opts}
}

// Categorize assigns categories to all records, in order. It always returns
// one CategorizedRecord per input; failures degrade individual records
// rather than erroring out.
func (c *Categorizer) Categorize(ctx context.Context, recs []domain.RawRecord) []domain.CategorizedRecord {
	log := logger.FromContext(ctx)

	out := make([]domain.CategorizedRecord, len(recs))
	var misses []int

	for i := range recs {
		out[i] = domain.CategorizedRecord{RawRecord: recs[i]}

		sig := Signature(&recs[i])
		cached, ok, err := c.cache.Get(ctx, sig)
		if err != nil {
			log.Warn().Err(err).Str("signature", sig).Msg("Cache lookup failed, treating as miss")
		}
		if ok {
			c.apply(&out[i], *cached)
			continue
		}
		misses = append(misses, i)
	}

	for start := 0; start < len(misses); start += c.opts.MaxBatchSize {
		end := start + c.opts.MaxBatchSize
		if end > len(misses) {
			end = len(misses)
		}
		chunk := misses[start:end]

		if c.opts.Limiter != nil && !c.opts.Limiter.Allow() {
			log.Warn().Int("records", len(misses)-start).Msg("Classifier call budget exhausted, falling back to uncategorized")
			for _, i := range misses[start:] {
				c.fallback(&out[i])
			}
			break
		}

		items := make([]Item, len(chunk))
		for j, i := range chunk {
			items[j] = Item{
				Description:  recs[i].Description,
				Counterparty: recs[i].Counterparty,
				Amount:       recs[i].Amount,
			}
		}

		results, err := c.classifyWithRetry(ctx, items)
		if err != nil {
			log.Warn().Err(err).Int("records", len(chunk)).Msg("Classifier unavailable, falling back to uncategorized")
			for _, i := range chunk {
				c.fallback(&out[i])
			}
			continue
		}

		for j, i := range chunk {
			c.apply(&out[i], results[j])
			sig := Signature(&recs[i])
			if err := c.cache.Put(ctx, sig, results[j]); err != nil {
				log.Warn().Err(err).Str("signature", sig).Msg("Cache write failed")
			}
		}
	}

	return out
}

func (c *Categorizer) classifyWithRetry(ctx context.Context, items []Item) ([]Result, error) {
	var lastErr error
	backoff := c.opts.BaseBackoff

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		results, err := c.classifier.Classify(ctx, items)
		if err == nil {
			if len(results) != len(items) {
				return nil, &domain.ClassifierUnavailableError{
					Attempts: attempt,
					Err:      fmt.Errorf("classifier returned %d results for %d items", len(results), len(items)),
				}
			}
			return results, nil
		}
		lastErr = err

		if attempt == c.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, &domain.ClassifierUnavailableError{Attempts: c.opts.MaxAttempts, Err: lastErr}
}

func (c *Categorizer) apply(rec *domain.CategorizedRecord, res Result) {
	rec.Category = res.Category
	rec.Tags = res.Tags
	rec.Confidence = res.Confidence
	rec.NeedsReview = res.Confidence < c.opts.ReviewThreshold
}

func (c *Categorizer) fallback(rec *domain.CategorizedRecord) {
	rec.Category = FallbackCategory
	rec.Tags = nil
	rec.Confidence = 0.0
	rec.NeedsReview = true
}

