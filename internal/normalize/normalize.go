// Package normalize parses raw per-institution export files into typed
// records with standardized dates, amounts and text. One Normalizer exists
// per source type, selected through ForSourceType rather than subclassing.
package normalize

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/finledger/pipeline/internal/domain"
	"github.com/finledger/pipeline/internal/logger"
)

// Result is the outcome of parsing one file. Failed counts rows skipped for
// row-scoped errors; they are already logged by the time Parse returns.
type Result struct {
	Records   []domain.RawRecord
	Attempted int
	Failed    int
}

// Normalizer parses one source file shape. Parse consumes the reader; call
// it again on fresh input to reprocess.
type Normalizer interface {
	Parse(ctx context.Context, r io.Reader, meta FileMeta) (*Result, error)
}

// ForSourceType selects the Normalizer for a source type. failureThreshold
// is the tolerated fraction of row-scoped failures before the whole batch
// aborts.
func ForSourceType(st domain.SourceType, failureThreshold float64) (Normalizer, error) {
	switch st {
	case domain.SourceBank:
		return &tabular{
			required:  []string{"date", "description", "amount"},
			convert:   convertBankRow,
			threshold: failureThreshold,
		}, nil
	case domain.SourceCredit:
		return &tabular{
			required:  []string{"date", "description", "amount"},
			convert:   convertCreditRow,
			threshold: failureThreshold,
		}, nil
	case domain.SourceStock:
		return &tabular{
			required:  []string{"date", "action", "description", "quantity", "price", "amount"},
			convert:   convertStockRow,
			threshold: failureThreshold,
		}, nil
	}
	return nil, &domain.UnknownSourceTypeError{Value: string(st)}
}

// cells exposes one CSV row by lowercase header name. Missing columns read
// as empty strings.
type cells func(col string) string

type rowConverter func(meta FileMeta, line int, row cells) (domain.RawRecord, error)

type tabular struct {
	required  []string
	convert   rowConverter
	threshold float64
}

func (t *tabular) Parse(ctx context.Context, r io.Reader, meta FileMeta) (*Result, error) {
	log := logger.FromContext(ctx)

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &Result{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("normalize: reading header of %s: %w", meta.FileName, err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	var missing []string
	for _, col := range t.required {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("normalize: %s is missing required columns %v", meta.FileName, missing)
	}

	res := &Result{}
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			res.Attempted++
			res.Failed++
			log.Warn().Err(err).Int("line", line).Str("file", meta.FileName).Msg("Skipping unreadable row")
			continue
		}
		res.Attempted++

		row := cells(func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(fields) {
				return ""
			}
			return strings.TrimSpace(fields[i])
		})

		rec, err := t.convert(meta, line, row)
		if err != nil {
			res.Failed++
			log.Warn().Err(err).Int("line", line).Str("file", meta.FileName).Msg("Skipping invalid row")
			continue
		}
		res.Records = append(res.Records, rec)
	}

	if res.Attempted > 0 {
		rate := float64(res.Failed) / float64(res.Attempted)
		if rate > t.threshold {
			return nil, &domain.BatchAbortedError{
				Failed:    res.Failed,
				Total:     res.Attempted,
				Threshold: t.threshold,
			}
		}
	}
	return res, nil
}

// convertBankRow handles checking/savings debit and credit feeds.
func convertBankRow(meta FileMeta, line int, row cells) (domain.RawRecord, error) {
	return convertMoneyRow(meta, line, row)
}

// convertCreditRow handles card feeds. Shape matches bank feeds plus an
// optional post date. Refunds arrive as positive amounts; the unification
// mapper owns the debit/credit decision.
func convertCreditRow(meta FileMeta, line int, row cells) (domain.RawRecord, error) {
	rec, err := convertMoneyRow(meta, line, row)
	if err != nil {
		return domain.RawRecord{}, err
	}
	if v := row("post date"); v != "" {
		post, err := ParseDate(v)
		if err != nil {
			return domain.RawRecord{}, err
		}
		rec.PostDate = &post
	}
	return rec, nil
}

func convertMoneyRow(meta FileMeta, line int, row cells) (domain.RawRecord, error) {
	date, err := ParseDate(row("date"))
	if err != nil {
		return domain.RawRecord{}, err
	}
	amount, err := ParseCurrency("amount", row("amount"))
	if err != nil {
		return domain.RawRecord{}, err
	}
	if amount.IsZero() {
		return domain.RawRecord{}, &domain.AmountParseError{Field: "amount", Value: row("amount")}
	}
	desc := Text(row("description"))
	if desc == "" {
		return domain.RawRecord{}, fmt.Errorf("line %d: empty description", line)
	}

	return domain.RawRecord{
		SourceType:      meta.SourceType,
		Institution:     meta.Institution,
		AccountID:       meta.AccountID,
		TransactionDate: date,
		Amount:          amount,
		Description:     desc,
		Counterparty:    Counterparty(row("description")),
		RawCategory:     strings.TrimSpace(row("category")),
		RawTags:         splitTags(row("tags")),
		LineNo:          line,
	}, nil
}

// convertStockRow handles brokerage exports: buy/sell/reinvest rows with
// quantity and price.
func convertStockRow(meta FileMeta, line int, row cells) (domain.RawRecord, error) {
	rec, err := convertMoneyRow(meta, line, row)
	if err != nil {
		return domain.RawRecord{}, err
	}

	action, err := parseStockAction(row("action"))
	if err != nil {
		return domain.RawRecord{}, err
	}
	quantity, err := ParseStockNumber("quantity", row("quantity"))
	if err != nil {
		return domain.RawRecord{}, err
	}
	price, err := ParseStockNumber("price", row("price"))
	if err != nil {
		return domain.RawRecord{}, err
	}

	rec.Action = action
	rec.Quantity = quantity
	rec.Price = price
	// Brokerage feeds name the security, not a merchant.
	rec.Counterparty = Text(meta.Institution)
	return rec, nil
}

func parseStockAction(s string) (domain.StockAction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return domain.ActionBuy, nil
	case "sell":
		return domain.ActionSell, nil
	case "reinvest", "reinvestment", "dividend reinvestment":
		return domain.ActionReinvest, nil
	}
	return "", fmt.Errorf("unknown stock action %q", s)
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	raw := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	tags := make([]string, 0, len(raw))
	for _, t := range raw {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, strings.ToLower(t))
		}
	}
	return tags
}
