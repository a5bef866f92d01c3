package normalize

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/finledger/pipeline/internal/domain"
)

const (
	currencyScale = 2
	stockScale    = 4
)

// ParseCurrency coerces a currency cell into a signed decimal with a fixed
// 2-digit fraction. Dollar signs, thousands separators and parenthesized
// negatives ("(4.50)") are tolerated.
func ParseCurrency(field, s string) (decimal.Decimal, error) {
	d, err := parseNumber(field, s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return d.Round(currencyScale), nil
}

// ParseStockNumber coerces a stock price or quantity cell into a decimal
// with a fixed 4-digit fraction.
func ParseStockNumber(field, s string) (decimal.Decimal, error) {
	d, err := parseNumber(field, s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return d.Round(stockScale), nil
}

func parseNumber(field, s string) (decimal.Decimal, error) {
	v := strings.TrimSpace(s)

	negative := false
	if strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")") {
		negative = true
		v = v[1 : len(v)-1]
	}

	v = strings.ReplaceAll(v, "$", "")
	v = strings.ReplaceAll(v, ",", "")
	v = strings.TrimSpace(v)
	if v == "" {
		return decimal.Decimal{}, &domain.AmountParseError{Field: field, Value: s}
	}

	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, &domain.AmountParseError{Field: field, Value: s}
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}
