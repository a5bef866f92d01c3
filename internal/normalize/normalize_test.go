package normalize

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger/pipeline/internal/domain"
)

func TestParseFileName(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		declared domain.SourceType
		want     FileMeta
		wantErr  bool
	}{
		{
			name:     "two part with declared type",
			fileName: "chase_checking.csv",
			declared: domain.SourceBank,
			want:     FileMeta{FileName: "chase_checking.csv", SourceType: domain.SourceBank, Institution: "chase", AccountID: "checking"},
		},
		{
			name:     "three part encoded type",
			fileName: "credit_amex_platinum.csv",
			want:     FileMeta{FileName: "credit_amex_platinum.csv", SourceType: domain.SourceCredit, Institution: "amex", AccountID: "platinum"},
		},
		{
			name:     "encoded type agrees with declared",
			fileName: "stock_fidelity_brokerage.csv",
			declared: domain.SourceStock,
			want:     FileMeta{FileName: "stock_fidelity_brokerage.csv", SourceType: domain.SourceStock, Institution: "fidelity", AccountID: "brokerage"},
		},
		{
			name:     "gcs path keeps base name",
			fileName: "gs://exports/2024/bank_chase_savings.csv",
			want:     FileMeta{FileName: "bank_chase_savings.csv", SourceType: domain.SourceBank, Institution: "chase", AccountID: "savings"},
		},
		{name: "two part without declared type", fileName: "chase_checking.csv", wantErr: true},
		{name: "encoded type disagrees", fileName: "bank_chase_checking.csv", declared: domain.SourceCredit, wantErr: true},
		{name: "unknown encoded type", fileName: "loan_chase_checking.csv", wantErr: true},
		{name: "wrong extension", fileName: "chase_checking.txt", declared: domain.SourceBank, wantErr: true},
		{name: "too many segments", fileName: "bank_chase_checking_2024.csv", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFileName(tt.fileName, tt.declared)
			if tt.wantErr {
				var nce *domain.NamingConventionError
				require.Error(t, err)
				assert.True(t, errors.As(err, &nce), "want NamingConventionError, got %T", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, in := range []string{"2024-03-01", "3/1/2024", "03/01/2024", "March 1, 2024", "Mar 1, 2024", "1 March 2024"} {
		got, err := ParseDate(in)
		require.NoError(t, err, "input %q", in)
		assert.True(t, got.Equal(want), "input %q parsed to %v", in, got)
	}

	for _, in := range []string{"", "yesterday", "2024/13/40", "03-01"} {
		_, err := ParseDate(in)
		var dpe *domain.DateParseError
		require.Error(t, err, "input %q", in)
		assert.True(t, errors.As(err, &dpe), "input %q: want DateParseError, got %T", in, err)
	}
}

func TestParseCurrency(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"-4.50", "-4.5"},
		{"$1,500.00", "1500"},
		{"(4.50)", "-4.5"},
		{"-$12.345", "-12.35"},
	}
	for _, tt := range tests {
		got, err := ParseCurrency("amount", tt.in)
		require.NoError(t, err, "input %q", tt.in)
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "input %q parsed to %s", tt.in, got)
	}

	for _, in := range []string{"", "abc", "$", "12.3.4"} {
		_, err := ParseCurrency("amount", in)
		var ape *domain.AmountParseError
		require.Error(t, err, "input %q", in)
		assert.True(t, errors.As(err, &ape))
	}
}

func TestText(t *testing.T) {
	assert.Equal(t, "CAFE DU MONDE", Text("  Café\t du  Monde "))
	assert.Equal(t, "COFFEE SHOP", Text("coffee shop"))
}

func TestCounterparty(t *testing.T) {
	assert.Equal(t, "COFFEE SHOP", Counterparty("COFFEE SHOP #02941"))
	assert.Equal(t, "AMZN MKTP US", Counterparty("AMZN Mktp US*RT4Y12"))
	// All-reference descriptions fall back to the whole text.
	assert.Equal(t, "1234 5678", Counterparty("1234 5678"))
}

func TestBankParse(t *testing.T) {
	meta := FileMeta{FileName: "chase_checking.csv", SourceType: domain.SourceBank, Institution: "chase", AccountID: "checking"}
	n, err := ForSourceType(domain.SourceBank, 0.05)
	require.NoError(t, err)

	input := strings.Join([]string{
		"Date,Description,Category,Tags,Amount",
		`2024-03-01,"COFFEE SHOP",Dining,,-4.50`,
		`2024-03-02,"PAYROLL ACME CORP",Income,"work,salary",2500.00`,
	}, "\n")

	res, err := n.Parse(context.Background(), strings.NewReader(input), meta)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 0, res.Failed)

	first := res.Records[0]
	assert.Equal(t, "COFFEE SHOP", first.Description)
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("-4.5")))
	assert.Equal(t, "chase", first.Institution)
	assert.Equal(t, "Dining", first.RawCategory)

	second := res.Records[1]
	assert.Equal(t, []string{"work", "salary"}, second.RawTags)
}

func TestParse_SkipsBadRowsWithinThreshold(t *testing.T) {
	meta := FileMeta{FileName: "chase_checking.csv", SourceType: domain.SourceBank, Institution: "chase", AccountID: "checking"}
	n, err := ForSourceType(domain.SourceBank, 0.5)
	require.NoError(t, err)

	input := strings.Join([]string{
		"Date,Description,Category,Tags,Amount",
		`2024-03-01,"COFFEE SHOP",,,-4.50`,
		`not-a-date,"BROKEN ROW",,,-1.00`,
		`2024-03-03,"ZERO AMOUNT",,,0.00`,
		`2024-03-04,"GROCERY STORE",,,-62.10`,
		`2024-03-05,"PAYROLL ACME CORP",,,2500.00`,
	}, "\n")

	// 2 failures out of 5 rows stays under the 50% threshold.
	res, err := n.Parse(context.Background(), strings.NewReader(input), meta)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Attempted)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Records, 3)
}

func TestParse_AbortsOverThreshold(t *testing.T) {
	meta := FileMeta{FileName: "chase_checking.csv", SourceType: domain.SourceBank, Institution: "chase", AccountID: "checking"}
	n, err := ForSourceType(domain.SourceBank, 0.05)
	require.NoError(t, err)

	input := strings.Join([]string{
		"Date,Description,Category,Tags,Amount",
		`2024-03-01,"COFFEE SHOP",,,-4.50`,
		`not-a-date,"BROKEN ROW",,,-1.00`,
	}, "\n")

	_, err = n.Parse(context.Background(), strings.NewReader(input), meta)
	var bae *domain.BatchAbortedError
	require.Error(t, err)
	require.True(t, errors.As(err, &bae))
	assert.Equal(t, 1, bae.Failed)
	assert.Equal(t, 2, bae.Total)
}

func TestParse_MissingColumns(t *testing.T) {
	meta := FileMeta{FileName: "chase_checking.csv", SourceType: domain.SourceBank, Institution: "chase", AccountID: "checking"}
	n, err := ForSourceType(domain.SourceBank, 0.05)
	require.NoError(t, err)

	_, err = n.Parse(context.Background(), strings.NewReader("Date,Memo\n2024-03-01,hello\n"), meta)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required columns")
}

func TestStockParse(t *testing.T) {
	meta := FileMeta{FileName: "stock_fidelity_brokerage.csv", SourceType: domain.SourceStock, Institution: "fidelity", AccountID: "brokerage"}
	n, err := ForSourceType(domain.SourceStock, 0.05)
	require.NoError(t, err)

	input := strings.Join([]string{
		"Date,Action,Description,Category,Quantity,Price,Tags,Amount",
		`2024-03-05,Buy,"AAPL",Investment,10,150.00,,-1500.00`,
		`2024-03-09,Dividend Reinvestment,"VTI",Investment,0.8312,241.50,,-200.73`,
	}, "\n")

	res, err := n.Parse(context.Background(), strings.NewReader(input), meta)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	buy := res.Records[0]
	assert.Equal(t, domain.ActionBuy, buy.Action)
	assert.True(t, buy.Quantity.Equal(decimal.RequireFromString("10")))
	assert.True(t, buy.Price.Equal(decimal.RequireFromString("150")))
	assert.True(t, buy.Amount.Equal(decimal.RequireFromString("-1500")))
	assert.Equal(t, "FIDELITY", buy.Counterparty)

	reinvest := res.Records[1]
	assert.Equal(t, domain.ActionReinvest, reinvest.Action)
	assert.True(t, reinvest.Quantity.Equal(decimal.RequireFromString("0.8312")))
}

func TestCreditParse_PostDate(t *testing.T) {
	meta := FileMeta{FileName: "credit_amex_platinum.csv", SourceType: domain.SourceCredit, Institution: "amex", AccountID: "platinum"}
	n, err := ForSourceType(domain.SourceCredit, 0.05)
	require.NoError(t, err)

	input := strings.Join([]string{
		"Date,Post Date,Description,Category,Tags,Amount",
		`2024-03-01,2024-03-03,"COFFEE SHOP",,,-4.50`,
	}, "\n")

	res, err := n.Parse(context.Background(), strings.NewReader(input), meta)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.NotNil(t, res.Records[0].PostDate)
	assert.Equal(t, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), *res.Records[0].PostDate)
}
