package invoice

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateTotalsSingleItem(t *testing.T) {
	items, totals, err := CalculateTotals([]ItemInput{
		{Code: "A", Description: "Widget", Quantity: dec("2"), UnitPrice: dec("10.00")},
	}, dec("15"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "20.00", items[0].NetAmount.StringFixed(2))
	require.Equal(t, "3.00", items[0].TaxAmount.StringFixed(2))
	require.Equal(t, "4", items[0].TaxRateCode)
	require.Equal(t, "20.00", totals.WithoutTax.StringFixed(2))
	require.Equal(t, "3.00", totals.Tax.StringFixed(2))
	require.Equal(t, "23.00", totals.Grand.StringFixed(2))
}

func TestCalculateTotalsRoundsHalfUpPerLine(t *testing.T) {
	items, totals, err := CalculateTotals([]ItemInput{
		{Code: "A", Description: "a", Quantity: dec("3"), UnitPrice: dec("0.335")},
		{Code: "B", Description: "b", Quantity: dec("1"), UnitPrice: dec("10.10"), Discount: dec("0.10")},
	}, dec("15"))
	require.NoError(t, err)
	// 3 * 0.335 = 1.005 -> 1.01, tax 0.1515 -> 0.15
	require.Equal(t, "1.01", items[0].NetAmount.StringFixed(2))
	require.Equal(t, "0.15", items[0].TaxAmount.StringFixed(2))
	require.Equal(t, "10.00", items[1].NetAmount.StringFixed(2))
	require.Equal(t, "1.50", items[1].TaxAmount.StringFixed(2))
	require.Equal(t, "11.01", totals.WithoutTax.StringFixed(2))
	require.Equal(t, "0.10", totals.Discount.StringFixed(2))
	require.Equal(t, "1.65", totals.Tax.StringFixed(2))
	require.Equal(t, "12.66", totals.Grand.StringFixed(2))
}

func TestCalculateTotalsPerItemRateOverride(t *testing.T) {
	zero := dec("0")
	items, totals, err := CalculateTotals([]ItemInput{
		{Code: "A", Description: "a", Quantity: dec("1"), UnitPrice: dec("100")},
		{Code: "B", Description: "b", Quantity: dec("1"), UnitPrice: dec("50"), TaxRate: &zero},
	}, dec("15"))
	require.NoError(t, err)
	require.Equal(t, "0", items[1].TaxRateCode)
	require.Equal(t, "165.00", totals.Grand.StringFixed(2))

	groups := GroupByRate(items)
	require.Len(t, groups, 2)
	require.Equal(t, "4", groups[0].RateCode)
	require.Equal(t, "100.00", groups[0].Base.StringFixed(2))
	require.Equal(t, "15.00", groups[0].Amount.StringFixed(2))
	require.Equal(t, "50.00", groups[1].Base.StringFixed(2))
}

func TestCalculateTotalsValidation(t *testing.T) {
	cases := map[string]ItemInput{
		"zero quantity":     {Code: "A", Description: "a", Quantity: dec("0"), UnitPrice: dec("1")},
		"negative price":    {Code: "A", Description: "a", Quantity: dec("1"), UnitPrice: dec("-1")},
		"negative discount": {Code: "A", Description: "a", Quantity: dec("1"), UnitPrice: dec("1"), Discount: dec("-0.01")},
		"discount too big":  {Code: "A", Description: "a", Quantity: dec("1"), UnitPrice: dec("1"), Discount: dec("1.01")},
		"missing code":      {Description: "a", Quantity: dec("1"), UnitPrice: dec("1")},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := CalculateTotals([]ItemInput{in}, dec("15"))
			require.ErrorIs(t, err, ErrValidation)
		})
	}

	_, _, err := CalculateTotals(nil, dec("15"))
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = CalculateTotals([]ItemInput{{Code: "A", Description: "a", Quantity: dec("1"), UnitPrice: dec("1")}}, dec("7"))
	require.ErrorIs(t, err, ErrValidation)
}
