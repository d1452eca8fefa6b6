package invoice

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/facturador/internal/sri"
)

var hundred = decimal.NewFromInt(100)

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// CalculateTotals computes per line amounts and document aggregates. Every
// monetary amount is rounded half-up to two decimals before it is summed.
// Lines without a TaxRate use defaultRate.
func CalculateTotals(inputs []ItemInput, defaultRate decimal.Decimal) ([]Item, Totals, error) {
	if len(inputs) == 0 {
		return nil, Totals{}, validationError("at least one item is required")
	}
	items := make([]Item, 0, len(inputs))
	totals := Totals{WithoutTax: decimal.Zero, Discount: decimal.Zero, Tax: decimal.Zero}
	for i, in := range inputs {
		item, err := calculateItem(i, in, defaultRate)
		if err != nil {
			return nil, Totals{}, err
		}
		totals.WithoutTax = totals.WithoutTax.Add(item.NetAmount)
		totals.Discount = totals.Discount.Add(item.Discount)
		totals.Tax = totals.Tax.Add(item.TaxAmount)
		items = append(items, item)
	}
	totals.Grand = round2(totals.WithoutTax.Add(totals.Tax))
	return items, totals, nil
}

func calculateItem(i int, in ItemInput, defaultRate decimal.Decimal) (Item, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return Item{}, validationError("item %d: code is required", i+1)
	}
	if strings.TrimSpace(in.Description) == "" {
		return Item{}, validationError("item %d: description is required", i+1)
	}
	if !in.Quantity.IsPositive() {
		return Item{}, validationError("item %d: quantity must be greater than zero", i+1)
	}
	if !in.UnitPrice.IsPositive() {
		return Item{}, validationError("item %d: unit price must be greater than zero", i+1)
	}
	if in.Discount.IsNegative() {
		return Item{}, validationError("item %d: discount cannot be negative", i+1)
	}
	rate := defaultRate
	if in.TaxRate != nil {
		rate = *in.TaxRate
	}
	rateCode, ok := sri.IVARateCode(rate)
	if !ok {
		return Item{}, validationError("item %d: unsupported IVA rate %s", i+1, rate.String())
	}
	discount := round2(in.Discount)
	subtotal := round2(in.Quantity.Mul(in.UnitPrice))
	if discount.GreaterThan(subtotal) {
		return Item{}, validationError("item %d: discount exceeds line subtotal", i+1)
	}
	net := round2(subtotal.Sub(discount))
	tax := round2(net.Mul(rate).Div(hundred))
	return Item{
		Position:      i + 1,
		Code:          code,
		AuxiliaryCode: strings.TrimSpace(in.AuxiliaryCode),
		Description:   strings.TrimSpace(in.Description),
		Quantity:      in.Quantity,
		UnitPrice:     in.UnitPrice,
		Discount:      discount,
		NetAmount:     net,
		TaxBase:       net,
		TaxRate:       rate,
		TaxRateCode:   rateCode,
		TaxAmount:     tax,
	}, nil
}

// TaxGroup is one totalImpuesto entry: lines sharing a rate code.
type TaxGroup struct {
	RateCode string
	Rate     decimal.Decimal
	Base     decimal.Decimal
	Amount   decimal.Decimal
}

// GroupByRate aggregates item tax bases and amounts per rate code, in order
// of first appearance.
func GroupByRate(items []Item) []TaxGroup {
	var groups []TaxGroup
	index := map[string]int{}
	for _, item := range items {
		idx, ok := index[item.TaxRateCode]
		if !ok {
			idx = len(groups)
			index[item.TaxRateCode] = idx
			groups = append(groups, TaxGroup{RateCode: item.TaxRateCode, Rate: item.TaxRate, Base: decimal.Zero, Amount: decimal.Zero})
		}
		groups[idx].Base = groups[idx].Base.Add(item.TaxBase)
		groups[idx].Amount = groups[idx].Amount.Add(item.TaxAmount)
	}
	return groups
}
