// Package checkout derives order summaries from cart lines and a loyalty
// balance. Everything here is pure: callers pass fresh snapshots in and get
// a Summary back.
package checkout

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/storefront-engine/internal/model"
)

// ErrUnknownShippingMethod is returned when the method has no rate.
var ErrUnknownShippingMethod = errors.New("checkout: unknown shipping method")

// Shipping method names.
const (
	ShippingStandard  = "standard"
	ShippingExpress   = "express"
	ShippingOvernight = "overnight"
)

// DefaultTaxRate is the flat tax applied to subtotal plus shipping.
var DefaultTaxRate = decimal.New(8, -2)

// pointValue is the discount granted per redeemed point.
var pointValue = decimal.New(1, -2)

var hundred = decimal.NewFromInt(100)

// Rates maps a shipping method to its flat price.
type Rates map[string]decimal.Decimal

// DefaultRates returns the standard shipping table.
func DefaultRates() Rates {
	return Rates{
		ShippingStandard:  decimal.Zero,
		ShippingExpress:   decimal.RequireFromString("9.99"),
		ShippingOvernight: decimal.RequireFromString("19.99"),
	}
}

// Methods returns the method names in ascending price order.
func (r Rates) Methods() []string {
	out := make([]string, 0, len(r))
	for m := range r {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := r[out[i]].Cmp(r[out[j]]); c != 0 {
			return c < 0
		}
		return out[i] < out[j]
	})
	return out
}

// Input is everything Calculate needs.
type Input struct {
	Lines          []model.CartLine
	ShippingMethod string
	// Rates defaults to DefaultRates when nil.
	Rates Rates
	// TaxRate defaults to DefaultTaxRate when nil. A zero rate is honoured.
	TaxRate         *decimal.Decimal
	PointsToUse     int64
	AvailablePoints int64
}

// Summary is the derived order breakdown.
type Summary struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	ShippingMethod string          `json:"shipping_method"`
	Shipping       decimal.Decimal `json:"shipping"`
	Tax            decimal.Decimal `json:"tax"`
	PointsUsed     int64           `json:"points_used"`
	Discount       decimal.Decimal `json:"discount"`
	Total          decimal.Decimal `json:"total"`
	ItemCount      int             `json:"item_count"`
}

// Calculate prices an order.
//
// Requested points are clamped to the available balance and to the
// pre-discount total, so the discount never exceeds what is owed.
func Calculate(in Input) (Summary, error) {
	rates := in.Rates
	if rates == nil {
		rates = DefaultRates()
	}
	shipping, ok := rates[in.ShippingMethod]
	if !ok {
		return Summary{}, ErrUnknownShippingMethod
	}
	taxRate := DefaultTaxRate
	if in.TaxRate != nil {
		taxRate = *in.TaxRate
	}

	subtotal := Subtotal(in.Lines)
	tax := subtotal.Add(shipping).Mul(taxRate).Round(2)
	preTotal := subtotal.Add(shipping).Add(tax)

	used := clampPoints(in.PointsToUse, in.AvailablePoints, preTotal)
	discount := decimal.NewFromInt(used).Mul(pointValue)
	total := preTotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	items := 0
	for _, l := range in.Lines {
		items += l.Quantity
	}
	return Summary{
		Subtotal:       subtotal,
		ShippingMethod: in.ShippingMethod,
		Shipping:       shipping,
		Tax:            tax,
		PointsUsed:     used,
		Discount:       discount,
		Total:          total,
		ItemCount:      items,
	}, nil
}

// Subtotal is Σ price × quantity.
func Subtotal(lines []model.CartLine) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Subtotal())
	}
	return sum
}

// PointsEarned is the loyalty credit for an order: one point per whole
// currency unit of subtotal.
func PointsEarned(subtotal decimal.Decimal) int64 {
	if subtotal.IsNegative() {
		return 0
	}
	return subtotal.Floor().IntPart()
}

func clampPoints(requested, available int64, preTotal decimal.Decimal) int64 {
	limit := preTotal.Mul(hundred).Floor().IntPart()
	if available < limit {
		limit = available
	}
	if limit < 0 {
		limit = 0
	}
	switch {
	case requested < 0:
		return 0
	case requested > limit:
		return limit
	}
	return requested
}
