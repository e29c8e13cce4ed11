package services

import (
	"testing"

	"eventmart/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func TestPrice_ItemizedQuote(t *testing.T) {
	// 2 x 100 product, 18% tax, 50 shipping; wallet holds 30 coins but the
	// customer asks for far more.
	quote := Price(d("100"), 2, 9999, 30, d("0.18"), d("50"))

	assert.True(t, quote.Subtotal.Equal(d("200")), "subtotal: %s", quote.Subtotal)
	assert.True(t, quote.Tax.Equal(d("36")), "tax: %s", quote.Tax)
	assert.True(t, quote.Shipping.Equal(d("50")), "shipping: %s", quote.Shipping)
	assert.Equal(t, int64(30), quote.CoinsRedeemed)
	assert.True(t, quote.Discount.Equal(d("30")), "discount: %s", quote.Discount)
	assert.True(t, quote.FinalAmount.Equal(d("256")), "final: %s", quote.FinalAmount)
}

func TestPrice_Deterministic(t *testing.T) {
	a := Price(d("149.99"), 3, 120, 500, d("0.18"), d("50"))
	b := Price(d("149.99"), 3, 120, 500, d("0.18"), d("50"))

	assert.True(t, a.FinalAmount.Equal(b.FinalAmount))
	assert.Equal(t, a.CoinsRedeemed, b.CoinsRedeemed)
	assert.True(t, a.Tax.Equal(b.Tax))
}

func TestPrice_CoinsClampedByRequest(t *testing.T) {
	quote := Price(d("100"), 1, 10, 500, decimal.Zero, decimal.Zero)

	assert.Equal(t, int64(10), quote.CoinsRedeemed)
	assert.True(t, quote.FinalAmount.Equal(d("90")))
}

func TestPrice_CoinsClampedByPretotal(t *testing.T) {
	// Wallet could cover far more than the order is worth; the discount
	// stops at the pre-discount total and the final amount hits zero
	// exactly, never negative.
	quote := Price(d("10"), 1, 5000, 5000, decimal.Zero, decimal.Zero)

	assert.Equal(t, int64(10), quote.CoinsRedeemed)
	assert.True(t, quote.FinalAmount.IsZero())
	assert.False(t, quote.FinalAmount.IsNegative())
}

func TestPrice_FractionalPretotalFlooredForCoins(t *testing.T) {
	// Pretotal 11.80: at most 11 whole coins can be spent, leaving a
	// positive remainder.
	quote := Price(d("10"), 1, 100, 100, d("0.18"), decimal.Zero)

	assert.Equal(t, int64(11), quote.CoinsRedeemed)
	assert.True(t, quote.FinalAmount.Equal(d("0.8")), "final: %s", quote.FinalAmount)
}

func TestPrice_NoCoinsRequested(t *testing.T) {
	quote := Price(d("100"), 1, 0, 500, d("0.18"), d("50"))

	assert.Equal(t, int64(0), quote.CoinsRedeemed)
	assert.True(t, quote.FinalAmount.Equal(d("168")))
}

func TestPrice_NegativeCoinsRequestedIgnored(t *testing.T) {
	quote := Price(d("100"), 1, -5, 500, decimal.Zero, decimal.Zero)

	assert.Equal(t, int64(0), quote.CoinsRedeemed)
	assert.True(t, quote.FinalAmount.Equal(d("100")))
}

func TestShippingFor_EventsNeverShip(t *testing.T) {
	fee := ShippingFor(models.UnitKindEvent, d("10"), d("50"), d("1000"))
	assert.True(t, fee.IsZero())
}

func TestShippingFor_ProductBelowThreshold(t *testing.T) {
	fee := ShippingFor(models.UnitKindProduct, d("200"), d("50"), d("1000"))
	assert.True(t, fee.Equal(d("50")))
}

func TestShippingFor_FreeAboveThreshold(t *testing.T) {
	fee := ShippingFor(models.UnitKindProduct, d("1000"), d("50"), d("1000"))
	assert.True(t, fee.IsZero())
}
