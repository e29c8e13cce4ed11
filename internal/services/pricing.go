package services

import (
	"eventmart/models"

	"github.com/shopspring/decimal"
)

// Quote is an itemized pricing result. One coin is worth one currency
// unit; CoinsRedeemed is the integer number of coins the discount spends.
type Quote struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	Shipping      decimal.Decimal `json:"shipping"`
	Tax           decimal.Decimal `json:"tax"`
	CoinsRedeemed int64           `json:"coins_redeemed"`
	Discount      decimal.Decimal `json:"discount"`
	FinalAmount   decimal.Decimal `json:"final_amount"`
}

// Price computes the itemized total for a purchase. Pure function: no
// storage, no clock, no randomness, so identical inputs always produce the
// identical quote.
//
// The coin discount is clamped three ways: by what was asked for, by what
// the wallet actually holds, and by the pre-discount total (floored to
// whole coins), so the discount can never overdraw the wallet or push the
// final amount negative.
func Price(unitPrice decimal.Decimal, quantity int, coinsRequested, walletBalance int64, taxRate, shipping decimal.Decimal) Quote {
	if quantity < 0 {
		quantity = 0
	}

	subtotal := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	tax := subtotal.Mul(taxRate)
	pretotal := subtotal.Add(shipping).Add(tax)

	redeemable := pretotal.Floor().IntPart()
	coins := minInt64(coinsRequested, walletBalance, redeemable)
	if coins < 0 {
		coins = 0
	}

	discount := decimal.NewFromInt(coins)
	final := pretotal.Sub(discount)
	if final.IsNegative() {
		final = decimal.Zero
	}

	return Quote{
		Subtotal:      subtotal,
		Shipping:      shipping,
		Tax:           tax,
		CoinsRedeemed: coins,
		Discount:      discount,
		FinalAmount:   final,
	}
}

// ShippingFor resolves the flat shipping rule: products pay the configured
// fee unless the subtotal clears the free-shipping threshold; event
// bookings never ship anything.
func ShippingFor(kind string, subtotal, fee, freeAbove decimal.Decimal) decimal.Decimal {
	if kind != models.UnitKindProduct {
		return decimal.Zero
	}
	if freeAbove.IsPositive() && subtotal.GreaterThanOrEqual(freeAbove) {
		return decimal.Zero
	}
	return fee
}

func minInt64(values ...int64) int64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
