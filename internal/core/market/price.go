package market

import (
	"github.com/btcex/btcexd/internal/core/amount"
	"github.com/btcex/btcexd/internal/core/order"
)

// FormPrice derives the traded price from the two sides. The earlier order
// (by created_at, ties broken by lower id) sets the reference:
//
//   - if exactly one side has a price, that price wins;
//   - otherwise the earlier side's direction decides: an Ask takes the
//     higher of the two prices, a Bid the lower.
func FormPrice(a, b *order.Order) (amount.Amount, error) {
	if !a.Price.Valid && !b.Price.Valid {
		return amount.Zero(), errMarket("orders %d and %d have no price specified", a.ID, b.ID)
	}

	earliest, latest := a, b
	if b.CreatedAt.Before(a.CreatedAt) ||
		(b.CreatedAt.Equal(a.CreatedAt) && b.ID < a.ID) {
		earliest, latest = b, a
	}

	switch {
	case !earliest.Price.Valid:
		return latest.Price.Amount, nil
	case !latest.Price.Valid:
		return earliest.Price.Amount, nil
	case earliest.Direction == order.Ask:
		if earliest.Price.Amount.Cmp(latest.Price.Amount) >= 0 {
			return earliest.Price.Amount, nil
		}
		return latest.Price.Amount, nil
	default:
		if earliest.Price.Amount.Cmp(latest.Price.Amount) <= 0 {
			return earliest.Price.Amount, nil
		}
		return latest.Price.Amount, nil
	}
}

// VerifyPrice reports whether the order accepts the traded price: an Ask
// never sells below its stated price, a Bid never pays above it. Orders
// without a price accept anything.
func VerifyPrice(o *order.Order, price amount.Amount) bool {
	if !o.Price.Valid {
		return true
	}
	if o.Direction == order.Ask && o.Price.Amount.Cmp(price) > 0 {
		return false
	}
	if o.Direction == order.Bid && o.Price.Amount.Cmp(price) < 0 {
		return false
	}
	return true
}
