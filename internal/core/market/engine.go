// Package market matches a newly admitted order against at most one resting
// counterparty and settles the trade. There is no in-memory book; every
// lookup is a transactional query and the database serializes concurrent
// placements.
package market

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/btcex/btcexd/internal/core/order"
	"github.com/btcex/btcexd/internal/logging"
	"github.com/btcex/btcexd/internal/storage/marketdb"
)

// FindCandidate selects the single best resting counterparty for o, or nil
// when the book offers none. o must be InMarket.
//
// Market orders only cross candidates with a stated price and apply a size
// filter: a market Ask needs a Bid of at least its volume (best price for
// the seller first), a market Bid needs an Ask of at most its volume (best
// price for the buyer first).
//
// Limit orders search in two phases. Phase one crosses on price: an Ask
// takes the highest resting Bid at or above its price, a Bid the lowest
// resting Ask at or below it. Phase two relaxes to the price-per-volume
// ratio and prefers the largest (Ask) or smallest (Bid) counterparty volume.
func FindCandidate(ctx context.Context, q marketdb.Queryer, o *order.Order) (*order.Order, error) {
	switch o.OrderType {
	case order.MarketOrder:
		return findMarketCandidate(ctx, q, o)
	case order.LimitOrder:
		return findLimitCandidate(ctx, q, o)
	default:
		return nil, fmt.Errorf("unknown order type %q", o.OrderType)
	}
}

const candidateBase = `SELECT id FROM orders
	WHERE contract_id = $1 AND direction = $2 AND state = $3 AND user_id <> $4`

func findMarketCandidate(ctx context.Context, q marketdb.Queryer, o *order.Order) (*order.Order, error) {
	var clause string
	if o.Direction == order.Ask {
		clause = ` AND price IS NOT NULL AND volume >= $5 ORDER BY price DESC, id LIMIT 1`
	} else {
		clause = ` AND price IS NOT NULL AND volume <= $5 ORDER BY price ASC, id LIMIT 1`
	}
	return candidateByID(ctx, q, candidateBase+clause,
		o.ContractID, string(o.Direction.Reciprocal()), string(order.StateInMarket),
		o.UserID, o.Volume)
}

func findLimitCandidate(ctx context.Context, q marketdb.Queryer, o *order.Order) (*order.Order, error) {
	var clause string
	if o.Direction == order.Ask {
		clause = ` AND price >= $5 ORDER BY price DESC, id LIMIT 1`
	} else {
		clause = ` AND price <= $5 ORDER BY price ASC, id LIMIT 1`
	}
	candidate, err := candidateByID(ctx, q, candidateBase+clause,
		o.ContractID, string(o.Direction.Reciprocal()), string(order.StateInMarket),
		o.UserID, o.Price)
	if err != nil || candidate != nil {
		return candidate, err
	}

	// Phase two: cross on the price-per-volume ratio instead of the raw
	// price. NULL-price candidates drop out of the comparison.
	if o.Direction == order.Ask {
		clause = ` AND price / volume >= $5::numeric / $6::numeric ORDER BY volume DESC, id LIMIT 1`
	} else {
		clause = ` AND price / volume <= $5::numeric / $6::numeric ORDER BY volume ASC, id LIMIT 1`
	}
	return candidateByID(ctx, q, candidateBase+clause,
		o.ContractID, string(o.Direction.Reciprocal()), string(order.StateInMarket),
		o.UserID, o.Price, o.Volume)
}

func candidateByID(ctx context.Context, q marketdb.Queryer, query string, args ...interface{}) (*order.Order, error) {
	var id int64
	err := q.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find candidate: %w", err)
	}
	candidate, err := order.Get(ctx, q, id)
	if err != nil {
		return nil, err
	}
	logging.Logger.Debug("found counterparty",
		zap.Int64("order_id", candidate.ID),
		zap.Int64("contract_id", candidate.ContractID))
	return candidate, nil
}
