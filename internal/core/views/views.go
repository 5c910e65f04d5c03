// Package views provides read-only market-data aggregates computed from the
// persisted order and transaction tables. Nothing here mutates state and no
// aggregate is cached.
package views

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/btcex/btcexd/internal/core/amount"
	"github.com/btcex/btcexd/internal/core/contract"
	"github.com/btcex/btcexd/internal/core/order"
	"github.com/btcex/btcexd/internal/storage/marketdb"
)

// Instrument is the market-data snapshot for one tradable contract.
type Instrument struct {
	Identifier string
	Type       string

	Last24hVolume   amount.Amount
	Last24hAvgPrice amount.NullAmount

	OpenAsks int64
	OpenBids int64

	LatestExecutedPrice  amount.NullAmount
	LatestExecutedVolume amount.NullAmount

	// Ask is the lowest resting ask price, Bid the highest resting bid.
	Ask amount.NullAmount
	Bid amount.NullAmount
}

// InstrumentFor builds the snapshot for a single contract at the given time.
func InstrumentFor(ctx context.Context, q marketdb.Queryer, f *contract.Futures, now time.Time) (*Instrument, error) {
	inst := &Instrument{
		Identifier: fmt.Sprintf("%s-%d", contract.TypeFuture, f.ID),
		Type:       contract.TypeFuture,
	}

	since := now.Add(-24 * time.Hour)
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(volume), 0), AVG(price)
		 FROM transactions
		 WHERE contract_id = $1 AND executed_at IS NOT NULL AND executed_at >= $2`,
		f.ID, since).Scan(&inst.Last24hVolume, &inst.Last24hAvgPrice)
	if err != nil {
		return nil, fmt.Errorf("instrument 24h stats: %w", err)
	}

	err = q.QueryRowContext(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE direction = $2),
		   COUNT(*) FILTER (WHERE direction = $3),
		   MIN(price) FILTER (WHERE direction = $2),
		   MAX(price) FILTER (WHERE direction = $3)
		 FROM orders
		 WHERE contract_id = $1 AND state = $4`,
		f.ID, string(order.Ask), string(order.Bid), string(order.StateInMarket)).
		Scan(&inst.OpenAsks, &inst.OpenBids, &inst.Ask, &inst.Bid)
	if err != nil {
		return nil, fmt.Errorf("instrument book stats: %w", err)
	}

	err = q.QueryRowContext(ctx,
		`SELECT price, volume FROM transactions
		 WHERE contract_id = $1 AND executed_at IS NOT NULL
		 ORDER BY id DESC LIMIT 1`, f.ID).
		Scan(&inst.LatestExecutedPrice, &inst.LatestExecutedVolume)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instrument latest trade: %w", err)
	}

	return inst, nil
}

// Instruments builds snapshots for every active futures contract.
func Instruments(ctx context.Context, q marketdb.Queryer, now time.Time) ([]*Instrument, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT c.id FROM contracts c
		 JOIN futures f ON f.id = c.id
		 WHERE NOT f.cancelled AND NOT f.expired
		 ORDER BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list instruments: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}

	instruments := make([]*Instrument, 0, len(ids))
	for _, id := range ids {
		f, err := contract.Get(ctx, q, id)
		if err != nil {
			return nil, err
		}
		inst, err := InstrumentFor(ctx, q, f, now)
		if err != nil {
			return nil, err
		}
		instruments = append(instruments, inst)
	}
	return instruments, nil
}
