// Package order implements the order entity and its state machine:
// Created -> InMarket -> Executed | Cancelled, with funds escrowed at
// creation and held until the order leaves the open states.
package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/btcex/btcexd/internal/core/amount"
	"github.com/btcex/btcexd/internal/core/contract"
	"github.com/btcex/btcexd/internal/core/ledger"
	"github.com/btcex/btcexd/internal/logging"
	"github.com/btcex/btcexd/internal/storage/marketdb"
)

// Direction is the side of the book an order sits on.
type Direction string

const (
	Bid Direction = "Bid"
	Ask Direction = "Ask"
)

// Reciprocal returns the opposite direction.
func (d Direction) Reciprocal() Direction {
	if d == Bid {
		return Ask
	}
	return Bid
}

// Type distinguishes market from limit orders.
type Type string

const (
	MarketOrder Type = "MarketOrder"
	LimitOrder  Type = "LimitOrder"
)

// State is the order lifecycle state.
type State string

const (
	StateCreated   State = "Created"
	StateInMarket  State = "InMarket"
	StateExecuted  State = "Executed"
	StateCancelled State = "Cancelled"
)

// Order is a standing instruction to buy (Bid) or sell (Ask) a volume of
// a contract's claim-asset. Price is denominated in the price asset and
// absent for market orders.
type Order struct {
	ID           int64
	CreatedAt    time.Time
	UserID       int64
	Price        amount.NullAmount
	PriceAssetID int64
	Volume       amount.Amount
	ContractID   int64
	ExpiresIn    *time.Duration
	Direction    Direction
	OrderType    Type
	State        State
	ExecutedAt   sql.NullTime
}

var (
	// ErrContractUnusable is returned when the contract cannot back new
	// orders (cancelled, expired, or past its expiry date).
	ErrContractUnusable = errors.New("contract cannot be used in an order")
	// ErrAssetRemoved is returned when the price asset or the claim-asset
	// has been removed.
	ErrAssetRemoved = errors.New("asset has been removed")
	// ErrPriceRequired is returned for limit orders without a price and
	// for market bids, whose escrow obligation would otherwise be
	// unbounded.
	ErrPriceRequired = errors.New("order requires a price")
	// ErrNonPositiveVolume is returned when the volume is not positive.
	ErrNonPositiveVolume = errors.New("order volume must be positive")
	// ErrNonPositivePrice is returned when a stated price is not positive.
	ErrNonPositivePrice = errors.New("order price must be positive")
)

// CreateParams are the admission inputs.
type CreateParams struct {
	UserID       int64
	Price        *amount.Amount
	PriceAssetID int64
	ContractID   int64
	Volume       amount.Amount
	IsBid        bool
	OrderType    Type
	ExpiresIn    *time.Duration
}

// Create admits an order: validates the contract and assets, escrows the
// worst-case obligation out of the user's balance, and persists the order
// in state Created. An insufficient escrow debit surfaces
// ledger.ErrInsufficientFunds.
func Create(ctx context.Context, tx *sql.Tx, p CreateParams, now time.Time) (*Order, error) {
	if !p.Volume.IsPositive() {
		return nil, ErrNonPositiveVolume
	}
	if p.Price != nil && !p.Price.IsPositive() {
		return nil, ErrNonPositivePrice
	}
	if p.OrderType == LimitOrder && p.Price == nil {
		return nil, ErrPriceRequired
	}
	// A market bid has no bounded obligation to escrow; refuse it.
	if p.OrderType == MarketOrder && p.IsBid && p.Price == nil {
		return nil, ErrPriceRequired
	}

	f, err := contract.Get(ctx, tx, p.ContractID)
	if err != nil {
		return nil, err
	}
	if !f.CanBeUsedInOrder(now) {
		logging.Logger.Warn("order refused, contract unusable",
			zap.Int64("contract_id", p.ContractID))
		return nil, ErrContractUnusable
	}
	for _, assetID := range []int64{p.PriceAssetID, f.ContractAssetID} {
		removed, err := assetRemoved(ctx, tx, assetID)
		if err != nil {
			return nil, err
		}
		if removed {
			return nil, ErrAssetRemoved
		}
	}

	direction := Ask
	if p.IsBid {
		direction = Bid
	}

	// Escrow: an ask locks the claim volume being sold, a bid locks the
	// stated price in the price asset.
	if p.IsBid {
		if _, err := ledger.Debit(ctx, tx, p.UserID, p.PriceAssetID, *p.Price,
			ledger.SourceInternalTrade, "escrow for bid order"); err != nil {
			return nil, err
		}
	} else {
		if _, err := ledger.Debit(ctx, tx, p.UserID, f.ContractAssetID, p.Volume,
			ledger.SourceInternalTrade, "escrow for ask order"); err != nil {
			return nil, err
		}
	}

	o := &Order{
		CreatedAt:    now,
		UserID:       p.UserID,
		Price:        amount.FromPtr(p.Price),
		PriceAssetID: p.PriceAssetID,
		Volume:       p.Volume.QuantizeVolume(),
		ContractID:   p.ContractID,
		ExpiresIn:    p.ExpiresIn,
		Direction:    direction,
		OrderType:    p.OrderType,
		State:        StateCreated,
	}

	var expiresInSeconds sql.NullInt64
	if p.ExpiresIn != nil {
		expiresInSeconds = sql.NullInt64{Int64: int64(p.ExpiresIn.Seconds()), Valid: true}
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO orders
		   (created_at, user_id, price, asset_id, volume, contract_id, expires_in,
		    direction, order_type, state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::bigint * INTERVAL '1 second', $8, $9, $10)
		 RETURNING id`,
		now, p.UserID, o.Price, p.PriceAssetID, o.Volume, p.ContractID,
		expiresInSeconds, string(direction), string(p.OrderType), string(StateCreated)).
		Scan(&o.ID)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	logging.Logger.Info("created order",
		zap.Int64("order_id", o.ID),
		zap.Int64("user_id", p.UserID),
		zap.String("direction", string(direction)),
		zap.String("type", string(p.OrderType)))
	return o, nil
}

// Cancel transitions the order to Cancelled and refunds the escrow. Only
// Created and InMarket orders can be cancelled; terminal states return
// false without error.
func Cancel(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	o, err := GetForUpdate(ctx, tx, id)
	if err != nil {
		return false, err
	}

	if o.State != StateCreated && o.State != StateInMarket {
		logging.Logger.Warn("cannot cancel order in terminal state",
			zap.Int64("order_id", id), zap.String("state", string(o.State)))
		return false, nil
	}

	f, err := contract.Get(ctx, tx, o.ContractID)
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET state = $2 WHERE id = $1`, id, string(StateCancelled)); err != nil {
		return false, fmt.Errorf("cancel order: %w", err)
	}

	// Refund the escrow taken at creation.
	if o.Direction == Ask {
		_, err = ledger.Credit(ctx, tx, o.UserID, f.ContractAssetID, o.Volume,
			ledger.SourceInternalTrade, fmt.Sprintf("refund for cancelled order %d", id))
	} else {
		_, err = ledger.Credit(ctx, tx, o.UserID, o.PriceAssetID, o.Price.Amount,
			ledger.SourceInternalTrade, fmt.Sprintf("refund for cancelled order %d", id))
	}
	if err != nil {
		return false, err
	}

	logging.Logger.Info("cancelled order", zap.Int64("order_id", id))
	return true, nil
}

// MarkInMarket transitions a Created order to InMarket.
func MarkInMarket(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET state = $2 WHERE id = $1 AND state = $3`,
		id, string(StateInMarket), string(StateCreated))
	if err != nil {
		return fmt.Errorf("mark in market: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark in market: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("order %d is not in state Created", id)
	}
	return nil
}

// Expired reports whether the order's lifetime window has elapsed.
func (o *Order) Expired(now time.Time) bool {
	if o.ExpiresIn == nil {
		return false
	}
	return !now.Before(o.CreatedAt.Add(*o.ExpiresIn))
}

const orderColumns = `id, created_at, user_id, price, asset_id, volume, contract_id,
	EXTRACT(EPOCH FROM expires_in)::bigint, direction, order_type, state, executed_at`

// Get loads an order by id.
func Get(ctx context.Context, q marketdb.Queryer, id int64) (*Order, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

// GetForUpdate loads an order and locks its row for the remainder of the
// transaction.
func GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*Order, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	return scanOrder(row)
}

// Filter narrows List results. Nil fields match everything.
type Filter struct {
	UserID     *int64
	ContractID *int64
	State      *State
}

// List returns orders matching the filter, oldest first.
func List(ctx context.Context, q marketdb.Queryer, f Filter) ([]*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE TRUE`
	var args []interface{}
	if f.UserID != nil {
		args = append(args, *f.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if f.ContractID != nil {
		args = append(args, *f.ContractID)
		query += fmt.Sprintf(" AND contract_id = $%d", len(args))
	}
	if f.State != nil {
		args = append(args, string(*f.State))
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}
	query += " ORDER BY id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*Order, error) {
	o := &Order{}
	var expiresInSeconds sql.NullInt64
	var direction, orderType, state string
	err := row.Scan(&o.ID, &o.CreatedAt, &o.UserID, &o.Price, &o.PriceAssetID,
		&o.Volume, &o.ContractID, &expiresInSeconds, &direction, &orderType,
		&state, &o.ExecutedAt)
	if err == sql.ErrNoRows {
		return nil, marketdb.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if expiresInSeconds.Valid {
		d := time.Duration(expiresInSeconds.Int64) * time.Second
		o.ExpiresIn = &d
	}
	o.Direction = Direction(direction)
	o.OrderType = Type(orderType)
	o.State = State(state)
	return o, nil
}

func assetRemoved(ctx context.Context, q marketdb.Queryer, assetID int64) (bool, error) {
	var removedAt sql.NullTime
	err := q.QueryRowContext(ctx,
		`SELECT removed_at FROM assets WHERE id = $1`, assetID).Scan(&removedAt)
	if err == sql.ErrNoRows {
		return false, marketdb.ErrAssetNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check asset: %w", err)
	}
	return removedAt.Valid, nil
}
