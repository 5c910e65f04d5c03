package market

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/btcex/btcexd/internal/core/amount"
	"github.com/btcex/btcexd/internal/core/contract"
	"github.com/btcex/btcexd/internal/core/ledger"
	"github.com/btcex/btcexd/internal/core/order"
	"github.com/btcex/btcexd/internal/logging"
	"github.com/btcex/btcexd/internal/storage/marketdb"
)

// Transaction is the settled record of one matched pair of orders. The
// (ask_order, bid_order) pair is unique: an order settles at most once.
type Transaction struct {
	ID           int64
	ExecutedAt   sql.NullTime
	ContractID   int64
	AskOrderID   int64
	BidOrderID   int64
	Price        amount.Amount
	PriceAssetID int64
	Volume       amount.Amount
}

// Execute matches two orders inside the caller's transaction. Both rows are
// locked (lowest id first) and every precondition is re-verified under the
// lock, so a concurrent placement or cancel that consumed either order makes
// this call fail with a MarketError and the caller's rollback leaves both
// orders untouched.
func Execute(ctx context.Context, tx *sql.Tx, firstID, secondID int64, now time.Time) (*Transaction, error) {
	lockFirst, lockSecond := firstID, secondID
	if lockSecond < lockFirst {
		lockFirst, lockSecond = lockSecond, lockFirst
	}
	a, err := order.GetForUpdate(ctx, tx, lockFirst)
	if err != nil {
		return nil, err
	}
	b, err := order.GetForUpdate(ctx, tx, lockSecond)
	if err != nil {
		return nil, err
	}

	if a.State != order.StateInMarket || b.State != order.StateInMarket {
		return nil, errMarket("at least one order is not in market (%d, %d)", a.ID, b.ID)
	}
	for _, o := range []*order.Order{a, b} {
		settled, err := hasTransaction(ctx, tx, o.ID)
		if err != nil {
			return nil, err
		}
		if settled {
			return nil, errMarket("order %d is already executed", o.ID)
		}
	}
	if a.Expired(now) || b.Expired(now) {
		return nil, ErrOrderExpired
	}
	if a.Direction == b.Direction {
		return nil, errMarket("orders %d and %d have the same direction", a.ID, b.ID)
	}
	if a.ContractID != b.ContractID {
		return nil, errMarket("orders %d and %d have different contracts", a.ID, b.ID)
	}

	price, err := FormPrice(a, b)
	if err != nil {
		return nil, err
	}
	if !VerifyPrice(a, price) || !VerifyPrice(b, price) {
		return nil, errMarket("price %s violates a stated limit (%d, %d)", price, a.ID, b.ID)
	}

	volume := amount.Min(a.Volume, b.Volume)

	askOrder, bidOrder := a, b
	if a.Direction == order.Bid {
		askOrder, bidOrder = b, a
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET state = $3, executed_at = $4 WHERE id IN ($1, $2)`,
		a.ID, b.ID, string(order.StateExecuted), now); err != nil {
		return nil, fmt.Errorf("mark executed: %w", err)
	}

	// The bid's escrow is denominated in its price asset; settlement pays
	// the ask user out of that same asset.
	txn := &Transaction{
		ContractID:   a.ContractID,
		AskOrderID:   askOrder.ID,
		BidOrderID:   bidOrder.ID,
		Price:        price.QuantizePrice(),
		PriceAssetID: bidOrder.PriceAssetID,
		Volume:       volume.QuantizeVolume(),
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO transactions (contract_id, ask_order_id, bid_order_id, price, asset_id, volume)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		txn.ContractID, txn.AskOrderID, txn.BidOrderID, txn.Price, txn.PriceAssetID, txn.Volume).
		Scan(&txn.ID)
	if err != nil {
		if marketdb.IsUniqueViolation(err) {
			return nil, errMarket("orders %d and %d already settled", askOrder.ID, bidOrder.ID)
		}
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	if _, err := ExecuteTrade(ctx, tx, txn, now); err != nil {
		return nil, err
	}

	logging.Logger.Info("executed orders",
		zap.Int64("ask_order_id", askOrder.ID),
		zap.Int64("bid_order_id", bidOrder.ID),
		zap.Int64("transaction_id", txn.ID),
		zap.String("price", txn.Price.String()),
		zap.String("volume", txn.Volume.String()))
	return txn, nil
}

// ExecuteTrade performs the settlement side-effects for a transaction: the
// bid user receives the traded volume of the claim-asset and the ask user
// the traded price, both escrows having been debited at order creation.
// Idempotent: a transaction with executed_at already set is left alone and
// false is returned.
func ExecuteTrade(ctx context.Context, tx *sql.Tx, txn *Transaction, now time.Time) (bool, error) {
	if txn.ExecutedAt.Valid {
		return false, nil
	}

	f, err := contract.Get(ctx, tx, txn.ContractID)
	if err != nil {
		return false, err
	}
	askOrder, err := order.Get(ctx, tx, txn.AskOrderID)
	if err != nil {
		return false, err
	}
	bidOrder, err := order.Get(ctx, tx, txn.BidOrderID)
	if err != nil {
		return false, err
	}

	if _, err := ledger.Credit(ctx, tx, bidOrder.UserID, f.ContractAssetID, txn.Volume,
		ledger.SourceInternalTrade,
		fmt.Sprintf("settlement of transaction %d", txn.ID)); err != nil {
		return false, err
	}
	if _, err := ledger.Credit(ctx, tx, askOrder.UserID, txn.PriceAssetID, txn.Price,
		ledger.SourceInternalTrade,
		fmt.Sprintf("settlement of transaction %d", txn.ID)); err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET executed_at = $2 WHERE id = $1`, txn.ID, now); err != nil {
		return false, fmt.Errorf("stamp transaction: %w", err)
	}
	txn.ExecutedAt = sql.NullTime{Time: now, Valid: true}
	return true, nil
}

const transactionColumns = `id, executed_at, contract_id, ask_order_id, bid_order_id,
	price, asset_id, volume`

// GetTransaction loads a settled transaction by id.
func GetTransaction(ctx context.Context, q marketdb.Queryer, id int64) (*Transaction, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	txn := &Transaction{}
	err := row.Scan(&txn.ID, &txn.ExecutedAt, &txn.ContractID, &txn.AskOrderID,
		&txn.BidOrderID, &txn.Price, &txn.PriceAssetID, &txn.Volume)
	if err == sql.ErrNoRows {
		return nil, marketdb.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return txn, nil
}

// TransactionsByContract returns a contract's settled transactions, newest
// first.
func TransactionsByContract(ctx context.Context, q marketdb.Queryer, contractID int64) ([]*Transaction, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE contract_id = $1 AND executed_at IS NOT NULL
		 ORDER BY id DESC`, contractID)
	if err != nil {
		return nil, fmt.Errorf("transactions by contract: %w", err)
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		txn := &Transaction{}
		if err := rows.Scan(&txn.ID, &txn.ExecutedAt, &txn.ContractID, &txn.AskOrderID,
			&txn.BidOrderID, &txn.Price, &txn.PriceAssetID, &txn.Volume); err != nil {
			return nil, fmt.Errorf("transactions by contract: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func hasTransaction(ctx context.Context, q marketdb.Queryer, orderID int64) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE ask_order_id = $1 OR bid_order_id = $1)`,
		orderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check settlement: %w", err)
	}
	return exists, nil
}
