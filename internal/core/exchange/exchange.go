// Package exchange is the orchestration layer over the core packages. Each
// operation runs one or more store transactions; the order flow is
// deliberately split so that a refused match leaves the submitted order
// resting in the book instead of rolling back its admission.
package exchange

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/btcex/btcexd/internal/core/amount"
	"github.com/btcex/btcexd/internal/core/asset"
	"github.com/btcex/btcexd/internal/core/contract"
	"github.com/btcex/btcexd/internal/core/ledger"
	"github.com/btcex/btcexd/internal/core/market"
	"github.com/btcex/btcexd/internal/core/order"
	"github.com/btcex/btcexd/internal/core/user"
	"github.com/btcex/btcexd/internal/core/views"
	"github.com/btcex/btcexd/internal/logging"
	"github.com/btcex/btcexd/internal/storage/marketdb"
)

// TradeListener receives every settled transaction, after commit.
type TradeListener func(*market.Transaction)

// Exchange wires the core packages to a store. It is stateless between
// calls; the database serializes concurrent operations.
type Exchange struct {
	store *marketdb.Store
	now   func() time.Time

	mu        sync.RWMutex
	listeners []TradeListener
}

// New builds an exchange on the given store.
func New(store *marketdb.Store) *Exchange {
	return &Exchange{store: store, now: time.Now}
}

// Subscribe registers a listener for settled trades.
func (e *Exchange) Subscribe(l TradeListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

func (e *Exchange) notify(txn *market.Transaction) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, l := range e.listeners {
		l(txn)
	}
}

// CreateUser registers a user. The password hash is stored opaquely;
// hashing is the transport layer's concern.
func (e *Exchange) CreateUser(ctx context.Context, username, passwordHash string) (*user.User, error) {
	var u *user.User
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		u, err = user.Create(ctx, tx, username, passwordHash)
		return err
	})
	return u, err
}

// CreateAsset registers a named asset.
func (e *Exchange) CreateAsset(ctx context.Context, name string) (*asset.Asset, error) {
	var a *asset.Asset
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		a, err = asset.Create(ctx, tx, name)
		return err
	})
	return a, err
}

// RemoveAsset soft-removes an asset, vacating its name.
func (e *Exchange) RemoveAsset(ctx context.Context, id int64) error {
	return e.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return asset.Remove(ctx, tx, id, e.now())
	})
}

// Deposit credits a user with externally sourced funds.
func (e *Exchange) Deposit(ctx context.Context, userID, assetID int64, volume amount.Amount, description string) (*ledger.Holding, error) {
	var h *ledger.Holding
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		h, err = ledger.Credit(ctx, tx, userID, assetID, volume, ledger.SourceExternal, description)
		return err
	})
	return h, err
}

// Balance returns the user's summed balance in an asset.
func (e *Exchange) Balance(ctx context.Context, userID, assetID int64) (amount.Amount, error) {
	return ledger.Balance(ctx, e.store.DB(), userID, assetID)
}

// IssueContractParams are the issuance inputs.
type IssueContractParams struct {
	IssuerID          int64
	ExpiresAt         time.Time
	AssetID           int64
	Collateral        amount.Amount
	ContractAssetName string
	MintVolume        amount.Amount
}

// IssueContract issues a futures contract, locking collateral and minting
// the claim-asset in one transaction.
func (e *Exchange) IssueContract(ctx context.Context, p IssueContractParams) (*contract.Futures, *asset.Asset, error) {
	var f *contract.Futures
	var a *asset.Asset
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		f, a, err = contract.Issue(ctx, tx, p.IssuerID, p.ExpiresAt, p.AssetID,
			p.Collateral, p.ContractAssetName, p.MintVolume, e.now())
		return err
	})
	return f, a, err
}

// CancelContract attempts to cancel a contract; false means the contract
// refused cancellation.
func (e *Exchange) CancelContract(ctx context.Context, id int64) (bool, error) {
	var cancelled bool
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		cancelled, err = contract.Cancel(ctx, tx, id, e.now())
		return err
	})
	return cancelled, err
}

// ExpireContract settles an expired contract's collateral to its holders.
func (e *Exchange) ExpireContract(ctx context.Context, id int64) error {
	return e.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return contract.Expire(ctx, tx, id, e.now())
	})
}

// ExpireDue expires every contract whose expiry date has passed, each in
// its own transaction so one failure does not block the rest. Returns the
// number expired.
func (e *Exchange) ExpireDue(ctx context.Context) (int, error) {
	ids, err := contract.DueForExpiry(ctx, e.store.DB(), e.now())
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		if err := e.ExpireContract(ctx, id); err != nil {
			logging.Logger.Error("failed to expire contract",
				zap.Int64("contract_id", id), zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}

// RunExpirySweeper expires due contracts every interval until ctx is done.
func (e *Exchange) RunExpirySweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.ExpireDue(ctx); err != nil {
				logging.Logger.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// SubmitOrder admits an order, places it in the market and attempts a
// match. The returned transaction is nil when nothing crossed; a market
// order that finds no counterparty comes back Cancelled with its escrow
// refunded. A refused match is logged and the order rests InMarket.
func (e *Exchange) SubmitOrder(ctx context.Context, p order.CreateParams) (*order.Order, *market.Transaction, error) {
	now := e.now()

	var o *order.Order
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		o, err = order.Create(ctx, tx, p, now)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	err = e.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return order.MarkInMarket(ctx, tx, o.ID)
	})
	if err != nil {
		return nil, nil, err
	}
	o.State = order.StateInMarket

	candidate, err := market.FindCandidate(ctx, e.store.DB(), o)
	if err != nil {
		return nil, nil, err
	}

	if candidate == nil {
		if o.OrderType == order.MarketOrder {
			logging.Logger.Info("cancelling market order, empty result set",
				zap.Int64("order_id", o.ID))
			err := e.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
				_, err := order.Cancel(ctx, tx, o.ID)
				return err
			})
			if err != nil {
				return nil, nil, err
			}
			o.State = order.StateCancelled
		}
		return o, nil, nil
	}

	var txn *market.Transaction
	err = e.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		txn, err = market.Execute(ctx, tx, o.ID, candidate.ID, now)
		return err
	})
	if err != nil {
		// A refused match rolls back settlement only; the order keeps
		// resting in the book.
		if market.IsMarketError(err) {
			logging.Logger.Warn("match refused",
				zap.Int64("order_id", o.ID),
				zap.Int64("candidate_id", candidate.ID),
				zap.Error(err))
			return o, nil, nil
		}
		return nil, nil, err
	}

	o, err = order.Get(ctx, e.store.DB(), o.ID)
	if err != nil {
		return nil, nil, err
	}
	e.notify(txn)
	return o, txn, nil
}

// CancelOrder cancels an open order and refunds its escrow; false means
// the order was already in a terminal state.
func (e *Exchange) CancelOrder(ctx context.Context, id int64) (bool, error) {
	var cancelled bool
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		cancelled, err = order.Cancel(ctx, tx, id)
		return err
	})
	return cancelled, err
}

// Orders returns orders matching the filter.
func (e *Exchange) Orders(ctx context.Context, f order.Filter) ([]*order.Order, error) {
	return order.List(ctx, e.store.DB(), f)
}

// Order loads a single order.
func (e *Exchange) Order(ctx context.Context, id int64) (*order.Order, error) {
	return order.Get(ctx, e.store.DB(), id)
}

// Contract loads a single futures contract.
func (e *Exchange) Contract(ctx context.Context, id int64) (*contract.Futures, error) {
	return contract.Get(ctx, e.store.DB(), id)
}

// Instruments returns the market-data snapshot for every active contract.
func (e *Exchange) Instruments(ctx context.Context) ([]*views.Instrument, error) {
	return views.Instruments(ctx, e.store.DB(), e.now())
}
