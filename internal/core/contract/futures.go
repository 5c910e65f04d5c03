// Package contract implements the futures contract lifecycle: issuance
// locks collateral and mints a contract-asset that trades as a fungible
// claim; expiry distributes the collateral pro rata to claim holders;
// cancellation returns it to the issuer.
package contract

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/btcex/btcexd/internal/core/amount"
	"github.com/btcex/btcexd/internal/core/asset"
	"github.com/btcex/btcexd/internal/core/ledger"
	"github.com/btcex/btcexd/internal/logging"
	"github.com/btcex/btcexd/internal/storage/marketdb"
)

// TypeFuture is the contracts.contract_type discriminator for futures.
const TypeFuture = "Future"

// Futures is a futures contract: an agreement to deliver Volume of the
// underlying asset at ExpiresAt, parameterized by the minted
// contract-asset.
type Futures struct {
	ID              int64
	CreatedAt       time.Time
	IssuerID        int64
	Cancelled       bool
	Expired         bool
	ExpiresAt       time.Time
	Volume          amount.Amount // collateral in the underlying asset
	AssetID         int64         // underlying asset
	ContractAssetID int64         // minted claim-asset
}

var (
	// ErrExpiryInPast is returned when a contract would expire at or
	// before issuance time.
	ErrExpiryInPast = errors.New("contract expiry must be in the future")
	// ErrNonPositiveVolume is returned for non-positive collateral or
	// mint volumes.
	ErrNonPositiveVolume = errors.New("volume must be positive")
	// ErrInvalidLifecycle is returned when cancel or expire is called on
	// a contract in an incompatible state.
	ErrInvalidLifecycle = errors.New("contract is in an incompatible state")
)

// Issue creates the contract-asset, the contract row, credits the issuer
// with the full mint of the claim-asset, and locks the collateral by
// debiting the underlying. All inside the caller's transaction; a failed
// collateral debit surfaces ledger.ErrInsufficientFunds and rolls
// everything back with it.
func Issue(ctx context.Context, tx *sql.Tx, issuerID int64, expiresAt time.Time, assetID int64, collateral amount.Amount, contractAssetName string, mintVolume amount.Amount, now time.Time) (*Futures, *asset.Asset, error) {
	if !expiresAt.After(now) {
		return nil, nil, ErrExpiryInPast
	}
	if !collateral.IsPositive() || !mintVolume.IsPositive() {
		return nil, nil, ErrNonPositiveVolume
	}

	contractAsset, err := asset.Create(ctx, tx, contractAssetName)
	if err != nil {
		return nil, nil, err
	}

	f := &Futures{
		CreatedAt:       now,
		IssuerID:        issuerID,
		ExpiresAt:       expiresAt,
		Volume:          collateral.QuantizeVolume(),
		AssetID:         assetID,
		ContractAssetID: contractAsset.ID,
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO contracts (created_at, contract_type, issuer_id)
		 VALUES ($1, $2, $3) RETURNING id`,
		now, TypeFuture, issuerID).Scan(&f.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("insert contract: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO futures (id, expires_at, volume, asset_id, contract_asset_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		f.ID, expiresAt, f.Volume, assetID, contractAsset.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("insert futures: %w", err)
	}

	if _, err := ledger.Credit(ctx, tx, issuerID, contractAsset.ID, mintVolume,
		ledger.SourceInternalTrade, fmt.Sprintf("mint for contract %d", f.ID)); err != nil {
		return nil, nil, err
	}
	if _, err := ledger.Debit(ctx, tx, issuerID, assetID, collateral,
		ledger.SourceInternalTrade, fmt.Sprintf("collateral for contract %d", f.ID)); err != nil {
		return nil, nil, err
	}

	logging.Logger.Info("issued futures contract",
		zap.Int64("contract_id", f.ID),
		zap.Int64("issuer_id", issuerID),
		zap.String("contract_asset", contractAssetName))
	return f, contractAsset, nil
}

// Get loads a futures contract by id.
func Get(ctx context.Context, q marketdb.Queryer, id int64) (*Futures, error) {
	return get(ctx, q, id, false)
}

// GetForUpdate loads a futures contract and locks its rows for the
// remainder of the transaction.
func GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*Futures, error) {
	return get(ctx, tx, id, true)
}

func get(ctx context.Context, q marketdb.Queryer, id int64, forUpdate bool) (*Futures, error) {
	query := `SELECT c.id, c.created_at, c.issuer_id,
	                 f.cancelled, f.expired, f.expires_at, f.volume, f.asset_id, f.contract_asset_id
	          FROM contracts c
	          JOIN futures f ON f.id = c.id
	          WHERE c.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF c, f`
	}

	f := &Futures{}
	err := q.QueryRowContext(ctx, query, id).Scan(
		&f.ID, &f.CreatedAt, &f.IssuerID,
		&f.Cancelled, &f.Expired, &f.ExpiresAt, &f.Volume, &f.AssetID, &f.ContractAssetID)
	if err == sql.ErrNoRows {
		return nil, marketdb.ErrContractNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get futures: %w", err)
	}
	return f, nil
}

// CanBeUsedInOrder reports whether orders may be created against the
// contract: neither cancelled nor expired, and before the expiry date.
func (f *Futures) CanBeUsedInOrder(now time.Time) bool {
	return !f.Cancelled && !f.Expired && !now.After(f.ExpiresAt)
}

// Cancel attempts to cancel the contract. It returns false without error
// when cancellation is refused: another user holds a positive volume of
// the claim-asset, an order on the contract is still open, the expiry has
// passed or been run, or the contract is already cancelled.
//
// On success the issuer gets the collateral back, the issuer's remaining
// claim-asset balance is burned, and the claim-asset is soft-removed. The
// contract row is deleted outright when no order references it, otherwise
// it is marked cancelled and kept for referential integrity.
func Cancel(ctx context.Context, tx *sql.Tx, id int64, now time.Time) (bool, error) {
	f, err := GetForUpdate(ctx, tx, id)
	if err != nil {
		return false, err
	}

	holders, err := ledger.Holders(ctx, tx, f.ContractAssetID)
	if err != nil {
		return false, err
	}
	for _, h := range holders {
		if h.UserID != f.IssuerID {
			logging.Logger.Info("cannot cancel contract held by others",
				zap.Int64("contract_id", id), zap.Int64("holder_id", h.UserID))
			return false, nil
		}
	}

	var openOrders bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM orders
			WHERE contract_id = $1 AND state NOT IN ('Cancelled', 'Executed')
		 )`, id).Scan(&openOrders)
	if err != nil {
		return false, fmt.Errorf("check open orders: %w", err)
	}
	if openOrders {
		logging.Logger.Info("cannot cancel contract with open orders", zap.Int64("contract_id", id))
		return false, nil
	}

	if f.Expired || now.After(f.ExpiresAt) {
		logging.Logger.Info("cannot cancel expired contract", zap.Int64("contract_id", id))
		return false, nil
	}
	if f.Cancelled {
		logging.Logger.Info("contract already cancelled", zap.Int64("contract_id", id))
		return false, nil
	}

	// Return the collateral, then burn whatever claim volume the issuer
	// still holds.
	if _, err := ledger.Credit(ctx, tx, f.IssuerID, f.AssetID, f.Volume,
		ledger.SourceInternalTrade, fmt.Sprintf("collateral returned for contract %d", id)); err != nil {
		return false, err
	}
	issuerClaim, err := ledger.Balance(ctx, tx, f.IssuerID, f.ContractAssetID)
	if err != nil {
		return false, err
	}
	if issuerClaim.IsPositive() {
		if _, err := ledger.Debit(ctx, tx, f.IssuerID, f.ContractAssetID, issuerClaim,
			ledger.SourceInternalTrade, fmt.Sprintf("burn for cancelled contract %d", id)); err != nil {
			return false, err
		}
	}

	// At least one holding refers to the claim-asset, so it can only be
	// soft-removed.
	if err := asset.Remove(ctx, tx, f.ContractAssetID, now); err != nil {
		return false, err
	}

	var referenced bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE contract_id = $1)`, id).Scan(&referenced)
	if err != nil {
		return false, fmt.Errorf("check order references: %w", err)
	}

	if !referenced {
		if _, err := tx.ExecContext(ctx, `DELETE FROM futures WHERE id = $1`, id); err != nil {
			return false, fmt.Errorf("delete futures: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM contracts WHERE id = $1`, id); err != nil {
			return false, fmt.Errorf("delete contract: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`UPDATE futures SET cancelled = TRUE WHERE id = $1`, id); err != nil {
			return false, fmt.Errorf("mark cancelled: %w", err)
		}
	}

	logging.Logger.Info("cancelled contract", zap.Int64("contract_id", id), zap.Bool("deleted", !referenced))
	return true, nil
}

// Expire distributes the collateral pro rata to the holders of the
// claim-asset and marks the contract expired. Idempotent: expiring an
// already-expired contract is a no-op. Expiring a cancelled contract is
// an ErrInvalidLifecycle; Cancelled and Expired are mutually exclusive
// terminal states.
func Expire(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error {
	f, err := GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if f.Expired {
		return nil
	}
	if f.Cancelled {
		return ErrInvalidLifecycle
	}

	holders, err := ledger.Holders(ctx, tx, f.ContractAssetID)
	if err != nil {
		return err
	}

	total := amount.Zero()
	for _, h := range holders {
		total = total.Add(h.Volume)
	}

	// With zero total claim volume there is nothing to distribute; the
	// issuer normally appears in holders with the undistributed mint and
	// receives the residual collateral that way.
	if total.IsPositive() {
		for _, h := range holders {
			frac, err := h.Volume.Div(total)
			if err != nil {
				return err
			}
			// Shares truncate toward zero so the distributed total never
			// exceeds the locked collateral; any residual stays locked.
			share := frac.Mul(f.Volume).QuantizeVolumeFloor()
			if share.IsZero() {
				continue
			}
			if _, err := ledger.Credit(ctx, tx, h.UserID, f.AssetID, share,
				ledger.SourceInternalTrade, fmt.Sprintf("settlement of contract %d", id)); err != nil {
				return err
			}
			logging.Logger.Info("distributed settlement",
				zap.Int64("contract_id", id),
				zap.Int64("user_id", h.UserID),
				zap.String("share", share.String()))
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE futures SET expired = TRUE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}

	logging.Logger.Info("expired contract", zap.Int64("contract_id", id))
	return nil
}

// DueForExpiry returns the ids of active futures whose expiry date has
// passed. Used by the sweeper, which expires each in its own transaction.
func DueForExpiry(ctx context.Context, q marketdb.Queryer, now time.Time) ([]int64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id FROM futures
		 WHERE NOT expired AND NOT cancelled AND expires_at <= $1
		 ORDER BY id`, now)
	if err != nil {
		return nil, fmt.Errorf("due for expiry: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("due for expiry: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
