// Package ledger is the append-only holdings journal. A balance is never
// stored; it is the sum of every holding for a (user, asset) pair, and
// corrections are new holdings with the inverse sign, never updates.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/btcex/btcexd/internal/core/amount"
	"github.com/btcex/btcexd/internal/logging"
	"github.com/btcex/btcexd/internal/storage/marketdb"
)

// Source marks where a holding came from.
type Source string

const (
	// SourceInternalTrade marks holdings written by the engine itself.
	SourceInternalTrade Source = "InternalTrade"
	// SourceExternal marks deposits arriving from outside the exchange.
	SourceExternal Source = "External"
)

// Holding is one signed journal entry.
type Holding struct {
	ID          int64
	UserID      int64
	AssetID     int64
	Volume      amount.Amount
	Source      Source
	Description string
	CreatedAt   time.Time
}

// HolderBalance is one user's positive summed balance in an asset.
type HolderBalance struct {
	UserID int64
	Volume amount.Amount
}

var (
	// ErrInsufficientFunds is returned when a debit would drive the
	// balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrZeroVolume is returned for zero-volume journal entries.
	ErrZeroVolume = errors.New("holding volume must be non-zero")
	// ErrNonPositiveVolume is returned when a credit or debit volume is
	// not strictly positive.
	ErrNonPositiveVolume = errors.New("volume must be positive")
	// ErrAssetRemoved is returned when the asset can no longer back new
	// holdings.
	ErrAssetRemoved = errors.New("asset has been removed")
)

// Balance returns the summed volume for (user, asset), zero when the pair
// has no history.
func Balance(ctx context.Context, q marketdb.Queryer, userID, assetID int64) (amount.Amount, error) {
	var sum amount.Amount
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(volume), 0) FROM holdings WHERE user_id = $1 AND asset_id = $2`,
		userID, assetID).Scan(&sum)
	if err != nil {
		return amount.Zero(), fmt.Errorf("balance: %w", err)
	}
	return sum, nil
}

// Credit appends a positive holding. The asset must still be active and
// the volume strictly positive.
func Credit(ctx context.Context, tx *sql.Tx, userID, assetID int64, volume amount.Amount, source Source, description string) (*Holding, error) {
	if err := checkVolume(volume); err != nil {
		return nil, err
	}
	if err := checkAssetActive(ctx, tx, assetID); err != nil {
		return nil, err
	}
	if err := marketdb.LockBalances(ctx, tx, marketdb.BalanceKey{UserID: userID, AssetID: assetID}); err != nil {
		return nil, err
	}
	return appendHolding(ctx, tx, userID, assetID, volume, source, description)
}

// Debit appends a negative holding after verifying the current sum covers
// it. The read-then-append is serialized by the balance advisory lock.
func Debit(ctx context.Context, tx *sql.Tx, userID, assetID int64, volume amount.Amount, source Source, description string) (*Holding, error) {
	if err := checkVolume(volume); err != nil {
		return nil, err
	}
	if err := checkAssetActive(ctx, tx, assetID); err != nil {
		return nil, err
	}
	if err := marketdb.LockBalances(ctx, tx, marketdb.BalanceKey{UserID: userID, AssetID: assetID}); err != nil {
		return nil, err
	}

	balance, err := Balance(ctx, tx, userID, assetID)
	if err != nil {
		return nil, err
	}
	if balance.Sub(volume).Sign() < 0 {
		logging.Logger.Info("debit refused, insufficient funds",
			zap.Int64("user_id", userID),
			zap.Int64("asset_id", assetID),
			zap.String("balance", balance.String()),
			zap.String("volume", volume.String()))
		return nil, ErrInsufficientFunds
	}

	return appendHolding(ctx, tx, userID, assetID, volume.Neg(), source, description)
}

// Holders returns every user whose summed volume in the asset is strictly
// positive.
func Holders(ctx context.Context, q marketdb.Queryer, assetID int64) ([]HolderBalance, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT user_id, SUM(volume) AS volume_sum
		 FROM holdings WHERE asset_id = $1
		 GROUP BY user_id
		 HAVING SUM(volume) > 0
		 ORDER BY user_id`, assetID)
	if err != nil {
		return nil, fmt.Errorf("holders: %w", err)
	}
	defer rows.Close()

	var holders []HolderBalance
	for rows.Next() {
		var h HolderBalance
		if err := rows.Scan(&h.UserID, &h.Volume); err != nil {
			return nil, fmt.Errorf("holders: %w", err)
		}
		holders = append(holders, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("holders: %w", err)
	}
	return holders, nil
}

func checkVolume(volume amount.Amount) error {
	if volume.IsZero() {
		return ErrZeroVolume
	}
	if !volume.IsPositive() {
		return ErrNonPositiveVolume
	}
	return nil
}

func checkAssetActive(ctx context.Context, q marketdb.Queryer, assetID int64) error {
	var removedAt sql.NullTime
	err := q.QueryRowContext(ctx,
		`SELECT removed_at FROM assets WHERE id = $1`, assetID).Scan(&removedAt)
	if err == sql.ErrNoRows {
		return marketdb.ErrAssetNotFound
	}
	if err != nil {
		return fmt.Errorf("check asset: %w", err)
	}
	if removedAt.Valid {
		return ErrAssetRemoved
	}
	return nil
}

func appendHolding(ctx context.Context, tx *sql.Tx, userID, assetID int64, volume amount.Amount, source Source, description string) (*Holding, error) {
	h := &Holding{
		UserID:      userID,
		AssetID:     assetID,
		Volume:      volume.QuantizeVolume(),
		Source:      source,
		Description: description,
	}
	err := tx.QueryRowContext(ctx,
		`INSERT INTO holdings (user_id, asset_id, volume, source, description)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		h.UserID, h.AssetID, h.Volume, string(h.Source), description).
		Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append holding: %w", err)
	}
	return h, nil
}
