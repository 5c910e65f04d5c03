// Package asset is the registry of named fungible units. Assets are never
// deleted: removal clears the name (vacating it for reuse) and stamps
// removed_at, so historical holdings keep a valid reference.
package asset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/btcex/btcexd/internal/logging"
	"github.com/btcex/btcexd/internal/storage/marketdb"
)

// Asset is a named fungible unit of account.
type Asset struct {
	ID           int64
	Name         sql.NullString
	PreviousName sql.NullString
	RemovedAt    sql.NullTime
}

// Removed reports whether the asset has been soft-removed.
func (a *Asset) Removed() bool {
	return a.RemovedAt.Valid
}

var (
	// ErrEmptyName is returned when the normalized name is empty.
	ErrEmptyName = errors.New("asset name is empty")
	// ErrNameTaken is returned when an active asset already uses the name.
	ErrNameTaken = errors.New("asset name already in use")
)

// Normalize trims whitespace and uppercases the asset name.
func Normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Create registers a new active asset. Names are unique among active
// assets only; a removed asset has vacated its name.
func Create(ctx context.Context, q marketdb.Queryer, name string) (*Asset, error) {
	normalized := Normalize(name)
	if normalized == "" {
		return nil, ErrEmptyName
	}

	a := &Asset{Name: sql.NullString{String: normalized, Valid: true}}
	err := q.QueryRowContext(ctx,
		`INSERT INTO assets (name) VALUES ($1) RETURNING id`, normalized).Scan(&a.ID)
	if err != nil {
		if marketdb.IsUniqueViolation(err) {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("create asset: %w", err)
	}
	return a, nil
}

// Get loads an asset by id.
func Get(ctx context.Context, q marketdb.Queryer, id int64) (*Asset, error) {
	a := &Asset{}
	err := q.QueryRowContext(ctx,
		`SELECT id, name, previous_name, removed_at FROM assets WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.PreviousName, &a.RemovedAt)
	if err == sql.ErrNoRows {
		return nil, marketdb.ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return a, nil
}

// Remove soft-removes the asset: the name is cleared (and kept as
// previous_name) and removed_at is stamped. Removing an already-removed
// asset is a no-op.
func Remove(ctx context.Context, q marketdb.Queryer, id int64, now time.Time) error {
	res, err := q.ExecContext(ctx,
		`UPDATE assets SET previous_name = name, name = NULL, removed_at = $2
		 WHERE id = $1 AND removed_at IS NULL`, id, now)
	if err != nil {
		return fmt.Errorf("remove asset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove asset: %w", err)
	}
	if n == 0 {
		// Either missing or already removed; distinguish for the caller.
		if _, err := Get(ctx, q, id); err != nil {
			return err
		}
		return nil
	}
	logging.Logger.Info("removed asset", zap.Int64("asset_id", id))
	return nil
}
