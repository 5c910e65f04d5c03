package ledger

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btcex/btcexd/internal/core/amount"
	"github.com/btcex/btcexd/internal/core/asset"
	"github.com/btcex/btcexd/internal/core/user"
	"github.com/btcex/btcexd/internal/storage/marketdb"
)

type fixture struct {
	store *marketdb.Store
	user  *user.User
	asset *asset.Asset
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := marketdb.NewTestStore(t)
	f := &fixture{store: store}

	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		f.user, err = user.Create(ctx, tx, "alice", "hash")
		if err != nil {
			return err
		}
		f.asset, err = asset.Create(ctx, tx, "USD")
		return err
	}))
	return f
}

func (f *fixture) inTx(t *testing.T, fn func(ctx context.Context, tx *sql.Tx) error) {
	t.Helper()
	require.NoError(t, f.store.WithTx(context.Background(), fn))
}

func (f *fixture) balance(t *testing.T, userID, assetID int64) amount.Amount {
	t.Helper()
	b, err := Balance(context.Background(), f.store.DB(), userID, assetID)
	require.NoError(t, err)
	return b
}

func TestBalanceEmptyIsZero(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.balance(t, f.user.ID, f.asset.ID).IsZero())
}

func TestCreditDebitRoundTrip(t *testing.T) {
	f := newFixture(t)

	f.inTx(t, func(ctx context.Context, tx *sql.Tx) error {
		_, err := Credit(ctx, tx, f.user.ID, f.asset.ID, amount.MustParse("100"), SourceExternal, "deposit")
		return err
	})
	assert.Equal(t, "100.0000", f.balance(t, f.user.ID, f.asset.ID).String())

	f.inTx(t, func(ctx context.Context, tx *sql.Tx) error {
		_, err := Debit(ctx, tx, f.user.ID, f.asset.ID, amount.MustParse("40.5"), SourceInternalTrade, "escrow")
		return err
	})
	assert.Equal(t, "59.5000", f.balance(t, f.user.ID, f.asset.ID).String())
}

func TestDebitInsufficientFunds(t *testing.T) {
	f := newFixture(t)

	f.inTx(t, func(ctx context.Context, tx *sql.Tx) error {
		_, err := Credit(ctx, tx, f.user.ID, f.asset.ID, amount.MustParse("10"), SourceExternal, "deposit")
		return err
	})

	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		_, err := Debit(ctx, tx, f.user.ID, f.asset.ID, amount.MustParse("10.0001"), SourceInternalTrade, "too much")
		return err
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// The refused debit must not have written anything.
	assert.Equal(t, "10.0000", f.balance(t, f.user.ID, f.asset.ID).String())
}

func TestDebitExactBalanceToZero(t *testing.T) {
	f := newFixture(t)

	f.inTx(t, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := Credit(ctx, tx, f.user.ID, f.asset.ID, amount.MustParse("25"), SourceExternal, "deposit"); err != nil {
			return err
		}
		_, err := Debit(ctx, tx, f.user.ID, f.asset.ID, amount.MustParse("25"), SourceInternalTrade, "all of it")
		return err
	})
	assert.True(t, f.balance(t, f.user.ID, f.asset.ID).IsZero())
}

func TestVolumeValidation(t *testing.T) {
	f := newFixture(t)

	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		_, err := Credit(ctx, tx, f.user.ID, f.asset.ID, amount.Zero(), SourceExternal, "zero")
		return err
	})
	require.ErrorIs(t, err, ErrZeroVolume)

	err = f.store.WithTx(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		_, err := Debit(ctx, tx, f.user.ID, f.asset.ID, amount.MustParse("-5"), SourceExternal, "negative")
		return err
	})
	require.ErrorIs(t, err, ErrNonPositiveVolume)
}

func TestCreditRemovedAsset(t *testing.T) {
	f := newFixture(t)

	f.inTx(t, func(ctx context.Context, tx *sql.Tx) error {
		return asset.Remove(ctx, tx, f.asset.ID, time.Now())
	})

	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		_, err := Credit(ctx, tx, f.user.ID, f.asset.ID, amount.MustParse("1"), SourceExternal, "late deposit")
		return err
	})
	require.ErrorIs(t, err, ErrAssetRemoved)
}

func TestHolders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var bob *user.User
	f.inTx(t, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		bob, err = user.Create(ctx, tx, "bob", "hash")
		if err != nil {
			return err
		}
		if _, err := Credit(ctx, tx, f.user.ID, f.asset.ID, amount.MustParse("60"), SourceExternal, ""); err != nil {
			return err
		}
		if _, err := Credit(ctx, tx, bob.ID, f.asset.ID, amount.MustParse("40"), SourceExternal, ""); err != nil {
			return err
		}
		// Bob spends everything; he must drop out of the holder set.
		_, err = Debit(ctx, tx, bob.ID, f.asset.ID, amount.MustParse("40"), SourceInternalTrade, "")
		return err
	})

	holders, err := Holders(ctx, f.store.DB(), f.asset.ID)
	require.NoError(t, err)
	require.Len(t, holders, 1)
	assert.Equal(t, f.user.ID, holders[0].UserID)
	assert.Equal(t, "60.0000", holders[0].Volume.String())
}
