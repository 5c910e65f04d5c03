package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btcex/btcexd/internal/core/amount"
	"github.com/btcex/btcexd/internal/core/asset"
	"github.com/btcex/btcexd/internal/core/contract"
	"github.com/btcex/btcexd/internal/core/ledger"
	"github.com/btcex/btcexd/internal/core/market"
	"github.com/btcex/btcexd/internal/core/order"
	"github.com/btcex/btcexd/internal/core/user"
	"github.com/btcex/btcexd/internal/storage/marketdb"
)

type fixture struct {
	t       *testing.T
	ex      *Exchange
	clock   time.Time
	alice   *user.User
	bob     *user.User
	usd     *asset.Asset
	btc     *asset.Asset
	fut     *contract.Futures
	claimID int64
}

// newFixture funds alice with BTC and bob with USD, and lets alice issue a
// futures contract minting 100 FUTURE against 100 BTC collateral.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := marketdb.NewTestStore(t)

	f := &fixture{
		t:     t,
		ex:    New(store),
		clock: time.Now().UTC().Truncate(time.Millisecond),
	}
	f.ex.now = func() time.Time { return f.clock }

	ctx := context.Background()
	var err error
	f.alice, err = f.ex.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)
	f.bob, err = f.ex.CreateUser(ctx, "bob", "hash")
	require.NoError(t, err)
	f.usd, err = f.ex.CreateAsset(ctx, "USD")
	require.NoError(t, err)
	f.btc, err = f.ex.CreateAsset(ctx, "BTC")
	require.NoError(t, err)

	_, err = f.ex.Deposit(ctx, f.alice.ID, f.btc.ID, amount.MustParse("1000"), "funding")
	require.NoError(t, err)
	_, err = f.ex.Deposit(ctx, f.bob.ID, f.usd.ID, amount.MustParse("1000"), "funding")
	require.NoError(t, err)

	fut, claim, err := f.ex.IssueContract(ctx, IssueContractParams{
		IssuerID:          f.alice.ID,
		ExpiresAt:         f.clock.Add(24 * time.Hour),
		AssetID:           f.btc.ID,
		Collateral:        amount.MustParse("100"),
		ContractAssetName: "FUTURE",
		MintVolume:        amount.MustParse("100"),
	})
	require.NoError(t, err)
	f.fut = fut
	f.claimID = claim.ID
	return f
}

func (f *fixture) tick() {
	f.clock = f.clock.Add(time.Second)
}

func (f *fixture) balance(userID, assetID int64) string {
	f.t.Helper()
	b, err := f.ex.Balance(context.Background(), userID, assetID)
	require.NoError(f.t, err)
	return b.String()
}

func (f *fixture) submit(p order.CreateParams) (*order.Order, *market.Transaction) {
	f.t.Helper()
	o, txn, err := f.ex.SubmitOrder(context.Background(), p)
	require.NoError(f.t, err)
	return o, txn
}

func limitParams(userID int64, f *fixture, price string, volume string, isBid bool) order.CreateParams {
	p := amount.MustParse(price)
	return order.CreateParams{
		UserID:       userID,
		Price:        &p,
		PriceAssetID: f.usd.ID,
		ContractID:   f.fut.ID,
		Volume:       amount.MustParse(volume),
		IsBid:        isBid,
		OrderType:    order.LimitOrder,
	}
}

func TestNormalTradeAndExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	askOrder, txn := f.submit(limitParams(f.alice.ID, f, "20", "50", false))
	require.Nil(t, txn)
	assert.Equal(t, order.StateInMarket, askOrder.State)
	// Ask escrow: 50 FUTURE locked.
	assert.Equal(t, "50.0000", f.balance(f.alice.ID, f.claimID))

	f.tick()
	bidOrder, txn := f.submit(limitParams(f.bob.ID, f, "20", "50", true))
	require.NotNil(t, txn)
	assert.Equal(t, order.StateExecuted, bidOrder.State)
	assert.Equal(t, "20.00000000", txn.Price.String())
	assert.Equal(t, "50.0000", txn.Volume.String())
	assert.Equal(t, askOrder.ID, txn.AskOrderID)
	assert.Equal(t, bidOrder.ID, txn.BidOrderID)
	require.True(t, txn.ExecutedAt.Valid)

	// Settlement: bob holds the claim, alice got paid.
	assert.Equal(t, "50.0000", f.balance(f.bob.ID, f.claimID))
	assert.Equal(t, "20.0000", f.balance(f.alice.ID, f.usd.ID))
	assert.Equal(t, "980.0000", f.balance(f.bob.ID, f.usd.ID))

	settledAsk, err := f.ex.Order(ctx, askOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StateExecuted, settledAsk.State)
	require.True(t, settledAsk.ExecutedAt.Valid)

	// Expire: alice and bob each hold 50 of 100 claims, so the 100 BTC
	// collateral splits evenly.
	f.clock = f.clock.Add(25 * time.Hour)
	require.NoError(t, f.ex.ExpireContract(ctx, f.fut.ID))
	assert.Equal(t, "950.0000", f.balance(f.alice.ID, f.btc.ID))
	assert.Equal(t, "50.0000", f.balance(f.bob.ID, f.btc.ID))

	// Expiry is idempotent.
	require.NoError(t, f.ex.ExpireContract(ctx, f.fut.ID))
	assert.Equal(t, "950.0000", f.balance(f.alice.ID, f.btc.ID))
	assert.Equal(t, "50.0000", f.balance(f.bob.ID, f.btc.ID))
}

func TestPriceFormationTie(t *testing.T) {
	f := newFixture(t)

	// Ask at 20 rests first; the later Bid at 22 crosses. The earlier
	// order is an Ask, so the trade settles at max(20, 22) = 22.
	f.submit(limitParams(f.alice.ID, f, "20", "10", false))
	f.tick()
	_, txn := f.submit(limitParams(f.bob.ID, f, "22", "10", true))
	require.NotNil(t, txn)
	assert.Equal(t, "22.00000000", txn.Price.String())
	assert.Equal(t, "10.0000", txn.Volume.String())
}

func TestMarketAskWithNoBidsIsCancelled(t *testing.T) {
	f := newFixture(t)

	o, txn := f.submit(order.CreateParams{
		UserID:       f.alice.ID,
		PriceAssetID: f.usd.ID,
		ContractID:   f.fut.ID,
		Volume:       amount.MustParse("10"),
		IsBid:        false,
		OrderType:    order.MarketOrder,
	})
	require.Nil(t, txn)
	assert.Equal(t, order.StateCancelled, o.State)

	// The escrow came straight back.
	assert.Equal(t, "100.0000", f.balance(f.alice.ID, f.claimID))
}

func TestMarketBidRequiresPrice(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.ex.SubmitOrder(context.Background(), order.CreateParams{
		UserID:       f.bob.ID,
		PriceAssetID: f.usd.ID,
		ContractID:   f.fut.ID,
		Volume:       amount.MustParse("10"),
		IsBid:        true,
		OrderType:    order.MarketOrder,
	})
	require.ErrorIs(t, err, order.ErrPriceRequired)
}

func TestMarketOrderSizeFilter(t *testing.T) {
	f := newFixture(t)

	// A resting Bid of volume 5 cannot absorb a market Ask of volume 10.
	f.submit(limitParams(f.bob.ID, f, "20", "5", true))
	f.tick()
	o, txn := f.submit(order.CreateParams{
		UserID:       f.alice.ID,
		PriceAssetID: f.usd.ID,
		ContractID:   f.fut.ID,
		Volume:       amount.MustParse("10"),
		IsBid:        false,
		OrderType:    order.MarketOrder,
	})
	require.Nil(t, txn)
	assert.Equal(t, order.StateCancelled, o.State)
}

func TestLimitOrderRestsWhenNotCrossing(t *testing.T) {
	f := newFixture(t)

	f.submit(limitParams(f.alice.ID, f, "30", "10", false))
	f.tick()
	bid, txn := f.submit(limitParams(f.bob.ID, f, "20", "10", true))
	require.Nil(t, txn)
	assert.Equal(t, order.StateInMarket, bid.State)
}

// A counterparty found on the price-per-volume ratio still has to pass the
// price guard: the resting bid is the earlier order, so the trade price is
// the lower of the two and the incoming ask refuses to sell below its
// limit. The match is refused and both orders rest.
func TestVolumeAdjustedMatchStoppedByPriceGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bid, txn := f.submit(limitParams(f.bob.ID, f, "90", "2", true))
	require.Nil(t, txn)
	f.tick()
	ask, txn := f.submit(limitParams(f.alice.ID, f, "100", "10", false))
	require.Nil(t, txn)

	loadedAsk, err := f.ex.Order(ctx, ask.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StateInMarket, loadedAsk.State)
	loadedBid, err := f.ex.Order(ctx, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StateInMarket, loadedBid.State)
}

func TestSelfMatchPrevented(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Give alice USD so she can bid too.
	_, err := f.ex.Deposit(ctx, f.alice.ID, f.usd.ID, amount.MustParse("100"), "funding")
	require.NoError(t, err)

	f.submit(limitParams(f.alice.ID, f, "20", "10", false))
	f.tick()
	bid, txn := f.submit(limitParams(f.alice.ID, f, "20", "10", true))
	require.Nil(t, txn)
	assert.Equal(t, order.StateInMarket, bid.State)
}

func TestCancelOrderRefundsEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, _ := f.submit(limitParams(f.alice.ID, f, "20", "50", false))
	assert.Equal(t, "50.0000", f.balance(f.alice.ID, f.claimID))

	cancelled, err := f.ex.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, cancelled)
	assert.Equal(t, "100.0000", f.balance(f.alice.ID, f.claimID))

	// Terminal states refuse a second cancel.
	cancelled, err = f.ex.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestCancelExecutedOrderRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	askOrder, _ := f.submit(limitParams(f.alice.ID, f, "20", "50", false))
	f.tick()
	_, txn := f.submit(limitParams(f.bob.ID, f, "20", "50", true))
	require.NotNil(t, txn)

	cancelled, err := f.ex.CancelOrder(ctx, askOrder.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

// Contract cancel blocked while an order is open, then allowed once the
// order is cancelled; the contract row survives because the order still
// references it.
func TestContractCancelBlockedByOpenOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, _ := f.submit(limitParams(f.alice.ID, f, "20", "50", false))

	cancelled, err := f.ex.CancelContract(ctx, f.fut.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	ok, err := f.ex.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "100.0000", f.balance(f.alice.ID, f.claimID))

	cancelled, err = f.ex.CancelContract(ctx, f.fut.ID)
	require.NoError(t, err)
	require.True(t, cancelled)

	loaded, err := f.ex.Contract(ctx, f.fut.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Cancelled)

	// Collateral back, claim burned.
	assert.Equal(t, "1000.0000", f.balance(f.alice.ID, f.btc.ID))
	assert.Equal(t, "0.0000", f.balance(f.alice.ID, f.claimID))
}

func TestExpiredOrderRefusedInMatch(t *testing.T) {
	f := newFixture(t)

	ttl := 10 * time.Second
	p := limitParams(f.alice.ID, f, "20", "10", false)
	p.ExpiresIn = &ttl
	askOrder, _ := f.submit(p)

	// The ask has expired by the time the bid arrives; the match is
	// refused and the bid rests.
	f.clock = f.clock.Add(time.Minute)
	bid, txn := f.submit(limitParams(f.bob.ID, f, "20", "10", true))
	require.Nil(t, txn)
	assert.Equal(t, order.StateInMarket, bid.State)

	loaded, err := f.ex.Order(context.Background(), askOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StateInMarket, loaded.State)
}

func TestExpireDueSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.ex.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock = f.clock.Add(25 * time.Hour)
	n, err = f.ex.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	loaded, err := f.ex.Contract(ctx, f.fut.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Expired)
}

func TestTradeListener(t *testing.T) {
	f := newFixture(t)

	var got []*market.Transaction
	f.ex.Subscribe(func(txn *market.Transaction) {
		got = append(got, txn)
	})

	f.submit(limitParams(f.alice.ID, f, "20", "10", false))
	f.tick()
	_, txn := f.submit(limitParams(f.bob.ID, f, "20", "10", true))
	require.NotNil(t, txn)

	require.Len(t, got, 1)
	assert.Equal(t, txn.ID, got[0].ID)
}

func TestInstrumentsView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.submit(limitParams(f.alice.ID, f, "20", "10", false))
	f.tick()
	_, txn := f.submit(limitParams(f.bob.ID, f, "22", "10", true))
	require.NotNil(t, txn)
	f.tick()
	// A resting bid to populate the book side.
	f.submit(limitParams(f.bob.ID, f, "18", "5", true))

	instruments, err := f.ex.Instruments(ctx)
	require.NoError(t, err)
	require.Len(t, instruments, 1)

	inst := instruments[0]
	assert.Equal(t, "10.0000", inst.Last24hVolume.String())
	assert.Equal(t, int64(0), inst.OpenAsks)
	assert.Equal(t, int64(1), inst.OpenBids)
	require.True(t, inst.LatestExecutedPrice.Valid)
	assert.Equal(t, "22.00000000", inst.LatestExecutedPrice.Amount.String())
	require.True(t, inst.Bid.Valid)
	assert.Equal(t, "18.00000000", inst.Bid.Amount.String())
	assert.False(t, inst.Ask.Valid)
}

func TestInsufficientEscrowRejectsOrder(t *testing.T) {
	f := newFixture(t)

	// Bob holds no FUTURE at all, so an ask cannot be escrowed.
	_, _, err := f.ex.SubmitOrder(context.Background(), order.CreateParams{
		UserID:       f.bob.ID,
		Price:        amountPtr("20"),
		PriceAssetID: f.usd.ID,
		ContractID:   f.fut.ID,
		Volume:       amount.MustParse("1"),
		IsBid:        false,
		OrderType:    order.LimitOrder,
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
}

func amountPtr(s string) *amount.Amount {
	a := amount.MustParse(s)
	return &a
}
