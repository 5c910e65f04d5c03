package rpc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcex/btcexd/internal/core/amount"
	"github.com/btcex/btcexd/internal/core/contract"
	"github.com/btcex/btcexd/internal/core/market"
	"github.com/btcex/btcexd/internal/core/order"
	"github.com/btcex/btcexd/internal/core/views"
)

// request is a JSON-RPC 2.0 request envelope.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// response is a JSON-RPC 2.0 response envelope.
type response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Method parameter payloads. Monetary values travel as decimal strings.

type createUserParams struct {
	Username     string `json:"username" validate:"required,min=1,max=64"`
	PasswordHash string `json:"password_hash" validate:"required"`
}

type createAssetParams struct {
	Name string `json:"name" validate:"required,min=1,max=32"`
}

type removeAssetParams struct {
	AssetID int64 `json:"asset_id" validate:"required,gt=0"`
}

type depositParams struct {
	UserID      int64  `json:"user_id" validate:"required,gt=0"`
	AssetID     int64  `json:"asset_id" validate:"required,gt=0"`
	Volume      string `json:"volume" validate:"required"`
	Description string `json:"description" validate:"max=256"`
}

type balanceParams struct {
	UserID  int64 `json:"user_id" validate:"required,gt=0"`
	AssetID int64 `json:"asset_id" validate:"required,gt=0"`
}

type issueContractParams struct {
	IssuerID          int64  `json:"issuer_id" validate:"required,gt=0"`
	ExpiresAt         string `json:"expires_at" validate:"required"`
	AssetID           int64  `json:"asset_id" validate:"required,gt=0"`
	Collateral        string `json:"collateral" validate:"required"`
	ContractAssetName string `json:"contract_asset_name" validate:"required,min=1,max=32"`
	MintVolume        string `json:"mint_volume" validate:"required"`
}

type contractIDParams struct {
	ContractID int64 `json:"contract_id" validate:"required,gt=0"`
}

type submitOrderParams struct {
	UserID       int64   `json:"user_id" validate:"required,gt=0"`
	Price        *string `json:"price,omitempty"`
	PriceAssetID int64   `json:"price_asset_id" validate:"required,gt=0"`
	ContractID   int64   `json:"contract_id" validate:"required,gt=0"`
	Volume       string  `json:"volume" validate:"required"`
	IsBid        bool    `json:"is_bid"`
	OrderType    string  `json:"order_type" validate:"required,oneof=MarketOrder LimitOrder"`
	ExpiresInSec *int64  `json:"expires_in_seconds,omitempty" validate:"omitempty,gt=0"`
}

type orderIDParams struct {
	OrderID int64 `json:"order_id" validate:"required,gt=0"`
}

type ordersParams struct {
	UserID     *int64  `json:"user_id,omitempty" validate:"omitempty,gt=0"`
	ContractID *int64  `json:"contract_id,omitempty" validate:"omitempty,gt=0"`
	State      *string `json:"state,omitempty" validate:"omitempty,oneof=Created InMarket Executed Cancelled"`
}

// Response views.

type orderView struct {
	ID         int64   `json:"id"`
	Created    string  `json:"created"`
	Instrument string  `json:"instrument"`
	Price      *string `json:"price"`
	Volume     string  `json:"volume"`
	BidOrAsk   string  `json:"bid_or_ask"`
	State      string  `json:"state"`
	Executed   bool    `json:"executed"`
}

func encodeOrder(o *order.Order) orderView {
	v := orderView{
		ID:         o.ID,
		Created:    o.CreatedAt.UTC().Format(time.RFC3339),
		Instrument: instrumentIdentifier(o.ContractID),
		Volume:     o.Volume.String(),
		BidOrAsk:   string(o.Direction),
		State:      string(o.State),
		Executed:   o.State == order.StateExecuted,
	}
	if o.Price.Valid {
		p := o.Price.Amount.String()
		v.Price = &p
	}
	return v
}

func encodeOrders(orders []*order.Order) []orderView {
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, encodeOrder(o))
	}
	return out
}

type instrumentView struct {
	Identifier           string  `json:"identifier"`
	Type                 string  `json:"type"`
	Last24hVolume        string  `json:"last_24h_volume"`
	Last24hAvgPrice      *string `json:"last_24h_avg_price"`
	OpenAsks             int64   `json:"open_asks"`
	OpenBids             int64   `json:"open_bids"`
	LatestExecutedPrice  *string `json:"latest_executed_price"`
	LatestExecutedVolume *string `json:"latest_executed_volume"`
	Ask                  *string `json:"ask"`
	Bid                  *string `json:"bid"`
}

func encodeInstrument(inst *views.Instrument) instrumentView {
	v := instrumentView{
		Identifier:    inst.Identifier,
		Type:          inst.Type,
		Last24hVolume: inst.Last24hVolume.String(),
		OpenAsks:      inst.OpenAsks,
		OpenBids:      inst.OpenBids,
	}
	v.Last24hAvgPrice = nullString(inst.Last24hAvgPrice)
	v.LatestExecutedPrice = nullString(inst.LatestExecutedPrice)
	v.LatestExecutedVolume = nullString(inst.LatestExecutedVolume)
	v.Ask = nullString(inst.Ask)
	v.Bid = nullString(inst.Bid)
	return v
}

type transactionView struct {
	ID         int64  `json:"id"`
	ExecutedAt string `json:"executed_at,omitempty"`
	Instrument string `json:"instrument"`
	AskOrderID int64  `json:"ask_order_id"`
	BidOrderID int64  `json:"bid_order_id"`
	Price      string `json:"price"`
	Volume     string `json:"volume"`
}

func encodeTransaction(txn *market.Transaction) transactionView {
	v := transactionView{
		ID:         txn.ID,
		Instrument: instrumentIdentifier(txn.ContractID),
		AskOrderID: txn.AskOrderID,
		BidOrderID: txn.BidOrderID,
		Price:      txn.Price.String(),
		Volume:     txn.Volume.String(),
	}
	if txn.ExecutedAt.Valid {
		v.ExecutedAt = txn.ExecutedAt.Time.UTC().Format(time.RFC3339)
	}
	return v
}

func instrumentIdentifier(contractID int64) string {
	return fmt.Sprintf("%s-%d", contract.TypeFuture, contractID)
}

func nullString(n amount.NullAmount) *string {
	if !n.Valid {
		return nil
	}
	s := n.Amount.String()
	return &s
}
