package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/btcex/btcexd/internal/core/amount"
	"github.com/btcex/btcexd/internal/core/exchange"
	"github.com/btcex/btcexd/internal/core/order"
)

func (s *Server) handleCreateUser(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p createUserParams
	if rpcErr := s.decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	u, err := s.exchange.CreateUser(ctx, p.Username, p.PasswordHash)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"user_id": u.ID, "username": u.Username}, nil
}

func (s *Server) handleCreateAsset(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p createAssetParams
	if rpcErr := s.decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	a, err := s.exchange.CreateAsset(ctx, p.Name)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"asset_id": a.ID, "name": a.Name.String}, nil
}

func (s *Server) handleRemoveAsset(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p removeAssetParams
	if rpcErr := s.decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.exchange.RemoveAsset(ctx, p.AssetID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"removed": true}, nil
}

func (s *Server) handleDeposit(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p depositParams
	if rpcErr := s.decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	volume, err := amount.Parse(p.Volume)
	if err != nil {
		return nil, errInvalidParams("volume: " + err.Error())
	}
	h, err := s.exchange.Deposit(ctx, p.UserID, p.AssetID, volume, p.Description)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"holding_id": h.ID, "volume": h.Volume.String()}, nil
}

func (s *Server) handleBalance(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p balanceParams
	if rpcErr := s.decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	balance, err := s.exchange.Balance(ctx, p.UserID, p.AssetID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"user_id":  p.UserID,
		"asset_id": p.AssetID,
		"balance":  balance.String(),
	}, nil
}

func (s *Server) handleIssueContract(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p issueContractParams
	if rpcErr := s.decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	expiresAt, err := time.Parse(time.RFC3339, p.ExpiresAt)
	if err != nil {
		return nil, errInvalidParams("expires_at: " + err.Error())
	}
	collateral, err := amount.Parse(p.Collateral)
	if err != nil {
		return nil, errInvalidParams("collateral: " + err.Error())
	}
	mintVolume, err := amount.Parse(p.MintVolume)
	if err != nil {
		return nil, errInvalidParams("mint_volume: " + err.Error())
	}

	f, a, err := s.exchange.IssueContract(ctx, exchange.IssueContractParams{
		IssuerID:          p.IssuerID,
		ExpiresAt:         expiresAt,
		AssetID:           p.AssetID,
		Collateral:        collateral,
		ContractAssetName: p.ContractAssetName,
		MintVolume:        mintVolume,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"contract_id":       f.ID,
		"instrument":        instrumentIdentifier(f.ID),
		"contract_asset_id": a.ID,
		"expires_at":        f.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}

func (s *Server) handleCancelContract(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p contractIDParams
	if rpcErr := s.decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	cancelled, err := s.exchange.CancelContract(ctx, p.ContractID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"cancelled": cancelled}, nil
}

func (s *Server) handleExpireContract(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p contractIDParams
	if rpcErr := s.decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.exchange.ExpireContract(ctx, p.ContractID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"expired": true}, nil
}

func (s *Server) handleSubmitOrder(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p submitOrderParams
	if rpcErr := s.decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	createParams := order.CreateParams{
		UserID:       p.UserID,
		PriceAssetID: p.PriceAssetID,
		ContractID:   p.ContractID,
		IsBid:        p.IsBid,
		OrderType:    order.Type(p.OrderType),
	}
	volume, err := amount.Parse(p.Volume)
	if err != nil {
		return nil, errInvalidParams("volume: " + err.Error())
	}
	createParams.Volume = volume
	if p.Price != nil {
		price, err := amount.Parse(*p.Price)
		if err != nil {
			return nil, errInvalidParams("price: " + err.Error())
		}
		createParams.Price = &price
	}
	if p.ExpiresInSec != nil {
		d := time.Duration(*p.ExpiresInSec) * time.Second
		createParams.ExpiresIn = &d
	}

	o, txn, err := s.exchange.SubmitOrder(ctx, createParams)
	if err != nil {
		return nil, err
	}
	result := map[string]interface{}{"order": encodeOrder(o)}
	if txn != nil {
		result["transaction"] = encodeTransaction(txn)
	}
	return result, nil
}

func (s *Server) handleCancelOrder(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p orderIDParams
	if rpcErr := s.decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	cancelled, err := s.exchange.CancelOrder(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"cancelled": cancelled}, nil
}

func (s *Server) handleOrders(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p ordersParams
	if len(params) > 0 {
		if rpcErr := s.decodeParams(params, &p); rpcErr != nil {
			return nil, rpcErr
		}
	}
	filter := order.Filter{UserID: p.UserID, ContractID: p.ContractID}
	if p.State != nil {
		st := order.State(*p.State)
		filter.State = &st
	}
	orders, err := s.exchange.Orders(ctx, filter)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"orders": encodeOrders(orders)}, nil
}

func (s *Server) handleInstruments(ctx context.Context, params json.RawMessage) (interface{}, error) {
	instruments, err := s.exchange.Instruments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]instrumentView, 0, len(instruments))
	for _, inst := range instruments {
		out = append(out, encodeInstrument(inst))
	}
	return map[string]interface{}{"instruments": out}, nil
}
