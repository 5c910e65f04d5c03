package rpc

import (
	"errors"

	"github.com/btcex/btcexd/internal/core/asset"
	"github.com/btcex/btcexd/internal/core/contract"
	"github.com/btcex/btcexd/internal/core/ledger"
	"github.com/btcex/btcexd/internal/core/market"
	"github.com/btcex/btcexd/internal/core/order"
	"github.com/btcex/btcexd/internal/core/user"
	"github.com/btcex/btcexd/internal/storage/marketdb"
)

// JSON-RPC 2.0 error codes. The -32000 range carries exchange rejections.
const (
	codeParse          = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603

	codeRejected     = -32000
	codeNotFound     = -32001
	codeInsufficient = -32002
	codeConflict     = -32003
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

func errParse(msg string) *Error          { return &Error{Code: codeParse, Message: msg} }
func errInvalidRequest(msg string) *Error { return &Error{Code: codeInvalidRequest, Message: msg} }
func errMethodNotFound(method string) *Error {
	return &Error{Code: codeMethodNotFound, Message: "method not found: " + method}
}
func errInvalidParams(msg string) *Error { return &Error{Code: codeInvalidParams, Message: msg} }
func errInternal() *Error {
	return &Error{Code: codeInternal, Message: "internal error"}
}

// mapError translates domain errors into JSON-RPC errors. Unknown errors
// become an opaque internal error; the detail stays in the logs.
func mapError(err error) *Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, marketdb.ErrUserNotFound),
		errors.Is(err, marketdb.ErrAssetNotFound),
		errors.Is(err, marketdb.ErrContractNotFound),
		errors.Is(err, marketdb.ErrOrderNotFound),
		errors.Is(err, marketdb.ErrTransactionNotFound):
		return &Error{Code: codeNotFound, Message: err.Error()}
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return &Error{Code: codeInsufficient, Message: err.Error()}
	case errors.Is(err, user.ErrUsernameTaken),
		errors.Is(err, asset.ErrNameTaken):
		return &Error{Code: codeConflict, Message: err.Error()}
	case errors.Is(err, asset.ErrEmptyName),
		errors.Is(err, ledger.ErrZeroVolume),
		errors.Is(err, ledger.ErrNonPositiveVolume),
		errors.Is(err, ledger.ErrAssetRemoved),
		errors.Is(err, contract.ErrExpiryInPast),
		errors.Is(err, contract.ErrNonPositiveVolume),
		errors.Is(err, contract.ErrInvalidLifecycle),
		errors.Is(err, order.ErrContractUnusable),
		errors.Is(err, order.ErrAssetRemoved),
		errors.Is(err, order.ErrPriceRequired),
		errors.Is(err, order.ErrNonPositiveVolume),
		errors.Is(err, order.ErrNonPositivePrice):
		return &Error{Code: codeRejected, Message: err.Error()}
	case market.IsMarketError(err):
		return &Error{Code: codeRejected, Message: err.Error()}
	default:
		return errInternal()
	}
}
