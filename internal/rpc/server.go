// Package rpc exposes the exchange over JSON-RPC 2.0 and streams settled
// trades over a websocket feed.
package rpc

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/btcex/btcexd/internal/core/exchange"
	"github.com/btcex/btcexd/internal/logging"
)

// handlerFunc executes one RPC method. Returned errors are mapped to
// JSON-RPC error objects by mapError.
type handlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Server handles JSON-RPC requests against the exchange.
type Server struct {
	exchange *exchange.Exchange
	validate *validator.Validate
	methods  map[string]handlerFunc
	hub      *Hub
}

// NewServer builds the RPC server and wires the trade feed hub into the
// exchange.
func NewServer(ex *exchange.Exchange) *Server {
	s := &Server{
		exchange: ex,
		validate: validator.New(),
		hub:      newHub(),
	}
	s.registerMethods()
	ex.Subscribe(s.hub.BroadcastTrade)
	return s
}

func (s *Server) registerMethods() {
	s.methods = map[string]handlerFunc{
		"create_user":     s.handleCreateUser,
		"create_asset":    s.handleCreateAsset,
		"remove_asset":    s.handleRemoveAsset,
		"deposit":         s.handleDeposit,
		"balance":         s.handleBalance,
		"issue_contract":  s.handleIssueContract,
		"cancel_contract": s.handleCancelContract,
		"expire_contract": s.handleExpireContract,
		"submit_order":    s.handleSubmitOrder,
		"cancel_order":    s.handleCancelOrder,
		"orders":          s.handleOrders,
		"instruments":     s.handleInstruments,
	}
}

// Handler returns the full HTTP surface: JSON-RPC at /, the trade feed at
// /ws and a liveness probe at /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveRPC)
	mux.HandleFunc("/ws", s.hub.serveWS)
	mux.HandleFunc("/health", s.serveHealth)
	return mux
}

// Run keeps the hub's broadcast loop alive until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	return s.hub.run(ctx)
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, response{JSONRPC: "2.0", Error: errParse("parse error"), ID: nil})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeResponse(w, response{JSONRPC: "2.0", Error: errInvalidRequest("invalid request"), ID: req.ID})
		return
	}

	handler, ok := s.methods[req.Method]
	if !ok {
		writeResponse(w, response{JSONRPC: "2.0", Error: errMethodNotFound(req.Method), ID: req.ID})
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		rpcErr, isRPC := err.(*Error)
		if !isRPC {
			logging.Logger.Error("rpc method failed",
				zap.String("method", req.Method), zap.Error(err))
			rpcErr = mapError(err)
		}
		writeResponse(w, response{JSONRPC: "2.0", Error: rpcErr, ID: req.ID})
		return
	}
	writeResponse(w, response{JSONRPC: "2.0", Result: result, ID: req.ID})
}

func writeResponse(w http.ResponseWriter, resp response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Logger.Error("failed to write rpc response", zap.Error(err))
	}
}

// decodeParams unmarshals and validates a method's parameter payload.
func (s *Server) decodeParams(params json.RawMessage, dst interface{}) *Error {
	if len(params) == 0 {
		return errInvalidParams("missing params")
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return errInvalidParams("malformed params: " + err.Error())
	}
	if err := s.validate.Struct(dst); err != nil {
		return errInvalidParams(err.Error())
	}
	return nil
}
