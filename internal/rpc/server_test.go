package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btcex/btcexd/internal/core/exchange"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	// No database behind it: only the request plumbing is exercised here,
	// every case below fails before a handler touches the store.
	srv := NewServer(exchange.New(nil))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postRPC(t *testing.T, ts *httptest.Server, body string) response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestServeRPCParseError(t *testing.T) {
	ts := newTestServer(t)
	out := postRPC(t, ts, `{not json`)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeParse, out.Error.Code)
}

func TestServeRPCInvalidRequest(t *testing.T) {
	ts := newTestServer(t)

	out := postRPC(t, ts, `{"jsonrpc":"1.0","method":"orders","id":1}`)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeInvalidRequest, out.Error.Code)

	out = postRPC(t, ts, `{"jsonrpc":"2.0","id":2}`)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeInvalidRequest, out.Error.Code)
}

func TestServeRPCMethodNotFound(t *testing.T) {
	ts := newTestServer(t)
	out := postRPC(t, ts, `{"jsonrpc":"2.0","method":"no_such_method","id":3}`)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeMethodNotFound, out.Error.Code)
}

func TestServeRPCInvalidParams(t *testing.T) {
	ts := newTestServer(t)

	// Missing params entirely.
	out := postRPC(t, ts, `{"jsonrpc":"2.0","method":"create_user","id":4}`)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeInvalidParams, out.Error.Code)

	// Fails validation: username required.
	out = postRPC(t, ts, `{"jsonrpc":"2.0","method":"create_user","params":{"password_hash":"x"},"id":5}`)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeInvalidParams, out.Error.Code)

	// Malformed volume rejected before any store access.
	out = postRPC(t, ts, `{"jsonrpc":"2.0","method":"deposit",
		"params":{"user_id":1,"asset_id":1,"volume":"abc"},"id":6}`)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeInvalidParams, out.Error.Code)
}

func TestServeRPCRejectsGet(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}
