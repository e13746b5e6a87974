package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cosmossdk.io/log"
	"cosmossdk.io/math"

	"github.com/openalpha/bondbook/api/websocket"
	"github.com/openalpha/bondbook/engine"
	"github.com/openalpha/bondbook/ledger"
	"github.com/openalpha/bondbook/registry"
	"github.com/openalpha/bondbook/store/memory"
	"github.com/openalpha/bondbook/tape"
	"github.com/openalpha/bondbook/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	_ = s.SaveInstrument(ctx, &types.Instrument{
		ID:      "BOND-1",
		Name:    "Treasury 2030",
		MinUnit: math.LegacyMustNewDecFromStr("1"),
		Status:  types.InstrumentStatusActive,
	})
	for _, u := range []string{"alice", "bob"} {
		_ = s.SaveUser(ctx, &types.User{ID: u})
		_ = s.SaveHolding(ctx, &types.Holding{UserID: u, InstrumentID: "BOND-1", Quantity: math.LegacyMustNewDecFromStr("1000")})
	}

	logger := log.NewNopLogger()
	hub := websocket.NewHub(logger)
	hubCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(hubCtx)

	eng := engine.New(s, ledger.New(), registry.New(s), tape.New(0), hub, logger)
	if err := eng.LoadBooks(ctx); err != nil {
		t.Fatal(err)
	}
	return NewServer(&Config{DisableRateLimit: true}, eng, hub, logger)
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("bad response body %q: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

func TestSubmitAndQueryOrder(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec, body := doJSON(t, h, http.MethodPost, "/api/v1/orders",
		`{"user_id":"alice","instrument_id":"BOND-1","side":"sell","type":"limit","price":"99.50","quantity":"100"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %v", rec.Code, body)
	}
	orderID, _ := body["id"].(string)
	if orderID == "" || body["status"] != "open" {
		t.Fatalf("unexpected response: %v", body)
	}

	rec, body = doJSON(t, h, http.MethodGet, "/api/v1/orders/"+orderID, "")
	if rec.Code != http.StatusOK || body["id"] != orderID {
		t.Fatalf("get order: %d %v", rec.Code, body)
	}

	// Crossing buy executes and reports the trade IDs.
	rec, body = doJSON(t, h, http.MethodPost, "/api/v1/orders",
		`{"user_id":"bob","instrument_id":"BOND-1","side":"buy","type":"limit","price":"99.50","quantity":"100"}`)
	if rec.Code != http.StatusCreated || body["status"] != "filled" {
		t.Fatalf("crossing buy: %d %v", rec.Code, body)
	}
	if ids, ok := body["trade_ids"].([]any); !ok || len(ids) != 1 {
		t.Fatalf("trade_ids missing: %v", body)
	}
}

func TestSubmitValidationErrors(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"unknown instrument", `{"user_id":"alice","instrument_id":"nope","side":"buy","type":"limit","price":"99","quantity":"1"}`, http.StatusNotFound, "UnknownInstrument"},
		{"unknown user", `{"user_id":"ghost","instrument_id":"BOND-1","side":"buy","type":"limit","price":"99","quantity":"1"}`, http.StatusNotFound, "UnknownUser"},
		{"bad side", `{"user_id":"alice","instrument_id":"BOND-1","side":"hold","type":"limit","price":"99","quantity":"1"}`, http.StatusBadRequest, "BadRequest"},
		{"bad price", `{"user_id":"alice","instrument_id":"BOND-1","side":"buy","type":"limit","price":"-1","quantity":"1"}`, http.StatusBadRequest, "BadPrice"},
		{"bad quantity", `{"user_id":"alice","instrument_id":"BOND-1","side":"buy","type":"limit","price":"99","quantity":"0.5"}`, http.StatusBadRequest, "BadQuantity"},
		{"oversell", `{"user_id":"alice","instrument_id":"BOND-1","side":"sell","type":"limit","price":"99","quantity":"5000"}`, http.StatusBadRequest, "InsufficientHoldings"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := doJSON(t, h, http.MethodPost, "/api/v1/orders", tc.body)
			if rec.Code != tc.status || body["code"] != tc.code {
				t.Fatalf("got %d %v, want %d %s", rec.Code, body, tc.status, tc.code)
			}
		})
	}
}

func TestCancelEndpoint(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	_, body := doJSON(t, h, http.MethodPost, "/api/v1/orders",
		`{"user_id":"alice","instrument_id":"BOND-1","side":"buy","type":"limit","price":"98","quantity":"10"}`)
	orderID := body["id"].(string)

	rec, body := doJSON(t, h, http.MethodDelete, "/api/v1/orders/"+orderID+"?user_id=alice", "")
	if rec.Code != http.StatusOK || body["cancelled"] != true {
		t.Fatalf("cancel: %d %v", rec.Code, body)
	}

	// Second cancel reports false, not an error.
	rec, body = doJSON(t, h, http.MethodDelete, "/api/v1/orders/"+orderID+"?user_id=alice", "")
	if rec.Code != http.StatusOK || body["cancelled"] != false {
		t.Fatalf("second cancel: %d %v", rec.Code, body)
	}

	rec, body = doJSON(t, h, http.MethodDelete, "/api/v1/orders/"+orderID, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing user_id accepted: %d %v", rec.Code, body)
	}
}

func TestOrderbookAndTrades(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	_, _ = doJSON(t, h, http.MethodPost, "/api/v1/orders",
		`{"user_id":"alice","instrument_id":"BOND-1","side":"sell","type":"limit","price":"99","quantity":"40"}`)
	_, _ = doJSON(t, h, http.MethodPost, "/api/v1/orders",
		`{"user_id":"bob","instrument_id":"BOND-1","side":"buy","type":"limit","price":"99","quantity":"10"}`)

	rec, body := doJSON(t, h, http.MethodGet, "/api/v1/orderbook/BOND-1?depth=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("orderbook: %d %v", rec.Code, body)
	}
	if body["bond_id"] != "BOND-1" {
		t.Fatalf("snapshot payload: %v", body)
	}
	asks := body["asks"].([]any)
	if len(asks) != 1 {
		t.Fatalf("asks: %v", asks)
	}
	level := asks[0].(map[string]any)
	if level["quantity"] != "30.000000000000000000" {
		t.Fatalf("remaining ask quantity: %v", level)
	}

	rec, body = doJSON(t, h, http.MethodGet, "/api/v1/trades/BOND-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("trades: %d %v", rec.Code, body)
	}
	if trades := body["trades"].([]any); len(trades) != 1 {
		t.Fatalf("trades payload: %v", body)
	}

	rec, body = doJSON(t, h, http.MethodGet, "/api/v1/orderbook/nope", "")
	if rec.Code != http.StatusNotFound || body["code"] != "UnknownInstrument" {
		t.Fatalf("unknown instrument: %d %v", rec.Code, body)
	}
}

func TestPortfolioEndpoint(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec, body := doJSON(t, h, http.MethodGet, "/api/v1/portfolio/alice", "")
	if rec.Code != http.StatusOK || body["user_id"] != "alice" {
		t.Fatalf("portfolio: %d %v", rec.Code, body)
	}
	holdings := body["holdings"].([]any)
	if len(holdings) != 1 {
		t.Fatalf("holdings: %v", holdings)
	}

	rec, body = doJSON(t, h, http.MethodGet, "/api/v1/portfolio/ghost", "")
	if rec.Code != http.StatusNotFound || body["code"] != "UnknownUser" {
		t.Fatalf("unknown user: %d %v", rec.Code, body)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: %d %v", rec.Code, body)
	}
}
