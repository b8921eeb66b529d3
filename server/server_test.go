package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"autosell/kraken"
	"autosell/models"

	"github.com/shopspring/decimal"
)

type fakeEngine struct {
	initialDone bool
	balances    map[string]decimal.Decimal
	orders      map[string]models.Order
}

func (f *fakeEngine) InitialPassComplete() bool { return f.initialDone }

func (f *fakeEngine) Balances() map[string]decimal.Decimal { return f.balances }

func (f *fakeEngine) BalanceOf(asset string) (decimal.Decimal, bool) {
	v, ok := f.balances[asset]
	return v, ok
}

func (f *fakeEngine) TrackedOrder(txid string) (models.Order, bool) {
	o, ok := f.orders[txid]
	return o, ok
}

type fakeFeed struct {
	connected bool
	degraded  bool
	heartbeat time.Time
}

func (f *fakeFeed) Connected() bool          { return f.connected }
func (f *fakeFeed) Degraded() bool           { return f.degraded }
func (f *fakeFeed) LastHeartbeat() time.Time { return f.heartbeat }

type fakeQuerier struct {
	orders map[string]*models.Order
}

func (f *fakeQuerier) QueryOrder(ctx context.Context, txid string) (*models.Order, error) {
	if o, ok := f.orders[txid]; ok {
		return o, nil
	}
	return nil, &kraken.Error{Kind: kraken.KindNotFound, Op: "query_order", Message: "unknown"}
}

func testServer(t *testing.T) (*httptest.Server, *fakeEngine, *fakeFeed, *fakeQuerier) {
	t.Helper()
	eng := &fakeEngine{
		initialDone: true,
		balances: map[string]decimal.Decimal{
			"BTC": decimal.RequireFromString("0.5"),
			"USD": decimal.RequireFromString("1234.56"),
		},
		orders: map[string]models.Order{
			"TX-TRACKED": {TxID: "TX-TRACKED", Asset: "BTC", Pair: "XXBTZUSD", State: models.OrderClosed},
		},
	}
	fd := &fakeFeed{connected: true, heartbeat: time.Now()}
	q := &fakeQuerier{orders: map[string]*models.Order{
		"TX-REMOTE": {TxID: "TX-REMOTE", Pair: "SOLUSD", State: models.OrderOpen},
	}}

	s := New(0, eng, fd, q)
	srv := httptest.NewServer(s.http.Handler)
	t.Cleanup(srv.Close)
	return srv, eng, fd, q
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
}

func TestHealth(t *testing.T) {
	srv, _, _, _ := testServer(t)

	var body map[string]any
	getJSON(t, srv.URL+"/health", http.StatusOK, &body)
	if body["status"] != "ok" {
		t.Errorf("unexpected status: %v", body["status"])
	}
	if _, ok := body["uptime_seconds"]; !ok {
		t.Error("missing uptime_seconds")
	}
}

func TestStatus(t *testing.T) {
	srv, _, fd, _ := testServer(t)
	fd.degraded = true

	var body statusResponse
	getJSON(t, srv.URL+"/auto-sell/status", http.StatusOK, &body)
	if !body.Running || !body.InitialPassComplete {
		t.Errorf("unexpected flags: %+v", body)
	}
	if !body.FeedDegraded {
		t.Error("degraded flag not surfaced")
	}
	if len(body.Balances) != 2 {
		t.Errorf("expected 2 balances, got %d", len(body.Balances))
	}
}

func TestBalanceKnownAsset(t *testing.T) {
	srv, _, _, _ := testServer(t)

	var body map[string]any
	getJSON(t, srv.URL+"/balance/BTC", http.StatusOK, &body)
	if body["asset"] != "BTC" {
		t.Errorf("unexpected asset: %v", body["asset"])
	}
}

func TestBalanceNativeCodeResolves(t *testing.T) {
	srv, _, _, _ := testServer(t)

	var body map[string]any
	getJSON(t, srv.URL+"/balance/XXBT", http.StatusOK, &body)
	if body["asset"] != "BTC" {
		t.Errorf("native code not standardized: %v", body["asset"])
	}
}

func TestBalanceUnknownAsset(t *testing.T) {
	srv, _, _, _ := testServer(t)
	getJSON(t, srv.URL+"/balance/NOPE", http.StatusNotFound, nil)
}

func TestTradeTracked(t *testing.T) {
	srv, _, _, _ := testServer(t)

	var body models.Order
	getJSON(t, srv.URL+"/trade/TX-TRACKED", http.StatusOK, &body)
	if body.Asset != "BTC" {
		t.Errorf("unexpected asset: %s", body.Asset)
	}
}

func TestTradePassthrough(t *testing.T) {
	srv, _, _, _ := testServer(t)

	var body models.Order
	getJSON(t, srv.URL+"/trade/TX-REMOTE", http.StatusOK, &body)
	if body.Pair != "SOLUSD" {
		t.Errorf("unexpected pair: %s", body.Pair)
	}
}

func TestTradeUnknown(t *testing.T) {
	srv, _, _, _ := testServer(t)
	getJSON(t, srv.URL+"/trade/TX-MISSING", http.StatusNotFound, nil)
}

func postBatch(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url+"/trades/batch", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestTradesBatch(t *testing.T) {
	srv, _, _, _ := testServer(t)

	resp := postBatch(t, srv.URL, map[string]any{"txids": []string{"TX-TRACKED", "TX-REMOTE", "TX-MISSING"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var out map[string]batchEntry
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["TX-TRACKED"].Order == nil || out["TX-TRACKED"].Order.Asset != "BTC" {
		t.Errorf("tracked order missing: %+v", out["TX-TRACKED"])
	}
	if out["TX-REMOTE"].Order == nil {
		t.Errorf("remote order missing: %+v", out["TX-REMOTE"])
	}
	if out["TX-MISSING"].Error == "" {
		t.Error("missing order should carry an error")
	}
}

func TestTradesBatchCap(t *testing.T) {
	srv, _, _, _ := testServer(t)

	txids := make([]string, maxBatchTxids+1)
	for i := range txids {
		txids[i] = fmt.Sprintf("TX-%d", i)
	}
	resp := postBatch(t, srv.URL, map[string]any{"txids": txids})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("oversized batch accepted: status %d", resp.StatusCode)
	}
}

func TestTradesBatchEmpty(t *testing.T) {
	srv, _, _, _ := testServer(t)

	resp := postBatch(t, srv.URL, map[string]any{"txids": []string{}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty batch accepted: status %d", resp.StatusCode)
	}
}

func TestTradesBatchMalformedBody(t *testing.T) {
	srv, _, _, _ := testServer(t)

	resp, err := http.Post(srv.URL+"/trades/batch", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body accepted: status %d", resp.StatusCode)
	}
}
