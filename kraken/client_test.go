package kraken

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// testSecret is any valid base64 string; the fake server does not
// verify signatures.
const testSecret = "c2VjcmV0LXNpZ25pbmcta2V5"

func testClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := New(Config{
		Key:    "test-key",
		Secret: testSecret,
		APIURL: serverURL,
		Retry:  RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNewRejectsBadSecret(t *testing.T) {
	_, err := New(Config{Key: "k", Secret: "%%% not base64 %%%"})
	if err == nil {
		t.Fatal("expected error for undecodable secret")
	}
}

func TestNewRejectsMissingCredentials(t *testing.T) {
	if _, err := New(Config{Secret: testSecret}); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if r.URL.Path != "/0/private/Balance" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("API-Key") != "test-key" {
			t.Error("missing API-Key header")
		}
		if r.Header.Get("API-Sign") == "" {
			t.Error("missing API-Sign header")
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("nonce") == "" {
			t.Error("missing nonce")
		}
		w.Write([]byte(`{"error":[],"result":{"XXBT":"0.5","ZUSD":"1234.56"}}`))
	}))
	defer srv.Close()

	balances, err := testClient(t, srv.URL).Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if !balances["XXBT"].Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("unexpected XXBT balance: %s", balances["XXBT"])
	}
	if !balances["ZUSD"].Equal(decimal.RequireFromString("1234.56")) {
		t.Errorf("unexpected ZUSD balance: %s", balances["ZUSD"])
	}
}

func TestSubmitMarketSell(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/0/private/AddOrder" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("pair"); got != "XXBTZUSD" {
			t.Errorf("unexpected pair: %s", got)
		}
		if got := r.PostForm.Get("type"); got != "sell" {
			t.Errorf("unexpected type: %s", got)
		}
		if got := r.PostForm.Get("ordertype"); got != "market" {
			t.Errorf("unexpected ordertype: %s", got)
		}
		if got := r.PostForm.Get("volume"); got != "0.5" {
			t.Errorf("unexpected volume: %s", got)
		}
		if r.PostForm.Get("cl_ord_id") == "" {
			t.Error("missing cl_ord_id")
		}
		w.Write([]byte(`{"error":[],"result":{"txid":["OABC12-DEF34-GHI56"],"descr":{"order":"sell 0.5 XXBTZUSD @ market"}}}`))
	}))
	defer srv.Close()

	txid, err := testClient(t, srv.URL).SubmitMarketSell(context.Background(), "XXBTZUSD", decimal.RequireFromString("0.5"))
	if err != nil {
		t.Fatalf("SubmitMarketSell failed: %v", err)
	}
	if txid != "OABC12-DEF34-GHI56" {
		t.Errorf("unexpected txid: %s", txid)
	}
}

func TestEnvelopeErrorClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":["EAPI:Invalid key"],"result":null}`))
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Balance(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindAuth {
		t.Errorf("unexpected kind: %v", KindOf(err))
	}
}

func TestInvalidNonceRetried(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			w.Write([]byte(`{"error":["EAPI:Invalid nonce"],"result":null}`))
			return
		}
		w.Write([]byte(`{"error":[],"result":{}}`))
	}))
	defer srv.Close()

	if _, err := testClient(t, srv.URL).Balance(context.Background()); err != nil {
		t.Fatalf("Balance failed after nonce retry: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestNonceMonotonicAcrossRequests(t *testing.T) {
	var mu sync.Mutex
	var nonces []int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		n, err := strconv.ParseInt(r.PostForm.Get("nonce"), 10, 64)
		if err != nil {
			t.Errorf("bad nonce: %v", err)
		}
		mu.Lock()
		nonces = append(nonces, n)
		mu.Unlock()
		w.Write([]byte(`{"error":[],"result":{}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := c.Balance(context.Background()); err != nil {
			t.Fatalf("Balance failed: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(nonces); i++ {
		if nonces[i] <= nonces[i-1] {
			t.Fatalf("nonce %d not greater than %d", nonces[i], nonces[i-1])
		}
	}
}

func TestSubmitTransportFailureIsAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := testClient(t, url)

	_, err := c.SubmitMarketSell(context.Background(), "XXBTZUSD", decimal.RequireFromString("0.1"))
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !IsAmbiguous(err) {
		t.Errorf("submit transport failure not ambiguous: %v (kind %v)", err, KindOf(err))
	}

	_, err = c.Balance(context.Background())
	if err == nil {
		t.Fatal("expected transport error")
	}
	if KindOf(err) != KindTransient {
		t.Errorf("balance transport failure not transient: kind %v", KindOf(err))
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Balance(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindTransient {
		t.Errorf("5xx not transient: kind %v", KindOf(err))
	}
}
