package kraken

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"autosell/logger"
	"autosell/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	liveAPIURL  = "https://api.kraken.com"
	betaAPIURL  = "https://api.beta.kraken.com"
	liveFeedURL = "wss://ws-auth.kraken.com/v2"
	betaFeedURL = "wss://beta-ws-auth.kraken.com/v2"
)

// Config carries the credentials and endpoint selection for a Client.
// APIURL/StreamURL override the defaults chosen by Sandbox; used by
// tests and alternative deployments.
type Config struct {
	Key       string
	Secret    string
	Sandbox   bool
	APIURL    string
	StreamURL string
	Timeout   time.Duration
	Retry     RetryPolicy
}

// Client is the authenticated REST client. All operations pass through
// a process-wide rate limiter and a shared retry policy; every signed
// request carries a strictly increasing nonce.
type Client struct {
	key     string
	secret  []byte
	baseURL string
	feedURL string
	http    *http.Client
	pacer   *pacer
	retry   RetryPolicy
	nonce   nonceSource
	log     *logger.Log
}

// New builds a Client. The secret must be valid base64; a decode
// failure is a configuration error and fatal to the caller.
func New(cfg Config) (*Client, error) {
	if cfg.Key == "" || cfg.Secret == "" {
		return nil, fmt.Errorf("kraken: api key and secret are required")
	}
	secret, err := base64.StdEncoding.DecodeString(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("kraken: decode api secret: %w", err)
	}

	baseURL := cfg.APIURL
	feedURL := cfg.StreamURL
	if baseURL == "" {
		baseURL = liveAPIURL
		if cfg.Sandbox {
			baseURL = betaAPIURL
		}
	}
	if feedURL == "" {
		feedURL = liveFeedURL
		if cfg.Sandbox {
			feedURL = betaFeedURL
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy
	}

	return &Client{
		key:     cfg.Key,
		secret:  secret,
		baseURL: strings.TrimRight(baseURL, "/"),
		feedURL: feedURL,
		http:    &http.Client{Timeout: timeout},
		pacer:   newPacer(),
		retry:   retry,
		log:     logger.GetLogger(),
	}, nil
}

// StreamURL returns the websocket endpoint matching this client's
// environment.
func (c *Client) StreamURL() string { return c.feedURL }

type apiResponse struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// public performs an unauthenticated GET.
func (c *Client) public(ctx context.Context, op, path string, vals url.Values, out interface{}) error {
	log := c.log.WithComponent("kraken_client")
	return c.retry.Do(ctx, log, op, func() error {
		return c.publicOnce(ctx, op, path, vals, out)
	})
}

func (c *Client) publicOnce(ctx context.Context, op, path string, vals url.Values, out interface{}) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return err
	}
	logger.IncrementRESTCall()

	reqURL := c.baseURL + path
	if len(vals) > 0 {
		reqURL += "?" + vals.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &Error{Kind: KindBadInput, Op: op, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindTransient, Op: op, Err: err}
	}
	defer resp.Body.Close()
	return c.decode(op, resp, out)
}

// private performs a signed POST with retry. When ambiguous is set,
// transport failures after the request may have been written are
// surfaced as KindAmbiguous and never retried.
func (c *Client) private(ctx context.Context, op, path string, vals url.Values, ambiguous bool, out interface{}) error {
	log := c.log.WithComponent("kraken_client")
	return c.retry.Do(ctx, log, op, func() error {
		return c.privateOnce(ctx, op, path, vals, ambiguous, out)
	})
}

func (c *Client) privateOnce(ctx context.Context, op, path string, vals url.Values, ambiguous bool, out interface{}) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return err
	}
	logger.IncrementRESTCall()

	if vals == nil {
		vals = url.Values{}
	}
	nonce := c.nonce.Next()
	vals.Set("nonce", nonce)
	body := vals.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return &Error{Kind: KindBadInput, Op: op, Err: err}
	}
	req.Header.Set("API-Key", c.key)
	req.Header.Set("API-Sign", sign(c.secret, path, nonce, body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		kind := KindTransient
		if ambiguous {
			// The request may have reached the exchange; the outcome
			// is unknown until reconciled against a later snapshot.
			kind = KindAmbiguous
		}
		return &Error{Kind: kind, Op: op, Err: err}
	}
	defer resp.Body.Close()
	return c.decode(op, resp, out)
}

func (c *Client) decode(op string, resp *http.Response, out interface{}) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindTransient, Op: op, Err: err}
	}
	if resp.StatusCode >= 500 {
		return &Error{Kind: KindTransient, Op: op, Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(raw))}
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return &Error{Kind: KindAuth, Op: op, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return &Error{Kind: KindBadInput, Op: op, Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(raw))}
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &Error{Kind: KindTransient, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(envelope.Error) > 0 {
		return classifyAPIError(op, envelope.Error[0])
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return &Error{Kind: KindOther, Op: op, Err: fmt.Errorf("decode result: %w", err)}
		}
	}
	return nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

type assetPairInfo struct {
	Altname  string `json:"altname"`
	Base     string `json:"base"`
	Quote    string `json:"quote"`
	OrderMin string `json:"ordermin"`
}

// ListPairs fetches the full tradable pair catalog.
func (c *Client) ListPairs(ctx context.Context) (map[string]models.Pair, error) {
	var raw map[string]assetPairInfo
	if err := c.public(ctx, "list_pairs", "/0/public/AssetPairs", nil, &raw); err != nil {
		return nil, err
	}
	pairs := make(map[string]models.Pair, len(raw))
	for symbol, info := range raw {
		min, err := decimal.NewFromString(info.OrderMin)
		if err != nil {
			min = decimal.Zero
		}
		pairs[symbol] = models.Pair{
			Symbol:   symbol,
			Altname:  info.Altname,
			Base:     info.Base,
			Quote:    info.Quote,
			OrderMin: min,
		}
	}
	return pairs, nil
}

// Balance fetches current account balances keyed by native asset code.
func (c *Client) Balance(ctx context.Context) (map[string]decimal.Decimal, error) {
	var raw map[string]string
	if err := c.private(ctx, "get_balance", "/0/private/Balance", url.Values{}, false, &raw); err != nil {
		return nil, err
	}
	balances := make(map[string]decimal.Decimal, len(raw))
	for asset, amount := range raw {
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, &Error{Kind: KindOther, Op: "get_balance", Err: fmt.Errorf("parse balance %s=%q: %w", asset, amount, err)}
		}
		balances[asset] = d
	}
	return balances, nil
}

type addOrderResult struct {
	TxID []string `json:"txid"`
}

// SubmitMarketSell places a market sell for volume units of the pair's
// base asset and returns the order's transaction id. Transport failures
// after the request was written surface as KindAmbiguous and are never
// retried by this client.
func (c *Client) SubmitMarketSell(ctx context.Context, pairSymbol string, volume decimal.Decimal) (string, error) {
	vals := url.Values{}
	vals.Set("pair", pairSymbol)
	vals.Set("type", "sell")
	vals.Set("ordertype", "market")
	vals.Set("volume", volume.String())
	vals.Set("cl_ord_id", uuid.NewString())

	var result addOrderResult
	if err := c.private(ctx, "submit_market_sell", "/0/private/AddOrder", vals, true, &result); err != nil {
		return "", err
	}
	if len(result.TxID) == 0 {
		return "", &Error{Kind: KindOther, Op: "submit_market_sell", Message: "exchange accepted order without txid"}
	}
	logger.IncrementOrderSubmitted()
	return result.TxID[0], nil
}

type orderInfo struct {
	Status  string   `json:"status"`
	Vol     string   `json:"vol"`
	VolExec string   `json:"vol_exec"`
	Opentm  float64  `json:"opentm"`
	Closetm float64  `json:"closetm"`
	Trades  []string `json:"trades"`
	Descr   struct {
		Pair string `json:"pair"`
		Type string `json:"type"`
	} `json:"descr"`
}

// QueryOrder fetches the current state of one order.
func (c *Client) QueryOrder(ctx context.Context, txid string) (*models.Order, error) {
	vals := url.Values{}
	vals.Set("txid", txid)
	vals.Set("trades", "true")

	var raw map[string]orderInfo
	if err := c.private(ctx, "query_order", "/0/private/QueryOrders", vals, false, &raw); err != nil {
		return nil, err
	}
	info, ok := raw[txid]
	if !ok {
		return nil, &Error{Kind: KindNotFound, Op: "query_order", Message: fmt.Sprintf("order %s not found", txid)}
	}

	order := &models.Order{
		TxID:        txid,
		Pair:        info.Descr.Pair,
		State:       orderStateFromStatus(info.Status),
		SubmittedAt: secsToTime(info.Opentm),
	}
	if d, err := decimal.NewFromString(info.Vol); err == nil {
		order.RequestedVolume = d
	}
	if d, err := decimal.NewFromString(info.VolExec); err == nil {
		order.FilledVolume = d
	}
	if info.Closetm > 0 {
		closed := secsToTime(info.Closetm)
		order.FinalizedAt = &closed
	}
	return order, nil
}

type tradeInfo struct {
	OrderTxID string  `json:"ordertxid"`
	Pair      string  `json:"pair"`
	Time      float64 `json:"time"`
	Type      string  `json:"type"`
	Price     string  `json:"price"`
	Vol       string  `json:"vol"`
	Cost      string  `json:"cost"`
	Fee       string  `json:"fee"`
}

// QueryTrades fetches trade details for up to 20 trade ids per call.
func (c *Client) QueryTrades(ctx context.Context, txids []string) (map[string]models.Trade, error) {
	vals := url.Values{}
	vals.Set("txid", strings.Join(txids, ","))

	var raw map[string]tradeInfo
	if err := c.private(ctx, "query_trades", "/0/private/QueryTrades", vals, false, &raw); err != nil {
		return nil, err
	}
	trades := make(map[string]models.Trade, len(raw))
	for id, info := range raw {
		t := models.Trade{
			TradeID:   id,
			OrderID:   info.OrderTxID,
			Pair:      info.Pair,
			Side:      info.Type,
			Timestamp: secsToTime(info.Time),
		}
		t.Price, _ = decimal.NewFromString(info.Price)
		t.Volume, _ = decimal.NewFromString(info.Vol)
		t.Cost, _ = decimal.NewFromString(info.Cost)
		t.Fee, _ = decimal.NewFromString(info.Fee)
		trades[id] = t
	}
	return trades, nil
}

type feedTokenResult struct {
	Token   string `json:"token"`
	Expires int    `json:"expires"`
}

// FeedToken obtains a short-lived token for the authenticated stream.
func (c *Client) FeedToken(ctx context.Context) (string, error) {
	var result feedTokenResult
	if err := c.private(ctx, "obtain_feed_token", "/0/private/GetWebSocketsToken", url.Values{}, false, &result); err != nil {
		return "", err
	}
	if result.Token == "" {
		return "", &Error{Kind: KindOther, Op: "obtain_feed_token", Message: "empty feed token"}
	}
	return result.Token, nil
}

func orderStateFromStatus(status string) models.OrderState {
	switch status {
	case "pending":
		return models.OrderPending
	case "open":
		return models.OrderOpen
	case "closed":
		return models.OrderClosed
	case "canceled", "expired":
		return models.OrderCanceled
	default:
		return models.OrderFailed
	}
}

func secsToTime(s float64) time.Time {
	if s <= 0 {
		return time.Time{}
	}
	sec := int64(s)
	nsec := int64((s - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
