// Package toobit implements the exchange gateway against the Toobit USDT-M
// futures REST and WebSocket APIs.
package toobit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// rateLimitKey is the sliding-window bucket all REST calls share.
const rateLimitKey = "toobit:rest"

// leverageNotModified is the venue error code returned when the requested
// leverage equals the current setting.
const leverageNotModified = -4046

// Config holds connection parameters for the Toobit REST client.
type Config struct {
	BaseURL         string
	APIKey          string
	APISecret       string
	Timeout         time.Duration
	RateLimitPerSec int
}

// Client is a signed REST client for the Toobit futures API. Private
// endpoints are authenticated with an HMAC-SHA256 signature over the query
// string and the X-BB-APIKEY header.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	limiter    domain.RateLimiter // optional
	rateLimit  int
	logger     *slog.Logger
}

// New creates a Toobit client. limiter may be nil to disable request gating.
func New(cfg Config, limiter domain.RateLimiter, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rateLimit := cfg.RateLimitPerSec
	if rateLimit <= 0 {
		rateLimit = 20
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		rateLimit:  rateLimit,
		logger:     logger.With(slog.String("component", "toobit")),
	}
}

// Balance returns the available USDT futures balance.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	var resp []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := c.doSigned(ctx, http.MethodGet, "/api/v1/futures/balance", nil, &resp); err != nil {
		return 0, fmt.Errorf("toobit: get balance: %w", err)
	}
	for _, b := range resp {
		if b.Asset == "USDT" {
			return parseFloat(b.AvailableBalance), nil
		}
	}
	return 0, nil
}

// Instrument returns the trading constraints for a symbol.
func (c *Client) Instrument(ctx context.Context, symbol string) (domain.InstrumentConstraints, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp struct {
		Symbols []struct {
			Symbol         string `json:"symbol"`
			Status         string `json:"status"`
			QuantityStep   string `json:"quantityStep"`
			MinTradeQty    string `json:"minTradeQuantity"`
			MaxTradeQty    string `json:"maxTradeQuantity"`
			PricePrecision int    `json:"pricePrecision"`
		} `json:"symbols"`
	}
	if err := c.doPublic(ctx, "/api/v1/exchangeInfo", params, &resp); err != nil {
		return domain.InstrumentConstraints{}, fmt.Errorf("toobit: get instrument %s: %w", symbol, err)
	}
	for _, s := range resp.Symbols {
		if s.Symbol != symbol {
			continue
		}
		return domain.InstrumentConstraints{
			Symbol:         s.Symbol,
			TickSize:       parseFloat(s.QuantityStep),
			MinQty:         parseFloat(s.MinTradeQty),
			MaxQty:         parseFloat(s.MaxTradeQty),
			PricePrecision: s.PricePrecision,
			Tradable:       s.Status == "TRADING",
		}, nil
	}
	return domain.InstrumentConstraints{}, fmt.Errorf("toobit: get instrument %s: symbol not listed", symbol)
}

// Price returns the current mark price for a symbol.
func (c *Client) Price(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := c.doPublic(ctx, "/quote/v1/markPrice", params, &resp); err != nil {
		return 0, fmt.Errorf("toobit: get mark price %s: %w", symbol, err)
	}
	price := parseFloat(resp.Price)
	if price <= 0 {
		return 0, fmt.Errorf("toobit: get mark price %s: non-positive price %q", symbol, resp.Price)
	}
	return price, nil
}

// SetLeverage configures the leverage for a symbol. The "not modified" venue
// response is mapped onto domain.ErrLeverageUnchanged so callers can treat it
// as success.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	err := c.doSigned(ctx, http.MethodPost, "/api/v1/futures/leverage", params, nil)
	if err != nil {
		var ve *venueError
		if asVenueError(err, &ve) && ve.Code == leverageNotModified {
			return fmt.Errorf("toobit: set leverage %s to %d: %w", symbol, leverage, domain.ErrLeverageUnchanged)
		}
		return fmt.Errorf("toobit: set leverage %s to %d: %w", symbol, leverage, err)
	}
	return nil
}

// SubmitMarketOrder places a market order that opens or increases a position.
func (c *Client) SubmitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, qty float64) (domain.OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", formatQty(qty))

	var resp struct {
		OrderID json.Number `json:"orderId"`
	}
	if err := c.doSigned(ctx, http.MethodPost, "/api/v1/futures/order", params, &resp); err != nil {
		return domain.OrderAck{}, fmt.Errorf("toobit: market order %s %s: %w", side, symbol, err)
	}
	return domain.OrderAck{OrderID: resp.OrderID.String()}, nil
}

// SubmitProtectiveOrder places a reduce-only trigger order: a take-profit or
// stop-loss on the side that closes the position.
func (c *Client) SubmitProtectiveOrder(ctx context.Context, symbol string, side domain.OrderSide, kind domain.ProtectiveKind, triggerPrice, qty float64) (domain.OrderAck, error) {
	orderType := "STOP_MARKET"
	if kind == domain.ProtectiveTakeProfit {
		orderType = "TAKE_PROFIT_MARKET"
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", orderType)
	params.Set("triggerPrice", strconv.FormatFloat(triggerPrice, 'f', -1, 64))
	params.Set("quantity", formatQty(qty))
	params.Set("reduceOnly", "true")

	var resp struct {
		OrderID json.Number `json:"orderId"`
	}
	if err := c.doSigned(ctx, http.MethodPost, "/api/v1/futures/order", params, &resp); err != nil {
		return domain.OrderAck{}, fmt.Errorf("toobit: %s order %s: %w", kind, symbol, err)
	}
	return domain.OrderAck{OrderID: resp.OrderID.String()}, nil
}

// LivePositions returns the exchange-reported positions. An empty symbol
// queries all symbols.
func (c *Client) LivePositions(ctx context.Context, symbol string) ([]domain.LivePosition, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	var resp []struct {
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Position      string `json:"position"`
		AvgPrice      string `json:"avgPrice"`
		MarkPrice     string `json:"markPrice"`
		UnrealizedPnL string `json:"unrealizedPnL"`
	}
	if err := c.doSigned(ctx, http.MethodGet, "/api/v1/futures/positions", params, &resp); err != nil {
		return nil, fmt.Errorf("toobit: get positions: %w", err)
	}

	out := make([]domain.LivePosition, 0, len(resp))
	for _, p := range resp {
		out = append(out, domain.LivePosition{
			Symbol:        p.Symbol,
			Side:          domain.OrderSide(p.Side),
			Size:          parseFloat(p.Position),
			AvgPrice:      parseFloat(p.AvgPrice),
			MarkPrice:     parseFloat(p.MarkPrice),
			UnrealizedPnL: parseFloat(p.UnrealizedPnL),
		})
	}
	return out, nil
}

// RecentTrades returns the account's recent fills for a symbol, newest first.
func (c *Client) RecentTrades(ctx context.Context, symbol string, limit int) ([]domain.ExecutedTrade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var resp []struct {
		Side  string `json:"side"`
		Price string `json:"price"`
		Time  int64  `json:"time"`
	}
	if err := c.doSigned(ctx, http.MethodGet, "/api/v1/futures/userTrades", params, &resp); err != nil {
		return nil, fmt.Errorf("toobit: get trades %s: %w", symbol, err)
	}

	out := make([]domain.ExecutedTrade, 0, len(resp))
	for _, t := range resp {
		out = append(out, domain.ExecutedTrade{
			Side:      domain.OrderSide(t.Side),
			Price:     parseFloat(t.Price),
			Timestamp: time.UnixMilli(t.Time).UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// venueError is the JSON error envelope returned by the venue.
type venueError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *venueError) Error() string {
	return fmt.Sprintf("venue error %d: %s", e.Code, e.Msg)
}

func asVenueError(err error, target **venueError) bool {
	for err != nil {
		if ve, ok := err.(*venueError); ok {
			*target = ve
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// doPublic performs an unauthenticated GET.
func (c *Client) doPublic(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.gate(ctx); err != nil {
		return err
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

// doSigned performs an authenticated request. The timestamp and HMAC-SHA256
// signature are appended to the query string per the venue's scheme.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values, out any) error {
	if err := c.gate(ctx); err != nil {
		return err
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	query += "&signature=" + c.sign(query)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-BB-APIKEY", c.apiKey)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// Error payloads carry a non-zero code regardless of HTTP status.
	var ve venueError
	if err := json.Unmarshal(body, &ve); err == nil && ve.Code != 0 {
		return &ve
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// gate applies the shared rate limit before an outbound call.
func (c *Client) gate(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	allowed, err := c.limiter.Allow(ctx, rateLimitKey, c.rateLimit, time.Second)
	if err != nil {
		// A broken limiter backend should not take trading down with it.
		c.logger.Debug("rate limiter unavailable", slog.String("error", err.Error()))
		return nil
	}
	if !allowed {
		return domain.ErrRateLimited
	}
	return nil
}

// sign computes the hex HMAC-SHA256 of the query string.
func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func formatQty(qty float64) string {
	return strconv.FormatFloat(qty, 'f', -1, 64)
}

// Compile-time interface check.
var _ domain.ExchangeGateway = (*Client)(nil)
