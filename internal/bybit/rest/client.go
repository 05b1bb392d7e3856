package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bybit-hedge-bot/internal/exec"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Bybit v5 return codes that indicate a retryable condition rather than a
// refused order.
const (
	retCodeOK               = 0
	retCodeTimestampWindow  = 10002
	retCodeRateLimited      = 10006
	retCodeDuplicateOrderID = 110072
)

const fillConfirmAttempts = 5
const fillConfirmDelay = 500 * time.Millisecond

// Client talks to the Bybit v5 linear (USDT-perp) API. It is both the
// price source and the exchange client of the hedge loop.
type Client struct {
	baseURL     string
	apiKey      string
	apiSecret   string
	recvWindow  string
	http        *http.Client
	log         *zap.Logger
	qtyDecimals map[string]int
}

func New(baseURL string, timeout time.Duration, apiKey, apiSecret string, recvWindowMS int, qtyDecimals map[string]int, log *zap.Logger) *Client {
	if recvWindowMS <= 0 {
		recvWindowMS = 5000
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		recvWindow:  strconv.Itoa(recvWindowMS),
		http:        &http.Client{Timeout: timeout},
		log:         log,
		qtyDecimals: qtyDecimals,
	}
}

type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// MarkPrice returns the current mark price for a linear symbol.
func (c *Client) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	var result struct {
		List []struct {
			MarkPrice string `json:"markPrice"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	query := queryString(map[string]string{"category": "linear", "symbol": symbol})
	if err := c.get(ctx, "/v5/market/tickers", query, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 {
		return 0, fmt.Errorf("no ticker for %s: %w", symbol, exec.ErrUnavailable)
	}
	raw := result.List[0].MarkPrice
	if raw == "" {
		raw = result.List[0].LastPrice
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("bad ticker price %q for %s: %w", raw, symbol, exec.ErrUnavailable)
	}
	return price, nil
}

// ServerTime pings the venue; used by preflight.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var result struct {
		TimeSecond string `json:"timeSecond"`
	}
	if err := c.get(ctx, "/v5/market/time", "", &result); err != nil {
		return time.Time{}, err
	}
	sec, err := strconv.ParseInt(result.TimeSecond, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad server time %q: %w", result.TimeSecond, exec.ErrUnavailable)
	}
	return time.Unix(sec, 0), nil
}

// PlaceOrder submits a market order sized by USD notional and confirms the
// fill. The request's idempotency key is sent as orderLinkId: the venue
// rejects duplicates of the same link id, and that rejection is translated
// back into the already-confirmed fill so retries are safe.
func (c *Client) PlaceOrder(ctx context.Context, req exec.OrderRequest) (exec.OrderResult, error) {
	if req.Price <= 0 {
		return exec.OrderResult{}, &exec.RejectedError{Reason: "reference price is required"}
	}
	qty := roundDown(req.NotionalUSD/req.Price, c.decimalsFor(req.Symbol))
	if qty <= 0 {
		return exec.OrderResult{}, &exec.RejectedError{Reason: fmt.Sprintf("qty for %.2f USD of %s rounds to zero", req.NotionalUSD, req.Symbol)}
	}
	linkID := req.IdempotencyKey
	if linkID == "" {
		linkID = uuid.NewString()
	}
	params := map[string]string{
		"category":    "linear",
		"symbol":      req.Symbol,
		"side":        req.Side,
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(qty, 'f', -1, 64),
		"timeInForce": "GoodTillCancel",
		"orderLinkId": linkID,
	}
	if req.ReduceOnly {
		params["reduceOnly"] = "true"
	}
	var result struct {
		OrderID string `json:"orderId"`
	}
	err := c.post(ctx, "/v5/order/create", params, &result)
	if err != nil {
		if isDuplicateLinkID(err) {
			// Already placed by a previous attempt; recover its outcome.
			return c.confirmFill(ctx, req.Symbol, linkID)
		}
		return exec.OrderResult{}, err
	}
	return c.confirmFill(ctx, req.Symbol, linkID)
}

// PositionInfo is the venue's authoritative view of one symbol's position.
type PositionInfo struct {
	Symbol      string
	Side        string
	Size        float64
	NotionalUSD float64
	AvgPrice    float64
}

func (c *Client) Position(ctx context.Context, symbol string) (PositionInfo, error) {
	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			PositionValue string `json:"positionValue"`
			AvgPrice      string `json:"avgPrice"`
		} `json:"list"`
	}
	query := queryString(map[string]string{"category": "linear", "symbol": symbol})
	if err := c.getSigned(ctx, "/v5/position/list", query, &result); err != nil {
		return PositionInfo{}, err
	}
	info := PositionInfo{Symbol: symbol}
	for _, entry := range result.List {
		if entry.Symbol != symbol {
			continue
		}
		size, _ := strconv.ParseFloat(entry.Size, 64)
		if size == 0 {
			continue
		}
		info.Side = entry.Side
		info.Size = size
		info.NotionalUSD, _ = strconv.ParseFloat(entry.PositionValue, 64)
		info.AvgPrice, _ = strconv.ParseFloat(entry.AvgPrice, 64)
	}
	return info, nil
}

func (c *Client) confirmFill(ctx context.Context, symbol, linkID string) (exec.OrderResult, error) {
	query := queryString(map[string]string{
		"category":    "linear",
		"symbol":      symbol,
		"orderLinkId": linkID,
	})
	var last exec.OrderResult
	for attempt := 0; attempt < fillConfirmAttempts; attempt++ {
		var result struct {
			List []struct {
				OrderID      string `json:"orderId"`
				OrderStatus  string `json:"orderStatus"`
				CumExecQty   string `json:"cumExecQty"`
				CumExecValue string `json:"cumExecValue"`
				AvgPrice     string `json:"avgPrice"`
			} `json:"list"`
		}
		if err := c.getSigned(ctx, "/v5/order/realtime", query, &result); err != nil {
			return exec.OrderResult{}, err
		}
		for _, entry := range result.List {
			value, _ := strconv.ParseFloat(entry.CumExecValue, 64)
			avg, _ := strconv.ParseFloat(entry.AvgPrice, 64)
			last = exec.OrderResult{
				OrderID:           entry.OrderID,
				FilledNotionalUSD: value,
				AvgPrice:          avg,
				Status:            entry.OrderStatus,
			}
			switch entry.OrderStatus {
			case "Filled":
				return last, nil
			case "Rejected", "Cancelled", "Deactivated":
				return exec.OrderResult{}, &exec.RejectedError{Reason: "order " + entry.OrderID + " " + strings.ToLower(entry.OrderStatus)}
			}
		}
		select {
		case <-ctx.Done():
			return exec.OrderResult{}, ctx.Err()
		case <-time.After(fillConfirmDelay):
		}
	}
	// Not fully executed yet. Surfacing this as transient keeps the
	// result out of the idempotency cache; the next attempt re-enters
	// through the duplicate link id path and re-checks the fill.
	return exec.OrderResult{}, fmt.Errorf("order %s not confirmed filled (last status %q): %w", linkID, last.Status, exec.ErrUnavailable)
}

func (c *Client) get(ctx context.Context, path, query string, out any) error {
	url := c.baseURL + path
	if query != "" {
		url += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) getSigned(ctx context.Context, path, query string, out any) error {
	url := c.baseURL + path
	if query != "" {
		url += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.authenticate(req, query)
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, params map[string]string, out any) error {
	body := queryString(params)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.authenticate(req, body)
	return c.do(req, out)
}

func (c *Client) authenticate(req *http.Request, payload string) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.recvWindow)
	req.Header.Set("X-BAPI-SIGN", signPayload(c.apiSecret, timestamp, c.apiKey, c.recvWindow, payload))
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", req.Method, req.URL.Path, err, exec.ErrUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s: %w", resp.StatusCode, string(body), exec.ErrUnavailable)
	}
	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s: %v: %w", req.URL.Path, err, exec.ErrUnavailable)
	}
	if envelope.RetCode != retCodeOK {
		return classifyRetCode(envelope.RetCode, envelope.RetMsg)
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decode result %s: %v: %w", req.URL.Path, err, exec.ErrUnavailable)
		}
	}
	return nil
}

func classifyRetCode(code int, msg string) error {
	switch code {
	case retCodeTimestampWindow, retCodeRateLimited:
		return fmt.Errorf("retCode %d: %s: %w", code, msg, exec.ErrUnavailable)
	default:
		return &exec.RejectedError{Reason: fmt.Sprintf("retCode %d: %s", code, msg)}
	}
}

func isDuplicateLinkID(err error) bool {
	if !exec.IsRejected(err) {
		return false
	}
	return strings.Contains(err.Error(), strconv.Itoa(retCodeDuplicateOrderID)) ||
		strings.Contains(strings.ToLower(err.Error()), "duplicate")
}

func (c *Client) decimalsFor(symbol string) int {
	if d, ok := c.qtyDecimals[symbol]; ok {
		return d
	}
	return 2
}

func roundDown(value float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Floor(value)
	}
	factor := math.Pow10(decimals)
	return math.Floor(value*factor) / factor
}
