// Package rest is the HTTP venue adapter. Requests are HMAC-signed and
// non-2xx responses are mapped onto the domain error taxonomy so the gateway
// can tell transient venue trouble from permanent rejection.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/helix/internal/crypto"
	"github.com/quantfall/helix/internal/domain"
)

// Client is the REST client for a venue exposing the standard trading API.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// New creates a venue REST client.
//
// baseURL is the API root, e.g. "https://api.example-venue.com/v1".
func New(baseURL string, auth *crypto.HMACAuth, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// tickPayload is the venue's market data representation.
type tickPayload struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// orderPayload is the order submission body. ClientOrderID carries the
// engine's order UUID so resubmission is idempotent on the venue side.
type orderPayload struct {
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Quantity      string `json:"quantity"`
	LimitPrice    string `json:"limit_price,omitempty"`
}

// fillPayload is the venue's execution report.
type fillPayload struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Status        string          `json:"status"`
	FilledQty     decimal.Decimal `json:"filled_quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	Fee           decimal.Decimal `json:"fee"`
	Timestamp     time.Time       `json:"timestamp"`
}

func (p fillPayload) toFill() domain.Fill {
	return domain.Fill{
		OrderID:   p.ClientOrderID,
		Symbol:    p.Symbol,
		Side:      domain.OrderSide(p.Side),
		Quantity:  p.FilledQty,
		Price:     p.AvgPrice,
		Fee:       p.Fee,
		Status:    domain.FillStatus(p.Status),
		Timestamp: p.Timestamp,
	}
}

// GetTicks fetches the latest market data for the given symbols.
func (c *Client) GetTicks(ctx context.Context, symbols []string) ([]domain.Tick, error) {
	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))
	path := "/ticks?" + params.Encode()

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("rest: get ticks: %w", err)
	}

	var resp struct {
		Ticks []tickPayload `json:"ticks"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("rest: decode ticks: %w", err)
	}

	ticks := make([]domain.Tick, 0, len(resp.Ticks))
	for _, t := range resp.Ticks {
		ticks = append(ticks, domain.Tick{
			Symbol:    t.Symbol,
			Timestamp: t.Timestamp,
			Bid:       t.Bid,
			Ask:       t.Ask,
			Last:      t.Last,
			Volume:    t.Volume,
		})
	}
	return ticks, nil
}

// PlaceOrder submits an order and returns the venue's execution report.
func (c *Client) PlaceOrder(ctx context.Context, order domain.Order) (domain.Fill, error) {
	payload := orderPayload{
		ClientOrderID: order.ID,
		Symbol:        order.Symbol,
		Side:          string(order.Side),
		Type:          string(order.Type),
		Quantity:      order.Quantity.String(),
	}
	if order.Type == domain.OrderTypeLimit {
		payload.LimitPrice = order.LimitPrice.String()
	}

	body, err := c.doSignedRequest(ctx, http.MethodPost, "/orders", payload)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("rest: place order %s: %w", order.ID, err)
	}

	var resp fillPayload
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Fill{}, fmt.Errorf("rest: decode order response: %w", err)
	}
	return resp.toFill(), nil
}

// GetOrderStatus fetches the latest execution report for an order by its
// client order id.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (domain.Fill, error) {
	path := fmt.Sprintf("/orders/%s", url.PathEscape(orderID))

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("rest: get order %s: %w", orderID, err)
	}

	var resp fillPayload
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Fill{}, fmt.Errorf("rest: decode order status: %w", err)
	}
	return resp.toFill(), nil
}

// CancelOrder requests cancellation of an order by its client order id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("/orders/%s", url.PathEscape(orderID))

	if _, err := c.doSignedRequest(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("rest: cancel order %s: %w", orderID, err)
	}
	return nil
}

// GetAccountBalance fetches the venue-side account balance.
func (c *Client) GetAccountBalance(ctx context.Context) (domain.CapitalState, error) {
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/account/balance", nil)
	if err != nil {
		return domain.CapitalState{}, fmt.Errorf("rest: get balance: %w", err)
	}

	var resp struct {
		Total decimal.Decimal `json:"total"`
		Free  decimal.Decimal `json:"free"`
		Held  decimal.Decimal `json:"held"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.CapitalState{}, fmt.Errorf("rest: decode balance: %w", err)
	}
	return domain.CapitalState{Total: resp.Total, Free: resp.Free, Reserved: resp.Held}, nil
}

// doSignedRequest builds, signs, sends, and reads an HTTP request against the
// venue API.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	for k, v := range c.auth.Headers(method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failure or timeout: the request may or may not have been
		// processed, so it is retryable with a status check first.
		return nil, fmt.Errorf("http request: %v: %w", err, domain.ErrTransientVenue)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %v: %w", err, domain.ErrTransientVenue)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkStatus maps non-2xx HTTP status codes onto the domain error taxonomy.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("not found: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrUnknownOrder)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("unauthorized: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrUnauthorized)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("rate limited: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrTransientVenue)
	case statusCode >= 500:
		return fmt.Errorf("HTTP %d: %s (%s): %w", statusCode, apiErr.Message, apiErr.Code, domain.ErrTransientVenue)
	default:
		return fmt.Errorf("HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}
