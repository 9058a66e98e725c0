// Package simbroker is a Go SDK for the simbroker REST API. Client satisfies
// the same broker.Simulator contract as the in-process simulator, so callers
// can swap a local engine for a remote one.
package simbroker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"simbroker/internal/api"
	"simbroker/internal/broker"
	"simbroker/internal/domain"
	"simbroker/internal/validate"
)

var _ broker.Simulator = (*Client)(nil)

// Client provides a Go SDK for interacting with simbroker-server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new simbroker API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Name returns "simulator-rest".
func (c *Client) Name() string { return "simulator-rest" }

// do sends a JSON request and decodes a JSON response into out when out is
// non-nil. Non-2xx responses become typed errors.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

// decodeError maps an error response back onto the shared error taxonomy.
func decodeError(resp *http.Response) error {
	var body api.ErrorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return fmt.Errorf("simbroker: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	switch body.Code {
	case api.CodeValidation:
		return &validate.ValidationError{Field: body.Field, Reason: body.Error}
	case api.CodeNotFound:
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, body.Error)
	case api.CodeConflict:
		return fmt.Errorf("%w: %s", domain.ErrStatusConflict, body.Error)
	}
	return errors.New("simbroker: " + body.Error)
}

// SubmitOrder sends POST /api/v1/orders.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	var o domain.Order
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders", req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// CancelOrder sends DELETE /api/v1/orders/{id}.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/orders/"+url.PathEscape(orderID), nil, nil)
}

// GetOrder sends GET /api/v1/orders/{id}.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var o domain.Order
	if err := c.do(ctx, http.MethodGet, "/api/v1/orders/"+url.PathEscape(orderID), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrders sends GET /api/v1/orders?status=filter.
func (c *Client) ListOrders(ctx context.Context, filter domain.StatusFilter) ([]domain.Order, error) {
	path := "/api/v1/orders"
	if filter != "" {
		path += "?status=" + url.QueryEscape(string(filter))
	}
	var orders []domain.Order
	if err := c.do(ctx, http.MethodGet, path, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetAccount sends GET /api/v1/account.
func (c *Client) GetAccount(ctx context.Context) (*domain.AccountInfo, error) {
	var acct domain.AccountInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/account", nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetPosition sends GET /api/v1/positions/{symbol}; nil means flat.
func (c *Client) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	var p *domain.Position
	if err := c.do(ctx, http.MethodGet, "/api/v1/positions/"+url.PathEscape(symbol), nil, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPositions sends GET /api/v1/positions.
func (c *Client) GetPositions(ctx context.Context) ([]domain.Position, error) {
	var positions []domain.Position
	if err := c.do(ctx, http.MethodGet, "/api/v1/positions", nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetPrice sends GET /api/v1/prices/{symbol}.
func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var q api.PriceQuote
	if err := c.do(ctx, http.MethodGet, "/api/v1/prices/"+url.PathEscape(symbol), nil, &q); err != nil {
		return decimal.Zero, err
	}
	return q.Price, nil
}

// SetPrice sends PUT /api/v1/prices/{symbol}.
func (c *Client) SetPrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	return c.do(ctx, http.MethodPut, "/api/v1/prices/"+url.PathEscape(symbol), api.SetPriceRequest{Price: price}, nil)
}

// Reset sends POST /api/v1/reset.
func (c *Client) Reset(ctx context.Context, opts broker.ResetOptions) error {
	return c.do(ctx, http.MethodPost, "/api/v1/reset", opts, nil)
}
