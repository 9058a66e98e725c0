package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"simbroker/internal/domain"
	"simbroker/internal/util"
	"simbroker/internal/validate"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker implements the Broker interface using the Alpaca brokerage API.
type AlpacaBroker struct {
	client  *alpaca.Client
	limiter *util.RateLimiter
}

// NewAlpacaBroker creates a new AlpacaBroker configured with the given
// credentials and API endpoint. rateLimitPerMin <= 0 disables client-side
// throttling.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string, rateLimitPerMin int) *AlpacaBroker {
	b := &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
	}
	if rateLimitPerMin > 0 {
		b.limiter = util.NewRateLimiter(rateLimitPerMin)
	}
	return b
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

func (b *AlpacaBroker) wait(ctx context.Context) error {
	if b.limiter == nil {
		return ctx.Err()
	}
	return b.limiter.Wait(ctx)
}

// SubmitOrder validates the request locally and sends it to POST /v2/orders.
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if err := validate.Order(req); err != nil {
		return nil, err
	}
	if err := b.wait(ctx); err != nil {
		return nil, err
	}

	tif := req.TimeInForce
	if tif == "" {
		tif = domain.TimeInForceDay
	}
	qty := req.Qty
	placed, err := b.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Qty:           &qty,
		Side:          alpaca.Side(req.Side),
		Type:          toAlpacaType(req.Type),
		TimeInForce:   alpaca.TimeInForce(tif),
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		return nil, fmt.Errorf("placing order: %w", err)
	}
	o := fromAlpacaOrder(placed)
	return &o, nil
}

// CancelOrder requests cancellation via DELETE /v2/orders/{orderID}.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, orderID string) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	if err := b.client.CancelOrder(orderID); err != nil {
		return mapAlpacaError(err, orderID)
	}
	return nil
}

// GetOrder fetches one order via GET /v2/orders/{orderID}.
func (b *AlpacaBroker) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	ao, err := b.client.GetOrder(orderID)
	if err != nil {
		return nil, mapAlpacaError(err, orderID)
	}
	o := fromAlpacaOrder(ao)
	return &o, nil
}

// ListOrders fetches orders via GET /v2/orders, oldest first.
func (b *AlpacaBroker) ListOrders(ctx context.Context, filter domain.StatusFilter) ([]domain.Order, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	status := string(filter)
	if status == "" {
		status = string(domain.StatusFilterAll)
	}
	aos, err := b.client.GetOrders(alpaca.GetOrdersRequest{
		Status:    status,
		Limit:     500,
		Direction: "asc",
	})
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	out := make([]domain.Order, 0, len(aos))
	for i := range aos {
		out = append(out, fromAlpacaOrder(&aos[i]))
	}
	return out, nil
}

// GetPosition returns the position for symbol, or nil when Alpaca reports
// none.
func (b *AlpacaBroker) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	ap, err := b.client.GetPosition(strings.ToUpper(strings.TrimSpace(symbol)))
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting position %s: %w", symbol, err)
	}
	p := fromAlpacaPosition(ap)
	return &p, nil
}

// GetPositions returns all current positions from the Alpaca account.
func (b *AlpacaBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	aps, err := b.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("listing positions: %w", err)
	}
	out := make([]domain.Position, 0, len(aps))
	for i := range aps {
		out = append(out, fromAlpacaPosition(&aps[i]))
	}
	return out, nil
}

// GetAccount returns the current account information from the Alpaca API.
func (b *AlpacaBroker) GetAccount(ctx context.Context) (*domain.AccountInfo, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	acct, err := b.client.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("getting account: %w", err)
	}
	return &domain.AccountInfo{
		ID:             acct.ID,
		AccountNumber:  acct.AccountNumber,
		Currency:       acct.Currency,
		Cash:           acct.Cash,
		PortfolioValue: acct.Equity,
		Equity:         acct.Equity,
		BuyingPower:    acct.BuyingPower,
	}, nil
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func toAlpacaType(t domain.OrderType) alpaca.OrderType {
	switch t {
	case domain.OrderTypeLimit:
		return alpaca.Limit
	case domain.OrderTypeStop:
		return alpaca.Stop
	case domain.OrderTypeStopLimit:
		return alpaca.StopLimit
	}
	return alpaca.Market
}

// fromAlpacaStatus folds Alpaca's richer status set onto the simulator's four
// states. Anything still working counts as new.
func fromAlpacaStatus(s string) domain.OrderStatus {
	switch s {
	case "filled":
		return domain.OrderStatusFilled
	case "rejected":
		return domain.OrderStatusRejected
	case "canceled", "expired", "done_for_day", "replaced":
		return domain.OrderStatusCancelled
	}
	return domain.OrderStatusNew
}

func fromAlpacaOrder(ao *alpaca.Order) domain.Order {
	o := domain.Order{
		ID:             ao.ID,
		ClientOrderID:  ao.ClientOrderID,
		Symbol:         ao.Symbol,
		Side:           domain.OrderSide(ao.Side),
		Type:           domain.OrderType(ao.Type),
		TimeInForce:    domain.TimeInForce(ao.TimeInForce),
		FilledQty:      ao.FilledQty,
		LimitPrice:     ao.LimitPrice,
		StopPrice:      ao.StopPrice,
		FilledAvgPrice: ao.FilledAvgPrice,
		Status:         fromAlpacaStatus(ao.Status),
		SubmittedAt:    ao.SubmittedAt,
		UpdatedAt:      ao.UpdatedAt,
		FilledAt:       ao.FilledAt,
		CanceledAt:     ao.CanceledAt,
	}
	if ao.Qty != nil {
		o.Qty = *ao.Qty
	}
	return o.Clone()
}

func fromAlpacaPosition(ap *alpaca.Position) domain.Position {
	last := ap.AvgEntryPrice
	if ap.CurrentPrice != nil {
		last = *ap.CurrentPrice
	}
	mv := ap.Qty.Mul(last)
	cb := ap.Qty.Mul(ap.AvgEntryPrice)
	return domain.Position{
		Symbol:        ap.Symbol,
		Qty:           ap.Qty,
		AvgEntryPrice: ap.AvgEntryPrice,
		LastPrice:     last,
		MarketValue:   mv,
		CostBasis:     cb,
		UnrealizedPL:  mv.Sub(cb),
	}
}

// mapAlpacaError translates HTTP status codes onto the shared error
// taxonomy so callers can swap brokers transparently.
func mapAlpacaError(err error, orderID string) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
		case http.StatusUnprocessableEntity, http.StatusConflict:
			return fmt.Errorf("%w: %s: %s", domain.ErrStatusConflict, orderID, apiErr.Message)
		}
	}
	return fmt.Errorf("alpaca order %s: %w", orderID, err)
}
