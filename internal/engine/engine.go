// Package engine is the caller-side convenience layer over any broker.Broker:
// order constructors, independent validation, pre-trade risk checks and
// position sizing. Brokers never depend on it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"simbroker/internal/broker"
	"simbroker/internal/domain"
	"simbroker/internal/util"
	"simbroker/internal/validate"
)

// MarketOrder builds a day market order.
func MarketOrder(symbol string, side domain.OrderSide, qty decimal.Decimal) domain.OrderRequest {
	return domain.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Type:        domain.OrderTypeMarket,
		Qty:         qty,
		TimeInForce: domain.TimeInForceDay,
	}
}

// LimitOrder builds a day limit order.
func LimitOrder(symbol string, side domain.OrderSide, qty, limit decimal.Decimal) domain.OrderRequest {
	req := MarketOrder(symbol, side, qty)
	req.Type = domain.OrderTypeLimit
	req.LimitPrice = &limit
	return req
}

// StopLimitOrder builds a day stop-limit order.
func StopLimitOrder(symbol string, side domain.OrderSide, qty, stop, limit decimal.Decimal) domain.OrderRequest {
	req := LimitOrder(symbol, side, qty, limit)
	req.Type = domain.OrderTypeStopLimit
	req.StopPrice = &stop
	return req
}

// PositionSize returns floor(portfolioValue × pct/100 / price). A
// non-positive price or percentage sizes to zero.
func PositionSize(portfolioValue, pct, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() || !pct.IsPositive() || !portfolioValue.IsPositive() {
		return decimal.Zero
	}
	return portfolioValue.Mul(pct).Div(decimal.NewFromInt(100)).Div(price).Floor()
}

// priceSource is implemented by brokers that can quote a symbol, such as the
// simulator and its remote client.
type priceSource interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Engine validates, risk-checks and forwards orders to a broker.
type Engine struct {
	broker broker.Broker
	risk   *RiskManager
	log    *slog.Logger

	retries    int
	retryDelay time.Duration
}

// NewEngine creates an Engine. A nil risk manager disables pre-trade checks.
func NewEngine(b broker.Broker, risk *RiskManager, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		broker:     b,
		risk:       risk,
		log:        log.With("broker", b.Name()),
		retries:    3,
		retryDelay: 250 * time.Millisecond,
	}
}

// SubmitOrder runs the structural checks, then the risk check, then submits.
func (e *Engine) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if err := validate.Order(req); err != nil {
		return nil, err
	}

	if e.risk != nil && e.risk.Enabled() {
		acct, err := e.account(ctx)
		if err != nil {
			return nil, err
		}
		pos, err := e.broker.GetPosition(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("reading position %s: %w", req.Symbol, err)
		}
		price, err := e.referencePrice(ctx, req, pos)
		if err != nil {
			return nil, err
		}
		if err := e.risk.CheckOrder(req, price, acct, pos); err != nil {
			e.log.Warn("order blocked by risk check", "symbol", req.Symbol, "side", req.Side, "qty", req.Qty, "error", err)
			return nil, err
		}
	}

	o, err := e.broker.SubmitOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("submitting order: %w", err)
	}
	e.log.Info("order submitted", "id", o.ID, "symbol", o.Symbol, "side", o.Side, "qty", o.Qty, "status", o.Status)
	return o, nil
}

// CancelOrder requests cancellation of an open order.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	if err := e.broker.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("cancelling order: %w", err)
	}
	return nil
}

// GetPositions returns all currently open positions.
func (e *Engine) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return e.broker.GetPositions(ctx)
}

// SizeOrder returns how many whole shares of symbol at price fit in pct
// percent of the current portfolio value.
func (e *Engine) SizeOrder(ctx context.Context, symbol string, pct, price decimal.Decimal) (decimal.Decimal, error) {
	acct, err := e.account(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	qty := PositionSize(acct.PortfolioValue, pct, price)
	e.log.Debug("sized order", "symbol", symbol, "portfolio_value", acct.PortfolioValue, "pct", pct, "price", price, "qty", qty)
	return qty, nil
}

// account reads the account, retrying transient failures.
func (e *Engine) account(ctx context.Context) (*domain.AccountInfo, error) {
	var acct *domain.AccountInfo
	err := util.RetryIf(ctx, e.retries, e.retryDelay, retryable, func() error {
		var err error
		acct, err = e.broker.GetAccount(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading account: %w", err)
	}
	return acct, nil
}

func retryable(err error) bool {
	var verr *validate.ValidationError
	return !errors.As(err, &verr) &&
		!errors.Is(err, domain.ErrOrderNotFound) &&
		!errors.Is(err, domain.ErrStatusConflict)
}

// referencePrice picks the price used for notional checks: the limit, then
// the stop, then a broker quote, then the position's last fill. Zero means
// unknown.
func (e *Engine) referencePrice(ctx context.Context, req domain.OrderRequest, pos *domain.Position) (decimal.Decimal, error) {
	if req.LimitPrice != nil {
		return *req.LimitPrice, nil
	}
	if req.StopPrice != nil {
		return *req.StopPrice, nil
	}
	if ps, ok := e.broker.(priceSource); ok {
		p, err := ps.GetPrice(ctx, req.Symbol)
		if err != nil {
			return decimal.Zero, fmt.Errorf("quoting %s: %w", req.Symbol, err)
		}
		return p, nil
	}
	if pos != nil {
		return pos.LastPrice, nil
	}
	return decimal.Zero, nil
}
