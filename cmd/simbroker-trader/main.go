package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"simbroker/internal/broker"
	"simbroker/internal/config"
	"simbroker/internal/domain"
	"simbroker/internal/engine"
	"simbroker/internal/quote"
	"simbroker/internal/util"
	"simbroker/internal/validate"
	"simbroker/pkg/simbroker"
)

func main() {
	symbol := flag.String("symbol", "", "ticker to trade (required)")
	side := flag.String("side", "buy", "buy or sell")
	pct := flag.Float64("pct", 5, "percent of portfolio value to allocate")
	price := flag.String("price", "", "reference price (default: simulator quote)")
	limit := flag.String("limit", "", "submit a limit order at this price")
	remote := flag.String("addr", "", "simbroker-server REST URL; empty runs an in-process simulator")
	dryRun := flag.Bool("dry-run", false, "size the order without submitting it")
	flag.Parse()

	if *symbol == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := config.LoadEnvFile(); err != nil {
		log.Fatalf("loading .env: %v", err)
	}
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	var b broker.Broker
	switch {
	case !cfg.Trading.PaperMode:
		if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
			log.Fatal("paper_mode is off but Alpaca credentials are missing")
		}
		b = broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Alpaca.RateLimitPerMin)
	case *remote != "":
		b = simbroker.NewClient(*remote)
	default:
		quotes := quote.NewSource(cfg.Simulator.Default())
		if err := quotes.Replace(cfg.Simulator.QuoteTable()); err != nil {
			log.Fatalf("seeding quotes: %v", err)
		}
		b = broker.NewSimulatorBroker(quotes, cfg.Simulator.Cash(), logger)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	e := engine.NewEngine(b, engine.NewRiskManager(cfg.Trading.MaxPositionPct), logger)
	logger.Info("simbroker-trader starting", "broker", b.Name(), "paper_mode", cfg.Trading.PaperMode, "symbol", *symbol)

	if err := trade(ctx, e, b, *symbol, domain.OrderSide(*side), *pct, *price, *limit, *dryRun); err != nil {
		logger.Error("trade failed", "error", err)
		cancel()
		os.Exit(1)
	}
}

func trade(ctx context.Context, e *engine.Engine, b broker.Broker, symbol string, side domain.OrderSide, pct float64, priceFlag, limitFlag string, dryRun bool) error {
	ref, err := referencePrice(ctx, b, symbol, priceFlag, limitFlag)
	if err != nil {
		return err
	}

	allocation, err := validate.Float("pct", pct)
	if err != nil {
		return err
	}
	qty, err := e.SizeOrder(ctx, symbol, allocation, ref)
	if err != nil {
		return err
	}
	if !qty.IsPositive() {
		return fmt.Errorf("%.2f%% of the portfolio buys no whole shares of %s at %s", pct, symbol, ref)
	}

	req := engine.MarketOrder(symbol, side, qty)
	if limitFlag != "" {
		req = engine.LimitOrder(symbol, side, qty, ref)
	}
	if dryRun {
		fmt.Printf("dry run: %s %s %s %s @ %s\n", req.Side, req.Qty, req.Symbol, req.Type, ref)
		return nil
	}

	o, err := e.SubmitOrder(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s %s %s: %s", o.ID, o.Side, o.Qty, o.Symbol, o.Status)
	if o.FilledAvgPrice != nil {
		fmt.Printf(" @ %s", o.FilledAvgPrice)
	}
	fmt.Println()
	return nil
}

// referencePrice resolves the sizing price: -limit, then -price, then the
// simulator's quote.
func referencePrice(ctx context.Context, b broker.Broker, symbol, priceFlag, limitFlag string) (decimal.Decimal, error) {
	for _, v := range []string{limitFlag, priceFlag} {
		if v == "" {
			continue
		}
		p, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parsing price %q: %w", v, err)
		}
		return p, nil
	}
	if sim, ok := b.(broker.Simulator); ok {
		return sim.GetPrice(ctx, symbol)
	}
	return decimal.Zero, fmt.Errorf("-price is required with the %s broker", b.Name())
}
