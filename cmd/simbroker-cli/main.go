package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"simbroker/internal/api"
	"simbroker/internal/broker"
	"simbroker/internal/domain"
	"simbroker/pkg/simbroker"
)

const version = "0.2.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: simbroker-cli [-addr URL | -grpc HOST:PORT] <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version                       Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  account                       Show cash, portfolio value and buying power\n")
	fmt.Fprintf(os.Stderr, "  positions                     List open positions\n")
	fmt.Fprintf(os.Stderr, "  position SYMBOL               Show one position\n")
	fmt.Fprintf(os.Stderr, "  orders [-status S]            List orders (open, closed, all)\n")
	fmt.Fprintf(os.Stderr, "  order ID                      Show one order\n")
	fmt.Fprintf(os.Stderr, "  buy|sell SYMBOL QTY [flags]   Submit an order (-type -limit -stop -tif -client-id)\n")
	fmt.Fprintf(os.Stderr, "  cancel ID                     Cancel an open order\n")
	fmt.Fprintf(os.Stderr, "  price SYMBOL                  Show the simulated quote\n")
	fmt.Fprintf(os.Stderr, "  set-price SYMBOL PRICE        Move the simulated quote\n")
	fmt.Fprintf(os.Stderr, "  reset [-cash N]               Reset the simulator\n")
	fmt.Fprintf(os.Stderr, "\nGlobal flags:\n")
	flag.PrintDefaults()
}

func main() {
	defaultAddr := "http://127.0.0.1:8080"
	if v := os.Getenv("SIMBROKER_ADDR"); v != "" {
		defaultAddr = v
	}
	addr := flag.String("addr", defaultAddr, "REST base URL")
	grpcAddr := flag.String("grpc", "", "use the gRPC API at HOST:PORT instead of REST")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	if args[0] == "version" {
		fmt.Printf("simbroker-cli %s\n", version)
		return
	}

	var b broker.Simulator
	if *grpcAddr != "" {
		conn, err := grpc.NewClient(*grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			fatalf("connecting to %s: %v", *grpcAddr, err)
		}
		defer conn.Close()
		b = api.NewGRPCClient(conn)
	} else {
		b = simbroker.NewClient(*addr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, b, args[0], args[1:]); err != nil {
		cancel()
		fatalf("%s: %v", args[0], err)
	}
}

func run(ctx context.Context, b broker.Simulator, cmd string, args []string) error {
	switch cmd {
	case "account":
		return printResult(b.GetAccount(ctx))

	case "positions":
		return printResult(b.GetPositions(ctx))

	case "position":
		if len(args) != 1 {
			return fmt.Errorf("usage: position SYMBOL")
		}
		return printResult(b.GetPosition(ctx, args[0]))

	case "orders":
		fs := flag.NewFlagSet("orders", flag.ExitOnError)
		status := fs.String("status", "all", "open, closed or all")
		_ = fs.Parse(args)
		return printResult(b.ListOrders(ctx, domain.StatusFilter(*status)))

	case "order":
		if len(args) != 1 {
			return fmt.Errorf("usage: order ID")
		}
		return printResult(b.GetOrder(ctx, args[0]))

	case "buy", "sell":
		req, err := parseOrder(domain.OrderSide(cmd), args)
		if err != nil {
			return err
		}
		return printResult(b.SubmitOrder(ctx, req))

	case "cancel":
		if len(args) != 1 {
			return fmt.Errorf("usage: cancel ID")
		}
		if err := b.CancelOrder(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("cancelled %s\n", args[0])
		return nil

	case "price":
		if len(args) != 1 {
			return fmt.Errorf("usage: price SYMBOL")
		}
		p, err := b.GetPrice(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", strings.ToUpper(args[0]), p)
		return nil

	case "set-price":
		if len(args) != 2 {
			return fmt.Errorf("usage: set-price SYMBOL PRICE")
		}
		p, err := decimal.NewFromString(args[1])
		if err != nil {
			return fmt.Errorf("parsing price: %w", err)
		}
		return b.SetPrice(ctx, args[0], p)

	case "reset":
		fs := flag.NewFlagSet("reset", flag.ExitOnError)
		cash := fs.String("cash", "", "starting cash (default: server setting)")
		_ = fs.Parse(args)
		var opts broker.ResetOptions
		if *cash != "" {
			c, err := decimal.NewFromString(*cash)
			if err != nil {
				return fmt.Errorf("parsing -cash: %w", err)
			}
			opts.InitialCash = &c
		}
		return b.Reset(ctx, opts)
	}
	usage()
	return fmt.Errorf("unknown command")
}

// parseOrder reads "SYMBOL QTY [flags]".
func parseOrder(side domain.OrderSide, args []string) (domain.OrderRequest, error) {
	if len(args) < 2 {
		return domain.OrderRequest{}, fmt.Errorf("usage: %s SYMBOL QTY [-type T] [-limit P] [-stop P] [-tif TIF]", side)
	}
	qty, err := decimal.NewFromString(args[1])
	if err != nil {
		return domain.OrderRequest{}, fmt.Errorf("parsing quantity: %w", err)
	}

	fs := flag.NewFlagSet(string(side), flag.ExitOnError)
	typ := fs.String("type", "", "market, limit, stop or stop_limit (inferred from -limit/-stop)")
	limit := fs.String("limit", "", "limit price")
	stop := fs.String("stop", "", "stop price")
	tif := fs.String("tif", "day", "day, gtc, ioc or fok")
	clientID := fs.String("client-id", "", "client order id")
	_ = fs.Parse(args[2:])

	req := domain.OrderRequest{
		Symbol:        args[0],
		Side:          side,
		Qty:           qty,
		TimeInForce:   domain.TimeInForce(*tif),
		ClientOrderID: *clientID,
	}
	if *limit != "" {
		p, err := decimal.NewFromString(*limit)
		if err != nil {
			return req, fmt.Errorf("parsing -limit: %w", err)
		}
		req.LimitPrice = &p
	}
	if *stop != "" {
		p, err := decimal.NewFromString(*stop)
		if err != nil {
			return req, fmt.Errorf("parsing -stop: %w", err)
		}
		req.StopPrice = &p
	}

	req.Type = domain.OrderType(*typ)
	if req.Type == "" {
		switch {
		case req.LimitPrice != nil && req.StopPrice != nil:
			req.Type = domain.OrderTypeStopLimit
		case req.LimitPrice != nil:
			req.Type = domain.OrderTypeLimit
		case req.StopPrice != nil:
			req.Type = domain.OrderTypeStop
		default:
			req.Type = domain.OrderTypeMarket
		}
	}
	return req, nil
}

func printResult(v any, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "simbroker-cli: "+format+"\n", args...)
	os.Exit(1)
}
