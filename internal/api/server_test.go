package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"simbroker/internal/broker"
	"simbroker/internal/domain"
	"simbroker/internal/quote"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestServer(t *testing.T) (*Server, *broker.SimulatorBroker, *httptest.Server) {
	t.Helper()
	sim := broker.NewSimulatorBroker(quote.NewSource(quote.DefaultPrice), broker.DefaultInitialCash, quietLogger())
	s := NewServer(sim, quietLogger())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, sim, ts
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding %T: %v", v, err)
	}
	return v
}

func TestRESTOrderLifecycle(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp := do(t, http.MethodPut, ts.URL+"/api/v1/prices/aapl", `{"price":"100"}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("PUT price status = %d", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/orders", `{"symbol":"AAPL","side":"buy","type":"market","qty":10}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST order status = %d", resp.StatusCode)
	}
	filled := decode[domain.Order](t, resp)
	if filled.Status != domain.OrderStatusFilled || !filled.FilledAvgPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("filled order = %+v", filled)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/v1/account", "")
	acct := decode[domain.AccountInfo](t, resp)
	if !acct.Cash.Equal(decimal.NewFromInt(99000)) || !acct.PortfolioValue.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("account = %+v", acct)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/v1/positions/AAPL", "")
	pos := decode[*domain.Position](t, resp)
	if pos == nil || !pos.Qty.Equal(decimal.NewFromInt(10)) {
		t.Errorf("position = %+v", pos)
	}
	resp = do(t, http.MethodGet, ts.URL+"/api/v1/positions/MSFT", "")
	if flat := decode[*domain.Position](t, resp); flat != nil {
		t.Errorf("flat position = %+v, want null", flat)
	}

	// A resting limit order can be cancelled exactly once.
	resp = do(t, http.MethodPost, ts.URL+"/api/v1/orders", `{"symbol":"AAPL","side":"buy","type":"limit","qty":"1","limit_price":"90"}`)
	resting := decode[domain.Order](t, resp)
	if resting.Status != domain.OrderStatusNew {
		t.Fatalf("resting status = %s", resting.Status)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/v1/orders?status=open", "")
	if open := decode[[]domain.Order](t, resp); len(open) != 1 || open[0].ID != resting.ID {
		t.Errorf("open orders = %+v", open)
	}

	if resp := do(t, http.MethodDelete, ts.URL+"/api/v1/orders/"+resting.ID, ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d", resp.StatusCode)
	}
	resp = do(t, http.MethodDelete, ts.URL+"/api/v1/orders/"+resting.ID, "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second DELETE status = %d, want 409", resp.StatusCode)
	}
	if body := decode[ErrorBody](t, resp); body.Code != CodeConflict {
		t.Errorf("error body = %+v", body)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/v1/orders/"+resting.ID, "")
	if got := decode[domain.Order](t, resp); got.Status != domain.OrderStatusCancelled {
		t.Errorf("GET after cancel status = %s", got.Status)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/v1/orders", "")
	if all := decode[[]domain.Order](t, resp); len(all) != 2 || all[0].ID != filled.ID {
		t.Errorf("all orders = %d", len(all))
	}
}

func TestRESTErrors(t *testing.T) {
	_, _, ts := newTestServer(t)

	tests := []struct {
		name, method, path, body string
		status                   int
		code, field              string
	}{
		{"bad symbol", http.MethodPost, "/api/v1/orders", `{"symbol":"TOOLONG","side":"buy","type":"market","qty":1}`, 400, CodeValidation, "symbol"},
		{"zero qty", http.MethodPost, "/api/v1/orders", `{"symbol":"AAPL","side":"buy","type":"market","qty":0}`, 400, CodeValidation, "qty"},
		{"malformed", http.MethodPost, "/api/v1/orders", `{"symbol":`, 400, CodeValidation, "body"},
		{"unknown field", http.MethodPost, "/api/v1/orders", `{"ticker":"AAPL"}`, 400, CodeValidation, "body"},
		{"missing order", http.MethodGet, "/api/v1/orders/nope", "", 404, CodeNotFound, ""},
		{"cancel missing", http.MethodDelete, "/api/v1/orders/nope", "", 404, CodeNotFound, ""},
		{"bad filter", http.MethodGet, "/api/v1/orders?status=pending", "", 400, CodeValidation, "status"},
		{"bad price", http.MethodPut, "/api/v1/prices/AAPL", `{"price":"-1"}`, 400, CodeValidation, "price"},
		{"negative reset", http.MethodPost, "/api/v1/reset", `{"initial_cash":"-5"}`, 400, CodeValidation, "initial_cash"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, ts.URL+tt.path, tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			body := decode[ErrorBody](t, resp)
			if body.Code != tt.code || body.Field != tt.field {
				t.Errorf("body = %+v, want code %s field %q", body, tt.code, tt.field)
			}
		})
	}
}

func TestRESTRejectedOrderIsNotAnError(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp := do(t, http.MethodPost, ts.URL+"/api/v1/orders", `{"symbol":"AAPL","side":"sell","type":"market","qty":1}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if o := decode[domain.Order](t, resp); o.Status != domain.OrderStatusRejected {
		t.Errorf("status = %s, want rejected", o.Status)
	}
}

func TestRESTResetAndPrices(t *testing.T) {
	_, sim, ts := newTestServer(t)
	ctx := context.Background()
	_, _ = sim.SubmitOrder(ctx, domain.OrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: decimal.NewFromInt(1)})

	resp := do(t, http.MethodPost, ts.URL+"/api/v1/reset", `{"initial_cash":"5000","prices":{"msft":"400"}}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, ts.URL+"/api/v1/prices/msft", "")
	q := decode[PriceQuote](t, resp)
	if q.Symbol != "MSFT" || !q.Price.Equal(decimal.NewFromInt(400)) {
		t.Errorf("quote = %+v", q)
	}
	resp = do(t, http.MethodGet, ts.URL+"/api/v1/positions", "")
	if positions := decode[[]domain.Position](t, resp); len(positions) != 0 {
		t.Errorf("positions after reset = %+v", positions)
	}
	acct, _ := sim.GetAccount(ctx)
	if !acct.Cash.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("cash after reset = %s", acct.Cash)
	}

	// An empty body resets to the configured default.
	if resp := do(t, http.MethodPost, ts.URL+"/api/v1/reset", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("empty reset status = %d", resp.StatusCode)
	}
	acct, _ = sim.GetAccount(ctx)
	if !acct.Cash.Equal(broker.DefaultInitialCash) {
		t.Errorf("cash after default reset = %s", acct.Cash)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	_, _, ts := newTestServer(t)
	do(t, http.MethodPost, ts.URL+"/api/v1/orders", `{"symbol":"AAPL","side":"buy","type":"market","qty":1}`)

	resp := do(t, http.MethodGet, ts.URL+"/healthz", "")
	if h := decode[map[string]string](t, resp); h["broker"] != "simulator" {
		t.Errorf("healthz = %v", h)
	}

	resp = do(t, http.MethodGet, ts.URL+"/metrics", "")
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`simbroker_orders_submitted_total{status="filled"} 1`,
		`simbroker_http_requests_total{code="200",route="POST /api/v1/orders"} 1`,
	} {
		if !bytes.Contains(body, []byte(want)) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp := do(t, http.MethodOptions, ts.URL+"/api/v1/orders", "")
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", resp.StatusCode, resp.Header)
	}
}

func TestWebSocketOrderEvents(t *testing.T) {
	s, sim, ts := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.startEvents(ctx)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration is asynchronous; wait until the hub counts the client.
	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(s.metrics.wsClients) < 1 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	o, err := sim.SubmitOrder(ctx, domain.OrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: decimal.NewFromInt(2)})
	if err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var evt domain.OrderEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Type != domain.OrderEventFill || evt.Order.ID != o.ID {
		t.Errorf("event = %+v", evt)
	}
}
