package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"simbroker/internal/broker"
	"simbroker/internal/domain"
	"simbroker/internal/validate"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// RegisterRoutes registers all REST routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/orders", s.handleSubmitOrder)
	mux.HandleFunc("GET /api/v1/orders", s.handleListOrders)
	mux.HandleFunc("GET /api/v1/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("DELETE /api/v1/orders/{id}", s.handleCancelOrder)
	mux.HandleFunc("GET /api/v1/account", s.handleGetAccount)
	mux.HandleFunc("GET /api/v1/positions", s.handleGetPositions)
	mux.HandleFunc("GET /api/v1/positions/{symbol}", s.handleGetPosition)
	mux.HandleFunc("GET /api/v1/prices/{symbol}", s.handleGetPrice)
	mux.HandleFunc("PUT /api/v1/prices/{symbol}", s.handleSetPrice)
	mux.HandleFunc("POST /api/v1/reset", s.handleReset)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /ws", s.hub.ServeWS)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := classify(err)
	status := httpStatus(body.Code)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, body)
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched
// when allowEmpty is set.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return &validate.ValidationError{Field: "body", Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	return nil
}

func parseStatusFilter(v string) (domain.StatusFilter, error) {
	filter := domain.StatusFilter(strings.ToLower(strings.TrimSpace(v)))
	switch filter {
	case "", domain.StatusFilterOpen, domain.StatusFilterClosed, domain.StatusFilterAll:
		return filter, nil
	}
	return "", &validate.ValidationError{Field: "status", Reason: fmt.Sprintf("%q must be open, closed or all", v)}
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.backend.SubmitOrder(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.orderSubmitted(o)
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	filter, err := parseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	orders, err := s.backend.ListOrders(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.backend.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.CancelOrder(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.backend.GetAccount(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.backend.GetPositions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// handleGetPosition answers null for a flat symbol rather than 404, keeping
// 404 reserved for unknown orders.
func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	p, err := s.backend.GetPosition(r.Context(), r.PathValue("symbol"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	sym := strings.ToUpper(strings.TrimSpace(r.PathValue("symbol")))
	p, err := s.backend.GetPrice(r.Context(), sym)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PriceQuote{Symbol: sym, Price: p})
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req SetPriceRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.backend.SetPrice(r.Context(), r.PathValue("symbol"), req.Price); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var opts broker.ResetOptions
	if err := decodeBody(r, &opts, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.backend.Reset(r.Context(), opts); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "broker": s.backend.Name()})
}
