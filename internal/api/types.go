package api

import "github.com/shopspring/decimal"

// PriceQuote is the body of GET /api/v1/prices/{symbol}.
type PriceQuote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// SetPriceRequest is the body of PUT /api/v1/prices/{symbol}.
type SetPriceRequest struct {
	Price decimal.Decimal `json:"price"`
}
