// Package broker defines the order-routing capability the executor uses and
// a simulated implementation of it.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeloop/internal/types"
)

// Mode is fixed per process.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePaper, "":
		return ModePaper, nil
	case ModeLive:
		return ModeLive, nil
	}
	return "", fmt.Errorf("unknown broker mode %q", s)
}

// ErrRejected is returned when the venue refuses an order outright. It is
// not worth retrying.
var ErrRejected = errors.New("broker: order rejected")

// OrderRequest is one order. Price is the reference price for market orders,
// the limit for limit orders and the trigger for stop orders.
type OrderRequest struct {
	ClientID   string
	Symbol     string
	AssetClass types.AssetClass
	Side       types.OrderSide
	Quantity   float64
	Type       types.OrderType
	Price      float64
	ReduceOnly bool
}

func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrRejected)
	}
	if r.Side != types.OrderBuy && r.Side != types.OrderSell {
		return fmt.Errorf("%w: invalid side %q", ErrRejected, r.Side)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrRejected)
	}
	if (r.Type == types.OrderLimit || r.Type == types.OrderStop) && r.Price <= 0 {
		return fmt.Errorf("%w: %s order needs a price", ErrRejected, r.Type)
	}
	return nil
}

// Fill is the broker's answer to PlaceOrder. Resting orders (stops, unfilled
// limits) come back with Filled=false and an ID that CancelOrder accepts.
type Fill struct {
	OrderID  string          `json:"order_id"`
	Symbol   string          `json:"symbol"`
	Side     types.OrderSide `json:"side"`
	Quantity float64         `json:"quantity"`
	Price    float64         `json:"price"`
	Filled   bool            `json:"filled"`
	At       time.Time       `json:"at"`
}

// Holding is a net position as the broker reports it.
type Holding struct {
	Symbol     string           `json:"symbol"`
	AssetClass types.AssetClass `json:"asset_class"`
	Side       types.Side       `json:"side"`
	Quantity   float64          `json:"quantity"`
	EntryPrice float64          `json:"entry_price"`
	MarkPrice  float64          `json:"mark_price"`
}

// Broker routes orders to a venue.
type Broker interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error)
	GetPositions(ctx context.Context) ([]Holding, error)
	CancelOrder(ctx context.Context, id string) error
	Mode() Mode
}

// Quoter answers the latest traded price for a symbol.
type Quoter interface {
	LastPrice(ctx context.Context, symbol string, class types.AssetClass) (float64, error)
}
