package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"tradeloop/internal/broker"
	"tradeloop/internal/pkg/symbol"
	"tradeloop/internal/types"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

// Broker routes live orders to Binance futures. Order IDs are returned as
// "SYMBOL:id" because cancellation needs both.
type Broker struct {
	client *futures.Client
}

func NewBroker(cfg Config) (*Broker, error) {
	final := cfg.withDefaults()
	if err := final.requireCredentials(); err != nil {
		return nil, err
	}
	client, err := newClient(final)
	if err != nil {
		return nil, err
	}
	return &Broker{client: client}, nil
}

func (b *Broker) Mode() broker.Mode { return broker.ModeLive }

// Ping checks connectivity at startup.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.NewPingService().Do(ctx)
}

func (b *Broker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.Fill, error) {
	if err := req.Validate(); err != nil {
		return broker.Fill{}, err
	}
	sym := symbol.Binance(req.Symbol)
	side := futures.SideTypeBuy
	if req.Side == types.OrderSell {
		side = futures.SideTypeSell
	}
	svc := b.client.NewCreateOrderService().
		Symbol(sym).
		Side(side).
		Quantity(formatFloat(req.Quantity))
	if req.ClientID != "" {
		svc = svc.NewClientOrderID(req.ClientID)
	}
	switch req.Type {
	case types.OrderStop:
		svc = svc.Type(futures.OrderTypeStopMarket).StopPrice(formatFloat(req.Price)).ReduceOnly(true)
	case types.OrderLimit:
		svc = svc.Type(futures.OrderTypeLimit).Price(formatFloat(req.Price)).TimeInForce(futures.TimeInForceTypeGTC)
	default:
		svc = svc.Type(futures.OrderTypeMarket)
		if req.ReduceOnly {
			svc = svc.ReduceOnly(true)
		}
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return broker.Fill{}, classify(err)
	}
	fill := broker.Fill{
		OrderID:  fmt.Sprintf("%s:%d", res.Symbol, res.OrderID),
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: parseFloat(res.ExecutedQuantity),
		Price:    parseFloat(res.AvgPrice),
		Filled:   res.Status == futures.OrderStatusTypeFilled,
		At:       msTime(res.UpdateTime),
	}
	if fill.Quantity == 0 {
		fill.Quantity = req.Quantity
	}
	if fill.Price == 0 {
		fill.Price = req.Price
	}
	return fill, nil
}

func (b *Broker) GetPositions(ctx context.Context) ([]broker.Holding, error) {
	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]broker.Holding, 0, len(risks))
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := types.SideLong
		if amt < 0 {
			side, amt = types.SideShort, -amt
		}
		out = append(out, broker.Holding{
			Symbol:     symbol.Normalize(r.Symbol, types.AssetCrypto),
			AssetClass: types.AssetCrypto,
			Side:       side,
			Quantity:   amt,
			EntryPrice: parseFloat(r.EntryPrice),
			MarkPrice:  parseFloat(r.MarkPrice),
		})
	}
	return out, nil
}

func (b *Broker) CancelOrder(ctx context.Context, id string) error {
	sym, raw, ok := strings.Cut(id, ":")
	if !ok {
		return fmt.Errorf("%w: malformed order id %q", broker.ErrRejected, id)
	}
	orderID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed order id %q", broker.ErrRejected, id)
	}
	_, err = b.client.NewCancelOrderService().Symbol(sym).OrderID(orderID).Do(ctx)
	return classify(err)
}

// classify marks venue-side rejections (API error codes) as not retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s", broker.ErrRejected, apiErr.Error())
	}
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
