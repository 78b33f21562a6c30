package trader

import (
	"context"
	"errors"
	"time"

	"tradeloop/internal/broker"
	"tradeloop/internal/pkg/circuit"
	"tradeloop/internal/pkg/retry"
	"tradeloop/internal/types"
)

// dispatch runs fn on its own goroutine. Broker calls never run on the actor
// loop; they post their result back as an event.
func (t *Trader) dispatch(fn func()) error {
	t.dispatchMu.Lock()
	if t.draining {
		t.dispatchMu.Unlock()
		return ErrStopped
	}
	t.inflight.Add(1)
	t.dispatchMu.Unlock()
	go func() {
		defer t.inflight.Done()
		fn()
	}()
	return nil
}

// dispatchPending forgets the pending order again if it could not be sent.
func (t *Trader) dispatchPending(p *PendingOrder, fn func()) error {
	if err := t.dispatch(fn); err != nil {
		delete(t.state.Pending, p.RequestID)
		t.refreshSnapshot()
		return err
	}
	return nil
}

// post delivers an async result. The loop keeps running until every
// in-flight call has posted, so this only fails after a hard stop.
func (t *Trader) post(evt EventEnvelope) {
	if err := t.Send(evt); err != nil {
		log.Warnf("drop %s result: %v", evt.Type, err)
	}
}

// call wraps a broker call in the retry policy and the broker's circuit.
// Rejections are final and do not count against the circuit.
func (t *Trader) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, t.cfg.Retry, func(ctx context.Context) error {
		if t.breaker == nil {
			err := fn(ctx)
			if errors.Is(err, broker.ErrRejected) {
				return retry.Permanent(err)
			}
			return err
		}
		var callErr error
		err := t.breaker.Execute(func() error {
			callErr = fn(ctx)
			if errors.Is(callErr, broker.ErrRejected) {
				return nil
			}
			return callErr
		})
		switch {
		case errors.Is(err, circuit.ErrOpen):
			return retry.Permanent(err)
		case err != nil:
			return err
		case callErr != nil:
			return retry.Permanent(callErr)
		}
		return nil
	})
}

func (t *Trader) place(ctx context.Context, req broker.OrderRequest) (broker.Fill, error) {
	var fill broker.Fill
	err := t.call(ctx, func(ctx context.Context) error {
		var err error
		fill, err = t.broker.PlaceOrder(ctx, req)
		return err
	})
	return fill, err
}

// runOpen places the entry and, once filled, a protective stop on the
// opposite side.
func (t *Trader) runOpen(p PendingOrder) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.OrderTimeout)
	defer cancel()

	res := OrderResultPayload{
		RequestID: p.RequestID,
		Action:    OrderActionOpen,
		TradeID:   p.TradeID,
		Symbol:    p.Symbol,
		Reason:    p.Reason,
	}
	res.Fill, res.Err = t.place(ctx, broker.OrderRequest{
		ClientID:   p.RequestID,
		Symbol:     p.Symbol,
		AssetClass: p.Class,
		Side:       entrySide(p.Side),
		Quantity:   p.Quantity,
		Type:       types.OrderMarket,
		Price:      p.Price,
	})
	if res.Err == nil && res.Fill.Filled && p.Levels != nil && p.Levels.Stop > 0 {
		stop, err := t.place(ctx, broker.OrderRequest{
			ClientID:   p.RequestID + "-stop",
			Symbol:     p.Symbol,
			AssetClass: p.Class,
			Side:       exitSide(p.Side),
			Quantity:   firstPositive(res.Fill.Quantity, p.Quantity),
			Type:       types.OrderStop,
			Price:      p.Levels.Stop,
			ReduceOnly: true,
		})
		res.StopOrder, res.StopErr = stop.OrderID, err
	}
	res.ReceivedAt = time.Now()
	t.post(EventEnvelope{Type: EvtOrderResult, Payload: res})
}

// runClose cancels the resting stop, then exits at market.
func (t *Trader) runClose(p PendingOrder, stopOrder string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.OrderTimeout)
	defer cancel()

	if stopOrder != "" {
		err := t.call(ctx, func(ctx context.Context) error { return t.broker.CancelOrder(ctx, stopOrder) })
		if err != nil {
			log.Warnf("cancel stop %s for %s: %v", stopOrder, p.Symbol, err)
		}
	}
	res := OrderResultPayload{
		RequestID: p.RequestID,
		Action:    OrderActionClose,
		TradeID:   p.TradeID,
		Symbol:    p.Symbol,
		Reason:    p.Reason,
	}
	res.Fill, res.Err = t.place(ctx, broker.OrderRequest{
		ClientID:   p.RequestID,
		Symbol:     p.Symbol,
		AssetClass: p.Class,
		Side:       exitSide(p.Side),
		Quantity:   p.Quantity,
		Type:       types.OrderMarket,
		Price:      p.Price,
		ReduceOnly: true,
	})
	res.ReceivedAt = time.Now()
	t.post(EventEnvelope{Type: EvtOrderResult, Payload: res})
}

func entrySide(s types.Side) types.OrderSide {
	if s == types.SideShort {
		return types.OrderSell
	}
	return types.OrderBuy
}

func exitSide(s types.Side) types.OrderSide {
	if s == types.SideShort {
		return types.OrderBuy
	}
	return types.OrderSell
}
