package trader

import (
	"fmt"

	"tradeloop/internal/logger"
)

// EventHandler handles one event type inside the actor loop.
type EventHandler interface {
	Type() EventType
	Handle(t *Trader, evt EventEnvelope) error
}

// HandlerRegistry maps event types to handlers.
type HandlerRegistry struct {
	handlers map[EventType]EventHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[EventType]EventHandler)}
}

// Register replaces any handler already registered for the same type.
func (r *HandlerRegistry) Register(h EventHandler) {
	if h == nil {
		return
	}
	r.handlers[h.Type()] = h
}

func (r *HandlerRegistry) Get(t EventType) (EventHandler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

func (r *HandlerRegistry) RegisterDefaultHandlers() {
	r.Register(openHandler{})
	r.Register(closeHandler{})
	r.Register(refreshHandler{})
	r.Register(pricesHandler{})
	r.Register(orderResultHandler{})
	logger.Debugf("Executor: registered %d event handlers", len(r.handlers))
}

func payloadError(evt EventEnvelope) error {
	return fmt.Errorf("event %s: unexpected payload %T", evt.Type, evt.Payload)
}

type openHandler struct{}

func (openHandler) Type() EventType { return EvtOpen }

func (openHandler) Handle(t *Trader, evt EventEnvelope) error {
	p, ok := evt.Payload.(OpenPayload)
	if !ok {
		return payloadError(evt)
	}
	return t.handleOpen(p)
}

type closeHandler struct{}

func (closeHandler) Type() EventType { return EvtClose }

func (closeHandler) Handle(t *Trader, evt EventEnvelope) error {
	p, ok := evt.Payload.(ClosePayload)
	if !ok {
		return payloadError(evt)
	}
	return t.handleClose(p)
}

type refreshHandler struct{}

func (refreshHandler) Type() EventType { return EvtRefresh }

func (refreshHandler) Handle(t *Trader, evt EventEnvelope) error {
	return t.handleRefresh()
}

type pricesHandler struct{}

func (pricesHandler) Type() EventType { return EvtPrices }

func (pricesHandler) Handle(t *Trader, evt EventEnvelope) error {
	p, ok := evt.Payload.(PricesPayload)
	if !ok {
		return payloadError(evt)
	}
	return t.handlePrices(p)
}

type orderResultHandler struct{}

func (orderResultHandler) Type() EventType { return EvtOrderResult }

func (orderResultHandler) Handle(t *Trader, evt EventEnvelope) error {
	p, ok := evt.Payload.(OrderResultPayload)
	if !ok {
		return payloadError(evt)
	}
	return t.handleOrderResult(p)
}
