package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tradeloop/internal/types"

	"github.com/google/uuid"
)

// Paper fills every market order immediately at its reference price and
// keeps stop and limit orders resting until cancelled.
type Paper struct {
	mu       sync.Mutex
	holdings map[string]*Holding
	resting  map[string]OrderRequest
	now      func() time.Time
}

func NewPaper() *Paper {
	return &Paper{holdings: make(map[string]*Holding), resting: make(map[string]OrderRequest), now: time.Now}
}

func (p *Paper) Mode() Mode { return ModePaper }

func (p *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	if err := req.Validate(); err != nil {
		return Fill{}, err
	}
	id := "paper-" + uuid.NewString()
	fill := Fill{OrderID: id, Symbol: req.Symbol, Side: req.Side, Quantity: req.Quantity, Price: req.Price, At: p.now()}
	p.mu.Lock()
	defer p.mu.Unlock()
	if req.Type != types.OrderMarket {
		p.resting[id] = req
		return fill, nil
	}
	if req.Price <= 0 {
		return Fill{}, fmt.Errorf("%w: paper market order needs a reference price", ErrRejected)
	}
	p.apply(req)
	fill.Filled = true
	return fill, nil
}

// apply nets a fill into the holdings.
func (p *Paper) apply(req OrderRequest) {
	signed := req.Quantity
	if req.Side == types.OrderSell {
		signed = -signed
	}
	h := p.holdings[req.Symbol]
	if h == nil {
		h = &Holding{Symbol: req.Symbol, AssetClass: req.AssetClass}
		p.holdings[req.Symbol] = h
	}
	cur := h.Quantity
	if h.Side == types.SideShort {
		cur = -cur
	}
	next := cur + signed
	switch {
	case next == 0:
		delete(p.holdings, req.Symbol)
		return
	case cur == 0 || (cur > 0) != (next > 0):
		h.EntryPrice = req.Price
	case (cur > 0) == (signed > 0):
		h.EntryPrice = (h.EntryPrice*abs(cur) + req.Price*abs(signed)) / abs(next)
	}
	h.Side = types.SideLong
	if next < 0 {
		h.Side = types.SideShort
	}
	h.Quantity = abs(next)
	h.MarkPrice = req.Price
}

func (p *Paper) GetPositions(ctx context.Context) ([]Holding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Holding, 0, len(p.holdings))
	for _, h := range p.holdings {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (p *Paper) CancelOrder(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.resting[id]; !ok {
		return fmt.Errorf("paper: unknown order %s", id)
	}
	delete(p.resting, id)
	return nil
}

// Resting returns the open stop and limit orders keyed by ID.
func (p *Paper) Resting() map[string]OrderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]OrderRequest, len(p.resting))
	for k, v := range p.resting {
		out[k] = v
	}
	return out
}

// Seed installs holdings directly, e.g. to mirror state restored from disk.
func (p *Paper) Seed(h ...Holding) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range h {
		v := h[i]
		p.holdings[v.Symbol] = &v
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
