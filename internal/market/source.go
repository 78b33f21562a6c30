package market

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tradeloop/internal/types"
)

// ErrNoData is returned when a source answers but has no bars for the request.
var ErrNoData = errors.New("market: no data")

// Request identifies one history query. It is also the cache key.
type Request struct {
	Symbol      string
	AssetClass  types.AssetClass
	Period      string
	Granularity string
}

// Normalized lower-cases the period and granularity and upper-cases the symbol.
func (r Request) Normalized() Request {
	return Request{
		Symbol:      strings.ToUpper(strings.TrimSpace(r.Symbol)),
		AssetClass:  r.AssetClass,
		Period:      strings.ToLower(strings.TrimSpace(r.Period)),
		Granularity: strings.ToLower(strings.TrimSpace(r.Granularity)),
	}
}

func (r Request) Key() string {
	n := r.Normalized()
	return fmt.Sprintf("%s|%s|%s|%s", n.Symbol, n.AssetClass, n.Period, n.Granularity)
}

// HistorySource is an upstream market data provider. Consumers never call it
// directly; they go through the cache.
type HistorySource interface {
	History(ctx context.Context, req Request) ([]Candle, error)
}

// Fetcher is what pipeline stages depend on: the cache satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Series, error)
}

// Router sends each request to the source registered for its asset class.
type Router struct {
	sources  map[types.AssetClass]HistorySource
	fallback HistorySource
}

func NewRouter(fallback HistorySource) *Router {
	return &Router{sources: make(map[types.AssetClass]HistorySource), fallback: fallback}
}

func (r *Router) Route(class types.AssetClass, src HistorySource) *Router {
	if src != nil {
		r.sources[class] = src
	}
	return r
}

func (r *Router) History(ctx context.Context, req Request) ([]Candle, error) {
	src, ok := r.sources[req.AssetClass]
	if !ok {
		src = r.fallback
	}
	if src == nil {
		return nil, fmt.Errorf("market: no source for asset class %q", req.AssetClass)
	}
	return src.History(ctx, req)
}
