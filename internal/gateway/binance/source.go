package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradeloop/internal/market"
	"tradeloop/internal/pkg/symbol"
	"tradeloop/internal/types"

	"github.com/adshao/go-binance/v2/futures"
)

const maxHistoryLimit = 1500

func newClient(cfg Config) (*futures.Client, error) {
	httpClient, err := cfg.httpClient()
	if err != nil {
		return nil, err
	}
	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	client.BaseURL = cfg.RESTBaseURL
	client.HTTPClient = httpClient
	return client, nil
}

// Source serves crypto history from Binance USDⓈ-M futures klines.
type Source struct {
	cfg    Config
	client *futures.Client
	now    func() time.Time
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client, err := newClient(final)
	if err != nil {
		return nil, err
	}
	return &Source{cfg: final, client: client, now: time.Now}, nil
}

// History implements market.HistorySource. The still-forming last bar is dropped.
func (s *Source) History(ctx context.Context, req market.Request) ([]market.Candle, error) {
	sym := symbol.Binance(req.Symbol)
	if sym == "" {
		return nil, fmt.Errorf("binance: symbol is required")
	}
	interval := strings.ToLower(strings.TrimSpace(req.Granularity))
	if interval == "" {
		return nil, fmt.Errorf("binance: granularity is required")
	}
	limit := market.BarsFor(req.Period, interval, maxHistoryLimit)
	kls, err := s.client.NewKlinesService().Symbol(sym).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	out = dropUnclosed(out, s.now())
	if len(out) == 0 {
		return nil, market.ErrNoData
	}
	return out, nil
}

// LastPrice implements broker.Quoter for crypto symbols.
func (s *Source) LastPrice(ctx context.Context, sym string, _ types.AssetClass) (float64, error) {
	bsym := symbol.Binance(sym)
	prices, err := s.client.NewListPricesService().Symbol(bsym).Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range prices {
		if p != nil && strings.EqualFold(p.Symbol, bsym) {
			return parseFloat(p.Price), nil
		}
	}
	return 0, fmt.Errorf("binance: no price for %s", bsym)
}

func dropUnclosed(candles []market.Candle, now time.Time) []market.Candle {
	if n := len(candles); n > 0 && candles[n-1].CloseTime > now.UnixMilli() {
		return candles[:n-1]
	}
	return candles
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
