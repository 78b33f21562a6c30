// Package yahoo reads equity and forex history from the public chart API.
package yahoo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tradeloop/internal/market"
	"tradeloop/internal/pkg/retry"
	"tradeloop/internal/pkg/symbol"
	"tradeloop/internal/types"

	"github.com/tidwall/gjson"
)

type Config struct {
	BaseURL     string        `yaml:"base_url"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	UserAgent   string        `yaml:"user_agent"`
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = "https://query1.finance.yahoo.com"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (tradeloop)"
	}
	return c
}

// Source implements market.HistorySource and broker.Quoter.
type Source struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Source {
	cfg = cfg.withDefaults()
	return &Source{cfg: cfg, http: &http.Client{Timeout: cfg.HTTPTimeout}}
}

func (s *Source) History(ctx context.Context, req market.Request) ([]market.Candle, error) {
	body, err := s.chart(ctx, symbol.Yahoo(req.Symbol, req.AssetClass), req.Period, req.Granularity)
	if err != nil {
		return nil, err
	}
	return parseCandles(body)
}

func (s *Source) LastPrice(ctx context.Context, sym string, class types.AssetClass) (float64, error) {
	body, err := s.chart(ctx, symbol.Yahoo(sym, class), "1d", "1m")
	if err != nil {
		return 0, err
	}
	px := gjson.GetBytes(body, "chart.result.0.meta.regularMarketPrice").Float()
	if px <= 0 {
		return 0, fmt.Errorf("yahoo: no price for %s", sym)
	}
	return px, nil
}

func (s *Source) chart(ctx context.Context, ticker, period, granularity string) ([]byte, error) {
	if ticker == "" {
		return nil, retry.Permanent(fmt.Errorf("yahoo: symbol is required"))
	}
	q := url.Values{}
	q.Set("range", yahooRange(period))
	q.Set("interval", yahooInterval(granularity))
	q.Set("includePrePost", "false")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", s.cfg.BaseURL, url.PathEscape(ticker), q.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	httpReq.Header.Set("User-Agent", s.cfg.UserAgent)
	resp, err := s.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("yahoo: %s %s: %s", ticker, resp.Status, gjson.GetBytes(body, "chart.error.description").String())
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest {
			return nil, retry.Permanent(fmt.Errorf("%w: %v", market.ErrNoData, err))
		}
		return nil, err
	}
	if e := gjson.GetBytes(body, "chart.error.description"); e.Exists() && e.String() != "" {
		return nil, retry.Permanent(fmt.Errorf("yahoo: %s: %s", ticker, e.String()))
	}
	return body, nil
}

// parseCandles zips the chart arrays, skipping bars with null prices.
func parseCandles(body []byte) ([]market.Candle, error) {
	res := gjson.GetBytes(body, "chart.result.0")
	if !res.Exists() {
		return nil, market.ErrNoData
	}
	ts := res.Get("timestamp").Array()
	quote := res.Get("indicators.quote.0")
	opens := quote.Get("open").Array()
	highs := quote.Get("high").Array()
	lows := quote.Get("low").Array()
	closes := quote.Get("close").Array()
	vols := quote.Get("volume").Array()
	step, _ := market.ParseIntervalDuration(res.Get("meta.dataGranularity").String())

	out := make([]market.Candle, 0, len(ts))
	for i := range ts {
		if i >= len(closes) || i >= len(opens) || i >= len(highs) || i >= len(lows) {
			break
		}
		if closes[i].Type == gjson.Null || opens[i].Type == gjson.Null {
			continue
		}
		open := ts[i].Int() * 1000
		c := market.Candle{
			OpenTime:  open,
			CloseTime: open + step.Milliseconds() - 1,
			Open:      opens[i].Float(),
			High:      highs[i].Float(),
			Low:       lows[i].Float(),
			Close:     closes[i].Float(),
		}
		if i < len(vols) {
			c.Volume = vols[i].Float()
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, market.ErrNoData
	}
	return out, nil
}

// yahooRange maps our period notation onto the chart API's.
func yahooRange(period string) string {
	p := strings.ToLower(strings.TrimSpace(period))
	switch {
	case p == "":
		return "1y"
	case strings.HasSuffix(p, "w"):
		return strings.TrimSuffix(p, "w") + "wk"
	}
	return p
}

func yahooInterval(gran string) string {
	g := strings.ToLower(strings.TrimSpace(gran))
	switch {
	case g == "":
		return "1d"
	case g == "1w":
		return "1wk"
	case strings.HasSuffix(g, "h"):
		if g == "1h" {
			return "60m"
		}
	}
	return g
}
