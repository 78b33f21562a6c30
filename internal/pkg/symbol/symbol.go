package symbol

import (
	"strings"

	"tradeloop/internal/types"
)

// Pair is a base/quote split of a crypto or forex symbol.
type Pair struct {
	Base  string
	Quote string
}

func (p Pair) Valid() bool { return p.Base != "" && p.Quote != "" }

// Internal is the canonical "BASE/QUOTE" form used inside the pipeline.
func (p Pair) Internal() string {
	if !p.Valid() {
		return ""
	}
	return p.Base + "/" + p.Quote
}

var cryptoQuotes = []string{"USDT", "BUSD", "USDC", "TUSD", "USD", "BTC", "ETH", "BNB"}

// ParsePair accepts BTC/USDT, BTC-USD, BTCUSDT, EURUSD and EURUSD=X.
func ParsePair(s string) Pair {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Pair{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimSuffix(s, "=X")
	for _, sep := range []string{"/", "-"} {
		if parts := strings.SplitN(s, sep, 2); len(parts) == 2 {
			return Pair{Base: strings.TrimSpace(parts[0]), Quote: strings.TrimSpace(parts[1])}
		}
	}
	if len(s) == 6 && isLetters(s) && !strings.HasSuffix(s, "USDT") {
		// six-letter forex code
		return Pair{Base: s[:3], Quote: s[3:]}
	}
	for _, quote := range cryptoQuotes {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Pair{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Pair{}
}

func isLetters(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Normalize returns the pipeline's canonical symbol for an asset class.
// Equities and options keep their ticker; pairs become BASE/QUOTE.
func Normalize(s string, class types.AssetClass) string {
	raw := strings.ToUpper(strings.TrimSpace(s))
	switch class {
	case types.AssetCrypto, types.AssetForex:
		if p := ParsePair(raw); p.Valid() {
			return p.Internal()
		}
	}
	return raw
}

// NormalizeList normalizes and de-duplicates a universe, keeping order.
func NormalizeList(symbols []string, class types.AssetClass) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm := Normalize(s, class)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

// Binance renders a pair as BTCUSDT. USD quotes map to USDT.
func Binance(s string) string {
	p := ParsePair(s)
	if !p.Valid() {
		return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "/", "")
	}
	if p.Quote == "USD" {
		p.Quote = "USDT"
	}
	return p.Base + p.Quote
}

// Yahoo renders a symbol for the chart API: BTC-USD, EURUSD=X, AAPL.
func Yahoo(s string, class types.AssetClass) string {
	switch class {
	case types.AssetCrypto:
		p := ParsePair(s)
		if !p.Valid() {
			return strings.ToUpper(strings.TrimSpace(s)) + "-USD"
		}
		if strings.HasPrefix(p.Quote, "USD") {
			p.Quote = "USD"
		}
		return p.Base + "-" + p.Quote
	case types.AssetForex:
		p := ParsePair(s)
		if !p.Valid() {
			return strings.ToUpper(strings.TrimSpace(s))
		}
		return p.Base + p.Quote + "=X"
	default:
		return strings.ToUpper(strings.TrimSpace(s))
	}
}
