package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseIntervalDuration(t *testing.T) {
	tests := map[string]time.Duration{
		"15m": 15 * time.Minute,
		"1h":  time.Hour,
		"1d":  24 * time.Hour,
		"1wk": 7 * 24 * time.Hour,
		"6mo": 180 * 24 * time.Hour,
		"1y":  365 * 24 * time.Hour,
	}
	for in, want := range tests {
		got, ok := ParseIntervalDuration(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseIntervalDuration("x")
	assert.False(t, ok)
	_, ok = ParseIntervalDuration("0d")
	assert.False(t, ok)
}

func TestIntradayAndBars(t *testing.T) {
	assert.True(t, Intraday("5m"))
	assert.True(t, Intraday("1h"))
	assert.False(t, Intraday("1d"))
	assert.False(t, Intraday("bogus"))

	assert.Equal(t, 365, BarsFor("1y", "1d", 1500))
	assert.Equal(t, 1500, BarsFor("1y", "1h", 1500))
	assert.Equal(t, 200, BarsFor("?", "1d", 200))
}

func TestSeriesCloneDoesNotAlias(t *testing.T) {
	s := Series{Candles: []Candle{{Close: 1}, {Close: 2}}}
	c := s.Clone()
	c.Candles[0].Close = 99
	assert.Equal(t, 1.0, s.Candles[0].Close)
	last, ok := s.Last()
	assert.True(t, ok)
	assert.Equal(t, 2.0, last.Close)
	assert.Equal(t, []float64{1, 2}, s.Closes())
}
