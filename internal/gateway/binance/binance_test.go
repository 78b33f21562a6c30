package binance

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradeloop/internal/broker"
	"tradeloop/internal/market"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDropUnclosed(t *testing.T) {
	now := time.UnixMilli(10_000)
	in := []market.Candle{{CloseTime: 5_000}, {CloseTime: 9_999}, {CloseTime: 12_000}}
	out := dropUnclosed(in, now)
	assert.Len(t, out, 2)
	assert.Len(t, dropUnclosed(out, now), 2)
	assert.Empty(t, dropUnclosed(nil, now))
}

func TestClassifyAPIErrors(t *testing.T) {
	err := classify(&common.APIError{Code: -2019, Message: "Margin is insufficient."})
	assert.ErrorIs(t, err, broker.ErrRejected)

	netErr := errors.New("connection reset")
	assert.Equal(t, netErr, classify(netErr))
	assert.NoError(t, classify(nil))
}

func TestBrokerNeedsCredentials(t *testing.T) {
	_, err := NewBroker(Config{APIKey: " ", APISecret: "s"})
	assert.ErrorIs(t, err, errNoCredentials)
}

func TestConfigDefaultsAndProxy(t *testing.T) {
	cfg := Config{RESTBaseURL: " https://example.test/ "}.withDefaults()
	assert.Equal(t, "https://example.test", cfg.RESTBaseURL)
	assert.Equal(t, defaultHTTPTimeout, cfg.HTTPTimeout)

	client, err := cfg.httpClient()
	require.NoError(t, err)
	assert.Nil(t, client.Transport)

	cfg.ProxyEnabled, cfg.RESTProxyURL = true, "http://127.0.0.1:8080"
	client, err = cfg.httpClient()
	require.NoError(t, err)
	assert.NotNil(t, client.Transport)

	cfg.RESTProxyURL = "://bad"
	_, err = cfg.httpClient()
	assert.Error(t, err)
}

func TestCancelRejectsMalformedID(t *testing.T) {
	b, err := NewBroker(Config{APIKey: "k", APISecret: "s"})
	require.NoError(t, err)
	assert.ErrorIs(t, b.CancelOrder(context.Background(), "nocolon"), broker.ErrRejected)
	assert.ErrorIs(t, b.CancelOrder(context.Background(), "BTCUSDT:abc"), broker.ErrRejected)
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "0.001", formatFloat(0.001))
	assert.Equal(t, "3", formatFloat(3))
}
