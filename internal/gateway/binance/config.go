package binance

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultRESTBaseURL = "https://fapi.binance.com"
	defaultHTTPTimeout = 15 * time.Second
)

// Config covers both the kline source and the live broker. Credentials are
// only required for the broker.
type Config struct {
	RESTBaseURL string        `yaml:"rest_base_url"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	APIKey      string        `yaml:"api_key"`
	APISecret   string        `yaml:"api_secret"`

	ProxyEnabled bool   `yaml:"proxy_enabled"`
	RESTProxyURL string `yaml:"rest_proxy_url"`
}

var errNoCredentials = errors.New("binance: live broker needs api_key and api_secret")

func (c Config) withDefaults() Config {
	c.RESTBaseURL = strings.TrimRight(strings.TrimSpace(c.RESTBaseURL), "/")
	if c.RESTBaseURL == "" {
		c.RESTBaseURL = defaultRESTBaseURL
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.APISecret = strings.TrimSpace(c.APISecret)
	c.RESTProxyURL = strings.TrimSpace(c.RESTProxyURL)
	return c
}

func (c Config) requireCredentials() error {
	if c.APIKey == "" || c.APISecret == "" {
		return errNoCredentials
	}
	return nil
}

// httpClient applies the timeout and, when enabled, the REST proxy.
func (c Config) httpClient() (*http.Client, error) {
	client := &http.Client{Timeout: c.HTTPTimeout}
	if !c.ProxyEnabled || c.RESTProxyURL == "" {
		return client, nil
	}
	proxyURL, err := url.Parse(c.RESTProxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REST proxy url: %w", err)
	}
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok || base == nil {
		return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
	}
	transport := base.Clone()
	transport.Proxy = http.ProxyURL(proxyURL)
	client.Transport = transport
	return client, nil
}
