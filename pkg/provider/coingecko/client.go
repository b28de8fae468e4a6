// Package coingecko implements the market data client for the CoinGecko
// public API. Assets are addressed by CoinGecko coin IDs ("bitcoin",
// "ethereum"). The free OHLC endpoint does not report volume; candles carry
// volume 0.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"marketpipe/pkg/provider"
)

const (
	defaultBaseURL     = "https://api.coingecko.com/api/v3"
	defaultHTTPTimeout = 30 * time.Second
	defaultVsCurrency  = "usd"
	// Free tier allows roughly 10 calls/min; stay well under it.
	defaultMinInterval = 6 * time.Second

	userAgent = "marketpipe/1.0"
)

var intervalParams = map[provider.Interval]string{
	provider.IntervalHour: "hourly",
	provider.IntervalDay:  "daily",
}

// Client wraps the CoinGecko REST endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	vsCurrency string
	httpClient *http.Client
	pacer      *provider.Pacer
}

// Option configures a new Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL overrides the default API URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithAPIKey sets the demo API key sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithVsCurrency sets the quote currency for prices and candles.
func WithVsCurrency(cur string) Option {
	return func(c *Client) {
		if cur != "" {
			c.vsCurrency = cur
		}
	}
}

// WithMinInterval overrides the minimum spacing between requests.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) { c.pacer = provider.NewPacer(d) }
}

// NewClient constructs a CoinGecko client.
func NewClient(opts ...Option) *Client {
	client := &Client{
		baseURL:    defaultBaseURL,
		vsCurrency: defaultVsCurrency,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		pacer:      provider.NewPacer(defaultMinInterval),
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

// FetchPrice returns the latest spot price. CapturedAt is the provider's
// last_updated_at, so repeated polls of an unchanged quote collapse onto the
// same snapshot row.
func (c *Client) FetchPrice(ctx context.Context, asset string) (provider.PriceQuote, error) {
	const op = "coingecko.fetch_price"

	params := url.Values{}
	params.Set("ids", asset)
	params.Set("vs_currencies", c.vsCurrency)
	params.Set("include_last_updated_at", "true")

	body, err := c.get(ctx, op, "/simple/price", params)
	if err != nil {
		return provider.PriceQuote{}, err
	}

	var payload map[string]map[string]float64
	if err := json.Unmarshal(body, &payload); err != nil {
		logx.WithContext(ctx).Errorf("%s: undecodable payload for %s: %s", op, asset, string(body))
		return provider.PriceQuote{}, provider.NewError(provider.KindMalformed, op, err)
	}

	// CoinGecko answers 200 with an empty object for unknown IDs.
	quote, ok := payload[asset]
	if !ok {
		return provider.PriceQuote{}, provider.NewError(provider.KindNotFound, op,
			fmt.Errorf("no quote for id %q", asset))
	}
	price, ok := quote[c.vsCurrency]
	if !ok {
		logx.WithContext(ctx).Errorf("%s: missing %s price for %s: %s", op, c.vsCurrency, asset, string(body))
		return provider.PriceQuote{}, provider.NewError(provider.KindMalformed, op,
			fmt.Errorf("no %s price for id %q", c.vsCurrency, asset))
	}
	updatedAt, ok := quote["last_updated_at"]
	if !ok {
		return provider.PriceQuote{}, provider.NewError(provider.KindMalformed, op,
			fmt.Errorf("no last_updated_at for id %q", asset))
	}

	return provider.PriceQuote{
		Asset:      asset,
		Price:      price,
		Currency:   c.vsCurrency,
		CapturedAt: time.Unix(int64(updatedAt), 0).UTC(),
	}, nil
}

// FetchCandles returns OHLC candles for [from, to) via the ohlc/range
// endpoint. Only hourly and daily granularities are served by CoinGecko.
func (c *Client) FetchCandles(ctx context.Context, asset string, interval provider.Interval, from, to time.Time) ([]provider.Candle, error) {
	const op = "coingecko.fetch_candles"

	granularity, ok := intervalParams[interval]
	if !ok {
		return nil, provider.NewError(provider.KindMalformed, op,
			fmt.Errorf("unsupported interval %q", interval))
	}

	params := url.Values{}
	params.Set("vs_currency", c.vsCurrency)
	params.Set("from", strconv.FormatInt(from.Unix(), 10))
	params.Set("to", strconv.FormatInt(to.Unix(), 10))
	params.Set("interval", granularity)

	body, err := c.get(ctx, op, "/coins/"+url.PathEscape(asset)+"/ohlc/range", params)
	if err != nil {
		return nil, err
	}

	var rows [][]float64
	if err := json.Unmarshal(body, &rows); err != nil {
		logx.WithContext(ctx).Errorf("%s: undecodable payload for %s: %s", op, asset, string(body))
		return nil, provider.NewError(provider.KindMalformed, op, err)
	}

	candles := make([]provider.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			logx.WithContext(ctx).Errorf("%s: short ohlc row for %s: %v", op, asset, row)
			return nil, provider.NewError(provider.KindMalformed, op,
				fmt.Errorf("ohlc row has %d fields, want 5", len(row)))
		}
		openTime := time.UnixMilli(int64(row[0])).UTC()
		if openTime.Before(from) || !openTime.Before(to) {
			continue
		}
		candles = append(candles, provider.Candle{
			Asset:    asset,
			Interval: interval,
			OpenTime: openTime,
			Open:     row[1],
			High:     row[2],
			Low:      row[3],
			Close:    row[4],
		})
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].OpenTime.Before(candles[j].OpenTime)
	})
	return candles, nil
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values) ([]byte, error) {
	if err := c.pacer.Reserve(ctx, op); err != nil {
		return nil, err
	}

	if c.apiKey != "" {
		params.Set("x_cg_demo_api_key", c.apiKey)
	}
	fullURL := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, provider.NewError(provider.KindTransient, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.NewError(provider.KindTransient, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, provider.ErrorFromStatus(op, resp.StatusCode, resp.Header, body)
	}
	return body, nil
}
