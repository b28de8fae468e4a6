// Package binance implements the market data client for the Binance spot
// REST API. Assets are addressed by full Binance symbols ("BTCUSDT").
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"marketpipe/pkg/provider"
)

const (
	defaultBaseURL     = "https://api.binance.com"
	defaultHTTPTimeout = 10 * time.Second
	defaultVsCurrency  = "USDT"
	// Spot REST weight limits allow far more, but there is no reason to
	// hammer the endpoint from a batch job.
	defaultMinInterval = 200 * time.Millisecond

	maxKlineLimit = 1000

	// Binance error code for an unknown symbol.
	codeInvalidSymbol = -1121
)

// Client wraps the Binance spot REST endpoints.
type Client struct {
	baseURL    string
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

// WithVsCurrency sets the quote currency label recorded on snapshots.
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

// NewClient constructs a Binance client.
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

type ticker24h struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	CloseTime int64  `json:"closeTime"`
}

// FetchPrice returns the latest spot price from the 24hr ticker, whose
// closeTime is the provider-reported observation time.
func (c *Client) FetchPrice(ctx context.Context, asset string) (provider.PriceQuote, error) {
	const op = "binance.fetch_price"

	params := url.Values{}
	params.Set("symbol", asset)

	body, err := c.get(ctx, op, "/api/v3/ticker/24hr", params)
	if err != nil {
		return provider.PriceQuote{}, err
	}

	var payload ticker24h
	if err := json.Unmarshal(body, &payload); err != nil {
		logx.WithContext(ctx).Errorf("%s: undecodable payload for %s: %s", op, asset, string(body))
		return provider.PriceQuote{}, provider.NewError(provider.KindMalformed, op, err)
	}
	price, err := strconv.ParseFloat(payload.LastPrice, 64)
	if err != nil {
		return provider.PriceQuote{}, provider.NewError(provider.KindMalformed, op,
			fmt.Errorf("lastPrice %q: %w", payload.LastPrice, err))
	}
	if payload.CloseTime <= 0 {
		return provider.PriceQuote{}, provider.NewError(provider.KindMalformed, op,
			fmt.Errorf("closeTime missing for %q", asset))
	}

	return provider.PriceQuote{
		Asset:      asset,
		Price:      price,
		Currency:   c.vsCurrency,
		CapturedAt: time.UnixMilli(payload.CloseTime).UTC(),
	}, nil
}

// FetchCandles returns klines with open times in [from, to), ascending.
func (c *Client) FetchCandles(ctx context.Context, asset string, interval provider.Interval, from, to time.Time) ([]provider.Candle, error) {
	const op = "binance.fetch_candles"

	if _, ok := interval.Duration(); !ok {
		return nil, provider.NewError(provider.KindMalformed, op,
			fmt.Errorf("unsupported interval %q", interval))
	}

	params := url.Values{}
	params.Set("symbol", asset)
	params.Set("interval", string(interval))
	params.Set("startTime", strconv.FormatInt(from.UnixMilli(), 10))
	// endTime is inclusive on the Binance side; step back one candle open.
	params.Set("endTime", strconv.FormatInt(to.UnixMilli()-1, 10))
	params.Set("limit", strconv.Itoa(maxKlineLimit))

	body, err := c.get(ctx, op, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		logx.WithContext(ctx).Errorf("%s: undecodable payload for %s: %s", op, asset, string(body))
		return nil, provider.NewError(provider.KindMalformed, op, err)
	}

	candles := make([]provider.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := parseKline(asset, interval, row)
		if err != nil {
			logx.WithContext(ctx).Errorf("%s: bad kline row for %s: %v", op, asset, err)
			return nil, provider.NewError(provider.KindMalformed, op, err)
		}
		if candle.OpenTime.Before(from) || !candle.OpenTime.Before(to) {
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// parseKline decodes the 12-element kline array; open time is a number,
// prices and volume are strings.
func parseKline(asset string, interval provider.Interval, row []json.RawMessage) (provider.Candle, error) {
	if len(row) < 6 {
		return provider.Candle{}, fmt.Errorf("kline row has %d fields, want >= 6", len(row))
	}

	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return provider.Candle{}, fmt.Errorf("open time: %w", err)
	}

	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		var raw string
		if err := json.Unmarshal(row[i], &raw); err != nil {
			return provider.Candle{}, fmt.Errorf("field %d: %w", i, err)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return provider.Candle{}, fmt.Errorf("field %d %q: %w", i, raw, err)
		}
		fields[i-1] = v
	}

	return provider.Candle{
		Asset:    asset,
		Interval: interval,
		OpenTime: time.UnixMilli(openMs).UTC(),
		Open:     fields[0],
		High:     fields[1],
		Low:      fields[2],
		Close:    fields[3],
		Volume:   fields[4],
	}, nil
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values) ([]byte, error) {
	if err := c.pacer.Reserve(ctx, op); err != nil {
		return nil, err
	}

	fullURL := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
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
		return nil, classifyError(op, resp, body)
	}
	return body, nil
}

// classifyError folds Binance specifics (418 IP ban, -1121 invalid symbol)
// into the shared taxonomy.
func classifyError(op string, resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusTeapot {
		return provider.ErrorFromStatus(op, http.StatusTooManyRequests, resp.Header, body)
	}
	if resp.StatusCode == http.StatusBadRequest {
		var detail apiError
		if json.Unmarshal(body, &detail) == nil && detail.Code == codeInvalidSymbol {
			return provider.NewError(provider.KindNotFound, op, fmt.Errorf("%s", detail.Msg))
		}
	}
	return provider.ErrorFromStatus(op, resp.StatusCode, resp.Header, body)
}
