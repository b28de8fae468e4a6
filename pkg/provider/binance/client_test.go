package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpipe/pkg/provider"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	client := NewClient(WithBaseURL(server.URL), WithMinInterval(0))
	return server, client
}

func TestFetchPrice(t *testing.T) {
	server, client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/ticker/24hr", r.URL.Path)
		require.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		fmt.Fprint(w, `{"symbol":"BTCUSDT","lastPrice":"69420.50000000","closeTime":1712345678901}`)
	})
	defer server.Close()

	quote, err := client.FetchPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", quote.Asset)
	assert.InDelta(t, 69420.5, quote.Price, 1e-9)
	assert.Equal(t, "USDT", quote.Currency)
	assert.Equal(t, time.UnixMilli(1712345678901).UTC(), quote.CapturedAt)
}

func TestFetchPriceBadLastPrice(t *testing.T) {
	server, client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"BTCUSDT","lastPrice":"not-a-number","closeTime":1712345678901}`)
	})
	defer server.Close()

	_, err := client.FetchPrice(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.Equal(t, provider.KindMalformed, provider.KindOf(err))
}

func TestFetchPriceUnknownSymbol(t *testing.T) {
	server, client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	})
	defer server.Close()

	_, err := client.FetchPrice(context.Background(), "NOPEUSDT")
	require.Error(t, err)
	assert.Equal(t, provider.KindNotFound, provider.KindOf(err))
}

// Binance answers 418 when a client keeps hammering after a 429; both mean
// back off.
func TestFetchPriceTeapotIsRateLimited(t *testing.T) {
	server, client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, `{"code":-1003,"msg":"Way too much request weight used."}`)
	})
	defer server.Close()

	_, err := client.FetchPrice(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.Equal(t, provider.KindRateLimited, provider.KindOf(err))
	assert.Equal(t, 2*time.Minute, provider.RetryAfterOf(err))
}

func TestFetchCandles(t *testing.T) {
	from := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(2 * time.Hour)

	server, client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/klines", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "BTCUSDT", q.Get("symbol"))
		require.Equal(t, "1h", q.Get("interval"))
		require.Equal(t, fmt.Sprint(from.UnixMilli()), q.Get("startTime"))
		require.Equal(t, fmt.Sprint(to.UnixMilli()-1), q.Get("endTime"))
		require.Equal(t, "1000", q.Get("limit"))
		fmt.Fprintf(w, `[
			[%d,"100.0","102.0","99.0","101.0","12.5",0,"0",0,"0","0","0"],
			[%d,"101.0","103.0","100.0","102.0","8.25",0,"0",0,"0","0","0"]
		]`, from.UnixMilli(), from.Add(time.Hour).UnixMilli())
	})
	defer server.Close()

	candles, err := client.FetchCandles(context.Background(), "BTCUSDT", provider.IntervalHour, from, to)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, from, candles[0].OpenTime)
	assert.InDelta(t, 100.0, candles[0].Open, 1e-9)
	assert.InDelta(t, 102.0, candles[0].High, 1e-9)
	assert.InDelta(t, 99.0, candles[0].Low, 1e-9)
	assert.InDelta(t, 101.0, candles[0].Close, 1e-9)
	assert.InDelta(t, 12.5, candles[0].Volume, 1e-9)
	assert.InDelta(t, 8.25, candles[1].Volume, 1e-9)
}

func TestFetchCandlesDropsOutOfWindowRows(t *testing.T) {
	from := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	server, client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[
			[%d,"1","1","1","1","1",0,"0",0,"0","0","0"],
			[%d,"2","2","2","2","2",0,"0",0,"0","0","0"]
		]`, from.UnixMilli(), to.UnixMilli())
	})
	defer server.Close()

	candles, err := client.FetchCandles(context.Background(), "BTCUSDT", provider.IntervalHour, from, to)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, from, candles[0].OpenTime)
}

func TestFetchCandlesBadRow(t *testing.T) {
	from := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	server, client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[[%d,"100.0","bad","99.0","101.0","12.5"]]`, from.UnixMilli())
	})
	defer server.Close()

	_, err := client.FetchCandles(context.Background(), "BTCUSDT", provider.IntervalHour, from, from.Add(time.Hour))
	require.Error(t, err)
	assert.Equal(t, provider.KindMalformed, provider.KindOf(err))
}

func TestParseKlineShortRow(t *testing.T) {
	_, err := parseKline("BTCUSDT", provider.IntervalHour, nil)
	require.Error(t, err)
}
