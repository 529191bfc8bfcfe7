package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-api/pkg/exchange"
)

var testClock = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }

func newTestClient(t *testing.T, handler http.Handler, opts ...ClientOption) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]ClientOption{
		WithBaseURL(server.URL),
		WithClock(testClock),
	}, opts...)
	client, err := NewClient("test-key", "test-secret", false, opts...)
	require.NoError(t, err, "client should construct")
	return client
}

func writeEnvelope(w http.ResponseWriter, result any) {
	raw, _ := json.Marshal(result)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"retCode": 0,
		"retMsg":  "OK",
		"result":  json.RawMessage(raw),
	})
}

func expectedSignature(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(timestamp + "test-key" + "5000" + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient("", "secret", false)
	assert.Error(t, err, "missing api key should be rejected")
	_, err = NewClient("key", "", false)
	assert.Error(t, err, "missing api secret should be rejected")
}

func TestSignedGetCarriesAuthHeaders(t *testing.T) {
	var seen *http.Request
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Clone(context.Background())
		writeEnvelope(w, map[string]any{"list": []map[string]any{{
			"totalEquity":           "10100",
			"totalAvailableBalance": "9500.5",
		}}})
	}))

	_, err := client.GetBalance(context.Background())
	require.NoError(t, err, "balance fetch should succeed")
	require.NotNil(t, seen, "server should be hit")

	assert.Equal(t, "/v5/account/wallet-balance", seen.URL.Path, "path should match")
	assert.Equal(t, "UNIFIED", seen.URL.Query().Get("accountType"), "unified account is queried")
	assert.Equal(t, "test-key", seen.Header.Get("X-BAPI-API-KEY"), "api key header required")
	assert.Equal(t, "5000", seen.Header.Get("X-BAPI-RECV-WINDOW"), "default recv window is 5000ms")

	timestamp := seen.Header.Get("X-BAPI-TIMESTAMP")
	assert.Equal(t, fmt.Sprintf("%d", testClock().UnixMilli()), timestamp, "timestamp comes from the clock")
	assert.Equal(t, expectedSignature(timestamp, seen.URL.RawQuery), seen.Header.Get("X-BAPI-SIGN"),
		"GET signature covers the encoded query")
}

func TestGetPrice(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/tickers", r.URL.Path, "tickers endpoint")
		assert.Equal(t, "linear", r.URL.Query().Get("category"), "category should default to linear")
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"), "symbol should pass through")
		assert.Empty(t, r.Header.Get("X-BAPI-API-KEY"), "market data requests are unsigned")
		writeEnvelope(w, map[string]any{"list": []map[string]any{{
			"symbol":    "BTCUSDT",
			"lastPrice": "20000.5",
		}}})
	}))

	price, err := client.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err, "price fetch should succeed")
	assert.InDelta(t, 20000.5, price, 1e-9, "last price should be parsed")
}

func TestGetPriceEmptyTicker(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]any{"list": []map[string]any{}})
	}))

	_, err := client.GetPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, exchange.ErrPriceUnavailable, "empty ticker list should surface the sentinel")
}

func TestGetVolatilityComputesATR(t *testing.T) {
	// Rows are [start, open, high, low, close, ...], newest first.
	klines := [][]string{
		{"3", "105", "108", "98", "100"},
		{"2", "100", "110", "100", "105"},
		{"1", "99", "101", "99", "100"},
	}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v5/market/kline", r.URL.Path, "kline endpoint")
		assert.Equal(t, "60", r.URL.Query().Get("interval"), "hourly candles")
		assert.Equal(t, "15", r.URL.Query().Get("limit"), "period plus one candles")
		writeEnvelope(w, map[string]any{"list": klines})
	}))

	// TR per step: max(10, |110-100|, |100-100|)=10 then max(10, |108-105|, |98-105|)=10.
	atr, err := client.GetVolatility(context.Background(), "BTCUSDT")
	require.NoError(t, err, "volatility should compute")
	assert.InDelta(t, 10, atr, 1e-9, "ATR should average the true ranges")
}

func TestGetVolatilityFallsBackToPriceFraction(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/market/kline":
			writeEnvelope(w, map[string]any{"list": [][]string{}})
		case "/v5/market/tickers":
			writeEnvelope(w, map[string]any{"list": []map[string]any{{
				"symbol":    "BTCUSDT",
				"lastPrice": "20000",
			}}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	atr, err := client.GetVolatility(context.Background(), "BTCUSDT")
	require.NoError(t, err, "fallback should succeed")
	assert.InDelta(t, 100, atr, 1e-9, "fallback is a fixed fraction of price")
}

func TestGetBalanceUSDTCoinFallback(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]any{"list": []map[string]any{{
			"totalEquity":           "0",
			"totalAvailableBalance": "0",
			"coin": []map[string]any{
				{"coin": "BTC", "walletBalance": "1", "availableToWithdraw": "1"},
				{"coin": "USDT", "walletBalance": "130", "availableToWithdraw": "123.4"},
			},
		}}})
	}))

	balance, err := client.GetBalance(context.Background())
	require.NoError(t, err, "balance fetch should succeed")
	assert.InDelta(t, 123.4, balance.Available, 1e-9, "USDT coin row should back-fill available")
	assert.InDelta(t, 130, balance.Total, 1e-9, "USDT wallet balance should back-fill total")
}

func TestGetPositionFlatAndLive(t *testing.T) {
	live := false
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/position/list", r.URL.Path, "position endpoint")
		if !live {
			writeEnvelope(w, map[string]any{"list": []map[string]any{{
				"symbol": "BTCUSDT", "side": "None", "size": "0",
			}}})
			return
		}
		writeEnvelope(w, map[string]any{"list": []map[string]any{{
			"symbol":        "BTCUSDT",
			"side":          "Buy",
			"size":          "0.04",
			"avgPrice":      "20000",
			"unrealisedPnl": "12.5",
			"leverage":      "10",
		}}})
	}))

	flat, err := client.GetPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err, "flat position is not an error")
	assert.True(t, flat.IsFlat(), "side None rows should read as flat")

	live = true
	position, err := client.GetPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err, "position fetch should succeed")
	assert.Equal(t, exchange.SideBuy, position.Side, "side should parse")
	assert.InDelta(t, 0.04, position.Size, 1e-9, "size should parse")
	assert.InDelta(t, 20000, position.EntryPrice, 1e-9, "entry price should parse")
	assert.Equal(t, 10, position.Leverage, "leverage should parse")
}

func TestPlaceOrderRequestShape(t *testing.T) {
	var body map[string]any
	var rawBody []byte
	var timestamp, sig string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v5/order/create", r.URL.Path, "order endpoint")
		timestamp = r.Header.Get("X-BAPI-TIMESTAMP")
		sig = r.Header.Get("X-BAPI-SIGN")
		var err error
		rawBody, err = io.ReadAll(r.Body)
		require.NoError(t, err, "body should be readable")
		require.NoError(t, json.Unmarshal(rawBody, &body), "body should be JSON")
		writeEnvelope(w, map[string]any{"orderId": "order-123"})
	}))

	ack, err := client.PlaceOrder(context.Background(), exchange.Order{
		Instrument: "BTCUSDT",
		Side:       exchange.SideBuy,
		Qty:        0.040,
		StopLoss:   19800,
		TakeProfit: 20300,
	})
	require.NoError(t, err, "order should succeed")
	assert.Equal(t, "order-123", ack.OrderID, "order id should be returned")

	assert.Equal(t, "linear", body["category"], "category should be set")
	assert.Equal(t, "BTCUSDT", body["symbol"], "symbol should be set")
	assert.Equal(t, "Buy", body["side"], "side should be set")
	assert.Equal(t, "Market", body["orderType"], "orders are market by default")
	assert.Equal(t, "0.04", body["qty"], "qty should drop trailing zeros")
	assert.Equal(t, "19800", body["stopLoss"], "stop loss rides on the order")
	assert.Equal(t, "20300", body["takeProfit"], "take profit rides on the order")
	assert.NotContains(t, body, "timeInForce", "market entries carry no time in force")

	assert.Equal(t, expectedSignature(timestamp, string(rawBody)), sig,
		"POST signature covers the JSON body")
}

func TestPlaceOrderReduceOnly(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body), "body should be JSON")
		writeEnvelope(w, map[string]any{"orderId": "order-124"})
	}))

	_, err := client.PlaceOrder(context.Background(), exchange.Order{
		Instrument: "BTCUSDT",
		Side:       exchange.SideSell,
		Qty:        0.02,
		ReduceOnly: true,
	})
	require.NoError(t, err, "reduce-only order should succeed")
	assert.Equal(t, true, body["reduceOnly"], "reduce-only flag should be set")
	assert.Equal(t, "IOC", body["timeInForce"], "reduce-only orders are immediate-or-cancel")
}

func TestClosePositionHalvesLong(t *testing.T) {
	var orderBody map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/position/list":
			writeEnvelope(w, map[string]any{"list": []map[string]any{{
				"symbol": "BTCUSDT", "side": "Buy", "size": "0.04", "avgPrice": "20000",
			}}})
		case "/v5/order/create":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&orderBody), "body should be JSON")
			writeEnvelope(w, map[string]any{"orderId": "order-125"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	require.NoError(t, client.ClosePosition(context.Background(), "BTCUSDT", 50), "close should succeed")
	assert.Equal(t, "Sell", orderBody["side"], "closing a long means selling")
	assert.Equal(t, "0.02", orderBody["qty"], "half the position size")
	assert.Equal(t, true, orderBody["reduceOnly"], "close orders are reduce-only")
}

func TestClosePositionSnapsToQtyStep(t *testing.T) {
	size := "0.05"
	var orderBody map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/position/list":
			writeEnvelope(w, map[string]any{"list": []map[string]any{{
				"symbol": "BTCUSDT", "side": "Buy", "size": size, "avgPrice": "20000",
			}}})
		case "/v5/order/create":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&orderBody), "body should be JSON")
			writeEnvelope(w, map[string]any{"orderId": "order-126"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}), WithQtySteps(map[string]float64{"btcusdt": 0.001}))

	require.NoError(t, client.ClosePosition(context.Background(), "BTCUSDT", 33), "close should succeed")
	assert.Equal(t, "0.016", orderBody["qty"], "off-step slice floors to the step")

	size = "0.0009"
	require.NoError(t, client.ClosePosition(context.Background(), "BTCUSDT", 50), "dust close should succeed")
	assert.Equal(t, "0.0009", orderBody["qty"], "a slice below one step closes the whole position")
}

func TestClosePositionFlatIsNoop(t *testing.T) {
	orders := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/position/list":
			writeEnvelope(w, map[string]any{"list": []map[string]any{}})
		case "/v5/order/create":
			orders++
			writeEnvelope(w, map[string]any{"orderId": "unexpected"})
		}
	}))

	require.NoError(t, client.ClosePosition(context.Background(), "BTCUSDT", 100), "flat close is a no-op")
	assert.Zero(t, orders, "no order should be placed for a flat position")
}

func TestSetLeverageToleratesNotModified(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v5/position/set-leverage", r.URL.Path, "leverage endpoint")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body), "body should be JSON")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"retCode": 110043,
			"retMsg":  "leverage not modified",
			"result":  map[string]any{},
		})
	}))

	err := client.SetLeverage(context.Background(), "BTCUSDT", 5)
	assert.NoError(t, err, "unchanged leverage is not a failure")
	assert.Equal(t, "5", body["buyLeverage"], "both directions carry the leverage")
	assert.Equal(t, "5", body["sellLeverage"], "both directions carry the leverage")
}

func TestRetCodeClassification(t *testing.T) {
	retCode := 10006
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"retCode": retCode,
			"retMsg":  "venue says no",
			"result":  map[string]any{},
		})
	}))

	_, err := client.PlaceOrder(context.Background(), exchange.Order{
		Instrument: "BTCUSDT", Side: exchange.SideBuy, Qty: 0.01,
	})
	assert.ErrorIs(t, err, exchange.ErrRateLimited, "retCode 10006 maps to rate limiting")

	retCode = 110007
	_, err = client.PlaceOrder(context.Background(), exchange.Order{
		Instrument: "BTCUSDT", Side: exchange.SideBuy, Qty: 0.01,
	})
	require.True(t, exchange.IsRejected(err), "nonzero retCode maps to a rejection")
	var rejected *exchange.RejectedError
	require.ErrorAs(t, err, &rejected, "rejection should carry the venue code")
	assert.Equal(t, 110007, rejected.Code, "venue code should be preserved")
	assert.Equal(t, "venue says no", rejected.Reason, "venue message should be preserved")
}

func TestHTTPTooManyRequests(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.PlaceOrder(context.Background(), exchange.Order{
		Instrument: "BTCUSDT", Side: exchange.SideBuy, Qty: 0.01,
	})
	assert.ErrorIs(t, err, exchange.ErrRateLimited, "HTTP 429 maps to rate limiting")
}

func TestFormatQty(t *testing.T) {
	assert.Equal(t, "0.04", formatQty(0.04), "trailing zeros trimmed")
	assert.Equal(t, "1", formatQty(1.0), "integer quantities lose the point")
	assert.Equal(t, "0.0001", formatQty(0.0001), "small quantities keep precision")
}
