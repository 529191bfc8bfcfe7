package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"relay-api/pkg/exchange"
)

// GetPrice returns the last traded price for the instrument.
func (c *Client) GetPrice(ctx context.Context, instrument string) (float64, error) {
	query := url.Values{}
	query.Set("category", c.category)
	query.Set("symbol", instrument)

	var envelope apiResponse
	if err := c.doGet(ctx, "/v5/market/tickers", query, false, &envelope); err != nil {
		return 0, fmt.Errorf("%w: %w", exchange.ErrPriceUnavailable, err)
	}
	if err := checkRetCode("/v5/market/tickers", envelope.RetCode, envelope.RetMsg); err != nil {
		return 0, fmt.Errorf("%w: %w", exchange.ErrPriceUnavailable, err)
	}

	var result tickerResult
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return 0, fmt.Errorf("%w: decode tickers: %w", exchange.ErrPriceUnavailable, err)
	}
	if len(result.List) == 0 {
		return 0, fmt.Errorf("%w: no ticker for %s", exchange.ErrPriceUnavailable, instrument)
	}
	price := parseFloat(result.List[0].LastPrice)
	if price <= 0 {
		return 0, fmt.Errorf("%w: non-positive price for %s", exchange.ErrPriceUnavailable, instrument)
	}
	return price, nil
}

// GetVolatility returns an average-true-range estimate over recent hourly
// candles. When candle data cannot be fetched it falls back to a fixed
// fraction of the current price so sizing can still proceed.
func (c *Client) GetVolatility(ctx context.Context, instrument string) (float64, error) {
	atr, err := c.computeATR(ctx, instrument)
	if err == nil && atr > 0 {
		return atr, nil
	}

	price, priceErr := c.GetPrice(ctx, instrument)
	if priceErr != nil {
		if err == nil {
			err = priceErr
		}
		return 0, fmt.Errorf("%w: %w", exchange.ErrVolatilityUnavailable, err)
	}
	return price * atrFallbackFrac, nil
}

func (c *Client) computeATR(ctx context.Context, instrument string) (float64, error) {
	query := url.Values{}
	query.Set("category", c.category)
	query.Set("symbol", instrument)
	query.Set("interval", atrInterval)
	query.Set("limit", strconv.Itoa(atrPeriod+1))

	var envelope apiResponse
	if err := c.doGet(ctx, "/v5/market/kline", query, false, &envelope); err != nil {
		return 0, err
	}
	if err := checkRetCode("/v5/market/kline", envelope.RetCode, envelope.RetMsg); err != nil {
		return 0, err
	}

	var result klineResult
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return 0, fmt.Errorf("bybit: decode kline: %w", err)
	}
	if len(result.List) < 2 {
		return 0, fmt.Errorf("bybit: not enough candles for %s", instrument)
	}

	// Candles arrive newest first; walk oldest to newest.
	type candle struct{ high, low, close float64 }
	candles := make([]candle, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 5 {
			continue
		}
		candles = append(candles, candle{
			high:  parseFloat(row[2]),
			low:   parseFloat(row[3]),
			close: parseFloat(row[4]),
		})
	}
	if len(candles) < 2 {
		return 0, fmt.Errorf("bybit: not enough candles for %s", instrument)
	}

	var sum float64
	for i := 1; i < len(candles); i++ {
		prevClose := candles[i-1].close
		tr := math.Max(candles[i].high-candles[i].low,
			math.Max(math.Abs(candles[i].high-prevClose), math.Abs(candles[i].low-prevClose)))
		sum += tr
	}
	return sum / float64(len(candles)-1), nil
}
