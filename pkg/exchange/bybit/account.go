package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"relay-api/pkg/exchange"
)

// GetBalance fetches the unified account wallet balance.
func (c *Client) GetBalance(ctx context.Context) (*exchange.Balance, error) {
	query := url.Values{}
	query.Set("accountType", "UNIFIED")

	var envelope apiResponse
	if err := c.doGet(ctx, "/v5/account/wallet-balance", query, true, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", exchange.ErrBalanceUnavailable, err)
	}
	if err := checkRetCode("/v5/account/wallet-balance", envelope.RetCode, envelope.RetMsg); err != nil {
		return nil, fmt.Errorf("%w: %w", exchange.ErrBalanceUnavailable, err)
	}

	var result walletBalanceResult
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return nil, fmt.Errorf("%w: decode wallet balance: %w", exchange.ErrBalanceUnavailable, err)
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("%w: empty wallet balance", exchange.ErrBalanceUnavailable)
	}

	account := result.List[0]
	balance := &exchange.Balance{
		Available: parseFloat(account.TotalAvailableBalance),
		Total:     parseFloat(account.TotalEquity),
	}
	if balance.Available == 0 {
		for _, coin := range account.Coin {
			if coin.Coin == "USDT" {
				balance.Available = parseFloat(coin.AvailableToTrade)
				if balance.Total == 0 {
					balance.Total = parseFloat(coin.WalletBalance)
				}
			}
		}
	}
	return balance, nil
}

// GetPosition fetches the live position for one instrument. A flat position
// is returned as Size 0 with an empty side, never as an error.
func (c *Client) GetPosition(ctx context.Context, instrument string) (*exchange.Position, error) {
	query := url.Values{}
	query.Set("category", c.category)
	query.Set("symbol", instrument)

	var envelope apiResponse
	if err := c.doGet(ctx, "/v5/position/list", query, true, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", exchange.ErrPositionUnavailable, err)
	}
	if err := checkRetCode("/v5/position/list", envelope.RetCode, envelope.RetMsg); err != nil {
		return nil, fmt.Errorf("%w: %w", exchange.ErrPositionUnavailable, err)
	}

	var result positionListResult
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return nil, fmt.Errorf("%w: decode position list: %w", exchange.ErrPositionUnavailable, err)
	}

	position := &exchange.Position{Instrument: instrument}
	for _, entry := range result.List {
		size := parseFloat(entry.Size)
		if entry.Symbol != instrument || size == 0 || entry.Side == "None" {
			continue
		}
		position.Side = exchange.Side(entry.Side)
		position.Size = size
		position.EntryPrice = parseFloat(entry.AvgPrice)
		position.UnrealizedPnl = parseFloat(entry.UnrealisedPnl)
		position.Leverage = int(parseFloat(entry.Leverage))
		break
	}
	return position, nil
}
