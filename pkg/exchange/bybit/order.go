package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"relay-api/pkg/exchange"
	"relay-api/pkg/sizing"
)

// Leverage-not-modified is returned when the requested leverage already
// matches the account setting; it is not a failure.
const retCodeLeverageNotModified = 110043

// PlaceOrder submits a market order with stop-loss and take-profit attached
// in the same request.
func (c *Client) PlaceOrder(ctx context.Context, order exchange.Order) (*exchange.OrderAck, error) {
	if order.Qty <= 0 {
		return nil, fmt.Errorf("bybit: order quantity must be positive, got %v", order.Qty)
	}

	req := createOrderRequest{
		Category:  c.category,
		Symbol:    order.Instrument,
		Side:      string(order.Side),
		OrderType: "Market",
		Qty:       formatQty(order.Qty),
	}
	if order.Price > 0 {
		req.OrderType = "Limit"
		req.Price = formatQty(order.Price)
		req.TimeInForce = "GTC"
	}
	if order.ReduceOnly {
		req.ReduceOnly = true
		req.TimeInForce = "IOC"
	}
	if order.StopLoss > 0 {
		req.StopLoss = formatQty(order.StopLoss)
	}
	if order.TakeProfit > 0 {
		req.TakeProfit = formatQty(order.TakeProfit)
	}

	var envelope apiResponse
	if err := c.doPost(ctx, "/v5/order/create", req, &envelope); err != nil {
		return nil, err
	}
	if err := checkRetCode("/v5/order/create", envelope.RetCode, envelope.RetMsg); err != nil {
		return nil, err
	}

	var result createOrderResult
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return nil, fmt.Errorf("bybit: decode order response: %w", err)
	}
	return &exchange.OrderAck{
		OrderID:    result.OrderID,
		Instrument: order.Instrument,
		Side:       order.Side,
		Qty:        order.Qty,
	}, nil
}

// ClosePosition reduces the live position by the given percentage (100 closes
// it entirely) with a reduce-only market order.
func (c *Client) ClosePosition(ctx context.Context, instrument string, percentage float64) error {
	if percentage <= 0 || percentage > 100 {
		return fmt.Errorf("bybit: close percentage must be in (0, 100], got %v", percentage)
	}

	position, err := c.GetPosition(ctx, instrument)
	if err != nil {
		return err
	}
	if position.IsFlat() {
		return nil
	}

	qty := c.snapCloseQty(instrument, position.Size, percentage)
	_, err = c.PlaceOrder(ctx, exchange.Order{
		Instrument: instrument,
		Side:       position.Side.Opposite(),
		Qty:        qty,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("bybit: close %s: %w", instrument, err)
	}
	return nil
}

// snapCloseQty floors a partial close size to the instrument's quantity step
// when one is configured. When the slice is smaller than one step the whole
// position is dust and gets closed in full.
func (c *Client) snapCloseQty(instrument string, size, percentage float64) float64 {
	qty := size * percentage / 100
	step, ok := c.qtySteps[strings.ToUpper(strings.TrimSpace(instrument))]
	if !ok || step <= 0 {
		return qty
	}
	snapped := sizing.FloorToStep(qty, step)
	if snapped <= 0 {
		return size
	}
	return snapped
}

// SetLeverage pushes the leverage setting for both directions.
func (c *Client) SetLeverage(ctx context.Context, instrument string, leverage int) error {
	if leverage < 1 {
		return fmt.Errorf("bybit: leverage must be at least 1, got %d", leverage)
	}

	req := setLeverageRequest{
		Category:     c.category,
		Symbol:       instrument,
		BuyLeverage:  strconv.Itoa(leverage),
		SellLeverage: strconv.Itoa(leverage),
	}
	var envelope apiResponse
	if err := c.doPost(ctx, "/v5/position/set-leverage", req, &envelope); err != nil {
		return err
	}
	if envelope.RetCode == retCodeLeverageNotModified {
		return nil
	}
	return checkRetCode("/v5/position/set-leverage", envelope.RetCode, envelope.RetMsg)
}
