package bybit

import "encoding/json"

// apiResponse is the common v5 envelope. Result stays raw until the caller
// knows which shape to decode.
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

type tickerResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"list"`
}

// klineResult rows are [startTime, open, high, low, close, volume, turnover]
// as strings, newest candle first.
type klineResult struct {
	List [][]string `json:"list"`
}

type walletBalanceResult struct {
	List []struct {
		TotalEquity           string `json:"totalEquity"`
		TotalAvailableBalance string `json:"totalAvailableBalance"`
		Coin                  []struct {
			Coin             string `json:"coin"`
			WalletBalance    string `json:"walletBalance"`
			AvailableToTrade string `json:"availableToWithdraw"`
		} `json:"coin"`
	} `json:"list"`
}

type positionListResult struct {
	List []struct {
		Symbol        string `json:"symbol"`
		Side          string `json:"side"` // "Buy", "Sell" or "None".
		Size          string `json:"size"`
		AvgPrice      string `json:"avgPrice"`
		UnrealisedPnl string `json:"unrealisedPnl"`
		Leverage      string `json:"leverage"`
	} `json:"list"`
}

type createOrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type createOrderRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
	StopLoss    string `json:"stopLoss,omitempty"`
	TakeProfit  string `json:"takeProfit,omitempty"`
}

type setLeverageRequest struct {
	Category     string `json:"category"`
	Symbol       string `json:"symbol"`
	BuyLeverage  string `json:"buyLeverage"`
	SellLeverage string `json:"sellLeverage"`
}
