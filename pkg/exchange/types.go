package exchange

// Core trading domain types shared across exchange implementations. These
// structures normalize venue payloads so the execution pipeline stays
// exchange-agnostic if additional venues are added later.

// Side represents position or order direction.
type Side string

const (
	// SideBuy is a long order or position.
	SideBuy Side = "Buy"
	// SideSell is a short order or position.
	SideSell Side = "Sell"
)

// Opposite returns the reverse direction.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Balance summarizes an account's funds in the settlement currency.
type Balance struct {
	Available float64 `json:"available"`
	Total     float64 `json:"total"`
}

// Position captures live position details for one instrument. A zero Size is
// the canonical flat state; Side is empty in that case.
type Position struct {
	Instrument    string  `json:"instrument"`
	Side          Side    `json:"side,omitempty"`
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entryPrice"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
	Leverage      int     `json:"leverage,omitempty"`
}

// IsFlat reports whether the position carries no exposure.
func (p *Position) IsFlat() bool {
	return p == nil || p.Size == 0
}

// PnlPct returns the unrealized profit or loss as a percentage of entry,
// signed relative to the position side, given a fresh mark price.
func (p *Position) PnlPct(price float64) float64 {
	if p.IsFlat() || p.EntryPrice == 0 {
		return 0
	}
	pct := (price - p.EntryPrice) / p.EntryPrice * 100
	if p.Side == SideSell {
		pct = -pct
	}
	return pct
}

// Order describes a normalized order request. Price 0 means market execution.
type Order struct {
	Instrument string  `json:"instrument"`
	Side       Side    `json:"side"`
	Qty        float64 `json:"qty"`
	Price      float64 `json:"price,omitempty"`
	StopLoss   float64 `json:"stopLoss,omitempty"`
	TakeProfit float64 `json:"takeProfit,omitempty"`
	ReduceOnly bool    `json:"reduceOnly,omitempty"`
}

// OrderAck captures the exchange acknowledgement after an order submission.
type OrderAck struct {
	OrderID    string  `json:"orderId"`
	Instrument string  `json:"instrument"`
	Side       Side    `json:"side"`
	Qty        float64 `json:"qty"`
	AvgPrice   float64 `json:"avgPrice,omitempty"`
}
