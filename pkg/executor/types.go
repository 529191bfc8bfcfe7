package executor

import (
	"errors"
	"time"

	"relay-api/pkg/conflict"
	"relay-api/pkg/exchange"
	"relay-api/pkg/signal"
	"relay-api/pkg/sizing"
)

// Account binds an account identity to its exchange client and effective
// risk parameters. One Account per configured funding source; balance and
// position snapshots are pulled fresh per execution attempt.
type Account struct {
	ID       string
	Provider exchange.Provider
	Risk     RiskParams
}

// Status summarises how one account's pipeline ended.
type Status string

const (
	// StatusFilled means a new position was opened.
	StatusFilled Status = "filled"
	// StatusReduced means an existing position was partially closed; no new
	// position was opened.
	StatusReduced Status = "reduced"
	// StatusSkipped means the resolver decided to take no action.
	StatusSkipped Status = "skipped"
	// StatusFailed means the pipeline hit an error.
	StatusFailed Status = "failed"
)

// FailKind classifies pipeline failures.
type FailKind string

const (
	FailValidation          FailKind = "validation"
	FailMarketData          FailKind = "market_data_unavailable"
	FailAccountData         FailKind = "account_data_unavailable"
	FailSizing              FailKind = "sizing"
	FailInsufficientBalance FailKind = "insufficient_balance"
	FailExchangeRejected    FailKind = "exchange_rejected"
	FailRateLimited         FailKind = "rate_limited"
	FailInternal            FailKind = "internal"
)

// Outcome is the per-account result of one execution attempt.
type Outcome struct {
	AccountID  string            `json:"accountId"`
	Instrument string            `json:"instrument"`
	Direction  signal.Direction  `json:"direction"`
	Status     Status            `json:"status"`
	Success    bool              `json:"success"`
	OrderID    string            `json:"orderId,omitempty"`
	Decision   conflict.Decision `json:"decision"`
	Plan       *sizing.Plan      `json:"plan,omitempty"`
	FailKind   FailKind          `json:"failKind,omitempty"`
	Error      string            `json:"error,omitempty"`
	Elapsed    time.Duration     `json:"elapsed"`
}

// sideFor maps a signal direction onto the exchange order side.
func sideFor(direction signal.Direction) exchange.Side {
	if direction == signal.DirectionSell {
		return exchange.SideSell
	}
	return exchange.SideBuy
}

// classifyOrderErr maps an order or close failure onto the error taxonomy.
func classifyOrderErr(err error) FailKind {
	switch {
	case errors.Is(err, exchange.ErrRateLimited):
		return FailRateLimited
	case exchange.IsRejected(err):
		return FailExchangeRejected
	case errors.Is(err, exchange.ErrPositionUnavailable):
		return FailAccountData
	case errors.Is(err, exchange.ErrPriceUnavailable):
		return FailMarketData
	default:
		return FailInternal
	}
}
