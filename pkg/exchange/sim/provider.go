package sim

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"relay-api/pkg/exchange"
)

const (
	defaultInitialBalance = 10000.0
	defaultVolatilityFrac = 0.005
)

// Provider is a paper-trading exchange implementation that keeps balances and
// positions in memory. It is used in tests and as the "sim" provider type for
// dry runs.
type Provider struct {
	mu sync.Mutex

	nextOrderID int64

	markPx     map[string]float64 // latest mark price per instrument
	volatility map[string]float64 // explicit volatility override per instrument
	leverage   map[string]int
	positions  map[string]*positionState

	cash float64

	failures map[string]error // fault injection per operation name
}

type positionState struct {
	Instrument string
	Qty        float64 // positive long, negative short
	Entry      float64 // average entry price
}

// New constructs a new simulator instance with default balance.
func New() *Provider {
	return &Provider{
		nextOrderID: 1,
		markPx:      make(map[string]float64),
		volatility:  make(map[string]float64),
		leverage:    make(map[string]int),
		positions:   make(map[string]*positionState),
		cash:        defaultInitialBalance,
		failures:    make(map[string]error),
	}
}

func canonical(instrument string) string {
	return strings.ToUpper(strings.TrimSpace(instrument))
}

// SetBalance overrides the simulated cash balance.
func (p *Provider) SetBalance(cash float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cash = cash
}

// SetMarkPrice updates the reference price used for fills and unrealised PnL.
func (p *Provider) SetMarkPrice(instrument string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markPx[canonical(instrument)] = price
}

// SetVolatility overrides the volatility estimate for an instrument.
func (p *Provider) SetVolatility(instrument string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volatility[canonical(instrument)] = value
}

// FailWith makes the named operation ("price", "volatility", "balance",
// "position", "order", "close") return the given error until cleared with a
// nil err.
func (p *Provider) FailWith(operation string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, operation)
		return
	}
	p.failures[operation] = err
}

func (p *Provider) failureFor(operation string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures[operation]
}

// GetPrice returns the latest mark price for the instrument.
func (p *Provider) GetPrice(ctx context.Context, instrument string) (float64, error) {
	if err := p.failureFor("price"); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	price := p.markPx[canonical(instrument)]
	if price <= 0 {
		return 0, fmt.Errorf("sim: no mark price for %s: %w", instrument, exchange.ErrPriceUnavailable)
	}
	return price, nil
}

// GetVolatility returns the configured volatility, falling back to a fixed
// fraction of the mark price.
func (p *Provider) GetVolatility(ctx context.Context, instrument string) (float64, error) {
	if err := p.failureFor("volatility"); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := canonical(instrument)
	if value, ok := p.volatility[key]; ok && value > 0 {
		return value, nil
	}
	price := p.markPx[key]
	if price <= 0 {
		return 0, fmt.Errorf("sim: no data for %s: %w", instrument, exchange.ErrVolatilityUnavailable)
	}
	return price * defaultVolatilityFrac, nil
}

// GetBalance returns the simulated cash plus unrealised PnL.
func (p *Provider) GetBalance(ctx context.Context) (*exchange.Balance, error) {
	if err := p.failureFor("balance"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	unrealized := 0.0
	for instrument, state := range p.positions {
		mark := p.resolveMarkPriceLocked(instrument)
		unrealized += state.Qty * (mark - state.Entry)
	}
	return &exchange.Balance{Available: p.cash, Total: p.cash + unrealized}, nil
}

// GetPosition returns the current position, flat as Size 0.
func (p *Provider) GetPosition(ctx context.Context, instrument string) (*exchange.Position, error) {
	if err := p.failureFor("position"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	key := canonical(instrument)
	position := &exchange.Position{Instrument: key}
	state := p.positions[key]
	if state == nil || state.Qty == 0 {
		return position, nil
	}
	position.Side = exchange.SideBuy
	if state.Qty < 0 {
		position.Side = exchange.SideSell
	}
	position.Size = math.Abs(state.Qty)
	position.EntryPrice = state.Entry
	mark := p.resolveMarkPriceLocked(key)
	position.UnrealizedPnl = state.Qty * (mark - state.Entry)
	position.Leverage = p.leverage[key]
	return position, nil
}

// PlaceOrder fills immediately at the latest mark price (or the order's limit
// price when set). Stop-loss and take-profit levels are accepted and ignored;
// the simulator has no trigger engine.
func (p *Provider) PlaceOrder(ctx context.Context, order exchange.Order) (*exchange.OrderAck, error) {
	if err := p.failureFor("order"); err != nil {
		return nil, err
	}
	if order.Qty <= 0 {
		return nil, fmt.Errorf("sim: order quantity must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := canonical(order.Instrument)
	price := order.Price
	if price <= 0 {
		price = p.resolveMarkPriceLocked(key)
	}
	if price <= 0 {
		return nil, fmt.Errorf("sim: no mark price for %s: %w", key, exchange.ErrPriceUnavailable)
	}

	realized, filled, err := p.applyOrderLocked(key, price, order.Qty, order.Side == exchange.SideBuy, order.ReduceOnly)
	if err != nil {
		return nil, err
	}
	if realized != 0 {
		p.cash += realized
	}
	if filled > 0 {
		p.markPx[key] = price
	}

	oid := p.nextOrderID
	p.nextOrderID++
	return &exchange.OrderAck{
		OrderID:    fmt.Sprintf("sim-%d", oid),
		Instrument: key,
		Side:       order.Side,
		Qty:        filled,
		AvgPrice:   price,
	}, nil
}

// ClosePosition reduces the position by the given percentage at the latest
// mark price.
func (p *Provider) ClosePosition(ctx context.Context, instrument string, percentage float64) error {
	if err := p.failureFor("close"); err != nil {
		return err
	}
	if percentage <= 0 || percentage > 100 {
		return fmt.Errorf("sim: close percentage must be in (0, 100], got %v", percentage)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := canonical(instrument)
	state := p.positions[key]
	if state == nil || state.Qty == 0 {
		return nil
	}
	price := p.resolveMarkPriceLocked(key)
	if price <= 0 {
		price = state.Entry
	}
	qty := math.Abs(state.Qty) * percentage / 100
	realized, filled, err := p.applyOrderLocked(key, price, qty, state.Qty < 0, true)
	if err != nil {
		return err
	}
	if realized != 0 {
		p.cash += realized
	}
	if filled > 0 {
		p.markPx[key] = price
	}
	return nil
}

// SetLeverage stores the leverage preference for the instrument.
func (p *Provider) SetLeverage(ctx context.Context, instrument string, leverage int) error {
	if leverage < 1 {
		return fmt.Errorf("sim: leverage must be at least 1, got %d", leverage)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leverage[canonical(instrument)] = leverage
	return nil
}

func (p *Provider) applyOrderLocked(instrument string, price, size float64, isBuy, reduceOnly bool) (float64, float64, error) {
	if price <= 0 {
		return 0, 0, fmt.Errorf("sim: price must be positive")
	}
	if size <= 0 {
		return 0, 0, fmt.Errorf("sim: size must be positive")
	}

	state := p.positions[instrument]
	if reduceOnly {
		if state == nil || state.Qty == 0 {
			return 0, 0, nil
		}
	} else if state == nil {
		state = &positionState{Instrument: instrument}
		p.positions[instrument] = state
	}

	execSize := size
	delta := execSize
	if !isBuy {
		delta = -execSize
	}

	if reduceOnly {
		if state.Qty*delta > 0 {
			return 0, 0, fmt.Errorf("sim: reduce-only order would increase position")
		}
		maxQty := math.Abs(state.Qty)
		if execSize > maxQty {
			execSize = maxQty
		}
		if execSize <= 0 {
			return 0, 0, nil
		}
		delta = execSize
		if !isBuy {
			delta = -execSize
		}
	}

	oldQty := state.Qty
	newQty := oldQty + delta

	realized := 0.0
	if oldQty != 0 && oldQty*delta < 0 {
		closeQty := math.Min(math.Abs(oldQty), math.Abs(delta))
		dir := 1.0
		if oldQty < 0 {
			dir = -1.0
		}
		realized = closeQty * (price - state.Entry) * dir
	}

	switch {
	case oldQty == 0:
		state.Entry = price
	case oldQty*delta > 0:
		state.Entry = ((oldQty * state.Entry) + (delta * price)) / newQty
	case oldQty*delta < 0:
		if newQty == 0 || oldQty*newQty < 0 {
			state.Entry = price
		}
	}

	state.Qty = newQty
	if math.Abs(state.Qty) < 1e-10 {
		state.Qty = 0
	}
	if state.Qty == 0 {
		state.Entry = 0
		delete(p.positions, instrument)
	}
	return realized, math.Abs(delta), nil
}

func (p *Provider) resolveMarkPriceLocked(instrument string) float64 {
	if price, ok := p.markPx[instrument]; ok && price > 0 {
		return price
	}
	if state, ok := p.positions[instrument]; ok && state.Entry > 0 {
		return state.Entry
	}
	return 0
}

// Registry hook for exchange.Config.
func init() {
	exchange.RegisterProvider("sim", func(name string, cfg *exchange.ProviderConfig) (exchange.Provider, error) {
		return New(), nil
	})
}
