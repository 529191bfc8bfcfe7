package exchange

import "context"

// Provider exposes trading capabilities in an exchange-agnostic fashion.
// Implementations own authentication, signing, and transport retries; callers
// treat every method as fallible and re-read state after each action.
type Provider interface {
	// Market data.
	GetPrice(ctx context.Context, instrument string) (float64, error)
	GetVolatility(ctx context.Context, instrument string) (float64, error)

	// Account information.
	GetBalance(ctx context.Context) (*Balance, error)
	GetPosition(ctx context.Context, instrument string) (*Position, error)

	// Order management. PlaceOrder attaches stop-loss and take-profit in the
	// same request so the position is never live without protection.
	PlaceOrder(ctx context.Context, order Order) (*OrderAck, error)
	ClosePosition(ctx context.Context, instrument string, percentage float64) error
	SetLeverage(ctx context.Context, instrument string, leverage int) error
}
