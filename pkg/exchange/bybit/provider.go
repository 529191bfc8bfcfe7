package bybit

import (
	"relay-api/pkg/exchange"
)

// Compile-time interface check.
var _ exchange.Provider = (*Client)(nil)

// Registry hook for exchange.Config.
func init() {
	exchange.RegisterProvider("bybit", func(name string, cfg *exchange.ProviderConfig) (exchange.Provider, error) {
		opts := make([]ClientOption, 0, 4)
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		if cfg.Category != "" {
			opts = append(opts, WithCategory(cfg.Category))
		}
		if cfg.RecvWindowMs > 0 {
			opts = append(opts, WithRecvWindow(cfg.RecvWindowMs))
		}
		if len(cfg.QtySteps) > 0 {
			opts = append(opts, WithQtySteps(cfg.QtySteps))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, WithHTTPClient(newHTTPClient(cfg.Timeout)))
		}
		return NewClient(cfg.APIKey, cfg.APISecret, cfg.Testnet, opts...)
	})
}
