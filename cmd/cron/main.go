package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"relay-api/internal/cli"
	"relay-api/internal/config"
	"relay-api/pkg/exchange"

	// Import for side-effects: registers exchange providers
	_ "relay-api/pkg/exchange/bybit"
	_ "relay-api/pkg/exchange/sim"
)

const (
	pollInterval    = 5 * time.Minute // Per-provider health polling interval
	apiTimeout      = 5 * time.Second // Timeout for individual API calls
	shutdownTimeout = 10 * time.Second
)

var monitoredInstruments = []string{"BTCUSDT", "ETHUSDT"}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("[main] Starting exchange health monitor...")

	configPath := "etc/relay.yaml"
	appCfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[main] Failed to load app config: %v", err)
	}

	log.Printf("[main] Configuration loaded:")
	for _, line := range cli.ConfigSummaryLines(appCfg) {
		log.Printf("  - %s", line)
	}

	exchangeCfg := appCfg.Exchange.Value
	if exchangeCfg == nil {
		exchangeCfg = exchange.MustLoad()
	}

	if appCfg.IsTestEnv() {
		for _, provider := range exchangeCfg.Providers {
			provider.Testnet = true
		}
	}

	providers, err := exchangeCfg.BuildProviders()
	if err != nil {
		log.Fatalf("[main] Failed to build exchange providers: %v", err)
	}

	log.Printf("  - Providers: %d", len(providers))
	log.Printf("  - Monitored Instruments: %v", monitoredInstruments)
	log.Printf("  - Polling Interval: %s", pollInterval)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for name, provider := range providers {
		wg.Add(1)
		go func(name string, provider exchange.Provider) {
			defer wg.Done()
			runProviderMonitor(ctx, name, provider)
		}(name, provider)
	}

	log.Println("[main] Health monitor started. Press Ctrl+C to stop.")

	<-ctx.Done()
	log.Println("[main] Shutdown signal received, stopping tasks...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("[main] All tasks stopped cleanly")
	case <-shutdownCtx.Done():
		log.Println("[main] Shutdown timeout exceeded, forcing exit")
	}

	log.Println("[main] Health monitor stopped")
}

// runProviderMonitor polls one provider on a schedule until the context ends.
func runProviderMonitor(ctx context.Context, name string, provider exchange.Provider) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	// Run once immediately on startup
	monitorProvider(ctx, name, provider)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[%s] Stopping monitor", name)
			return
		case <-ticker.C:
			monitorProvider(ctx, name, provider)
		}
	}
}

// monitorProvider calls read-only provider interfaces and logs results.
func monitorProvider(parentCtx context.Context, name string, provider exchange.Provider) {
	if parentCtx.Err() != nil {
		return
	}

	// Wallet balance
	func() {
		ctx, cancel := context.WithTimeout(parentCtx, apiTimeout)
		defer cancel()

		start := time.Now()
		balance, err := provider.GetBalance(ctx)
		elapsed := time.Since(start)

		if err != nil {
			log.Printf("[%s.balance] [ERROR] %v, took %dms", name, err, elapsed.Milliseconds())
			return
		}
		log.Printf("[%s.balance] [OK] available=%.2f total=%.2f, took %dms",
			name, balance.Available, balance.Total, elapsed.Milliseconds())
	}()

	// Prices and positions for monitored instruments
	for _, instrument := range monitoredInstruments {
		func(instrument string) {
			ctx, cancel := context.WithTimeout(parentCtx, apiTimeout)
			defer cancel()

			start := time.Now()
			price, err := provider.GetPrice(ctx, instrument)
			elapsed := time.Since(start)

			if err != nil {
				log.Printf("[%s.price.%s] [ERROR] %v, took %dms", name, instrument, err, elapsed.Milliseconds())
				return
			}
			if price <= 0 {
				log.Printf("[%s.price.%s] [WARN] invalid price=%f, took %dms", name, instrument, price, elapsed.Milliseconds())
				return
			}
			log.Printf("[%s.price.%s] [OK] price=%.2f, took %dms", name, instrument, price, elapsed.Milliseconds())
		}(instrument)

		func(instrument string) {
			ctx, cancel := context.WithTimeout(parentCtx, apiTimeout)
			defer cancel()

			start := time.Now()
			position, err := provider.GetPosition(ctx, instrument)
			elapsed := time.Since(start)

			if err != nil {
				log.Printf("[%s.position.%s] [ERROR] %v, took %dms", name, instrument, err, elapsed.Milliseconds())
				return
			}
			if position.IsFlat() {
				log.Printf("[%s.position.%s] [OK] flat, took %dms", name, instrument, elapsed.Milliseconds())
				return
			}
			log.Printf("[%s.position.%s] [OK] side=%s size=%v entry=%.2f upnl=%.2f, took %dms",
				name, instrument, position.Side, position.Size, position.EntryPrice,
				position.UnrealizedPnl, elapsed.Milliseconds())
		}(instrument)
	}
}
