package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"relay-api/pkg/conflict"
	executorpkg "relay-api/pkg/executor"
	"relay-api/pkg/exchange/sim"
	managerpkg "relay-api/pkg/manager"
	"relay-api/pkg/replay"
)

var (
	configFile = flag.String("f", "etc/engine.yaml", "the engine config file")
	seriesFile = flag.String("series", "", "CSV file with one close price per row")
	instrument = flag.String("instrument", "BTCUSDT", "instrument to replay")
	threshold  = flag.Float64("threshold", 0.5, "signal threshold in percent")
	balance    = flag.Float64("balance", 10000, "starting paper balance")
	step       = flag.Duration("step", time.Minute, "synthetic clock step per tick")
	output     = flag.String("o", "", "optional JSON report output path")
)

func main() {
	flag.Parse()
	if *seriesFile == "" {
		log.Fatal("replay: -series is required")
	}

	cfg, err := managerpkg.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("replay: load config: %v", err)
	}

	feeder, err := replay.NewCSVFeederFromFile(*seriesFile, time.Now().Add(-24*time.Hour), *step)
	if err != nil {
		log.Fatalf("replay: %v", err)
	}

	ledger := conflict.NewLedger(cfg.Pipeline.Conflict.DailyReversalCap)
	resolver := conflict.NewResolver(cfg.Pipeline.Conflict, ledger)
	provider := sim.New()

	engine := &replay.Engine{
		Feeder: feeder,
		Strategy: &replay.ThresholdStrategy{
			Instrument:   *instrument,
			ThresholdPct: *threshold,
			Confidence:   1,
		},
		Provider: provider,
		Pipeline: executorpkg.New(&cfg.Pipeline, resolver),
		Account: executorpkg.Account{
			ID:       "replay",
			Provider: provider,
			Risk:     cfg.Pipeline.RiskFor("replay"),
		},
		Instrument:     *instrument,
		InitialBalance: *balance,
		OutputPath:     *output,
	}

	result, err := engine.Run(context.Background())
	if err != nil {
		log.Fatalf("replay: %v", err)
	}

	summary, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("replay: encode result: %v", err)
	}
	fmt.Fprintln(os.Stdout, string(summary))
}
