package replay

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// Tick is one price observation in a replayed series.
type Tick struct {
	Price float64
	At    time.Time
}

// Feeder yields sequential price ticks for one instrument.
type Feeder interface {
	Next(ctx context.Context) (Tick, bool, error)
}

// SeriesFeeder emits ticks from a static price slice, advancing a synthetic
// clock by Step per tick so cooldown and quota windows behave as in live runs.
type SeriesFeeder struct {
	prices []float64
	start  time.Time
	step   time.Duration
	idx    int
}

// NewSeriesFeeder constructs a feeder over the given closes. A zero step
// defaults to one minute.
func NewSeriesFeeder(prices []float64, start time.Time, step time.Duration) *SeriesFeeder {
	if step <= 0 {
		step = time.Minute
	}
	return &SeriesFeeder{prices: prices, start: start, step: step}
}

func (f *SeriesFeeder) Next(ctx context.Context) (Tick, bool, error) {
	if f.idx >= len(f.prices) {
		return Tick{}, false, nil
	}
	tick := Tick{
		Price: f.prices[f.idx],
		At:    f.start.Add(time.Duration(f.idx) * f.step),
	}
	f.idx++
	return tick, true, nil
}

// NewCSVFeederFromFile reads a close series from a CSV file. The last column
// of each row is taken as the close; a non-numeric header row is skipped.
func NewCSVFeederFromFile(path string, start time.Time, step time.Duration) (*SeriesFeeder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open series %s: %w", path, err)
	}
	defer f.Close()
	return NewCSVFeeder(f, start, step)
}

// NewCSVFeeder reads a close series from an io.Reader.
func NewCSVFeeder(r io.Reader, start time.Time, step time.Duration) (*SeriesFeeder, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("replay: read series: %w", err)
	}
	var closes []float64
	for _, rec := range records {
		if len(rec) == 0 {
			continue
		}
		value, err := strconv.ParseFloat(rec[len(rec)-1], 64)
		if err != nil {
			// header row
			continue
		}
		closes = append(closes, value)
	}
	if len(closes) == 0 {
		return nil, fmt.Errorf("replay: series contains no numeric closes")
	}
	return NewSeriesFeeder(closes, start, step), nil
}
