// Package journal persists one JSON record per processed signal for audit
// and offline analysis.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SignalRecord captures an end-to-end signal execution for audit purposes.
type SignalRecord struct {
	Timestamp    time.Time        `json:"timestamp"`
	Instrument   string           `json:"instrument"`
	Direction    string           `json:"direction"`
	Confidence   float64          `json:"confidence,omitempty"`
	Outcomes     []map[string]any `json:"outcomes,omitempty"`
	SuccessCount int              `json:"success_count"`
	FailCount    int              `json:"fail_count"`
	Success      bool             `json:"success"`
	Extra        map[string]any   `json:"extra,omitempty"`
}

// Writer persists signal records to a directory as JSON files.
type Writer struct {
	mu    sync.Mutex
	dir   string
	seq   int
	nowFn func() time.Time
}

// NewWriter constructs a journal writer.
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = "journal"
	}
	_ = os.MkdirAll(dir, 0o755)
	return &Writer{dir: dir, nowFn: time.Now}
}

// WriteSignal writes a signal record to a timestamped JSON file.
func (w *Writer) WriteSignal(rec *SignalRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("journal: nil record")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.nowFn()
	}
	w.seq++
	name := fmt.Sprintf("signal_%s_%05d.json", rec.Timestamp.UTC().Format("20060102_150405"), w.seq)
	path := filepath.Join(w.dir, name)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
