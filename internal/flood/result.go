package flood

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Result aggregates one run. It is the record written by --output.
type Result struct {
	Sent       int64   `json:"sent"`
	Bytes      int64   `json:"bytes"`
	Elapsed    float64 `json:"elapsed"`
	PPS        float64 `json:"pps"`
	Mbps       float64 `json:"mbps"`
	Mode       string  `json:"mode"`
	PacketType string  `json:"packet_type"`

	// Failed counts send attempts the socket rejected. Not persisted.
	Failed int64 `json:"-"`
}

// NewResult derives rates from raw counters. A zero elapsed time yields zero rates.
func NewResult(sent, bytes int64, elapsed time.Duration) *Result {
	r := &Result{
		Sent:    sent,
		Bytes:   bytes,
		Elapsed: elapsed.Seconds(),
	}
	if r.Elapsed > 0 {
		r.PPS = float64(sent) / r.Elapsed
		r.Mbps = float64(bytes) * 8 / r.Elapsed / 1e6
	}
	return r
}

// WriteResultFile persists r as indented JSON.
func WriteResultFile(path string, r *Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write result to %s: %w", path, err)
	}
	return nil
}

// ReadResultFile loads a record written by WriteResultFile.
func ReadResultFile(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read result from %s: %w", path, err)
	}
	r := &Result{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return r, nil
}
