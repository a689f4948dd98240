// Package nodestate dumps a human-readable snapshot of the last-applied
// dispatcher settings to disk, for operators debugging what a node
// currently believes its configuration to be. It is not read back on
// startup; the primary configuration remains the JSON file loaded by
// nodeconfig.
package nodestate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/hathnode/node/internal/settings"
)

// Snapshot is the on-disk shape of a settings dump.
type Snapshot struct {
	DumpedAt     string   `yaml:"dumped_at"`
	StaticRanges []string `yaml:"static_ranges"`
	DisableBWM   bool     `yaml:"disable_bwm"`
	ThrottleRate *float64 `yaml:"throttle_rate_bytes_per_sec,omitempty"`
	MaxCacheSize *uint64  `yaml:"max_cache_size_bytes,omitempty"`
}

// Dump writes a Snapshot of set's current state to filename, overwriting
// any existing file. now is passed in rather than read from time.Now so
// callers can keep the dump deterministic in tests.
func Dump(filename string, set *settings.Settings, now time.Time) error {
	snap := Snapshot{
		DumpedAt:   now.UTC().Format(time.RFC3339),
		DisableBWM: set.DisableBWM(),
	}
	for r := range set.StaticRanges() {
		snap.StaticRanges = append(snap.StaticRanges, fmt.Sprintf("%04x", r))
	}
	if rate, ok := set.ThrottleRate(); ok {
		snap.ThrottleRate = &rate
	}
	if max, ok := set.MaxCacheSize(); ok {
		snap.MaxCacheSize = &max
	}

	data, err := yaml.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("nodestate: marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("nodestate: write snapshot: %w", err)
	}
	return nil
}
