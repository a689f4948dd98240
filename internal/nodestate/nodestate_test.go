package nodestate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/hathnode/node/internal/settings"
)

func TestDumpWritesParsableSnapshot(t *testing.T) {
	set := settings.New(nil)
	set.Apply("static_ranges", "5eb2;00ff")
	set.Apply("disable_bwm", "true")
	set.Apply("throttle_bytes", "512")

	path := filepath.Join(t.TempDir(), "state.yaml")
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := Dump(path, set, fixed); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		t.Fatalf("snapshot did not parse as yaml: %v", err)
	}
	if !snap.DisableBWM {
		t.Error("expected DisableBWM true")
	}
	if len(snap.StaticRanges) != 2 {
		t.Errorf("static ranges = %v, want 2 entries", snap.StaticRanges)
	}
	if snap.ThrottleRate == nil || *snap.ThrottleRate != 512*1024 {
		t.Errorf("throttle rate = %v, want 524288", snap.ThrottleRate)
	}
	if snap.MaxCacheSize != nil {
		t.Error("expected MaxCacheSize nil when unset")
	}
	if snap.DumpedAt != "2026-01-02T03:04:05Z" {
		t.Errorf("dumped_at = %q", snap.DumpedAt)
	}
}
