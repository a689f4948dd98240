// Package settings mirrors the dispatcher-pushed settings snapshot:
// served static ranges, bandwidth-management overrides, and the cache
// quota, applied from the key/value pairs a servercmd refresh_settings
// or RPC response carries.
package settings

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

// Settings holds the current dispatcher-advertised configuration,
// guarded by a single readers-writer lock (many reads per request,
// occasional writes on refresh).
type Settings struct {
	mu sync.RWMutex

	staticRanges map[uint16]struct{}
	disableBWM   bool
	throttleRate *float64 // bytes/sec; nil means "unset, defer to disableBWM/local override"
	maxCacheSize *uint64

	log *slog.Logger
}

// New constructs an empty Settings snapshot.
func New(log *slog.Logger) *Settings {
	if log == nil {
		log = slog.Default()
	}
	return &Settings{staticRanges: make(map[uint16]struct{}), log: log}
}

// StaticRanges returns a snapshot copy of the currently-served range set.
func (s *Settings) StaticRanges() map[uint16]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint16]struct{}, len(s.staticRanges))
	for r := range s.staticRanges {
		out[r] = struct{}{}
	}
	return out
}

// DisableBWM reports whether bandwidth management is currently disabled.
func (s *Settings) DisableBWM() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disableBWM
}

// ThrottleRate returns the dispatcher-set rate in bytes/sec, or (0, false)
// if none has been set.
func (s *Settings) ThrottleRate() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.throttleRate == nil {
		return 0, false
	}
	return *s.throttleRate, true
}

// MaxCacheSize returns the dispatcher-set cache quota, or (0, false) if
// none has been set.
func (s *Settings) MaxCacheSize() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.maxCacheSize == nil {
		return 0, false
	}
	return *s.maxCacheSize, true
}

// Apply applies one key/value pair from a settings update, per the
// recognized-settings table: static_ranges replaces the served set,
// disable_bwm toggles the unlimited override, throttle_bytes (KiB/s) sets
// the limiter rate, diskremaining_bytes sets the cache quota,
// use_less_memory/disable_logging are recognized no-ops, and anything
// else is logged at debug and ignored.
func (s *Settings) Apply(key, value string) {
	switch key {
	case "static_ranges":
		s.applyStaticRanges(value)
	case "disable_bwm":
		s.mu.Lock()
		s.disableBWM = value == "true"
		s.mu.Unlock()
	case "throttle_bytes":
		kib, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			s.log.Debug("settings: malformed throttle_bytes", "value", value, "error", err)
			return
		}
		rate := float64(kib) * 1024
		s.mu.Lock()
		s.throttleRate = &rate
		s.mu.Unlock()
	case "diskremaining_bytes":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			s.log.Debug("settings: malformed diskremaining_bytes", "value", value, "error", err)
			return
		}
		s.mu.Lock()
		s.maxCacheSize = &n
		s.mu.Unlock()
	case "use_less_memory", "disable_logging":
		// recognized, currently no-op
	default:
		s.log.Debug("settings: unrecognized key, ignoring", "key", key, "value", value)
	}
}

func (s *Settings) applyStaticRanges(value string) {
	ranges := make(map[uint16]struct{})
	for _, tok := range strings.Split(value, ";") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		n, err := strconv.ParseUint(tok, 16, 16)
		if err != nil {
			s.log.Debug("settings: malformed static_ranges entry", "token", tok, "error", err)
			continue
		}
		ranges[uint16(n)] = struct{}{}
	}
	s.mu.Lock()
	s.staticRanges = ranges
	s.mu.Unlock()
}
