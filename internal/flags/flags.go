// Package flags defines the feature-flag source consulted before a route is
// attempted. A flag that is off makes its path unavailable regardless of
// health.
package flags

import "sync"

// Route gating flag names.
const (
	FlagDirectRoute   = "direct_route"
	FlagMediatedRoute = "mediated_route"
)

// Source answers flag lookups. Implementations must be safe for concurrent
// use.
type Source interface {
	IsEnabled(flag string) bool
}

// StaticSource serves flags from an in-memory map. Unknown flags default to
// enabled so that a missing flag never silently disables a route.
type StaticSource struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewStaticSource creates a source from the configured flag map.
func NewStaticSource(flags map[string]bool) *StaticSource {
	copied := make(map[string]bool, len(flags))
	for k, v := range flags {
		copied[k] = v
	}
	return &StaticSource{flags: copied}
}

// IsEnabled reports whether the flag is on.
func (s *StaticSource) IsEnabled(flag string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enabled, ok := s.flags[flag]
	if !ok {
		return true
	}
	return enabled
}

// Set updates a flag at runtime.
func (s *StaticSource) Set(flag string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[flag] = enabled
}

// Replace swaps the whole flag set atomically.
func (s *StaticSource) Replace(flags map[string]bool) {
	copied := make(map[string]bool, len(flags))
	for k, v := range flags {
		copied[k] = v
	}
	s.mu.Lock()
	s.flags = copied
	s.mu.Unlock()
}
