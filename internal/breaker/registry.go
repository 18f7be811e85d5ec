package breaker

import (
	"context"
	"sync"
	"time"
)

// Registry holds one breaker per logical provider identity, creating them
// lazily on first use.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	threshold       int
	recoveryTimeout time.Duration
	halfOpenMax     int
}

// NewRegistry creates a registry that stamps out breakers with the given
// configuration.
func NewRegistry(threshold int, recoveryTimeout time.Duration, halfOpenMax int) *Registry {
	return &Registry{
		breakers:        make(map[string]*Breaker),
		threshold:       threshold,
		recoveryTimeout: recoveryTimeout,
		halfOpenMax:     halfOpenMax,
	}
}

// Get returns the breaker for the provider, creating it if needed.
func (r *Registry) Get(provider string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check under the write lock.
	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b = New(provider, r.threshold, r.recoveryTimeout, r.halfOpenMax)
	r.breakers[provider] = b
	return b
}

// IsOpen reports whether the provider's breaker rejects calls right now.
func (r *Registry) IsOpen(provider string) bool {
	return r.Get(provider).IsOpen()
}

// Execute runs fn through the provider's breaker.
func (r *Registry) Execute(ctx context.Context, provider string, fn func() error) error {
	return r.Get(provider).Execute(ctx, fn)
}

// ForceOpen pins the provider's breaker open.
func (r *Registry) ForceOpen(provider string) {
	r.Get(provider).ForceOpen()
}

// ForceClose closes the provider's breaker.
func (r *Registry) ForceClose(provider string) {
	r.Get(provider).ForceClose()
}

// Reset restores the provider's breaker to its initial state.
func (r *Registry) Reset(provider string) {
	r.Get(provider).Reset()
}

// Snapshots returns the current counters for every known breaker.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Metrics())
	}
	return out
}
