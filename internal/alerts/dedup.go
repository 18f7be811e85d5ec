package alerts

import (
	"sync"
	"time"
)

// Deduper suppresses repeated identical messages within a window. Shutdown
// and recovery events can flap when a backend is borderline; operators only
// need the first occurrence per window.
type Deduper struct {
	next   Notifier
	window time.Duration

	mu     sync.Mutex
	sentAt map[string]time.Time
}

// NewDeduper wraps next with message deduplication.
func NewDeduper(next Notifier, window time.Duration) *Deduper {
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &Deduper{
		next:   next,
		window: window,
		sentAt: make(map[string]time.Time),
	}
}

// Notify forwards the message unless an identical one was sent within the
// window.
func (d *Deduper) Notify(message string) error {
	now := time.Now()

	d.mu.Lock()
	if at, ok := d.sentAt[message]; ok && now.Sub(at) < d.window {
		d.mu.Unlock()
		return nil
	}
	d.sentAt[message] = now
	for key, at := range d.sentAt {
		if now.Sub(at) >= d.window {
			delete(d.sentAt, key)
		}
	}
	d.mu.Unlock()

	return d.next.Notify(message)
}

// Size returns the number of tracked messages.
func (d *Deduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sentAt)
}
