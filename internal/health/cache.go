// Package health caches per-route health observations with a bounded TTL.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/relayguard/relayguard/internal/models"
)

// Prober performs one synchronous health probe against a route.
type Prober interface {
	Probe(ctx context.Context, route models.Route) (models.RouteHealthRecord, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, route models.Route) (models.RouteHealthRecord, error)

func (f ProberFunc) Probe(ctx context.Context, route models.Route) (models.RouteHealthRecord, error) {
	return f(ctx, route)
}

// Config contains the health cache configuration.
type Config struct {
	TTL             time.Duration
	ProbeTimeout    time.Duration
	RefreshInterval time.Duration
}

// Cache holds route health records with a TTL. Expired or absent entries
// force a synchronous probe; concurrent callers for the same route share a
// single in-flight probe rather than stampeding the backend.
type Cache struct {
	cfg     Config
	probers map[models.Route]Prober
	records *expirable.LRU[models.Route, models.RouteHealthRecord]
	logger  *zap.Logger

	mu       sync.Mutex
	inflight map[models.Route]*probeCall

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	muRun   sync.Mutex
}

type probeCall struct {
	done   chan struct{}
	record models.RouteHealthRecord
	err    error
}

// NewCache creates a route health cache. One prober per probeable route.
func NewCache(cfg Config, probers map[models.Route]Prober, logger *zap.Logger) *Cache {
	if cfg.TTL == 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &Cache{
		cfg:      cfg,
		probers:  probers,
		records:  expirable.NewLRU[models.Route, models.RouteHealthRecord](16, nil, cfg.TTL),
		logger:   logger,
		inflight: make(map[models.Route]*probeCall),
		stopCh:   make(chan struct{}),
	}
}

// Get returns the cached record for the route, or a fresh probe result when
// the entry is absent or expired. Cached reads are allowed to be stale up to
// the TTL so routing decisions never serialize behind a network probe.
func (c *Cache) Get(ctx context.Context, route models.Route) (models.RouteHealthRecord, error) {
	if record, ok := c.records.Get(route); ok {
		return record, nil
	}
	return c.Refresh(ctx, route)
}

// Peek returns the cached record without probing on a miss.
func (c *Cache) Peek(route models.Route) (models.RouteHealthRecord, bool) {
	return c.records.Get(route)
}

// Refresh performs a synchronous probe and stores the result. Concurrent
// refreshes of the same route join the in-flight probe.
func (c *Cache) Refresh(ctx context.Context, route models.Route) (models.RouteHealthRecord, error) {
	c.mu.Lock()
	if call, ok := c.inflight[route]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.record, call.err
		case <-ctx.Done():
			return models.RouteHealthRecord{}, ctx.Err()
		}
	}
	call := &probeCall{done: make(chan struct{})}
	c.inflight[route] = call
	c.mu.Unlock()

	call.record, call.err = c.probe(ctx, route)

	c.mu.Lock()
	delete(c.inflight, route)
	c.mu.Unlock()
	close(call.done)

	return call.record, call.err
}

func (c *Cache) probe(ctx context.Context, route models.Route) (models.RouteHealthRecord, error) {
	prober, ok := c.probers[route]
	if !ok {
		// No prober configured: the route is considered healthy and the
		// record is pinned until something records an observation.
		record := models.RouteHealthRecord{
			Route:         route,
			IsHealthy:     true,
			SuccessRate:   1.0,
			LastCheckedAt: time.Now(),
		}
		c.records.Add(route, record)
		return record, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	record, err := prober.Probe(probeCtx, route)
	if err != nil {
		prev, _ := c.records.Get(route)
		record = models.RouteHealthRecord{
			Route:               route,
			IsHealthy:           false,
			Latency:             time.Since(start),
			ConsecutiveFailures: prev.ConsecutiveFailures + 1,
			LastCheckedAt:       time.Now(),
		}
		c.records.Add(route, record)
		c.logger.Warn("route health probe failed",
			zap.String("route", string(route)),
			zap.Error(err))
		return record, err
	}

	record.Route = route
	record.LastCheckedAt = time.Now()
	c.records.Add(route, record)
	return record, nil
}

// Record stores an observed record directly, bypassing the prober. Used by
// callers that learn route health as a side effect of real traffic.
func (c *Cache) Record(record models.RouteHealthRecord) {
	record.LastCheckedAt = time.Now()
	c.records.Add(record.Route, record)
}

// Invalidate drops the cached record so the next read forces a probe.
func (c *Cache) Invalidate(route models.Route) {
	c.records.Remove(route)
}

// Start begins the periodic background refresh loop.
func (c *Cache) Start(ctx context.Context) {
	if c.cfg.RefreshInterval <= 0 {
		return
	}
	c.muRun.Lock()
	if c.running {
		c.muRun.Unlock()
		return
	}
	c.running = true
	c.muRun.Unlock()

	c.wg.Add(1)
	go c.run(ctx)
}

func (c *Cache) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshAll(ctx)
		}
	}
}

func (c *Cache) refreshAll(ctx context.Context) {
	var wg sync.WaitGroup
	for route := range c.probers {
		wg.Add(1)
		go func(r models.Route) {
			defer wg.Done()
			if _, err := c.Refresh(ctx, r); err != nil {
				c.logger.Debug("background refresh failed",
					zap.String("route", string(r)),
					zap.Error(err))
			}
		}(route)
	}
	wg.Wait()
}

// Stop stops the background refresh loop gracefully.
func (c *Cache) Stop() {
	c.muRun.Lock()
	if !c.running {
		c.muRun.Unlock()
		return
	}
	c.running = false
	c.muRun.Unlock()

	close(c.stopCh)
	c.wg.Wait()
}

// IsRunning returns whether the background loop is running.
func (c *Cache) IsRunning() bool {
	c.muRun.Lock()
	defer c.muRun.Unlock()
	return c.running
}
