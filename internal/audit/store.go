package audit

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/relayguard/relayguard/internal/config"
	rgerrors "github.com/relayguard/relayguard/internal/errors"
	"github.com/relayguard/relayguard/internal/models"
)

const (
	kindDecision     = "routing_decision"
	kindFallback     = "fallback"
	kindHealthCheck  = "health_check"
	kindOptimization = "optimization"
)

type entry struct {
	kind       string
	decision   models.RoutingDecision
	fallback   models.FallbackEvent
	health     models.RouteHealthRecord
	suggestion models.OptimizationSuggestion
	at         time.Time
}

// Store is a sqlite-backed audit sink with WAL mode. Writes are queued to a
// single writer goroutine; when the queue is full the event is dropped and
// counted, the caller is never blocked.
type Store struct {
	db      *sql.DB
	logger  *zap.Logger
	queue   chan entry
	dropped atomic.Int64
	done    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// NewStore opens (creating if needed) the audit database at cfg.DBPath and
// starts the async writer.
func NewStore(cfg config.AuditConfig, logger *zap.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.DBPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &rgerrors.ErrDatabaseOpen{Path: cfg.DBPath, Err: err}
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &rgerrors.ErrDatabaseOpen{Path: cfg.DBPath, Err: err}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &rgerrors.ErrDatabaseOpen{Path: cfg.DBPath, Err: err}
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 256
	}

	s := &Store{
		db:     db,
		logger: logger,
		queue:  make(chan entry, bufSize),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &rgerrors.ErrDatabaseQuery{Operation: "create migrations table", Err: err}
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return &rgerrors.ErrDatabaseQuery{Operation: "get current migration version", Err: err}
	}

	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS routing_decisions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					correlation_id TEXT NOT NULL,
					operation TEXT NOT NULL,
					selected_route TEXT NOT NULL,
					reason TEXT NOT NULL,
					fallback_available INTEGER NOT NULL DEFAULT 0,
					estimated_latency_ms INTEGER NOT NULL DEFAULT 0,
					recorded_at DATETIME NOT NULL
				);

				CREATE TABLE IF NOT EXISTS fallback_events (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					failed_route TEXT NOT NULL,
					fallback_route TEXT NOT NULL,
					reason TEXT NOT NULL,
					operation TEXT NOT NULL,
					original_error TEXT,
					recorded_at DATETIME NOT NULL
				);

				CREATE TABLE IF NOT EXISTS health_checks (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					route TEXT NOT NULL,
					is_healthy INTEGER NOT NULL,
					latency_ms INTEGER NOT NULL DEFAULT 0,
					success_rate REAL NOT NULL DEFAULT 0,
					consecutive_failures INTEGER NOT NULL DEFAULT 0,
					checked_at DATETIME,
					recorded_at DATETIME NOT NULL
				);

				CREATE TABLE IF NOT EXISTS optimizations (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					route TEXT NOT NULL,
					message TEXT NOT NULL,
					recorded_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_decisions_recorded_at ON routing_decisions(recorded_at);
				CREATE INDEX IF NOT EXISTS idx_decisions_operation ON routing_decisions(operation);
				CREATE INDEX IF NOT EXISTS idx_fallbacks_recorded_at ON fallback_events(recorded_at);
				CREATE INDEX IF NOT EXISTS idx_health_checks_route ON health_checks(route);
			`,
		},
	}

	tx, err := db.Begin()
	if err != nil {
		return &rgerrors.ErrDatabaseQuery{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version > currentVersion {
			if _, err := tx.Exec(m.up); err != nil {
				return &rgerrors.ErrDatabaseQuery{Operation: "apply migration", Err: err}
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return &rgerrors.ErrDatabaseQuery{Operation: "record migration", Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &rgerrors.ErrDatabaseQuery{Operation: "commit migrations", Err: err}
	}
	return nil
}

// LogRoutingDecision queues a routing decision for recording.
func (s *Store) LogRoutingDecision(d models.RoutingDecision) error {
	return s.enqueue(entry{kind: kindDecision, decision: d, at: time.Now()})
}

// LogFallback queues a fallback event for recording.
func (s *Store) LogFallback(e models.FallbackEvent) error {
	return s.enqueue(entry{kind: kindFallback, fallback: e, at: time.Now()})
}

// LogHealthCheck queues a route health observation for recording.
func (s *Store) LogHealthCheck(r models.RouteHealthRecord) error {
	return s.enqueue(entry{kind: kindHealthCheck, health: r, at: time.Now()})
}

// LogOptimization queues an optimization advisory for recording.
func (s *Store) LogOptimization(sg models.OptimizationSuggestion) error {
	return s.enqueue(entry{kind: kindOptimization, suggestion: sg, at: time.Now()})
}

func (s *Store) enqueue(e entry) error {
	if s.closed.Load() {
		return nil
	}
	select {
	case s.queue <- e:
	default:
		n := s.dropped.Add(1)
		if n%100 == 1 {
			s.logger.Warn("audit queue full, dropping events",
				zap.Int64("dropped_total", n))
		}
	}
	return nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case e := <-s.queue:
			s.write(e)
		case <-s.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case e := <-s.queue:
					s.write(e)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) write(e entry) {
	var err error
	switch e.kind {
	case kindDecision:
		_, err = s.db.Exec(`
			INSERT INTO routing_decisions
				(correlation_id, operation, selected_route, reason, fallback_available, estimated_latency_ms, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.decision.CorrelationID,
			string(e.decision.Operation),
			string(e.decision.SelectedRoute),
			e.decision.Reason,
			boolToInt(e.decision.FallbackAvail),
			e.decision.EstimatedLatency.Milliseconds(),
			e.at,
		)
	case kindFallback:
		_, err = s.db.Exec(`
			INSERT INTO fallback_events
				(failed_route, fallback_route, reason, operation, original_error, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			string(e.fallback.FailedRoute),
			string(e.fallback.FallbackRoute),
			e.fallback.Reason,
			string(e.fallback.Operation),
			e.fallback.OriginalError,
			e.at,
		)
	case kindHealthCheck:
		_, err = s.db.Exec(`
			INSERT INTO health_checks
				(route, is_healthy, latency_ms, success_rate, consecutive_failures, checked_at, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(e.health.Route),
			boolToInt(e.health.IsHealthy),
			e.health.Latency.Milliseconds(),
			e.health.SuccessRate,
			e.health.ConsecutiveFailures,
			e.health.LastCheckedAt,
			e.at,
		)
	case kindOptimization:
		_, err = s.db.Exec(`
			INSERT INTO optimizations (route, message, recorded_at)
			VALUES (?, ?, ?)`,
			string(e.suggestion.Route),
			e.suggestion.Message,
			e.at,
		)
	}
	if err != nil {
		s.logger.Error("audit write failed",
			zap.String("kind", e.kind),
			zap.Error(err))
	}
}

// RecentDecisions returns up to limit routing decisions, newest first.
func (s *Store) RecentDecisions(limit int) ([]models.RoutingDecision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT correlation_id, operation, selected_route, reason, fallback_available, estimated_latency_ms
		FROM routing_decisions
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, &rgerrors.ErrDatabaseQuery{Operation: "list routing decisions", Err: err}
	}
	defer rows.Close()

	var out []models.RoutingDecision
	for rows.Next() {
		var d models.RoutingDecision
		var fallbackAvail int
		var latencyMs int64
		if err := rows.Scan(&d.CorrelationID, &d.Operation, &d.SelectedRoute, &d.Reason, &fallbackAvail, &latencyMs); err != nil {
			return nil, &rgerrors.ErrDatabaseQuery{Operation: "scan routing decision", Err: err}
		}
		d.FallbackAvail = fallbackAvail != 0
		d.EstimatedLatency = time.Duration(latencyMs) * time.Millisecond
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &rgerrors.ErrDatabaseQuery{Operation: "list routing decisions", Err: err}
	}
	return out, nil
}

// RecentFallbacks returns up to limit fallback events, newest first.
func (s *Store) RecentFallbacks(limit int) ([]models.FallbackEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT failed_route, fallback_route, reason, operation, original_error
		FROM fallback_events
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, &rgerrors.ErrDatabaseQuery{Operation: "list fallback events", Err: err}
	}
	defer rows.Close()

	var out []models.FallbackEvent
	for rows.Next() {
		var e models.FallbackEvent
		if err := rows.Scan(&e.FailedRoute, &e.FallbackRoute, &e.Reason, &e.Operation, &e.OriginalError); err != nil {
			return nil, &rgerrors.ErrDatabaseQuery{Operation: "scan fallback event", Err: err}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &rgerrors.ErrDatabaseQuery{Operation: "list fallback events", Err: err}
	}
	return out, nil
}

// Dropped reports how many events were discarded because the queue was full.
func (s *Store) Dropped() int64 {
	return s.dropped.Load()
}

// Close drains the write queue and closes the database. Events logged after
// Close are silently discarded.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
