package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"sync"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/sqlxray/sqlxray/internal/logger"
	"github.com/sqlxray/sqlxray/internal/metrics"
)

// retryableCodes are MySQL client error numbers indicating transient
// connectivity loss: can't connect, server has gone away, lost connection
// during query, lost connection to server.
var retryableCodes = map[uint16]struct{}{
	2003: {},
	2006: {},
	2013: {},
	2055: {},
}

// Manager owns one bounded connection pool for a single target database.
// The pool is created lazily, torn down and rebuilt on retryable errors and
// shared by every job whose Config key matches.
type Manager struct {
	cfg  Config
	opts Options

	mu sync.Mutex
	db *sql.DB

	// test hooks
	open  func(dsn string) (*sql.DB, error)
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager builds a Manager for cfg. No connection is made until the first
// query.
func NewManager(cfg Config, opts Options) *Manager {
	return &Manager{
		cfg:   cfg,
		opts:  opts.normalized(),
		open:  func(dsn string) (*sql.DB, error) { return sql.Open("mysql", dsn) },
		sleep: sleepContext,
	}
}

// Config returns the immutable connection config backing this pool.
func (m *Manager) Config() Config { return m.cfg }

// get returns the live pool, creating it under the mutex if needed so
// concurrent callers never build duplicates.
func (m *Manager) get(ctx context.Context) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		return m.db, nil
	}
	db, err := m.open(m.cfg.DSN(m.opts.ConnectTimeout))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(m.opts.MaxConns)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(m.opts.RecycleInterval)
	m.db = db
	logger.L.Info("mysql pool created", "host", m.cfg.Host, "database", m.cfg.Database)
	return m.db, nil
}

// invalidate closes the current pool so the next query rebuilds it.
func (m *Manager) invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		_ = m.db.Close()
		m.db = nil
		metrics.PoolRebuilds.Inc()
	}
}

// Close shuts the pool down for good.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// ExecuteWithRetry runs query and hands the result rows to scan. Transient
// connectivity errors and query timeouts invalidate the pool and are retried
// with exponential backoff capped at 10s; any other error is returned as-is.
// After exhausting the attempts the last error is returned.
func (m *Manager) ExecuteWithRetry(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error {
	var lastErr error
	for attempt := 1; attempt <= m.opts.RetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := m.queryOnce(ctx, query, args, scan)
		if err == nil {
			return nil
		}
		lastErr = err

		if err := ctx.Err(); err != nil {
			// The caller went away; its error is authoritative.
			return err
		}
		if !isRetryable(err) {
			return err
		}

		logger.L.Warn("query failed, rebuilding pool",
			"attempt", attempt, "max", m.opts.RetryAttempts, "err", err)
		m.invalidate()
		metrics.QueryRetries.Inc()

		if attempt < m.opts.RetryAttempts {
			if serr := m.sleep(ctx, backoff(attempt)); serr != nil {
				return serr
			}
		}
	}
	return lastErr
}

func (m *Manager) queryOnce(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error {
	db, err := m.get(ctx)
	if err != nil {
		return err
	}
	qctx, cancel := context.WithTimeout(ctx, m.opts.QueryTimeout)
	defer cancel()
	rows, err := db.QueryContext(qctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	if err := scan(rows); err != nil {
		return err
	}
	return rows.Err()
}

// backoff returns min(2^attempt, 10) seconds for the 1-based attempt that
// just failed.
func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// isRetryable reports whether err indicates transient connectivity loss
// rather than a query or permission fault.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		_, ok := retryableCodes[myErr.Number]
		return ok
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// Per-query timeout; the parent context is checked by the caller.
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysqldriver.ErrInvalidConn) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
