package database

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/student-tracker-sync/pkg/errors"
)

// Reconnector opens a fresh connection pool after a connectivity failure.
type Reconnector func(ctx context.Context) (*sqlx.DB, error)

// Observer receives timing and retry signals for store operations.
type Observer interface {
	ObserveDBQuery(label string, duration time.Duration)
	RecordStoreRetry(label string, recovered bool)
}

// Operation is a unit of store work executed against the current connection.
type Operation func(ctx context.Context, db *sqlx.DB) error

// Gateway wraps every store operation with a reconnect-once, retry-once policy.
type Gateway struct {
	mu        sync.RWMutex
	db        *sqlx.DB
	reconnect Reconnector
	logger    *zap.Logger
	observer  Observer
}

// GatewayOption customises a Gateway.
type GatewayOption func(*Gateway)

// WithReconnector replaces the connection pool when a connectivity failure is detected.
func WithReconnector(fn Reconnector) GatewayOption {
	return func(g *Gateway) {
		g.reconnect = fn
	}
}

// WithLogger attaches a logger for retry and abandonment records.
func WithLogger(logger *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithObserver attaches a metrics sink.
func WithObserver(observer Observer) GatewayOption {
	return func(g *Gateway) {
		g.observer = observer
	}
}

// NewGateway constructs a gateway around an open connection pool.
func NewGateway(db *sqlx.DB, opts ...GatewayOption) *Gateway {
	g := &Gateway{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// DB returns the current connection pool.
func (g *Gateway) DB() *sqlx.DB {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.db
}

// Rebind converts a '?' placeholder query to the bind style of the current driver.
func (g *Gateway) Rebind(query string) string {
	return g.DB().Rebind(query)
}

// Do runs op. A connectivity failure triggers one reconnect and exactly one more attempt; a second
// failure is logged and returned as a transient error.
func (g *Gateway) Do(ctx context.Context, label string, op Operation) error {
	start := time.Now()
	err := op(ctx, g.DB())
	g.observe(label, start)
	if err == nil || !IsConnectionError(err) {
		return err
	}

	g.logger.Warn("store connectivity failure, reconnecting", zap.String("operation", label), zap.Error(err))
	if rerr := g.reopen(ctx); rerr != nil {
		g.record(label, false)
		g.logger.Error("store reconnect failed, operation abandoned", zap.String("operation", label), zap.Error(rerr))
		return appErrors.Wrap(rerr, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, label)
	}

	start = time.Now()
	err = op(ctx, g.DB())
	g.observe(label, start)
	if err != nil && IsConnectionError(err) {
		g.record(label, false)
		g.logger.Error("store operation abandoned after retry", zap.String("operation", label), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, label)
	}
	g.record(label, err == nil)
	return err
}

// Ping checks the store through the same reconnect policy as every other operation.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.Do(ctx, "ping", func(ctx context.Context, db *sqlx.DB) error {
		return db.PingContext(ctx)
	})
}

// Close releases the current pool.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.db == nil {
		return nil
	}
	return g.db.Close()
}

func (g *Gateway) reopen(ctx context.Context) error {
	if g.reconnect == nil {
		// database/sql discards broken connections itself; the retry gets a fresh one from the pool.
		return nil
	}
	fresh, err := g.reconnect(ctx)
	if err != nil {
		return err
	}
	g.mu.Lock()
	old := g.db
	g.db = fresh
	g.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (g *Gateway) observe(label string, start time.Time) {
	if g.observer != nil {
		g.observer.ObserveDBQuery(label, time.Since(start))
	}
}

func (g *Gateway) record(label string, recovered bool) {
	if g.observer != nil {
		g.observer.RecordStoreRetry(label, recovered)
	}
}
