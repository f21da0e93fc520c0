// Package session manages transactional database sessions. Every unit of
// work gets exactly one session: committed on success, rolled back on
// failure, and always closed on exit. A counter of in-flight sessions is
// kept for diagnostics only.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
)

// Beginner starts database transactions. *pgxpool.Pool implements it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Manager hands out scoped sessions over a bounded connection pool.
type Manager struct {
	db     Beginner
	logger *slog.Logger

	// The counter is advisory: it never gates behavior.
	countMu  sync.Mutex
	inFlight int
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a session manager over the given transaction source.
func NewManager(db Beginner, options ...ManagerOption) *Manager {
	m := &Manager{
		db:     db,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(m)
	}

	return m
}

// WithSession runs fn inside one transaction. On normal return the
// transaction commits; if fn or the commit fails, it rolls back and the
// error is returned to the caller unchanged (commit failures are wrapped).
// The session is closed and the in-flight counter restored in every case,
// including a panic in fn.
func (m *Manager) WithSession(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("session: begin: %w", err)
	}

	m.track(1)
	defer m.track(-1)
	// Rollback after a successful commit is a no-op (pgx.ErrTxClosed).
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("session: commit: %w", err)
	}
	return nil
}

// InSession is WithSession for callers that need a result.
func InSession[T any](ctx context.Context, m *Manager, fn func(tx pgx.Tx) (T, error)) (T, error) {
	var out T
	err := m.WithSession(ctx, func(tx pgx.Tx) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Begin returns a raw session the caller is itself obliged to commit or
// roll back. The in-flight counter is restored when the returned session
// is finished.
//
// Deprecated: kept for older callers; new code should use WithSession.
func (m *Manager) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: begin: %w", err)
	}
	m.track(1)
	return &countedTx{Tx: tx, m: m}, nil
}

// InFlight returns the number of currently open sessions.
func (m *Manager) InFlight() int {
	m.countMu.Lock()
	defer m.countMu.Unlock()
	return m.inFlight
}

func (m *Manager) track(delta int) {
	m.countMu.Lock()
	m.inFlight += delta
	m.countMu.Unlock()
}

// countedTx decrements the in-flight counter once, on whichever of Commit
// or Rollback finishes the session.
type countedTx struct {
	pgx.Tx
	m    *Manager
	once sync.Once
}

func (t *countedTx) Commit(ctx context.Context) error {
	err := t.Tx.Commit(ctx)
	t.once.Do(func() { t.m.track(-1) })
	return err
}

func (t *countedTx) Rollback(ctx context.Context) error {
	err := t.Tx.Rollback(ctx)
	t.once.Do(func() { t.m.track(-1) })
	return err
}
