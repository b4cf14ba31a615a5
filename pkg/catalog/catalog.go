package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"
)

// identRe is the trusted-identifier check applied to every series,
// namespace and keyword name before it is spliced into a query string.
// Names reaching this package always originate from our own template
// metadata or JSD parser output, never directly from network input, but
// the check stays cheap insurance against a malformed template slipping
// a stray character into a query.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quoteIdent(name string) (string, error) {
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("catalog: invalid identifier %q", name)
	}
	return `"` + name + `"`, nil
}

// DB is the catalog connection pool. One process opens one DB and hands out
// one Session per DRMS session, mirroring the "single-threaded per module"
// single-connection-per-session threading model.
type DB struct {
	sql *sql.DB
	log zerolog.Logger
}

// Open wires a *sql.DB using a driver the caller's build has registered
// (cmd/drmsd imports none itself and passes its --db-driver name through);
// this package names no concrete driver so the database itself stays out
// of scope.
func Open(driverName, dsn string, log zerolog.Logger) (*DB, error) {
	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	return &DB{sql: sqlDB, log: log.With().Str("component", "catalog").Logger()}, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

// Ping checks the catalog connection is reachable, for pkg/health's
// CatalogChecker.
func (d *DB) Ping(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

// NewSession checks out a single dedicated connection. Binding one
// *sql.Conn per DRMS session is what makes "one in-flight statement at a
// time" an invariant the type system enforces rather than a convention
// (callers serialize access through the dispatcher).
func (d *DB) NewSession(ctx context.Context, noshare bool) (*Session, error) {
	conn, err := d.sql.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: acquire connection: %w", err)
	}
	return &Session{conn: conn, noshare: noshare, log: d.log}, nil
}

// Session is one DRMS session's serialized connection, plus whatever
// transaction is currently open on it.
type Session struct {
	conn    *sql.Conn
	tx      *sql.Tx
	noshare bool
	log     zerolog.Logger
}

// Begin opens a new transaction if one is not already open.
func (s *Session) Begin(ctx context.Context) error {
	if s.tx != nil {
		return nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin: %w", err)
	}
	s.tx = tx
	return nil
}

// Commit commits the open transaction, if any.
func (s *Session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: commit: %w", err)
	}
	return nil
}

// Rollback aborts the open transaction. Per the error-propagation policy,
// if the session is configured noshare a fresh transaction is started
// immediately so an unrelated client sharing this backend isn't stalled
// waiting on a connection that never resumes work.
func (s *Session) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("catalog: rollback: %w", err)
	}
	if s.noshare {
		return s.Begin(ctx)
	}
	return nil
}

// Close releases the underlying connection back to the pool. Any open
// transaction is rolled back first.
func (s *Session) Close(ctx context.Context) error {
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	return s.conn.Close()
}

// querier is satisfied by both *sql.Tx and *sql.Conn, so query helpers work
// whether or not a transaction is currently open.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Session) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.conn
}
