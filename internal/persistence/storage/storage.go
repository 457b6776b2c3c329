package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"geik.xyz/farmer/internal/config"
)

// Stmt names a statement; each backend supplies its own SQL text for it.
type Stmt int

const (
	StmtSelectFarmers Stmt = iota + 1
	StmtSelectFarmer
	StmtUpsertFarmer
	StmtDeleteFarmer
	StmtCountFarmers
)

func (s Stmt) String() string {
	switch s {
	case StmtSelectFarmers:
		return "select_farmers"
	case StmtSelectFarmer:
		return "select_farmer"
	case StmtUpsertFarmer:
		return "upsert_farmer"
	case StmtDeleteFarmer:
		return "delete_farmer"
	case StmtCountFarmers:
		return "count_farmers"
	default:
		return fmt.Sprintf("stmt(%d)", int(s))
	}
}

var ErrNotConnected = errors.New("storage: not connected")

// ConnectionError means the backend could not be reached or initialized.
type ConnectionError struct {
	Backend string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("storage %s: connect: %v", e.Backend, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError means a single statement failed.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// variant is one concrete backend technology.
type variant interface {
	name() string
	open(ctx context.Context) (*sql.DB, error)
	schema() []string
	statements() map[Stmt]string
	maxConns() int
}

// DB is the only owner of the database session. Everything above it goes
// through named statements.
type DB struct {
	v       variant
	timeout time.Duration
	log     *log.Logger

	mu    sync.RWMutex
	db    *sql.DB
	stmts map[Stmt]string
}

// New prepares a client for the configured backend without touching the
// network or the filesystem.
func New(cfg config.Database, dataDir string, logger *log.Logger) (*DB, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	var v variant
	switch cfg.Type {
	case config.BackendSQLite:
		v = newSQLite(cfg, dataDir)
	case config.BackendPostgres:
		v = newPostgres(cfg, logger)
	default:
		return nil, &config.Error{Err: fmt.Errorf("unsupported database.type: %q", cfg.Type)}
	}
	return &DB{
		v:       v,
		timeout: cfg.ConnectTimeout(),
		log:     logger,
		stmts:   v.statements(),
	}, nil
}

func (d *DB) Backend() string { return d.v.name() }

// MaxConns is how many statements the backend can usefully run at once.
func (d *DB) MaxConns() int { return d.v.maxConns() }

// Connect opens the session and ensures the schema exists. The whole attempt
// is bounded by the configured connect timeout.
func (d *DB) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		return nil
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	db, err := d.v.open(ctx)
	if err != nil {
		return &ConnectionError{Backend: d.v.name(), Err: err}
	}
	if err := initSchema(ctx, db, d.v.schema()); err != nil {
		_ = db.Close()
		return &ConnectionError{Backend: d.v.name(), Err: fmt.Errorf("init schema: %w", err)}
	}
	d.db = db
	d.log.Printf("storage: connected backend=%s max_conns=%d", d.v.name(), d.v.maxConns())
	return nil
}

func initSchema(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) session() (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, &ConnectionError{Backend: d.v.name(), Err: ErrNotConnected}
	}
	return d.db, nil
}

func (d *DB) text(s Stmt) (string, error) {
	q, ok := d.stmts[s]
	if !ok {
		return "", &QueryError{Op: s.String(), Err: fmt.Errorf("not supported by %s", d.v.name())}
	}
	return q, nil
}

func (d *DB) Exec(ctx context.Context, s Stmt, args ...any) (sql.Result, error) {
	db, err := d.session()
	if err != nil {
		return nil, err
	}
	q, err := d.text(s)
	if err != nil {
		return nil, err
	}
	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, &QueryError{Op: s.String(), Err: err}
	}
	return res, nil
}

// Query runs a row-returning statement. The caller closes the rows.
func (d *DB) Query(ctx context.Context, s Stmt, args ...any) (*sql.Rows, error) {
	db, err := d.session()
	if err != nil {
		return nil, err
	}
	q, err := d.text(s)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &QueryError{Op: s.String(), Err: err}
	}
	return rows, nil
}

// QueryRow runs a single-row statement; errors surface from Scan.
func (d *DB) QueryRow(ctx context.Context, s Stmt, args ...any) (*sql.Row, error) {
	db, err := d.session()
	if err != nil {
		return nil, err
	}
	q, err := d.text(s)
	if err != nil {
		return nil, err
	}
	return db.QueryRowContext(ctx, q, args...), nil
}

func (d *DB) Connected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db != nil
}

// Close releases the session. It is safe to call more than once.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}
