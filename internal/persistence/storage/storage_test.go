package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"geik.xyz/farmer/internal/config"
)

func sqliteConfig() config.Database {
	cfg := config.Defaults().Database
	cfg.Type = config.BackendSQLite
	cfg.File = "database.db"
	return cfg
}

func TestSQLite_ConnectCreatesSchemaIdempotently(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for i := 0; i < 2; i++ {
		db, err := New(sqliteConfig(), dir, nil)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := db.Connect(ctx); err != nil {
			t.Fatalf("Connect #%d: %v", i, err)
		}
		if db.MaxConns() != 1 {
			t.Fatalf("sqlite MaxConns=%d want 1", db.MaxConns())
		}
		if _, err := db.Exec(ctx, StmtUpsertFarmer, "p"+strconv.Itoa(i), "", 1, 1, "{}", "{}"); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if err := db.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "database.db")); err != nil {
		t.Fatalf("db file: %v", err)
	}

	db, err := New(sqliteConfig(), dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := db.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer db.Close()
	row, err := db.QueryRow(ctx, StmtCountFarmers)
	if err != nil {
		t.Fatalf("QueryRow: %v", err)
	}
	var n int
	if err := row.Scan(&n); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 2 {
		t.Fatalf("count=%d want 2 (schema re-creation must not drop rows)", n)
	}
}

func TestSQLite_UpsertReplacesRow(t *testing.T) {
	ctx := context.Background()
	db, err := New(sqliteConfig(), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := db.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(ctx, StmtUpsertFarmer, "alice", "Alice", 1, 1, `{"WHEAT":3}`, "{}"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := db.Exec(ctx, StmtUpsertFarmer, "alice", "Alice", 2, 0, `{"WHEAT":4}`, `{"autoharvest":true}`); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}

	row, err := db.QueryRow(ctx, StmtSelectFarmer, "alice")
	if err != nil {
		t.Fatalf("QueryRow: %v", err)
	}
	var (
		id, name, stock, attrs string
		level, collecting      int
	)
	if err := row.Scan(&id, &name, &level, &collecting, &stock, &attrs); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if level != 2 || collecting != 0 || stock != `{"WHEAT":4}` || attrs != `{"autoharvest":true}` {
		t.Fatalf("row not replaced: level=%d collecting=%d stock=%s attrs=%s", level, collecting, stock, attrs)
	}

	if _, err := db.Exec(ctx, StmtDeleteFarmer, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rows, err := db.Query(ctx, StmtSelectFarmers)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer rows.Close()
	if rows.Next() {
		t.Fatalf("expected no rows after delete")
	}
}

func TestDB_NotConnected(t *testing.T) {
	db, err := New(sqliteConfig(), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = db.Exec(context.Background(), StmtCountFarmers)
	var ce *ConnectionError
	if !errors.As(err, &ce) || !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ConnectionError wrapping ErrNotConnected, got %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close on unconnected db: %v", err)
	}
}

func TestDB_QueryErrorWrapsStatement(t *testing.T) {
	ctx := context.Background()
	db, err := New(sqliteConfig(), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := db.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer db.Close()

	// Wrong arity.
	_, err = db.Exec(ctx, StmtUpsertFarmer, "alice")
	var qe *QueryError
	if !errors.As(err, &qe) || qe.Op != "upsert_farmer" {
		t.Fatalf("expected QueryError for upsert_farmer, got %v", err)
	}
	if _, err := db.Exec(ctx, Stmt(99)); !errors.As(err, &qe) {
		t.Fatalf("unknown statement should be a QueryError, got %v", err)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := sqliteConfig()
	cfg.Type = "mongo"
	_, err := New(cfg, t.TempDir(), nil)
	var ce *config.Error
	if !errors.As(err, &ce) {
		t.Fatalf("expected config.Error, got %v", err)
	}
}

func TestPostgres_UnreachableIsConnectionError(t *testing.T) {
	cfg := config.Defaults().Database
	cfg.Type = config.BackendPostgres
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	cfg.Name = "farmer"
	cfg.User = "farmer"
	cfg.ConnectTimeoutSeconds = 2
	cfg.MaxRetries = 1

	db, err := New(cfg, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if db.MaxConns() != cfg.PoolSize {
		t.Fatalf("MaxConns=%d want %d", db.MaxConns(), cfg.PoolSize)
	}
	start := time.Now()
	err = db.Connect(context.Background())
	var ce *ConnectionError
	if !errors.As(err, &ce) || ce.Backend != config.BackendPostgres {
		t.Fatalf("expected postgres ConnectionError, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("connect attempt not bounded: %s", elapsed)
	}
}

func TestPostgres_Live(t *testing.T) {
	dsnHost := os.Getenv("FARMER_TEST_POSTGRES_HOST")
	if dsnHost == "" {
		t.Skip("FARMER_TEST_POSTGRES_HOST not set")
	}
	cfg := config.Defaults().Database
	cfg.Type = config.BackendPostgres
	cfg.Host = dsnHost
	cfg.Name = envOr("FARMER_TEST_POSTGRES_DB", "farmer")
	cfg.User = envOr("FARMER_TEST_POSTGRES_USER", "farmer")
	cfg.Password = os.Getenv("FARMER_TEST_POSTGRES_PASSWORD")

	ctx := context.Background()
	db, err := New(cfg, "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := db.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(ctx, StmtUpsertFarmer, "pg-test", "", 1, 1, "{}", "{}"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := db.Exec(ctx, StmtDeleteFarmer, "pg-test"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
