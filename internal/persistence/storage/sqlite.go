package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"geik.xyz/farmer/internal/config"
)

type sqliteVariant struct {
	path string
}

func newSQLite(cfg config.Database, dataDir string) *sqliteVariant {
	path := cfg.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(dataDir, path)
	}
	return &sqliteVariant{path: path}
}

func (v *sqliteVariant) name() string  { return config.BackendSQLite }
func (v *sqliteVariant) maxConns() int { return 1 }

func (v *sqliteVariant) open(ctx context.Context) (*sql.DB, error) {
	if v.path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(v.path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", v.path)
	if err != nil {
		return nil, err
	}
	// One session serializes every access to the file.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func initPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000;",
		// Hold the file lock for the lifetime of the session: one process owns the store.
		"PRAGMA locking_mode=EXCLUSIVE;",
		"PRAGMA journal_mode=WAL;",
		// Shutdown flushes must survive a host kill right after teardown.
		"PRAGMA synchronous=FULL;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s %w", p, err)
		}
	}
	return nil
}

func (v *sqliteVariant) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT INTO meta(key,value) VALUES('schema_version','1') ON CONFLICT(key) DO NOTHING;`,
		`CREATE TABLE IF NOT EXISTS farmers (
			player_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			level INTEGER NOT NULL,
			collecting INTEGER NOT NULL,
			stock TEXT NOT NULL,
			attributes TEXT NOT NULL
		);`,
	}
}

func (v *sqliteVariant) statements() map[Stmt]string {
	return map[Stmt]string{
		StmtSelectFarmers: `SELECT player_id,name,level,collecting,stock,attributes FROM farmers ORDER BY player_id`,
		StmtSelectFarmer:  `SELECT player_id,name,level,collecting,stock,attributes FROM farmers WHERE player_id=?`,
		StmtUpsertFarmer: `INSERT INTO farmers(player_id,name,level,collecting,stock,attributes) VALUES(?,?,?,?,?,?)
			ON CONFLICT(player_id) DO UPDATE SET
				name=excluded.name,
				level=excluded.level,
				collecting=excluded.collecting,
				stock=excluded.stock,
				attributes=excluded.attributes`,
		StmtDeleteFarmer: `DELETE FROM farmers WHERE player_id=?`,
		StmtCountFarmers: `SELECT COUNT(*) FROM farmers`,
	}
}
