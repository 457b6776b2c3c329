package storage

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"geik.xyz/farmer/internal/config"
)

type postgresVariant struct {
	cfg config.Database
	log *log.Logger
}

func newPostgres(cfg config.Database, logger *log.Logger) *postgresVariant {
	return &postgresVariant{cfg: cfg, log: logger}
}

func (v *postgresVariant) name() string { return config.BackendPostgres }

func (v *postgresVariant) maxConns() int {
	if v.cfg.PoolSize < 1 {
		return 1
	}
	return v.cfg.PoolSize
}

// dsn renders the connection URL. The password is never logged.
func (v *postgresVariant) dsn() string {
	q := url.Values{}
	if v.cfg.SSLMode != "" {
		q.Set("sslmode", v.cfg.SSLMode)
	}
	if t := v.cfg.ConnectTimeout(); t > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(t/time.Second)))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(v.cfg.User, v.cfg.Password),
		Host:     net.JoinHostPort(v.cfg.Host, strconv.Itoa(v.cfg.Port)),
		Path:     "/" + v.cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (v *postgresVariant) open(ctx context.Context) (*sql.DB, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	tries := v.cfg.MaxRetries + 1
	if tries < 1 {
		tries = 1
	}
	attempt := 0
	return backoff.Retry(ctx, func() (*sql.DB, error) {
		attempt++
		db, err := sql.Open("pgx", v.dsn())
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		db.SetMaxOpenConns(v.maxConns())
		db.SetMaxIdleConns(v.maxConns())
		db.SetConnMaxIdleTime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			if permanentPGError(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return db, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			v.log.Printf("postgres %s:%d attempt %d failed: %v (retry in %s)", v.cfg.Host, v.cfg.Port, attempt, err, next)
		}),
	)
}

// permanentPGError reports server answers that a retry cannot fix.
func permanentPGError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "28000", "28P01": // invalid authorization, bad password
		return true
	case "3D000": // unknown database
		return true
	}
	return false
}

func (v *postgresVariant) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`INSERT INTO meta(key,value) VALUES('schema_version','1') ON CONFLICT(key) DO NOTHING`,
		`CREATE TABLE IF NOT EXISTS farmers (
			player_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			level INTEGER NOT NULL,
			collecting INTEGER NOT NULL,
			stock TEXT NOT NULL,
			attributes TEXT NOT NULL
		)`,
	}
}

func (v *postgresVariant) statements() map[Stmt]string {
	return map[Stmt]string{
		StmtSelectFarmers: `SELECT player_id,name,level,collecting,stock,attributes FROM farmers ORDER BY player_id`,
		StmtSelectFarmer:  `SELECT player_id,name,level,collecting,stock,attributes FROM farmers WHERE player_id=$1`,
		StmtUpsertFarmer: `INSERT INTO farmers(player_id,name,level,collecting,stock,attributes) VALUES($1,$2,$3,$4,$5,$6)
			ON CONFLICT(player_id) DO UPDATE SET
				name=EXCLUDED.name,
				level=EXCLUDED.level,
				collecting=EXCLUDED.collecting,
				stock=EXCLUDED.stock,
				attributes=EXCLUDED.attributes`,
		StmtDeleteFarmer: `DELETE FROM farmers WHERE player_id=$1`,
		StmtCountFarmers: `SELECT COUNT(*) FROM farmers`,
	}
}
