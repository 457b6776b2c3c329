package farmerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"geik.xyz/farmer/internal/farmer"
	"geik.xyz/farmer/internal/persistence/storage"
)

var (
	// ErrPartialFlush is returned by FlushAll when at least one farmer could
	// not be written. The report names them.
	ErrPartialFlush = errors.New("farmerdb: partial flush")

	// ErrQuarantined guards rows that failed to decode on load; writing a
	// default entity over them would destroy the stored data.
	ErrQuarantined = errors.New("farmerdb: row quarantined")
)

// LevelResolver maps stored level numbers onto currently defined levels. The
// Store only uses it to report levels that no longer exist.
type LevelResolver interface {
	ResolveLevel(n int) (level int, ok bool)
}

// Store moves farmers between the Manager and the storage backend.
type Store struct {
	db      *storage.DB
	farmers *farmer.Manager
	levels  LevelResolver
	log     *log.Logger

	mu          sync.Mutex
	quarantined map[string]error
}

// New builds a Store. levels may be nil, which skips the undefined-level
// report.
func New(db *storage.DB, farmers *farmer.Manager, levels LevelResolver, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{
		db:          db,
		farmers:     farmers,
		levels:      levels,
		log:         logger,
		quarantined: map[string]error{},
	}
}

// LoadAll reads every persisted row and registers the decoded farmers with
// the Manager. Malformed rows are logged and skipped. Only failure to read
// the table at all is returned as an error.
func (s *Store) LoadAll(ctx context.Context) ([]*farmer.Farmer, error) {
	var out []*farmer.Farmer
	err := s.scan(ctx, func(rec farmer.Record) {
		if s.levels != nil {
			// The stored level is kept so a flush never rewrites it. Lookups
			// resolve it against the current levels.
			if lvl, ok := s.levels.ResolveLevel(rec.Level); !ok {
				s.log.Printf("farmerdb: %s: stored level %d is not defined, treated as %d", rec.PlayerID, rec.Level, lvl)
			}
		}
		f := farmer.FromRecord(rec)
		if !s.farmers.Adopt(f) {
			// Already live; the in-memory entity wins.
			s.log.Printf("farmerdb: %s: already loaded, keeping live entity", rec.PlayerID)
			f, _ = s.farmers.Get(rec.PlayerID)
		}
		out = append(out, f)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Records returns every decodable persisted row without touching the
// Manager.
func (s *Store) Records(ctx context.Context) ([]farmer.Record, error) {
	var out []farmer.Record
	if err := s.scan(ctx, func(rec farmer.Record) { out = append(out, rec) }); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) scan(ctx context.Context, fn func(farmer.Record)) error {
	rows, err := s.db.Query(ctx, storage.StmtSelectFarmers)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		raw := make([]any, 6)
		ptrs := make([]any, len(raw))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			s.log.Printf("farmerdb: skip unreadable row: %v", err)
			continue
		}
		rec, err := decodeRow(raw)
		if err != nil {
			if rec.PlayerID != "" {
				s.quarantine(rec.PlayerID, err)
			}
			s.log.Printf("farmerdb: skip row %q: %v", rec.PlayerID, err)
			continue
		}
		fn(rec)
	}
	if err := rows.Err(); err != nil {
		return &storage.QueryError{Op: storage.StmtSelectFarmers.String(), Err: err}
	}
	return nil
}

func (s *Store) quarantine(playerID string, err error) {
	s.mu.Lock()
	s.quarantined[playerID] = err
	s.mu.Unlock()
}

func (s *Store) isQuarantined(playerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.quarantined[playerID]
	return ok
}

// Quarantined lists player ids whose stored rows could not be decoded.
func (s *Store) Quarantined() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.quarantined))
	for id := range s.quarantined {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Upsert writes one farmer (insert or replace by player id).
func (s *Store) Upsert(ctx context.Context, f *farmer.Farmer) error {
	if f == nil {
		return fmt.Errorf("farmerdb: nil farmer")
	}
	return s.UpsertRecord(ctx, f.Record())
}

func (s *Store) UpsertRecord(ctx context.Context, rec farmer.Record) error {
	if strings.TrimSpace(rec.PlayerID) == "" {
		return fmt.Errorf("farmerdb: empty player id")
	}
	if s.isQuarantined(rec.PlayerID) {
		return fmt.Errorf("%w: %s", ErrQuarantined, rec.PlayerID)
	}
	args, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("farmerdb: encode %s: %w", rec.PlayerID, err)
	}
	_, err = s.db.Exec(ctx, storage.StmtUpsertFarmer, args...)
	return err
}

func (s *Store) Delete(ctx context.Context, playerID string) error {
	_, err := s.db.Exec(ctx, storage.StmtDeleteFarmer, playerID)
	return err
}

func (s *Store) Count(ctx context.Context) (int, error) {
	row, err := s.db.QueryRow(ctx, storage.StmtCountFarmers)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, &storage.QueryError{Op: storage.StmtCountFarmers.String(), Err: err}
	}
	return n, nil
}

// FlushReport is the outcome of a bulk flush.
type FlushReport struct {
	Written int
	Failed  []string
	Skipped []string
}

func (r FlushReport) Total() int { return r.Written + len(r.Failed) + len(r.Skipped) }

// FlushAll upserts every farmer held by the Manager and returns only after
// every write has finished or failed. One failed write never stops the rest.
// Writes run concurrently up to the backend's connection limit.
func (s *Store) FlushAll(ctx context.Context) (FlushReport, error) {
	var (
		mu     sync.Mutex
		report FlushReport
		g      errgroup.Group
	)
	limit := s.db.MaxConns()
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, f := range s.farmers.ListAll() {
		if s.isQuarantined(f.PlayerID()) {
			report.Skipped = append(report.Skipped, f.PlayerID())
			continue
		}
		g.Go(func() error {
			err := s.Upsert(ctx, f)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.log.Printf("farmerdb: flush %s: %v", f.PlayerID(), err)
				report.Failed = append(report.Failed, f.PlayerID())
				return nil
			}
			report.Written++
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Failed)
	sort.Strings(report.Skipped)
	if len(report.Failed) > 0 {
		return report, fmt.Errorf("%w: %d of %d farmers not written", ErrPartialFlush, len(report.Failed), report.Total())
	}
	return report, nil
}

// encodeRecord renders a record as upsert arguments. Maps are encoded with
// sorted keys so an untouched record always produces the same bytes.
func encodeRecord(rec farmer.Record) ([]any, error) {
	stock := rec.Stock
	if stock == nil {
		stock = map[string]int{}
	}
	attrs := rec.Attributes
	if attrs == nil {
		attrs = map[string]bool{}
	}
	sb, err := json.Marshal(stock)
	if err != nil {
		return nil, err
	}
	ab, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	collecting := 0
	if rec.Collecting {
		collecting = 1
	}
	return []any{rec.PlayerID, rec.Name, rec.Level, collecting, string(sb), string(ab)}, nil
}

// decodeRow turns the six raw columns of a farmers row into a Record. The
// player id is filled in first so callers can report which row failed.
func decodeRow(raw []any) (farmer.Record, error) {
	var rec farmer.Record
	id, err := asString(raw[0])
	if err != nil || strings.TrimSpace(id) == "" {
		return rec, fmt.Errorf("player_id: invalid %v", raw[0])
	}
	rec.PlayerID = id

	if raw[1] != nil {
		if rec.Name, err = asString(raw[1]); err != nil {
			return rec, fmt.Errorf("name: %w", err)
		}
	}
	level, err := asInt(raw[2])
	if err != nil {
		return rec, fmt.Errorf("level: %w", err)
	}
	rec.Level = level

	collecting, err := asInt(raw[3])
	if err != nil {
		return rec, fmt.Errorf("collecting: %w", err)
	}
	switch collecting {
	case 0:
	case 1:
		rec.Collecting = true
	default:
		return rec, fmt.Errorf("collecting: want 0 or 1, got %d", collecting)
	}

	stock, err := asString(raw[4])
	if err != nil {
		return rec, fmt.Errorf("stock: %w", err)
	}
	rec.Stock = map[string]int{}
	if err := json.Unmarshal([]byte(stock), &rec.Stock); err != nil {
		return rec, fmt.Errorf("stock: %w", err)
	}
	for item, n := range rec.Stock {
		if n < 0 {
			return rec, fmt.Errorf("stock: negative count for %s", item)
		}
	}

	attrs, err := asString(raw[5])
	if err != nil {
		return rec, fmt.Errorf("attributes: %w", err)
	}
	rec.Attributes = map[string]bool{}
	if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
		return rec, fmt.Errorf("attributes: %w", err)
	}
	return rec, nil
}

func asString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	default:
		return "", fmt.Errorf("want text, got %T", v)
	}
}

func asInt(v any) (int, error) {
	switch x := v.(type) {
	case int64:
		return int(x), nil
	case int32:
		return int(x), nil
	case int:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.Atoi(x)
	case []byte:
		return strconv.Atoi(string(x))
	default:
		return 0, fmt.Errorf("want integer, got %T", v)
	}
}
