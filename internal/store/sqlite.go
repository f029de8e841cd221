package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"klinerec/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ DocumentStore = (*SQLiteStore)(nil)

// identRe restricts database and collection names to identifier-safe
// characters; both come from internal tables and uppercased symbols, so
// anything else is a programming error.
var identRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// SQLiteStore implements DocumentStore with one SQLite file per logical
// database and one table per collection.
type SQLiteStore struct {
	dir string

	mu     sync.Mutex
	dbs    map[string]*sql.DB
	tables map[string]bool
}

// OpenSQLiteStore opens (or creates) a store rooted at dir. Database
// files are created lazily on first use.
func OpenSQLiteStore(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}
	return &SQLiteStore{
		dir:    dir,
		dbs:    make(map[string]*sql.DB),
		tables: make(map[string]bool),
	}, nil
}

// Close closes every open database file.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for name, db := range s.dbs {
		if err := db.Close(); err != nil && first == nil {
			first = fmt.Errorf("closing %s: %w", name, err)
		}
		delete(s.dbs, name)
	}
	return first
}

// handle returns the open *sql.DB for a logical database, opening the
// file on first use. WAL mode keeps the writer goroutine and the
// hydration reads from blocking each other.
func (s *SQLiteStore) handle(dbName string) (*sql.DB, error) {
	if !identRe.MatchString(dbName) {
		return nil, fmt.Errorf("invalid database name %q", dbName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[dbName]; ok {
		return db, nil
	}

	path := filepath.Join(s.dir, dbName+".sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring %s: %w", path, err)
		}
	}

	s.dbs[dbName] = db
	return db, nil
}

const tickTableSchema = `(
	datetime    INTEGER PRIMARY KEY,
	symbol      TEXT NOT NULL,
	vt_symbol   TEXT NOT NULL,
	exchange    TEXT NOT NULL,
	date        TEXT NOT NULL,
	time        TEXT NOT NULL,
	last_price  REAL NOT NULL,
	volume      INTEGER NOT NULL,
	last_volume INTEGER NOT NULL
)`

const klineTableSchema = `(
	datetime       INTEGER PRIMARY KEY,
	symbol         TEXT NOT NULL,
	vt_symbol      TEXT NOT NULL,
	date           TEXT NOT NULL,
	time           TEXT NOT NULL,
	open           REAL NOT NULL,
	high           REAL NOT NULL,
	low            REAL NOT NULL,
	close          REAL NOT NULL,
	volume         INTEGER NOT NULL,
	open_datetime  INTEGER,
	close_datetime INTEGER
)`

// ensureTable creates the collection table on first use.
func (s *SQLiteStore) ensureTable(ctx context.Context, db *sql.DB, dbName, collection, schema string) error {
	if !identRe.MatchString(collection) {
		return fmt.Errorf("invalid collection name %q", collection)
	}

	key := dbName + "." + collection
	s.mu.Lock()
	created := s.tables[key]
	s.mu.Unlock()
	if created {
		return nil
	}

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q %s`, collection, schema)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("creating table %s: %w", key, err)
	}

	s.mu.Lock()
	s.tables[key] = true
	s.mu.Unlock()
	return nil
}

// UpsertTick inserts or replaces the tick keyed by its datetime.
func (s *SQLiteStore) UpsertTick(ctx context.Context, dbName, collection string, t *domain.Tick) error {
	db, err := s.handle(dbName)
	if err != nil {
		return err
	}
	if err := s.ensureTable(ctx, db, dbName, collection, tickTableSchema); err != nil {
		return err
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %q (datetime, symbol, vt_symbol, exchange, date, time, last_price, volume, last_volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(datetime) DO UPDATE SET
			symbol = excluded.symbol,
			vt_symbol = excluded.vt_symbol,
			exchange = excluded.exchange,
			date = excluded.date,
			time = excluded.time,
			last_price = excluded.last_price,
			volume = excluded.volume,
			last_volume = excluded.last_volume`, collection)

	_, err = db.ExecContext(ctx, stmt,
		t.Datetime.UnixNano(),
		t.Symbol,
		t.VtSymbol,
		string(t.Exchange),
		t.Datetime.Format("20060102"),
		t.Datetime.Format("15:04:05"),
		t.LastPrice,
		t.Volume,
		t.LastVolume,
	)
	if err != nil {
		return fmt.Errorf("upserting tick %s/%s: %w", dbName, collection, err)
	}
	return nil
}

// UpsertKline inserts or replaces the bar keyed by its bucket datetime.
func (s *SQLiteStore) UpsertKline(ctx context.Context, dbName, collection string, k *domain.KLine) error {
	db, err := s.handle(dbName)
	if err != nil {
		return err
	}
	if err := s.ensureTable(ctx, db, dbName, collection, klineTableSchema); err != nil {
		return err
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %q (datetime, symbol, vt_symbol, date, time, open, high, low, close, volume, open_datetime, close_datetime)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(datetime) DO UPDATE SET
			symbol = excluded.symbol,
			vt_symbol = excluded.vt_symbol,
			date = excluded.date,
			time = excluded.time,
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			open_datetime = excluded.open_datetime,
			close_datetime = excluded.close_datetime`, collection)

	_, err = db.ExecContext(ctx, stmt,
		k.Datetime.UnixNano(),
		k.Symbol,
		k.VtSymbol,
		k.Datetime.Format("20060102"),
		k.Datetime.Format("15:04:05"),
		k.Open,
		k.High,
		k.Low,
		k.Close,
		k.Volume,
		ocNano(k.OpenDatetime),
		ocNano(k.CloseDatetime),
	)
	if err != nil {
		return fmt.Errorf("upserting kline %s/%s: %w", dbName, collection, err)
	}
	return nil
}

// ocNano converts an open/close tick timestamp for storage. The sentinel
// timestamps of bars hydrated from offline imports sit outside the
// int64-nanosecond range, so they store as NULL, which the read path maps
// back to the same sentinels.
func ocNano(t time.Time) any {
	if y := t.Year(); y < 1678 || y > 2261 {
		return nil
	}
	return t.UnixNano()
}

// FindLastKlines returns up to count bars strictly before the given
// datetime, newest first. A missing collection reads as empty.
func (s *SQLiteStore) FindLastKlines(ctx context.Context, dbName, collection string, count int, before time.Time) ([]*domain.KLine, error) {
	db, err := s.handle(dbName)
	if err != nil {
		return nil, err
	}
	if err := s.ensureTable(ctx, db, dbName, collection, klineTableSchema); err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(`
		SELECT datetime, symbol, vt_symbol, open, high, low, close, volume, open_datetime, close_datetime
		FROM %q
		WHERE datetime < ?
		ORDER BY date DESC, time DESC
		LIMIT ?`, collection)

	rows, err := db.QueryContext(ctx, stmt, before.UnixNano(), count)
	if err != nil {
		return nil, fmt.Errorf("querying klines %s/%s: %w", dbName, collection, err)
	}
	defer rows.Close()

	var out []*domain.KLine
	for rows.Next() {
		var (
			k       domain.KLine
			dt      int64
			openDT  sql.NullInt64
			closeDT sql.NullInt64
		)
		if err := rows.Scan(&dt, &k.Symbol, &k.VtSymbol, &k.Open, &k.High, &k.Low, &k.Close, &k.Volume, &openDT, &closeDT); err != nil {
			return nil, fmt.Errorf("scanning kline %s/%s: %w", dbName, collection, err)
		}
		k.Datetime = time.Unix(0, dt).In(time.Local)

		// Bars imported offline carry no open/close tick timestamps; the
		// inverted sentinels keep later ticks from rewriting their OC.
		k.OpenDatetime = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
		k.CloseDatetime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
		if openDT.Valid {
			k.OpenDatetime = time.Unix(0, openDT.Int64).In(time.Local)
		}
		if closeDT.Valid {
			k.CloseDatetime = time.Unix(0, closeDT.Int64).In(time.Local)
		}

		out = append(out, &k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading klines %s/%s: %w", dbName, collection, err)
	}
	return out, nil
}
