package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"aadhaar-velocity/internal/model"
)

// ErrNotFound is returned when a definition id does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateName is returned when a definition name is already taken.
var ErrDuplicateName = errors.New("definition name already exists")

// Store is the SQLite-backed bar and definition store. It keeps a single
// connection so writes are serialised by the pool.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

var (
	_ model.BarStore        = (*Store)(nil)
	_ model.DefinitionStore = (*Store)(nil)
)

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database at path with WAL mode and creates the schema.
func New(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log = log.With().Str("component", "sqlite").Logger()
	log.Info().Str("path", path).Msg("opened database")
	return &Store{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			location  TEXT    NOT NULL,
			ts        INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			volume    REAL    NOT NULL DEFAULT 0,
			spread    REAL    NOT NULL DEFAULT 0,
			migration REAL    NOT NULL DEFAULT 0,
			youth     REAL    NOT NULL DEFAULT 0,
			workload  REAL    NOT NULL DEFAULT 0,
			raw_bio   REAL    NOT NULL DEFAULT 0,
			raw_enrol REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (location, ts)
		);

		CREATE TABLE IF NOT EXISTS definitions (
			id         TEXT    PRIMARY KEY,
			name       TEXT    NOT NULL UNIQUE,
			script     TEXT    NOT NULL DEFAULT '',
			preset     TEXT    NOT NULL DEFAULT '',
			kind       TEXT    NOT NULL DEFAULT 'overlay',
			created_at INTEGER NOT NULL
		);
	`)
	return err
}

// SaveBars upserts bars for a location in a single transaction. A bar at
// an existing (location, time) replaces the stored one.
func (s *Store) SaveBars(ctx context.Context, location string, bars []model.Bar) error {
	if location == "" {
		return errors.New("sqlite save bars: empty location")
	}
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (location, ts, open, high, low, close, volume, spread, migration, youth, workload, raw_bio, raw_enrol)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare bars: %w", err)
	}
	defer stmt.Close()

	for i := range bars {
		b := &bars[i]
		_, err := stmt.ExecContext(ctx, location, int64(b.Time), b.Open, b.High, b.Low, b.Close,
			b.Volume, b.Spread, b.Migration, b.Youth, b.Workload, b.RawBio, b.RawEnrol)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert bar: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit bars: %w", err)
	}
	s.log.Debug().Str("location", location).Int("bars", len(bars)).Dur("elapsed", time.Since(start)).Msg("committed bars")
	return nil
}

// SaveDefinition inserts or replaces a definition by id. An empty id is
// assigned a new UUID.
func (s *Store) SaveDefinition(ctx context.Context, def model.IndicatorDefinition) error {
	_, err := s.saveDefinition(ctx, def)
	return err
}

// CreateDefinition is SaveDefinition returning the stored definition.
func (s *Store) CreateDefinition(ctx context.Context, def model.IndicatorDefinition) (model.IndicatorDefinition, error) {
	return s.saveDefinition(ctx, def)
}

func (s *Store) saveDefinition(ctx context.Context, def model.IndicatorDefinition) (model.IndicatorDefinition, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO definitions (id, name, script, preset, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, script = excluded.script,
			preset = excluded.preset, kind = excluded.kind
	`, def.ID, def.Name, def.Script, def.Preset, string(def.Kind), time.Now().UnixNano())
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return def, fmt.Errorf("%w: %q", ErrDuplicateName, def.Name)
		}
		return def, fmt.Errorf("sqlite save definition: %w", err)
	}
	return def, nil
}

// DeleteDefinition removes a definition. Unknown ids return ErrNotFound.
func (s *Store) DeleteDefinition(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM definitions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite delete definition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("definition %s: %w", id, ErrNotFound)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
