package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"aadhaar-velocity/internal/model"
)

// ReadBars returns the bars for a location ordered by time ascending.
// An unknown location yields an empty slice.
func (s *Store) ReadBars(ctx context.Context, location string) ([]model.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume, spread, migration, youth, workload, raw_bio, raw_enrol
		FROM bars
		WHERE location = ?
		ORDER BY ts ASC
	`, location)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	bars := []model.Bar{}
	for rows.Next() {
		var b model.Bar
		var ts int64
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume,
			&b.Spread, &b.Migration, &b.Youth, &b.Workload, &b.RawBio, &b.RawEnrol); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.Time = model.Time(ts)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Locations lists every location with stored bars, alphabetically.
func (s *Store) Locations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT location FROM bars ORDER BY location`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query locations: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, fmt.Errorf("sqlite scan location: %w", err)
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

// ListDefinitions returns stored definitions in creation order.
func (s *Store) ListDefinitions(ctx context.Context) ([]model.IndicatorDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, script, preset, kind FROM definitions ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query definitions: %w", err)
	}
	defer rows.Close()

	out := []model.IndicatorDefinition{}
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

// GetDefinition loads one definition by id.
func (s *Store) GetDefinition(ctx context.Context, id string) (model.IndicatorDefinition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, script, preset, kind FROM definitions WHERE id = ?`, id)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.IndicatorDefinition{}, fmt.Errorf("definition %s: %w", id, ErrNotFound)
	}
	return def, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDefinition(sc scanner) (model.IndicatorDefinition, error) {
	var def model.IndicatorDefinition
	var kind string
	if err := sc.Scan(&def.ID, &def.Name, &def.Script, &def.Preset, &kind); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return def, err
		}
		return def, fmt.Errorf("sqlite scan definition: %w", err)
	}
	def.Kind = model.Kind(kind)
	return def, nil
}
