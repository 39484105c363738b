// Package store persists every observed entity per region together with its
// last validation verdict, plus the per-region snapshot update log.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"wikivalidator/detect"
	"wikivalidator/osm"
)

// VerdictState is the tri-state validation outcome stored per entity.
type VerdictState int

const (
	// Unresolved means the entity has never been classified since it was
	// last (re)fetched.
	Unresolved VerdictState = iota
	// Clean means classification ran and found no problem.
	Clean
	// Flagged means classification found a problem.
	Flagged
)

// Verdict couples the state with the problem payload for flagged entities.
type Verdict struct {
	State   VerdictState
	Problem *detect.Problem
}

// Entity is one stored feature observation within a region.
type Entity struct {
	Element           osm.Element
	Region            string
	DownloadTimestamp int64
	Verdict           Verdict
}

// Store wraps SQLite access for entities and the update log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the validator database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			type TEXT NOT NULL,
			id INTEGER NOT NULL,
			lat REAL,
			lon REAL,
			tags TEXT NOT NULL,
			region TEXT NOT NULL,
			download_timestamp INTEGER NOT NULL,
			verdict TEXT,
			error_kind TEXT,
			UNIQUE(type, id, region)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_entities_region ON entities(region);`,
		`CREATE INDEX IF NOT EXISTS idx_entities_id_type ON entities(id, type);`,
		`CREATE TABLE IF NOT EXISTS update_log (
			region TEXT NOT NULL,
			download_timestamp INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_update_log_region ON update_log(region);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// verdict column encoding: NULL = unresolved, '' = clean, JSON = flagged.
func encodeVerdict(v Verdict) (verdict, errorKind sql.NullString, err error) {
	switch v.State {
	case Unresolved:
		return sql.NullString{}, sql.NullString{}, nil
	case Clean:
		return sql.NullString{String: "", Valid: true}, sql.NullString{String: "", Valid: true}, nil
	case Flagged:
		if v.Problem == nil {
			return verdict, errorKind, fmt.Errorf("flagged verdict without problem")
		}
		payload, err := json.Marshal(v.Problem)
		if err != nil {
			return verdict, errorKind, err
		}
		return sql.NullString{String: string(payload), Valid: true},
			sql.NullString{String: v.Problem.ErrorKind, Valid: true}, nil
	}
	return verdict, errorKind, fmt.Errorf("unknown verdict state %d", v.State)
}

func decodeVerdict(verdict sql.NullString) (Verdict, error) {
	if !verdict.Valid {
		return Verdict{State: Unresolved}, nil
	}
	if verdict.String == "" {
		return Verdict{State: Clean}, nil
	}
	var problem detect.Problem
	if err := json.Unmarshal([]byte(verdict.String), &problem); err != nil {
		return Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	return Verdict{State: Flagged, Problem: &problem}, nil
}

// UpsertEntity inserts or updates the record for (type, id, region). The
// stored verdict is reset to unresolved when resetVerdict is set, otherwise
// the existing verdict is preserved.
func (s *Store) UpsertEntity(ctx context.Context, e Entity, resetVerdict bool) error {
	tagsJSON, err := json.Marshal(e.Element.Tags)
	if err != nil {
		return err
	}
	verdict, errorKind, err := encodeVerdict(e.Verdict)
	if err != nil {
		return err
	}
	if resetVerdict {
		verdict, errorKind = sql.NullString{}, sql.NullString{}
	}
	query := `INSERT INTO entities(type, id, lat, lon, tags, region, download_timestamp, verdict, error_kind)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(type, id, region) DO UPDATE SET
			lat=excluded.lat, lon=excluded.lon, tags=excluded.tags,
			download_timestamp=excluded.download_timestamp`
	if resetVerdict {
		query += `, verdict=NULL, error_kind=NULL`
	}
	_, err = s.db.ExecContext(ctx, query,
		e.Element.Type, e.Element.ID, e.Element.Lat, e.Element.Lon, string(tagsJSON),
		e.Region, e.DownloadTimestamp, verdict, errorKind)
	return err
}

// DeleteEntity removes the record for (type, id, region).
func (s *Store) DeleteEntity(ctx context.Context, elementType string, id int64, region string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE type=? AND id=? AND region=?`, elementType, id, region)
	return err
}

// GetEntity fetches one record, or nil when absent.
func (s *Store) GetEntity(ctx context.Context, elementType string, id int64, region string) (*Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, id, lat, lon, tags, region, download_timestamp, verdict FROM entities
		 WHERE type=? AND id=? AND region=?`, elementType, id, region)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entities, err := scanEntities(rows)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return &entities[0], nil
}

// SetVerdict overwrites the verdict for (type, id, region).
func (s *Store) SetVerdict(ctx context.Context, elementType string, id int64, region string, v Verdict) error {
	verdict, errorKind, err := encodeVerdict(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE entities SET verdict=?, error_kind=? WHERE type=? AND id=? AND region=?`,
		verdict, errorKind, elementType, id, region)
	return err
}

// EntitiesForRegion returns every stored entity in the region.
func (s *Store) EntitiesForRegion(ctx context.Context, region string) ([]Entity, error) {
	return s.queryEntities(ctx,
		`SELECT type, id, lat, lon, tags, region, download_timestamp, verdict FROM entities
		 WHERE region=?`, region)
}

// UnresolvedEntities returns entities in the region that have never been
// classified since their last fetch.
func (s *Store) UnresolvedEntities(ctx context.Context, region string) ([]Entity, error) {
	return s.queryEntities(ctx,
		`SELECT type, id, lat, lon, tags, region, download_timestamp, verdict FROM entities
		 WHERE region=? AND verdict IS NULL`, region)
}

// OutdatedFlagged returns flagged entities in the region whose data predates
// threshold. Only previously flagged entities can have had their reported
// problem fixed without being re-pulled, so this is the staleness set.
func (s *Store) OutdatedFlagged(ctx context.Context, region string, threshold int64) ([]Entity, error) {
	return s.queryEntities(ctx,
		`SELECT type, id, lat, lon, tags, region, download_timestamp, verdict FROM entities
		 WHERE region=? AND download_timestamp < ? AND verdict IS NOT NULL AND verdict <> ''`,
		region, threshold)
}

// FlaggedEntities returns every flagged entity in the region.
func (s *Store) FlaggedEntities(ctx context.Context, region string) ([]Entity, error) {
	return s.queryEntities(ctx,
		`SELECT type, id, lat, lon, tags, region, download_timestamp, verdict FROM entities
		 WHERE region=? AND verdict IS NOT NULL AND verdict <> ''`, region)
}

// ProblemURLsByKind maps each error kind to the element URLs currently
// flagged with it, across all regions; the task-publishing export.
func (s *Store) ProblemURLsByKind(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT error_kind, type, id FROM entities
		 WHERE error_kind IS NOT NULL AND error_kind <> '' ORDER BY error_kind, type, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byKind := make(map[string][]string)
	for rows.Next() {
		var kind, elementType string
		var id int64
		if err := rows.Scan(&kind, &elementType, &id); err != nil {
			return nil, err
		}
		el := osm.Element{Type: elementType, ID: id}
		byKind[kind] = append(byKind[kind], el.URL())
	}
	return byKind, rows.Err()
}

// RecordSnapshot appends a snapshot pull to the region's update log.
func (s *Store) RecordSnapshot(ctx context.Context, region string, timestamp int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO update_log(region, download_timestamp) VALUES(?,?)`, region, timestamp)
	return err
}

// LatestSnapshot returns the most recent snapshot timestamp for the region,
// 0 when the region has never been pulled.
func (s *Store) LatestSnapshot(ctx context.Context, region string) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(download_timestamp), 0) FROM update_log WHERE region=?`, region)
	var ts int64
	if err := row.Scan(&ts); err != nil {
		return 0, err
	}
	return ts, nil
}

func (s *Store) queryEntities(ctx context.Context, query string, args ...any) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntities(rows)
}

func scanEntities(rows *sql.Rows) ([]Entity, error) {
	var entities []Entity
	for rows.Next() {
		var e Entity
		var tagsJSON string
		var verdict sql.NullString
		if err := rows.Scan(&e.Element.Type, &e.Element.ID, &e.Element.Lat, &e.Element.Lon,
			&tagsJSON, &e.Region, &e.DownloadTimestamp, &verdict); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tagsJSON), &e.Element.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for %s: %w", e.Element.Key(), err)
		}
		v, err := decodeVerdict(verdict)
		if err != nil {
			return nil, err
		}
		e.Verdict = v
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// Health returns an error when the database is not reachable.
func (s *Store) Health(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		return fmt.Errorf("db health: %w", err)
	}
	return nil
}
