package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/planzut/plan-sync/internal/fetchpool"
	"github.com/planzut/plan-sync/internal/schedule"
)

// GetCache returns the records stored for exactly this key. A request for a
// sub-range of a cached window is a miss; ranges are matched verbatim.
func (s *Store) GetCache(ctx context.Context, key fetchpool.Key) ([]schedule.Lesson, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT records_json
		 FROM cache_entries
		 WHERE kind = ? AND name = ? AND start_iso = ? AND end_iso = ?`,
		string(key.Kind),
		key.Name,
		key.Range.StartLocal(),
		key.Range.EndLocal(),
	)
	var recordsJSON string
	if err := row.Scan(&recordsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	var records []schedule.Lesson
	if err := json.Unmarshal([]byte(recordsJSON), &records); err != nil {
		return nil, false, err
	}
	return records, true, nil
}

// PutCache replaces the entry for this key in one statement, so readers see
// either the old records or the new ones, never a partial write.
func (s *Store) PutCache(ctx context.Context, key fetchpool.Key, records []schedule.Lesson) error {
	if records == nil {
		records = []schedule.Lesson{}
	}
	recordsJSON, err := json.Marshal(records)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO cache_entries (kind, name, start_iso, end_iso, records_json, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(kind, name, start_iso, end_iso) DO UPDATE SET
			records_json=excluded.records_json,
			fetched_at=excluded.fetched_at`,
		string(key.Kind),
		key.Name,
		key.Range.StartLocal(),
		key.Range.EndLocal(),
		string(recordsJSON),
		time.Now().UTC(),
	)
	return err
}

// InvalidateCache drops the entry for this key if present.
func (s *Store) InvalidateCache(ctx context.Context, key fetchpool.Key) error {
	_, err := s.db.ExecContext(
		ctx,
		`DELETE FROM cache_entries WHERE kind = ? AND name = ? AND start_iso = ? AND end_iso = ?`,
		string(key.Kind),
		key.Name,
		key.Range.StartLocal(),
		key.Range.EndLocal(),
	)
	return err
}

type cacheAdapter struct {
	s *Store
}

func (c cacheAdapter) Get(ctx context.Context, key fetchpool.Key) ([]schedule.Lesson, bool, error) {
	return c.s.GetCache(ctx, key)
}

func (c cacheAdapter) Put(ctx context.Context, key fetchpool.Key, records []schedule.Lesson) error {
	return c.s.PutCache(ctx, key, records)
}

// Cache exposes the store as the fetch pool's record cache.
func (s *Store) Cache() fetchpool.Cache {
	return cacheAdapter{s: s}
}
