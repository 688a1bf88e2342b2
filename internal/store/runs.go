package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/planzut/plan-sync/internal/runs"
)

// LoadRuns returns the full run history, oldest first.
func (s *Store) LoadRuns(ctx context.Context) ([]*runs.Run, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, tok_name, start_iso, end_iso, status, created_at, started_at, finished_at,
		        rooms_total, rooms_processed, groups_found, groups_added, errors, last_error
		 FROM sync_runs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*runs.Run, 0)
	for rows.Next() {
		item, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Store) UpsertRun(ctx context.Context, run *runs.Run) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sync_runs (
			id, tok_name, start_iso, end_iso, status, created_at, started_at, finished_at,
			rooms_total, rooms_processed, groups_found, groups_added, errors, last_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			started_at=excluded.started_at,
			finished_at=excluded.finished_at,
			rooms_total=excluded.rooms_total,
			rooms_processed=excluded.rooms_processed,
			groups_found=excluded.groups_found,
			groups_added=excluded.groups_added,
			errors=excluded.errors,
			last_error=excluded.last_error`,
		run.ID,
		run.TokName,
		run.StartISO,
		run.EndISO,
		string(run.Status),
		run.CreatedAt.UTC(),
		nullableTime(run.StartedAt),
		nullableTime(run.FinishedAt),
		run.RoomsTotal,
		run.RoomsProcessed,
		run.GroupsFound,
		run.GroupsAdded,
		run.Errors,
		run.LastError,
	)
	return err
}

// LatestSuccessfulRun returns the most recent run for the tok that finished
// with status success, or false when the tok has never synced.
func (s *Store) LatestSuccessfulRun(ctx context.Context, tokName string) (*runs.Run, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, tok_name, start_iso, end_iso, status, created_at, started_at, finished_at,
		        rooms_total, rooms_processed, groups_found, groups_added, errors, last_error
		 FROM sync_runs
		 WHERE tok_name = ? AND status = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		tokName,
		string(runs.StatusSuccess),
	)
	item, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return item, true, nil
}

// ReplaceRunGroups overwrites the group snapshot attached to a run.
func (s *Store) ReplaceRunGroups(ctx context.Context, runID, tokName string, groups []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM run_groups WHERE run_id = ?`, runID); err != nil {
		return err
	}
	for _, group := range groups {
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO run_groups (run_id, tok_name, group_name) VALUES (?, ?, ?)`,
			runID, tokName, group,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListRunGroups returns the persisted group snapshot of a run, sorted.
func (s *Store) ListRunGroups(ctx context.Context, runID, tokName string) ([]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT group_name FROM run_groups WHERE run_id = ? AND tok_name = ? ORDER BY group_name ASC`,
		runID, tokName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// UpsertGroups merges groups into the canonical per-tok set and reports how
// many were not seen before.
func (s *Store) UpsertGroups(ctx context.Context, tokName string, groups []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	added := 0
	for _, group := range groups {
		var res sql.Result
		res, err = tx.ExecContext(
			ctx,
			`INSERT INTO tok_groups (tok_name, group_name, first_seen)
			 VALUES (?, ?, ?)
			 ON CONFLICT(tok_name, group_name) DO NOTHING`,
			tokName, group, now,
		)
		if err != nil {
			return 0, err
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			err = raErr
			return 0, err
		}
		added += int(n)
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

// ListGroups returns every group ever discovered for the tok, sorted.
func (s *Store) ListGroups(ctx context.Context, tokName string) ([]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT group_name FROM tok_groups WHERE tok_name = ? ORDER BY group_name ASC`,
		tokName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *Store) UpsertRooms(ctx context.Context, rooms []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	for _, room := range rooms {
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO rooms (name, updated_at) VALUES (?, ?)
			 ON CONFLICT(name) DO UPDATE SET updated_at=excluded.updated_at`,
			room, now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListRooms(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM rooms ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*runs.Run, error) {
	var item runs.Run
	var status string
	var startedAt, finishedAt sql.NullTime
	if err := row.Scan(
		&item.ID,
		&item.TokName,
		&item.StartISO,
		&item.EndISO,
		&status,
		&item.CreatedAt,
		&startedAt,
		&finishedAt,
		&item.RoomsTotal,
		&item.RoomsProcessed,
		&item.GroupsFound,
		&item.GroupsAdded,
		&item.Errors,
		&item.LastError,
	); err != nil {
		return nil, err
	}
	item.Status = runs.Status(status)
	if startedAt.Valid {
		item.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		item.FinishedAt = finishedAt.Time
	}
	return &item, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	ret := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		ret = append(ret, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}
