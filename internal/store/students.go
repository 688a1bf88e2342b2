package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// Student is a resolved album number: how many majors the portal reports for
// it and when it was last refreshed.
type Student struct {
	Album       string
	MajorsCount int
	UpdatedAt   time.Time
}

func (s *Store) UpsertStudent(ctx context.Context, album string, majorsCount int) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO students (album, majors_count, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(album) DO UPDATE SET
			majors_count=excluded.majors_count,
			updated_at=excluded.updated_at`,
		album, majorsCount, time.Now().UTC(),
	)
	return err
}

func (s *Store) GetStudent(ctx context.Context, album string) (Student, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT album, majors_count, updated_at FROM students WHERE album = ?`,
		album,
	)
	var ret Student
	if err := row.Scan(&ret.Album, &ret.MajorsCount, &ret.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Student{}, false, nil
		}
		return Student{}, false, err
	}
	return ret, true, nil
}

// ReplaceStudentTokNames overwrites the set of toks resolved for the album.
func (s *Store) ReplaceStudentTokNames(ctx context.Context, album string, tokNames []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM student_tok_names WHERE album = ?`, album); err != nil {
		return err
	}
	for _, tok := range tokNames {
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO student_tok_names (album, tok_name) VALUES (?, ?)`,
			album, tok,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListStudentTokNames(ctx context.Context, album string) ([]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT tok_name FROM student_tok_names WHERE album = ? ORDER BY tok_name ASC`,
		album,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ReplaceStudentGroups overwrites the album's group memberships for one tok.
func (s *Store) ReplaceStudentGroups(ctx context.Context, album, tokName string, groups []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(
		ctx,
		`DELETE FROM student_groups WHERE album = ? AND tok_name = ?`,
		album, tokName,
	); err != nil {
		return err
	}
	for _, group := range groups {
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO student_groups (album, tok_name, group_name) VALUES (?, ?, ?)`,
			album, tokName, group,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListStudentGroups returns the album's group memberships keyed by tok.
func (s *Store) ListStudentGroups(ctx context.Context, album string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT tok_name, group_name FROM student_groups WHERE album = ? ORDER BY tok_name, group_name`,
		album,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make(map[string][]string)
	for rows.Next() {
		var tok, group string
		if err := rows.Scan(&tok, &group); err != nil {
			return nil, err
		}
		ret[tok] = append(ret[tok], group)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// ListStudentGroupsFlat returns the album's distinct groups across all toks,
// sorted.
func (s *Store) ListStudentGroupsFlat(ctx context.Context, album string) ([]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT DISTINCT group_name FROM student_groups WHERE album = ? ORDER BY group_name ASC`,
		album,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// DeleteStudentGroupsNotIn drops memberships for toks the album no longer
// belongs to, typically after a re-resolution changed its tok set.
func (s *Store) DeleteStudentGroupsNotIn(ctx context.Context, album string, tokNames []string) error {
	if len(tokNames) == 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM student_groups WHERE album = ?`, album)
		return err
	}
	query := `DELETE FROM student_groups WHERE album = ? AND tok_name NOT IN (?` +
		strings.Repeat(", ?", len(tokNames)-1) + `)`
	args := make([]any, 0, len(tokNames)+1)
	args = append(args, album)
	for _, tok := range tokNames {
		args = append(args, tok)
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}
