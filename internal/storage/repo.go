package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var _ RecordStore = (*Store)(nil)

func (s *Store) PutRecord(ctx context.Context, c Collection, r Record) error {
	if err := validate(c, r.ID); err != nil {
		return err
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	q := s.sql.Insert(string(c)).
		Columns("id", "status", "payload", "created_at", "updated_at").
		Values(r.ID, r.Status, string(r.Payload), formatTime(r.CreatedAt), formatTime(r.UpdatedAt)).
		Suffix("ON CONFLICT(id) DO UPDATE SET status=excluded.status, payload=excluded.payload, updated_at=excluded.updated_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build put %s query: %w", c, err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("put %s: %w", c, err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, c Collection, id string) (Record, error) {
	if err := validate(c, id); err != nil {
		return Record{}, err
	}
	q := s.sql.Select("id", "status", "payload", "created_at", "updated_at").
		From(string(c)).
		Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Record{}, fmt.Errorf("build get %s query: %w", c, err)
	}

	r, err := scanRecord(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get %s: %w", c, err)
	}
	return r, nil
}

// ListRecords returns records newest first. limit <= 0 means no limit.
func (s *Store) ListRecords(ctx context.Context, c Collection, limit, offset int) ([]Record, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown collection %q", c)
	}
	q := s.sql.Select("id", "status", "payload", "created_at", "updated_at").
		From(string(c)).
		OrderBy("created_at DESC", "id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		if limit <= 0 {
			// sqlite rejects OFFSET without LIMIT.
			q = q.Limit(math.MaxInt64)
		}
		q = q.Offset(uint64(offset))
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list %s query: %w", c, err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c, err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", c, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", c, err)
	}
	return out, nil
}

func (s *Store) DeleteRecord(ctx context.Context, c Collection, id string) error {
	if err := validate(c, id); err != nil {
		return err
	}
	sqlStr, args, err := s.sql.Delete(string(c)).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete %s query: %w", c, err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", c, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s rows affected: %w", c, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		r                Record
		payload          string
		created, updated string
	)
	if err := row.Scan(&r.ID, &r.Status, &payload, &created, &updated); err != nil {
		return Record{}, err
	}
	r.Payload = []byte(payload)
	var err error
	if r.CreatedAt, err = parseTime(created); err != nil {
		return Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return Record{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return r, nil
}
