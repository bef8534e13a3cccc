// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

// Package postgres implements auth.UserStore on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/authd/authd/internal/auth"
)

// poolIface is the subset of pgxpool.Pool used by Store.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectColumns = `id, email, hashed_password, session_id, reset_token`

// Store implements auth.UserStore using the users table.
type Store struct {
	pool poolIface
}

// NewStore creates a new Store.
func NewStore(pool poolIface) *Store {
	return &Store{pool: pool}
}

// Add inserts a user. The unique index on email rejects duplicates.
func (s *Store) Add(ctx context.Context, email string, hashedPassword []byte) (*auth.User, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (email, hashed_password) VALUES ($1, $2) RETURNING id`,
		email, hashedPassword,
	).Scan(&id)
	if isUniqueViolation(err) {
		return nil, oops.Code("STORE_EMAIL_TAKEN").
			With("email", email).
			Wrap(auth.ErrAlreadyExists)
	}
	if err != nil {
		return nil, oops.Code("STORE_ADD_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}
	return &auth.User{
		ID:             id,
		Email:          email,
		HashedPassword: slices.Clone(hashedPassword),
	}, nil
}

// FindBy returns the single user matching every criterion.
func (s *Store) FindBy(ctx context.Context, criteria auth.Criteria) (*auth.User, error) {
	crit, err := auth.NormalizeCriteria(criteria)
	if err != nil {
		return nil, err
	}
	where, args := whereClause(crit, 1)

	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM users WHERE `+where+` LIMIT 2`, args...)
	if err != nil {
		return nil, oops.Code("STORE_FIND_FAILED").
			With("operation", "select user").
			Wrap(err)
	}
	return single(rows, crit)
}

// Update writes fields to the user with the given id.
func (s *Store) Update(ctx context.Context, id int64, fields auth.Fields) error {
	f, err := auth.NormalizeFields(fields)
	if err != nil {
		return err
	}
	if len(f) == 0 {
		_, err := s.FindBy(ctx, auth.Criteria{auth.FieldID: id})
		return err
	}

	set, args := setClause(f)
	args = append(args, id)
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET `+set+` WHERE id = $`+strconv.Itoa(len(args)), args...)
	if isUniqueViolation(err) {
		return oops.Code("STORE_EMAIL_TAKEN").
			With("id", id).
			Wrap(auth.ErrAlreadyExists)
	}
	if err != nil {
		return oops.Code("STORE_UPDATE_FAILED").
			With("operation", "update user").
			With("id", id).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("STORE_USER_NOT_FOUND").
			With("id", id).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdateWhere locks the single row matching criteria, applies fields to it
// and returns the row as it was before the write. Nothing is written when
// zero or several rows match.
func (s *Store) UpdateWhere(ctx context.Context, criteria auth.Criteria, fields auth.Fields) (*auth.User, error) {
	crit, err := auth.NormalizeCriteria(criteria)
	if err != nil {
		return nil, err
	}
	f, err := auth.NormalizeFields(fields)
	if err != nil {
		return nil, err
	}
	if len(f) == 0 {
		return s.FindBy(ctx, crit)
	}

	set, args := setClause(f)
	where, whereArgs := whereClause(crit, len(args)+1)
	args = append(args, whereArgs...)

	rows, err := s.pool.Query(ctx, `
		WITH matched AS (
			SELECT `+selectColumns+` FROM users WHERE `+where+` LIMIT 2 FOR UPDATE
		), updated AS (
			UPDATE users SET `+set+`
			WHERE id IN (SELECT id FROM matched) AND (SELECT count(*) FROM matched) = 1
			RETURNING id
		)
		SELECT `+selectColumns+` FROM matched`, args...)
	if err != nil {
		return nil, oops.Code("STORE_UPDATE_FAILED").
			With("operation", "conditional update").
			Wrap(err)
	}
	user, err := single(rows, crit)
	if isUniqueViolation(err) {
		return nil, oops.Code("STORE_EMAIL_TAKEN").Wrap(auth.ErrAlreadyExists)
	}
	return user, err
}

// single reads at most two rows and requires exactly one.
func single(rows pgx.Rows, crit auth.Criteria) (*auth.User, error) {
	defer rows.Close()

	var found []*auth.User
	for rows.Next() {
		var u auth.User
		if err := rows.Scan(&u.ID, &u.Email, &u.HashedPassword, &u.SessionID, &u.ResetToken); err != nil {
			return nil, oops.Code("STORE_SCAN_FAILED").Wrap(err)
		}
		found = append(found, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("STORE_FIND_FAILED").
			With("operation", "iterate users").
			Wrap(err)
	}

	switch len(found) {
	case 0:
		return nil, oops.Code("STORE_USER_NOT_FOUND").
			With("criteria", criteriaKeys(crit)).
			Wrap(auth.ErrNotFound)
	case 1:
		return found[0], nil
	default:
		return nil, oops.Code("STORE_MULTIPLE_MATCHES").
			With("criteria", criteriaKeys(crit)).
			Wrap(auth.ErrInvalidQuery)
	}
}

// whereClause renders criteria in column order with placeholders numbered
// from start. A nil token matches NULL.
func whereClause(crit auth.Criteria, start int) (string, []any) {
	var (
		parts []string
		args  []any
	)
	for _, col := range slices.Sorted(maps.Keys(crit)) {
		v := sqlValue(crit[col])
		if v == nil {
			parts = append(parts, col+" IS NULL")
			continue
		}
		args = append(args, v)
		parts = append(parts, col+" = $"+strconv.Itoa(start+len(args)-1))
	}
	return strings.Join(parts, " AND "), args
}

func setClause(f auth.Fields) (string, []any) {
	var (
		parts []string
		args  []any
	)
	for _, col := range slices.Sorted(maps.Keys(f)) {
		args = append(args, sqlValue(f[col]))
		parts = append(parts, col+" = $"+strconv.Itoa(len(args)))
	}
	return strings.Join(parts, ", "), args
}

// sqlValue flattens optional tokens so a cleared token is bound as NULL.
func sqlValue(v any) any {
	if p, ok := v.(*string); ok {
		if p == nil {
			return nil
		}
		return *p
	}
	return v
}

func criteriaKeys(crit auth.Criteria) []string {
	return slices.Sorted(maps.Keys(crit))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
