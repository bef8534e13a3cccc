// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package auth

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// User field names. They double as the column names of the users table.
const (
	FieldID             = "id"
	FieldEmail          = "email"
	FieldHashedPassword = "hashed_password"
	FieldSessionID      = "session_id"
	FieldResetToken     = "reset_token"
)

// Columns lists every user field in table order.
var Columns = []string{FieldID, FieldEmail, FieldHashedPassword, FieldSessionID, FieldResetToken}

// User is a registered account.
type User struct {
	ID             int64
	Email          string
	HashedPassword []byte
	SessionID      *string
	ResetToken     *string
}

// Criteria selects users by field equality. A nil token value matches
// users that have no token of that kind.
type Criteria map[string]any

// Fields holds field assignments for an update. A nil token value clears
// the token.
type Fields map[string]any

// UserStore persists users.
type UserStore interface {
	// Add inserts a user and returns it with its generated ID.
	// Returns ErrAlreadyExists if the email is already registered.
	Add(ctx context.Context, email string, hashedPassword []byte) (*User, error)

	// FindBy returns the single user matching all criteria.
	// Returns ErrNotFound on no match and ErrInvalidQuery on malformed
	// criteria or more than one match.
	FindBy(ctx context.Context, criteria Criteria) (*User, error)

	// Update applies fields to the user with the given ID, all or nothing.
	// Returns ErrUnknownField before touching anything if a field name is
	// not a user field.
	Update(ctx context.Context, id int64, fields Fields) error

	// UpdateWhere applies fields to the single user matching criteria in
	// one atomic step and returns that user as it was before the update.
	UpdateWhere(ctx context.Context, criteria Criteria, fields Fields) (*User, error)
}

// LogValue keeps the password hash, tokens and email out of log output.
func (u *User) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("id", u.ID),
		slog.Bool("has_session", u.SessionID != nil),
		slog.Bool("has_reset_token", u.ResetToken != nil),
	)
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	c := &User{
		ID:             u.ID,
		Email:          u.Email,
		HashedPassword: bytes.Clone(u.HashedPassword),
	}
	if u.SessionID != nil {
		s := *u.SessionID
		c.SessionID = &s
	}
	if u.ResetToken != nil {
		s := *u.ResetToken
		c.ResetToken = &s
	}
	return c
}

// Matches reports whether u satisfies criteria. The criteria must have
// been normalized with NormalizeCriteria.
func (u *User) Matches(criteria Criteria) bool {
	for field, value := range criteria {
		switch field {
		case FieldID:
			if u.ID != value.(int64) {
				return false
			}
		case FieldEmail:
			if u.Email != value.(string) {
				return false
			}
		case FieldHashedPassword:
			if !bytes.Equal(u.HashedPassword, value.([]byte)) {
				return false
			}
		case FieldSessionID:
			if !equalToken(u.SessionID, value.(*string)) {
				return false
			}
		case FieldResetToken:
			if !equalToken(u.ResetToken, value.(*string)) {
				return false
			}
		}
	}
	return true
}

// Apply assigns fields to u. The fields must have been normalized with
// NormalizeFields.
func (u *User) Apply(fields Fields) {
	for field, value := range fields {
		switch field {
		case FieldEmail:
			u.Email = value.(string)
		case FieldHashedPassword:
			u.HashedPassword = bytes.Clone(value.([]byte))
		case FieldSessionID:
			u.SessionID = value.(*string)
		case FieldResetToken:
			u.ResetToken = value.(*string)
		}
	}
}

func equalToken(have, want *string) bool {
	if have == nil || want == nil {
		return have == nil && want == nil
	}
	return *have == *want
}

// NormalizeCriteria validates criteria and returns a copy with every value
// converted to its canonical type: int64 for id, string for email, []byte
// for hashed_password and *string for tokens.
func NormalizeCriteria(criteria Criteria) (Criteria, error) {
	if len(criteria) == 0 {
		return nil, oops.Code("STORE_EMPTY_CRITERIA").Wrap(ErrInvalidQuery)
	}
	out := make(Criteria, len(criteria))
	for field, value := range criteria {
		if !isField(field) {
			return nil, oops.Code("STORE_UNKNOWN_FIELD").
				With("field", field).
				Wrap(ErrInvalidQuery)
		}
		v, err := normalizeValue(field, value)
		if err != nil {
			return nil, err
		}
		out[field] = v
	}
	return out, nil
}

// NormalizeFields validates an update and returns a copy with canonical
// value types. Every field is checked before the caller applies any.
func NormalizeFields(fields Fields) (Fields, error) {
	out := make(Fields, len(fields))
	for field, value := range fields {
		if !isField(field) {
			return nil, oops.Code("STORE_UNKNOWN_FIELD").
				With("field", field).
				Wrap(ErrUnknownField)
		}
		if field == FieldID {
			return nil, oops.Code("STORE_IMMUTABLE_FIELD").
				With("field", field).
				Wrap(ErrInvalidQuery)
		}
		v, err := normalizeValue(field, value)
		if err != nil {
			return nil, err
		}
		out[field] = v
	}
	return out, nil
}

func isField(name string) bool {
	for _, c := range Columns {
		if c == name {
			return true
		}
	}
	return false
}

func normalizeValue(field string, value any) (any, error) {
	switch field {
	case FieldID:
		switch v := value.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		}
	case FieldEmail:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case FieldHashedPassword:
		if v, ok := value.([]byte); ok {
			return bytes.Clone(v), nil
		}
	case FieldSessionID, FieldResetToken:
		switch v := value.(type) {
		case nil:
			return (*string)(nil), nil
		case string:
			return &v, nil
		case *string:
			if v == nil {
				return (*string)(nil), nil
			}
			s := *v
			return &s, nil
		}
	}
	return nil, oops.Code("STORE_INVALID_VALUE").
		With("field", field).
		Errorf("%w: unsupported value type %T for %s", ErrInvalidQuery, value, field)
}
