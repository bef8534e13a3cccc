// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

// Package bolt implements auth.UserStore on a single bbolt file.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/samber/oops"
	"go.etcd.io/bbolt"

	"github.com/authd/authd/internal/auth"
)

var (
	usersBucket  = []byte("users")
	emailsBucket = []byte("emails")
)

// record is the stored form of a user.
type record struct {
	ID             int64   `json:"id"`
	Email          string  `json:"email"`
	HashedPassword []byte  `json:"hashed_password"`
	SessionID      *string `json:"session_id,omitempty"`
	ResetToken     *string `json:"reset_token,omitempty"`
}

func toRecord(u *auth.User) record {
	return record{
		ID:             u.ID,
		Email:          u.Email,
		HashedPassword: u.HashedPassword,
		SessionID:      u.SessionID,
		ResetToken:     u.ResetToken,
	}
}

func (r record) user() *auth.User {
	return &auth.User{
		ID:             r.ID,
		Email:          r.Email,
		HashedPassword: r.HashedPassword,
		SessionID:      r.SessionID,
		ResetToken:     r.ResetToken,
	}
}

// Store implements auth.UserStore backed by a bbolt database. Every write
// runs in one bbolt read-write transaction, which bbolt serializes.
type Store struct {
	db *bbolt.DB
}

var _ auth.UserStore = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, oops.Code("STORE_OPEN_FAILED").
			With("path", path).
			Wrap(err)
	}
	s, err := NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database and creates the buckets it needs.
func NewStore(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{usersBucket, emailsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, oops.Code("STORE_OPEN_FAILED").
			With("operation", "create buckets").
			Wrap(err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add stores a new user with the next id of the users bucket.
func (s *Store) Add(_ context.Context, email string, hashedPassword []byte) (*auth.User, error) {
	var added *auth.User
	err := s.db.Update(func(tx *bbolt.Tx) error {
		users, emails := tx.Bucket(usersBucket), tx.Bucket(emailsBucket)
		if emails.Get([]byte(email)) != nil {
			return oops.Code("STORE_EMAIL_TAKEN").
				With("email", email).
				Wrap(auth.ErrAlreadyExists)
		}
		seq, err := users.NextSequence()
		if err != nil {
			return err
		}
		u := &auth.User{ID: int64(seq), Email: email, HashedPassword: slices.Clone(hashedPassword)}
		if err := put(users, u); err != nil {
			return err
		}
		added = u
		return emails.Put([]byte(email), idKey(u.ID))
	})
	if err != nil {
		return nil, wrapTx(err, "add user")
	}
	return added, nil
}

// FindBy returns the single user matching criteria.
func (s *Store) FindBy(_ context.Context, criteria auth.Criteria) (*auth.User, error) {
	c, err := auth.NormalizeCriteria(criteria)
	if err != nil {
		return nil, err
	}
	var found *auth.User
	err = s.db.View(func(tx *bbolt.Tx) error {
		found, err = find(tx, c)
		return err
	})
	if err != nil {
		return nil, wrapTx(err, "find user")
	}
	return found, nil
}

// Update applies fields to the user with the given id.
func (s *Store) Update(_ context.Context, id int64, fields auth.Fields) error {
	f, err := auth.NormalizeFields(fields)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		u, err := get(tx.Bucket(usersBucket), id)
		if err != nil {
			return err
		}
		return apply(tx, u, f)
	})
	return wrapTx(err, "update user")
}

// UpdateWhere applies fields to the single user matching criteria and
// returns that user as it was before.
func (s *Store) UpdateWhere(_ context.Context, criteria auth.Criteria, fields auth.Fields) (*auth.User, error) {
	c, err := auth.NormalizeCriteria(criteria)
	if err != nil {
		return nil, err
	}
	f, err := auth.NormalizeFields(fields)
	if err != nil {
		return nil, err
	}
	var before *auth.User
	err = s.db.Update(func(tx *bbolt.Tx) error {
		u, err := find(tx, c)
		if err != nil {
			return err
		}
		before = u.Clone()
		return apply(tx, u, f)
	})
	if err != nil {
		return nil, wrapTx(err, "conditional update")
	}
	return before, nil
}

// find resolves criteria through the id key or the email index when it
// can and scans the users bucket otherwise.
func find(tx *bbolt.Tx, c auth.Criteria) (*auth.User, error) {
	users := tx.Bucket(usersBucket)

	var candidate *int64
	if id, ok := c[auth.FieldID].(int64); ok {
		candidate = &id
	} else if email, ok := c[auth.FieldEmail].(string); ok {
		v := tx.Bucket(emailsBucket).Get([]byte(email))
		if v == nil {
			return nil, notFound(c)
		}
		id := int64(binary.BigEndian.Uint64(v))
		candidate = &id
	}

	if candidate != nil {
		u, err := get(users, *candidate)
		if errors.Is(err, auth.ErrNotFound) || (err == nil && !u.Matches(c)) {
			return nil, notFound(c)
		}
		return u, err
	}

	var matches []*auth.User
	err := users.ForEach(func(_, v []byte) error {
		var r record
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		if u := r.user(); u.Matches(c) {
			matches = append(matches, u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, notFound(c)
	case 1:
		return matches[0], nil
	default:
		return nil, oops.Code("STORE_MULTIPLE_MATCHES").
			With("fields", slices.Sorted(maps.Keys(c))).
			With("matches", len(matches)).
			Wrap(auth.ErrInvalidQuery)
	}
}

// apply writes f to u and keeps the email index in step.
func apply(tx *bbolt.Tx, u *auth.User, f auth.Fields) error {
	emails := tx.Bucket(emailsBucket)
	oldEmail := u.Email
	if email, ok := f[auth.FieldEmail].(string); ok && email != oldEmail {
		if emails.Get([]byte(email)) != nil {
			return oops.Code("STORE_EMAIL_TAKEN").
				With("email", email).
				Wrap(auth.ErrAlreadyExists)
		}
		if err := emails.Delete([]byte(oldEmail)); err != nil {
			return err
		}
		if err := emails.Put([]byte(email), idKey(u.ID)); err != nil {
			return err
		}
	}
	u.Apply(f)
	return put(tx.Bucket(usersBucket), u)
}

func get(users *bbolt.Bucket, id int64) (*auth.User, error) {
	v := users.Get(idKey(id))
	if v == nil {
		return nil, oops.Code("STORE_USER_NOT_FOUND").
			With("id", id).
			Wrap(auth.ErrNotFound)
	}
	var r record
	if err := json.Unmarshal(v, &r); err != nil {
		return nil, oops.Code("STORE_DECODE_FAILED").
			With("id", id).
			Wrap(err)
	}
	return r.user(), nil
}

func put(users *bbolt.Bucket, u *auth.User) error {
	data, err := json.Marshal(toRecord(u))
	if err != nil {
		return err
	}
	return users.Put(idKey(u.ID), data)
}

func idKey(id int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(id))
}

func notFound(c auth.Criteria) error {
	return oops.Code("STORE_USER_NOT_FOUND").
		With("fields", slices.Sorted(maps.Keys(c))).
		Wrap(auth.ErrNotFound)
}

// wrapTx adds a code to bbolt and encoding failures and passes domain
// errors through unchanged.
func wrapTx(err error, operation string) error {
	if err == nil {
		return nil
	}
	if _, ok := oops.AsOops(err); ok {
		return err
	}
	return oops.Code("STORE_TX_FAILED").
		With("operation", operation).
		Wrap(err)
}
