// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

// Package memory provides an in-process auth.UserStore.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/authd/authd/internal/auth"
)

// Store is a thread-safe in-memory auth.UserStore. Contents are lost when
// the process exits.
type Store struct {
	mu     sync.RWMutex
	users  map[int64]*auth.User
	nextID int64
}

var _ auth.UserStore = (*Store)(nil)

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		users:  make(map[int64]*auth.User),
		nextID: 1,
	}
}

// Add stores a new user. The email check and insert happen under one lock.
func (s *Store) Add(_ context.Context, email string, hashedPassword []byte) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			return nil, oops.Code("STORE_EMAIL_TAKEN").
				With("email", email).
				Wrap(auth.ErrAlreadyExists)
		}
	}

	u := &auth.User{
		ID:             s.nextID,
		Email:          email,
		HashedPassword: bytes.Clone(hashedPassword),
	}
	s.users[u.ID] = u
	s.nextID++
	return u.Clone(), nil
}

// FindBy returns the single user matching criteria.
func (s *Store) FindBy(_ context.Context, criteria auth.Criteria) (*auth.User, error) {
	c, err := auth.NormalizeCriteria(criteria)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, err := s.findLocked(c)
	if err != nil {
		return nil, err
	}
	return u.Clone(), nil
}

// Update applies fields to the user with the given ID.
func (s *Store) Update(_ context.Context, id int64, fields auth.Fields) error {
	f, err := auth.NormalizeFields(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return oops.Code("STORE_USER_NOT_FOUND").
			With("id", id).
			Wrap(auth.ErrNotFound)
	}
	if err := s.checkEmailLocked(u.ID, f); err != nil {
		return err
	}
	u.Apply(f)
	return nil
}

// UpdateWhere applies fields to the single user matching criteria.
func (s *Store) UpdateWhere(_ context.Context, criteria auth.Criteria, fields auth.Fields) (*auth.User, error) {
	c, err := auth.NormalizeCriteria(criteria)
	if err != nil {
		return nil, err
	}
	f, err := auth.NormalizeFields(fields)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.findLocked(c)
	if err != nil {
		return nil, err
	}
	if err := s.checkEmailLocked(u.ID, f); err != nil {
		return nil, err
	}
	before := u.Clone()
	u.Apply(f)
	return before, nil
}

func (s *Store) findLocked(c auth.Criteria) (*auth.User, error) {
	var matches []*auth.User
	for _, u := range s.users {
		if u.Matches(c) {
			matches = append(matches, u)
		}
	}
	switch len(matches) {
	case 0:
		return nil, oops.Code("STORE_USER_NOT_FOUND").
			With("fields", sortedKeys(c)).
			Wrap(auth.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return nil, oops.Code("STORE_MULTIPLE_MATCHES").
			With("fields", sortedKeys(c)).
			With("matches", len(matches)).
			Wrap(auth.ErrInvalidQuery)
	}
}

// checkEmailLocked keeps emails unique when an update changes one.
func (s *Store) checkEmailLocked(id int64, f auth.Fields) error {
	email, ok := f[auth.FieldEmail].(string)
	if !ok {
		return nil
	}
	for _, other := range s.users {
		if other.ID != id && other.Email == email {
			return oops.Code("STORE_EMAIL_TAKEN").
				With("email", email).
				Wrap(auth.ErrAlreadyExists)
		}
	}
	return nil
}

func sortedKeys(c auth.Criteria) []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
