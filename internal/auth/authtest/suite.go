// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

// Package authtest provides test helpers for auth.UserStore implementations.
package authtest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authd/authd/internal/auth"
)

// StoreFactory returns an empty store for one subtest.
type StoreFactory func(t *testing.T) auth.UserStore

// RunUserStoreSuite checks the auth.UserStore contract against a backend.
func RunUserStoreSuite(t *testing.T, newStore StoreFactory) {
	t.Helper()
	ctx := context.Background()

	t.Run("add assigns distinct ids", func(t *testing.T) {
		s := newStore(t)
		u1, err := s.Add(ctx, "one@example.com", []byte("h1"))
		require.NoError(t, err)
		u2, err := s.Add(ctx, "two@example.com", []byte("h2"))
		require.NoError(t, err)

		assert.NotZero(t, u1.ID)
		assert.NotEqual(t, u1.ID, u2.ID)
		assert.Equal(t, "one@example.com", u1.Email)
		assert.Equal(t, []byte("h1"), u1.HashedPassword)
		assert.Nil(t, u1.SessionID)
		assert.Nil(t, u1.ResetToken)
	})

	t.Run("add rejects duplicate email", func(t *testing.T) {
		s := newStore(t)
		first, err := s.Add(ctx, "dup@example.com", []byte("h1"))
		require.NoError(t, err)

		_, err = s.Add(ctx, "dup@example.com", []byte("h2"))
		require.ErrorIs(t, err, auth.ErrAlreadyExists)

		stored, err := s.FindBy(ctx, auth.Criteria{auth.FieldEmail: "dup@example.com"})
		require.NoError(t, err)
		assert.Equal(t, first.ID, stored.ID)
		assert.Equal(t, []byte("h1"), stored.HashedPassword)
	})

	t.Run("concurrent adds of one email insert once", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.Add(ctx, "race@example.com", []byte(fmt.Sprintf("h%d", i)))
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, auth.ErrAlreadyExists)
		}
		assert.Equal(t, 1, succeeded)
	})

	t.Run("find by each field", func(t *testing.T) {
		s := newStore(t)
		u, err := s.Add(ctx, "find@example.com", []byte("hash"))
		require.NoError(t, err)
		require.NoError(t, s.Update(ctx, u.ID, auth.Fields{
			auth.FieldSessionID:  "sess-1",
			auth.FieldResetToken: "reset-1",
		}))

		for _, c := range []auth.Criteria{
			{auth.FieldID: u.ID},
			{auth.FieldEmail: "find@example.com"},
			{auth.FieldHashedPassword: []byte("hash")},
			{auth.FieldSessionID: "sess-1"},
			{auth.FieldResetToken: "reset-1"},
			{auth.FieldEmail: "find@example.com", auth.FieldSessionID: "sess-1"},
		} {
			got, err := s.FindBy(ctx, c)
			require.NoError(t, err, "criteria %v", c)
			assert.Equal(t, u.ID, got.ID)
			require.NotNil(t, got.SessionID)
			assert.Equal(t, "sess-1", *got.SessionID)
		}
	})

	t.Run("find with no match is ErrNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Add(ctx, "a@example.com", []byte("h"))
		require.NoError(t, err)

		_, err = s.FindBy(ctx, auth.Criteria{auth.FieldEmail: "missing@example.com"})
		require.ErrorIs(t, err, auth.ErrNotFound)

		_, err = s.FindBy(ctx, auth.Criteria{auth.FieldEmail: "a@example.com", auth.FieldSessionID: "nope"})
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("find with bad criteria is ErrInvalidQuery", func(t *testing.T) {
		s := newStore(t)
		for _, c := range []auth.Criteria{
			nil,
			{"nickname": "bob"},
			{auth.FieldID: "one"},
		} {
			_, err := s.FindBy(ctx, c)
			require.ErrorIs(t, err, auth.ErrInvalidQuery, "criteria %v", c)
		}
	})

	t.Run("find matching several users is ErrInvalidQuery", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Add(ctx, "a@example.com", []byte("h"))
		require.NoError(t, err)
		_, err = s.Add(ctx, "b@example.com", []byte("h"))
		require.NoError(t, err)

		_, err = s.FindBy(ctx, auth.Criteria{auth.FieldSessionID: nil})
		require.ErrorIs(t, err, auth.ErrInvalidQuery)
	})

	t.Run("update sets and clears tokens", func(t *testing.T) {
		s := newStore(t)
		u, err := s.Add(ctx, "upd@example.com", []byte("h"))
		require.NoError(t, err)

		require.NoError(t, s.Update(ctx, u.ID, auth.Fields{auth.FieldSessionID: "s1"}))
		got, err := s.FindBy(ctx, auth.Criteria{auth.FieldID: u.ID})
		require.NoError(t, err)
		require.NotNil(t, got.SessionID)
		assert.Equal(t, "s1", *got.SessionID)

		require.NoError(t, s.Update(ctx, u.ID, auth.Fields{auth.FieldSessionID: nil}))
		got, err = s.FindBy(ctx, auth.Criteria{auth.FieldID: u.ID})
		require.NoError(t, err)
		assert.Nil(t, got.SessionID)

		// Clearing again is fine.
		require.NoError(t, s.Update(ctx, u.ID, auth.Fields{auth.FieldSessionID: nil}))
	})

	t.Run("update with unknown field changes nothing", func(t *testing.T) {
		s := newStore(t)
		u, err := s.Add(ctx, "unk@example.com", []byte("h"))
		require.NoError(t, err)

		err = s.Update(ctx, u.ID, auth.Fields{
			auth.FieldSessionID: "should-not-stick",
			"nonexistent_field": 1,
		})
		require.ErrorIs(t, err, auth.ErrUnknownField)

		got, err := s.FindBy(ctx, auth.Criteria{auth.FieldID: u.ID})
		require.NoError(t, err)
		assert.Nil(t, got.SessionID)
		assert.Equal(t, "unk@example.com", got.Email)
		assert.Equal(t, []byte("h"), got.HashedPassword)
	})

	t.Run("update of missing user is ErrNotFound", func(t *testing.T) {
		s := newStore(t)
		err := s.Update(ctx, 4242, auth.Fields{auth.FieldSessionID: "x"})
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("update cannot change id", func(t *testing.T) {
		s := newStore(t)
		u, err := s.Add(ctx, "id@example.com", []byte("h"))
		require.NoError(t, err)
		err = s.Update(ctx, u.ID, auth.Fields{auth.FieldID: u.ID + 1})
		require.ErrorIs(t, err, auth.ErrInvalidQuery)
	})

	t.Run("update to a taken email is ErrAlreadyExists", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Add(ctx, "taken@example.com", []byte("h"))
		require.NoError(t, err)
		u, err := s.Add(ctx, "mine@example.com", []byte("h"))
		require.NoError(t, err)

		err = s.Update(ctx, u.ID, auth.Fields{auth.FieldEmail: "taken@example.com"})
		require.ErrorIs(t, err, auth.ErrAlreadyExists)
	})

	t.Run("update where consumes a token once", func(t *testing.T) {
		s := newStore(t)
		u, err := s.Add(ctx, "reset@example.com", []byte("old"))
		require.NoError(t, err)
		require.NoError(t, s.Update(ctx, u.ID, auth.Fields{auth.FieldResetToken: "tok"}))

		criteria := auth.Criteria{auth.FieldResetToken: "tok"}
		fields := auth.Fields{auth.FieldHashedPassword: []byte("new"), auth.FieldResetToken: nil}

		before, err := s.UpdateWhere(ctx, criteria, fields)
		require.NoError(t, err)
		assert.Equal(t, u.ID, before.ID)
		assert.Equal(t, []byte("old"), before.HashedPassword)

		got, err := s.FindBy(ctx, auth.Criteria{auth.FieldID: u.ID})
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), got.HashedPassword)
		assert.Nil(t, got.ResetToken)

		_, err = s.UpdateWhere(ctx, criteria, fields)
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("update where validates before writing", func(t *testing.T) {
		s := newStore(t)
		u, err := s.Add(ctx, "uw@example.com", []byte("h"))
		require.NoError(t, err)

		_, err = s.UpdateWhere(ctx, auth.Criteria{auth.FieldID: u.ID}, auth.Fields{"bogus": true})
		require.ErrorIs(t, err, auth.ErrUnknownField)

		_, err = s.UpdateWhere(ctx, auth.Criteria{"bogus": true}, auth.Fields{auth.FieldSessionID: "x"})
		require.ErrorIs(t, err, auth.ErrInvalidQuery)
	})

	t.Run("returned users are copies", func(t *testing.T) {
		s := newStore(t)
		u, err := s.Add(ctx, "copy@example.com", []byte("h"))
		require.NoError(t, err)
		u.Email = "mutated@example.com"
		u.HashedPassword[0] = 'X'

		got, err := s.FindBy(ctx, auth.Criteria{auth.FieldID: u.ID})
		require.NoError(t, err)
		assert.Equal(t, "copy@example.com", got.Email)
		assert.Equal(t, []byte("h"), got.HashedPassword)
	})
}
