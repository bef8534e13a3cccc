// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authd/authd/internal/auth"
	"github.com/authd/authd/pkg/errutil"
)

type fakeRequest struct {
	headers map[string]string
	cookies map[string]string
}

func (r fakeRequest) Header(name string) string { return r.headers[name] }
func (r fakeRequest) Cookie(name string) string { return r.cookies[name] }

func TestRequireAuth(t *testing.T) {
	excluded := []string{"/api/v1/status/", "/api/v1/unauthorized", "/api/v1/stat*"}

	tests := []struct {
		name     string
		path     string
		excluded []string
		expected bool
	}{
		{name: "empty path", path: "", excluded: excluded, expected: true},
		{name: "no exclusions", path: "/api/v1/status/", excluded: nil, expected: true},
		{name: "empty exclusions", path: "/api/v1/status/", excluded: []string{}, expected: true},
		{name: "exact match", path: "/api/v1/status/", excluded: excluded, expected: false},
		{name: "missing trailing slash", path: "/api/v1/status", excluded: excluded, expected: false},
		{name: "exclusion without slash", path: "/api/v1/unauthorized/", excluded: excluded, expected: false},
		{name: "wildcard prefix", path: "/api/v1/stats", excluded: excluded, expected: false},
		{name: "wildcard matches deeper path", path: "/api/v1/stat/x", excluded: excluded, expected: false},
		{name: "not excluded", path: "/api/v1/users", excluded: excluded, expected: true},
		{name: "prefix is not exact", path: "/api/v1/status/extra", excluded: []string{"/api/v1/status/"}, expected: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, auth.RequireAuth(tt.path, tt.excluded))
		})
	}
}

func TestNewAuthenticator(t *testing.T) {
	t.Run("nil service", func(t *testing.T) {
		a, err := auth.NewAuthenticator(nil, "")
		require.Error(t, err)
		assert.Nil(t, a)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_AUTHENTICATOR")
	})

	t.Run("default cookie name", func(t *testing.T) {
		svc, _ := newTestService(t)
		a, err := auth.NewAuthenticator(svc, "")
		require.NoError(t, err)
		assert.Equal(t, auth.DefaultSessionCookie, a.CookieName())
	})

	t.Run("custom cookie name", func(t *testing.T) {
		svc, _ := newTestService(t)
		a, err := auth.NewAuthenticator(svc, "sid")
		require.NoError(t, err)
		assert.Equal(t, "sid", a.CookieName())
	})
}

func TestAuthenticator_Accessors(t *testing.T) {
	svc, _ := newTestService(t)
	a, err := auth.NewAuthenticator(svc, "")
	require.NoError(t, err)

	req := fakeRequest{
		headers: map[string]string{"Authorization": "Basic Ym9iOnB3"},
		cookies: map[string]string{"session_id": "abc"},
	}
	assert.Equal(t, "Basic Ym9iOnB3", a.AuthorizationHeader(req))
	assert.Equal(t, "abc", a.SessionCookie(req))

	assert.Empty(t, a.AuthorizationHeader(nil))
	assert.Empty(t, a.SessionCookie(nil))
	assert.Empty(t, a.AuthorizationHeader(fakeRequest{}))
}

func TestAuthenticator_CurrentUser(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	a, err := auth.NewAuthenticator(svc, "")
	require.NoError(t, err)

	user, err := svc.Register(ctx, "bob@example.com", "pw")
	require.NoError(t, err)
	token, err := svc.CreateSession(ctx, "bob@example.com")
	require.NoError(t, err)

	got, err := a.CurrentUser(ctx, fakeRequest{cookies: map[string]string{"session_id": token}})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.ID)

	got, err = a.CurrentUser(ctx, fakeRequest{})
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = a.CurrentUser(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
