// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package auth

import (
	"context"
	"strings"

	"github.com/samber/oops"
)

// DefaultSessionCookie is the cookie that carries the session token.
const DefaultSessionCookie = "session_id"

// Request is the part of an incoming request the Authenticator reads.
// Missing headers and cookies are reported as empty strings.
type Request interface {
	Header(name string) string
	Cookie(name string) string
}

// RequireAuth reports whether path needs authentication. Paths are
// compared with a trailing slash; an excluded entry ending in "*" matches
// any path with that prefix. An empty path or exclusion list always
// requires authentication.
func RequireAuth(path string, excluded []string) bool {
	if path == "" || len(excluded) == 0 {
		return true
	}
	path = withSlash(path)
	for _, ex := range excluded {
		if prefix, ok := strings.CutSuffix(ex, "*"); ok {
			if strings.HasPrefix(path, prefix) {
				return false
			}
			continue
		}
		if path == withSlash(ex) {
			return false
		}
	}
	return true
}

func withSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// Authenticator resolves the current user of a request from its session
// cookie.
type Authenticator struct {
	sessions   *Service
	cookieName string
}

// NewAuthenticator creates an Authenticator reading the named cookie.
// An empty name selects DefaultSessionCookie.
func NewAuthenticator(sessions *Service, cookieName string) (*Authenticator, error) {
	if sessions == nil {
		return nil, oops.Code("AUTH_INVALID_AUTHENTICATOR").Errorf("session service is required")
	}
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	return &Authenticator{sessions: sessions, cookieName: cookieName}, nil
}

// CookieName returns the session cookie name.
func (a *Authenticator) CookieName() string {
	return a.cookieName
}

// AuthorizationHeader returns the Authorization header of req, or "" if
// req is nil or has none.
func (a *Authenticator) AuthorizationHeader(req Request) string {
	if req == nil {
		return ""
	}
	return req.Header("Authorization")
}

// SessionCookie returns the session token carried by req, or "".
func (a *Authenticator) SessionCookie(req Request) string {
	if req == nil {
		return ""
	}
	return req.Cookie(a.cookieName)
}

// CurrentUser returns the user owning the request's session, or nil.
func (a *Authenticator) CurrentUser(ctx context.Context, req Request) (*User, error) {
	return a.sessions.UserFromSession(ctx, a.SessionCookie(req))
}
