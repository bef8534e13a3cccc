// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

// Package httpapi serves the authentication endpoints over HTTP.
//
// Request bodies are form encoded and responses are JSON. The session
// token travels in a cookie named by the auth.Authenticator.
package httpapi

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/authd/authd/internal/auth"
	"github.com/authd/authd/internal/observability"
)

// API holds the dependencies needed by the HTTP handlers.
type API struct {
	sessions      *auth.Service
	authn         *auth.Authenticator
	logger        *slog.Logger
	metrics       *observability.Metrics
	secureCookies bool
	publicPaths   []string
}

// DefaultPublicPaths are served without a session. Entries follow
// auth.RequireAuth: a trailing "*" matches a prefix.
var DefaultPublicPaths = []string{"/", "/users", "/sessions", "/reset_password"}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the logger for request and error lines.
// If not set, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithMetrics records per-route request counts and latency.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *API) {
		a.metrics = m
	}
}

// WithSecureCookies marks the session cookie Secure, so browsers only
// send it over HTTPS.
func WithSecureCookies(secure bool) Option {
	return func(a *API) {
		a.secureCookies = secure
	}
}

// WithPublicPaths replaces DefaultPublicPaths. Every other path needs a
// valid session cookie. A nil list keeps the defaults; an empty one
// protects every path.
func WithPublicPaths(paths []string) Option {
	return func(a *API) {
		if paths != nil {
			a.publicPaths = append([]string{}, paths...)
		}
	}
}

// New creates a new API instance.
func New(sessions *auth.Service, authn *auth.Authenticator, opts ...Option) *API {
	a := &API{
		sessions: sessions,
		authn:    authn,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.publicPaths == nil {
		a.publicPaths = DefaultPublicPaths
	}
	return a
}

// Router returns a chi.Router with all routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(a.requestID, a.recoverer, a.logRequests)
	if a.metrics != nil {
		r.Use(a.recordMetrics)
	}
	r.Use(a.requireSession)

	r.Get("/", a.Index)
	r.Post("/users", a.Register)
	r.Post("/sessions", a.Login)
	r.Delete("/sessions", a.Logout)
	r.Get("/profile", a.Profile)
	r.Post("/reset_password", a.RequestReset)
	r.Put("/reset_password", a.UpdatePassword)

	return r
}
