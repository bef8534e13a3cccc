// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"

	"github.com/authd/authd/internal/auth"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

type contextKey int

const (
	loggerKey contextKey = iota
	userKey
)

// loggerFrom returns the request-scoped logger stored by requestID, or
// fallback.
func loggerFrom(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return fallback
}

// userFrom returns the user stored by requireSession, or nil.
func userFrom(ctx context.Context) *auth.User {
	u, _ := ctx.Value(userKey).(*auth.User)
	return u
}

// requestID keeps a client supplied id only if it parses as a ULID and
// mints a fresh one otherwise. The id is echoed back and scopes the
// request logger.
func (a *API) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := ulid.ParseStrict(id); err != nil {
			id = ulid.Make().String()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), loggerKey, a.logger.With("request_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		loggerFrom(r.Context(), a.logger).InfoContext(r.Context(), "request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", statusOf(ww),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

// recordMetrics labels requests by chi route pattern, or "unmatched".
func (a *API) recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		a.metrics.RecordRequest(route, statusOf(ww), time.Since(start))
	})
}

// requireSession rejects requests to paths outside the public list that
// carry no valid session. The resolved user is stored in the context.
func (a *API) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.RequireAuth(r.URL.Path, a.publicPaths) {
			next.ServeHTTP(w, r)
			return
		}
		req := httpRequest{r: r}
		user, err := a.authn.CurrentUser(r.Context(), req)
		if err != nil {
			a.writeInternalError(w, r, "session lookup failed", err)
			return
		}
		if user == nil {
			if h := a.authn.AuthorizationHeader(req); h != "" {
				scheme, _, ok := strings.Cut(h, " ")
				if !ok {
					scheme = "unknown"
				}
				loggerFrom(r.Context(), a.logger).DebugContext(r.Context(),
					"authorization header ignored without session cookie", "scheme", scheme)
			}
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

// recoverer turns a handler panic into a logged 500.
func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler { //nolint:errorlint // recovered value, never wrapped
				panic(rec)
			}
			loggerFrom(r.Context(), a.logger).ErrorContext(r.Context(), "panic serving request",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			writeError(w, http.StatusInternalServerError, "internal error")
		}()
		next.ServeHTTP(w, r)
	})
}

func statusOf(ww middleware.WrapResponseWriter) int {
	if s := ww.Status(); s != 0 {
		return s
	}
	return http.StatusOK
}
