// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package httpapi

import (
	"errors"
	"net/http"

	"github.com/authd/authd/internal/auth"
)

// UserResponse is returned by register, login and password update.
type UserResponse struct {
	Email   string `json:"email"`
	Message string `json:"message,omitempty"`
}

// ResetTokenResponse is returned by POST /reset_password.
type ResetTokenResponse struct {
	Email      string `json:"email"`
	ResetToken string `json:"reset_token"`
}

// Index handles GET /.
func (a *API) Index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Bienvenue"})
}

// Register handles POST /users.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	email := r.PostFormValue("email")
	password := r.PostFormValue("password")

	user, err := a.sessions.Register(r.Context(), email, password)
	switch {
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, http.StatusBadRequest, "email already registered")
		return
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	case err != nil:
		a.writeInternalError(w, r, "register failed", err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{Email: user.Email, Message: "user created"})
}

// Login handles POST /sessions and sets the session cookie.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	email := r.PostFormValue("email")
	password := r.PostFormValue("password")

	if !a.sessions.ValidLogin(r.Context(), email, password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := a.sessions.CreateSession(r.Context(), email)
	if err != nil {
		a.writeInternalError(w, r, "create session failed", err)
		return
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	http.SetCookie(w, a.sessionCookie(token, 0))
	writeJSON(w, http.StatusOK, UserResponse{Email: email, Message: "logged in"})
}

// Logout handles DELETE /sessions: it destroys the caller's session and
// redirects to /.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	if err := a.sessions.DestroySession(r.Context(), user.ID); err != nil {
		a.writeInternalError(w, r, "destroy session failed", err)
		return
	}
	http.SetCookie(w, a.sessionCookie("", -1))
	http.Redirect(w, r, "/", http.StatusFound)
}

// Profile handles GET /profile.
func (a *API) Profile(w http.ResponseWriter, r *http.Request) {
	user, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{Email: user.Email})
}

// RequestReset handles POST /reset_password.
func (a *API) RequestReset(w http.ResponseWriter, r *http.Request) {
	email := r.PostFormValue("email")

	token, err := a.sessions.ResetToken(r.Context(), email)
	if errors.Is(err, auth.ErrNotFound) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err != nil {
		a.writeInternalError(w, r, "reset token failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ResetTokenResponse{Email: email, ResetToken: token})
}

// UpdatePassword handles PUT /reset_password.
func (a *API) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	email := r.PostFormValue("email")
	token := r.PostFormValue("reset_token")
	password := r.PostFormValue("new_password")

	err := a.sessions.ResetPassword(r.Context(), token, password)
	if errors.Is(err, auth.ErrInvalidInput) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err != nil {
		a.writeInternalError(w, r, "reset password failed", err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{Email: email, Message: "Password updated"})
}

// currentUser returns the user resolved by requireSession, or resolves the
// session cookie on public paths. It writes 403 or 500 itself and reports
// false when there is no user to continue with.
func (a *API) currentUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	if user := userFrom(r.Context()); user != nil {
		return user, true
	}
	user, err := a.authn.CurrentUser(r.Context(), httpRequest{r: r})
	if err != nil {
		a.writeInternalError(w, r, "session lookup failed", err)
		return nil, false
	}
	if user == nil {
		writeError(w, http.StatusForbidden, "forbidden")
		return nil, false
	}
	return user, true
}

func (a *API) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     a.authn.CookieName(),
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}
