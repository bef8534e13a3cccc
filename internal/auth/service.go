// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/authd/authd/pkg/errutil"
)

// Auth event names passed to a Recorder.
const (
	EventLogin          = "login"
	EventRegister       = "register"
	EventSessionCreate  = "session_create"
	EventSessionDestroy = "session_destroy"
	EventResetRequest   = "reset_request"
	EventResetPassword  = "reset_password"
)

// Outcomes passed to a Recorder.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Recorder counts auth events. observability.Metrics implements it.
type Recorder interface {
	RecordAuthEvent(event, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuthEvent(string, string) {}

// Service manages registration, login sessions and password resets on top
// of a UserStore.
type Service struct {
	users    UserStore
	hasher   PasswordHasher
	logger   *slog.Logger
	newToken func() string
	recorder Recorder
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for audit lines. Audit lines are written in
// key=value; form so a redacting handler can mask them.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTokenGenerator replaces the session and reset token generator.
func WithTokenGenerator(gen func() string) Option {
	return func(s *Service) {
		s.newToken = gen
	}
}

// WithRecorder sets the auth event recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// NewService creates a new Service.
func NewService(users UserStore, hasher PasswordHasher, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("user store is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("password hasher is required")
	}
	s := &Service{
		users:    users,
		hasher:   hasher,
		logger:   slog.Default(),
		newToken: uuid.NewString,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("logger cannot be nil")
	}
	if s.newToken == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("token generator cannot be nil")
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	return s, nil
}

// ValidLogin reports whether password is correct for the user registered
// under email. An unknown email is simply false.
func (s *Service) ValidLogin(ctx context.Context, email, password string) bool {
	user, err := s.users.FindBy(ctx, Criteria{FieldEmail: email})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			errutil.LogError(s.logger, "login lookup failed", err)
			s.recorder.RecordAuthEvent(EventLogin, OutcomeError)
		} else {
			s.recorder.RecordAuthEvent(EventLogin, OutcomeRejected)
		}
		s.audit(ctx, EventLogin, "email="+email, "outcome=unknown_user")
		return false
	}

	ok, err := s.hasher.Verify(password, user.HashedPassword)
	if err != nil {
		errutil.LogError(s.logger, "password verification failed", err)
		s.recorder.RecordAuthEvent(EventLogin, OutcomeError)
		return false
	}
	if !ok {
		s.recorder.RecordAuthEvent(EventLogin, OutcomeRejected)
		s.audit(ctx, EventLogin, "email="+email, "outcome=bad_password")
		return false
	}
	s.recorder.RecordAuthEvent(EventLogin, OutcomeOK)
	s.audit(ctx, EventLogin, "email="+email, "outcome=ok")
	return true
}

// Register creates a user with a hashed password.
// Returns ErrAlreadyExists if the email is taken.
func (s *Service) Register(ctx context.Context, email, password string) (*User, error) {
	if email == "" || password == "" {
		s.recorder.RecordAuthEvent(EventRegister, OutcomeRejected)
		return nil, oops.Code("AUTH_MISSING_CREDENTIALS").Wrap(ErrInvalidInput)
	}

	_, err := s.users.FindBy(ctx, Criteria{FieldEmail: email})
	switch {
	case err == nil:
		s.recorder.RecordAuthEvent(EventRegister, OutcomeRejected)
		return nil, oops.Code("AUTH_EMAIL_TAKEN").
			Errorf("%w: user %s", ErrAlreadyExists, email)
	case !errors.Is(err, ErrNotFound):
		s.recorder.RecordAuthEvent(EventRegister, OutcomeError)
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "find user by email").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.recorder.RecordAuthEvent(EventRegister, OutcomeError)
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	// The store rejects the insert if another request registered the
	// same email after the lookup above.
	user, err := s.users.Add(ctx, email, hash)
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			s.recorder.RecordAuthEvent(EventRegister, OutcomeRejected)
			return nil, oops.Code("AUTH_EMAIL_TAKEN").Wrap(err)
		}
		s.recorder.RecordAuthEvent(EventRegister, OutcomeError)
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "add user").
			Wrap(err)
	}

	s.recorder.RecordAuthEvent(EventRegister, OutcomeOK)
	s.audit(ctx, EventRegister, "email="+email)
	return user, nil
}

// CreateSession issues a new session token for the user registered under
// email, replacing any previous session. Returns an empty token and no
// error if there is no such user.
func (s *Service) CreateSession(ctx context.Context, email string) (string, error) {
	user, err := s.users.FindBy(ctx, Criteria{FieldEmail: email})
	if errors.Is(err, ErrNotFound) {
		s.recorder.RecordAuthEvent(EventSessionCreate, OutcomeRejected)
		return "", nil
	}
	if err != nil {
		s.recorder.RecordAuthEvent(EventSessionCreate, OutcomeError)
		return "", oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "find user by email").
			Wrap(err)
	}

	token := s.newToken()
	if err := s.users.Update(ctx, user.ID, Fields{FieldSessionID: token}); err != nil {
		s.recorder.RecordAuthEvent(EventSessionCreate, OutcomeError)
		return "", oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "store session id").
			With("user_id", user.ID).
			Wrap(err)
	}

	s.recorder.RecordAuthEvent(EventSessionCreate, OutcomeOK)
	s.audit(ctx, EventSessionCreate, "email="+email)
	return token, nil
}

// UserFromSession returns the user holding the session token, or nil if
// the token is empty or unknown.
func (s *Service) UserFromSession(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, nil
	}
	user, err := s.users.FindBy(ctx, Criteria{FieldSessionID: token})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("AUTH_SESSION_LOOKUP_FAILED").
			With("operation", "find user by session id").
			Wrap(err)
	}
	return user, nil
}

// DestroySession clears the session of the given user. Clearing a user
// without a session is not an error.
func (s *Service) DestroySession(ctx context.Context, userID int64) error {
	if err := s.users.Update(ctx, userID, Fields{FieldSessionID: nil}); err != nil {
		s.recorder.RecordAuthEvent(EventSessionDestroy, OutcomeError)
		return oops.Code("AUTH_SESSION_DESTROY_FAILED").
			With("user_id", userID).
			Wrap(err)
	}
	s.recorder.RecordAuthEvent(EventSessionDestroy, OutcomeOK)
	s.audit(ctx, EventSessionDestroy)
	return nil
}

// ResetToken issues a password reset token for the user registered under
// email, replacing any outstanding one. Returns ErrNotFound if there is no
// such user.
func (s *Service) ResetToken(ctx context.Context, email string) (string, error) {
	user, err := s.users.FindBy(ctx, Criteria{FieldEmail: email})
	if errors.Is(err, ErrNotFound) {
		s.recorder.RecordAuthEvent(EventResetRequest, OutcomeRejected)
		return "", oops.Code("AUTH_RESET_UNKNOWN_EMAIL").Wrap(ErrNotFound)
	}
	if err != nil {
		s.recorder.RecordAuthEvent(EventResetRequest, OutcomeError)
		return "", oops.Code("AUTH_RESET_REQUEST_FAILED").
			With("operation", "find user by email").
			Wrap(err)
	}

	token := s.newToken()
	if err := s.users.Update(ctx, user.ID, Fields{FieldResetToken: token}); err != nil {
		s.recorder.RecordAuthEvent(EventResetRequest, OutcomeError)
		return "", oops.Code("AUTH_RESET_REQUEST_FAILED").
			With("operation", "store reset token").
			With("user_id", user.ID).
			Wrap(err)
	}

	s.recorder.RecordAuthEvent(EventResetRequest, OutcomeOK)
	s.audit(ctx, EventResetRequest, "email="+email)
	return token, nil
}

// ResetPassword replaces the password of the user holding the reset token
// and consumes the token in the same write. Returns ErrInvalidInput if the
// token or password is empty or the token is not outstanding.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		s.recorder.RecordAuthEvent(EventResetPassword, OutcomeRejected)
		return oops.Code("AUTH_RESET_MISSING_INPUT").Wrap(ErrInvalidInput)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.recorder.RecordAuthEvent(EventResetPassword, OutcomeError)
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := s.users.UpdateWhere(ctx,
		Criteria{FieldResetToken: token},
		Fields{FieldHashedPassword: hash, FieldResetToken: nil},
	)
	if errors.Is(err, ErrNotFound) {
		s.recorder.RecordAuthEvent(EventResetPassword, OutcomeRejected)
		return oops.Code("AUTH_RESET_TOKEN_INVALID").
			Errorf("%w: reset token not outstanding", ErrInvalidInput)
	}
	if err != nil {
		s.recorder.RecordAuthEvent(EventResetPassword, OutcomeError)
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").
			With("operation", "consume reset token").
			Wrap(err)
	}

	s.recorder.RecordAuthEvent(EventResetPassword, OutcomeOK)
	s.audit(ctx, EventResetPassword, "email="+user.Email)
	return nil
}

// audit writes one key=value; line. Callers pass raw PII; masking is the
// log handler's job.
func (s *Service) audit(ctx context.Context, event string, pairs ...string) {
	msg := "event=" + event + ";"
	for _, p := range pairs {
		msg += p + ";"
	}
	s.logger.InfoContext(ctx, msg)
}
