// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package auth

import "errors"

// Sentinel errors. Store and service errors wrap one of these with an oops
// code, so callers branch with errors.Is and log the code.
var (
	// ErrNotFound is returned when lookup criteria match no user.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when registering an email that is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnknownField is returned when an update names a field users don't have.
	ErrUnknownField = errors.New("unknown field")

	// ErrInvalidInput is returned when a required token or password is missing.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidQuery is returned for malformed criteria, or criteria that
	// match more than one user.
	ErrInvalidQuery = errors.New("invalid query")
)
