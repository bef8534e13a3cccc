// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

// Package auth provides the credential and session lifecycle for authd.
//
// # Domain Types
//
// User is the only persisted type. Sessions and password resets are not
// separate records: a user holds at most one session token and at most one
// reset token, and issuing a new one overwrites the old.
//
// # Stores
//
// UserStore is implemented by the memory, postgres and bolt subpackages.
// Field names in Criteria and Fields are the column names (FieldEmail,
// FieldSessionID, ...) and are validated before anything is read or written.
//
// # Services
//
//   - Service - registration, login, sessions, password reset
//   - Authenticator - header and cookie extraction for HTTP requests
//
// Both are created with constructors that validate their dependencies.
package auth
