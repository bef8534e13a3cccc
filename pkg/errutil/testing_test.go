// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/authd/authd/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("STORE_USER_NOT_FOUND").Errorf("no user")
	errutil.AssertErrorCode(t, err, "STORE_USER_NOT_FOUND")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("user_id", int64(7)).Errorf("update failed")
	errutil.AssertErrorContext(t, err, "user_id", int64(7))
}
