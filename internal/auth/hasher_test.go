// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package auth_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/authd/authd/internal/auth"
	"github.com/authd/authd/pkg/errutil"
)

func hashers(t *testing.T) map[string]auth.PasswordHasher {
	t.Helper()
	bc, err := auth.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	return map[string]auth.PasswordHasher{
		auth.HasherBcrypt:   bc,
		auth.HasherArgon2id: auth.NewArgon2idHasher(),
	}
}

func TestPasswordHashers(t *testing.T) {
	for name, hasher := range hashers(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("correct password verifies", func(t *testing.T) {
				hash, err := hasher.Hash("correctpassword")
				require.NoError(t, err)

				ok, err := hasher.Verify("correctpassword", hash)
				require.NoError(t, err)
				assert.True(t, ok)
			})

			t.Run("incorrect password fails", func(t *testing.T) {
				hash, err := hasher.Hash("correctpassword")
				require.NoError(t, err)

				ok, err := hasher.Verify("wrongpassword", hash)
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("same password produces different hashes (salt)", func(t *testing.T) {
				hash1, err := hasher.Hash("samepassword")
				require.NoError(t, err)
				hash2, err := hasher.Hash("samepassword")
				require.NoError(t, err)
				assert.False(t, bytes.Equal(hash1, hash2))
			})

			t.Run("hash does not contain the password", func(t *testing.T) {
				hash, err := hasher.Hash("plaintext-secret")
				require.NoError(t, err)
				assert.NotContains(t, string(hash), "plaintext-secret")
			})

			t.Run("empty password round trips", func(t *testing.T) {
				hash, err := hasher.Hash("")
				require.NoError(t, err)
				ok, err := hasher.Verify("", hash)
				require.NoError(t, err)
				assert.True(t, ok)
			})

			t.Run("non-ascii password round trips", func(t *testing.T) {
				hash, err := hasher.Hash("pässwörd-密码")
				require.NoError(t, err)
				ok, err := hasher.Verify("pässwörd-密码", hash)
				require.NoError(t, err)
				assert.True(t, ok)
			})

			t.Run("garbage hash returns error", func(t *testing.T) {
				_, err := hasher.Verify("password", []byte("not-a-valid-hash"))
				assert.Error(t, err)
			})
		})
	}
}

func TestBcryptHasher(t *testing.T) {
	t.Run("produces bcrypt hash", func(t *testing.T) {
		hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
		require.NoError(t, err)
		hash, err := hasher.Hash("password123")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(hash), "$2a$"))
	})

	t.Run("zero cost uses default", func(t *testing.T) {
		hasher, err := auth.NewBcryptHasher(0)
		require.NoError(t, err)
		hash, err := hasher.Hash("password123")
		require.NoError(t, err)
		cost, err := bcrypt.Cost(hash)
		require.NoError(t, err)
		assert.Equal(t, bcrypt.DefaultCost, cost)
	})

	t.Run("rejects out of range cost", func(t *testing.T) {
		_, err := auth.NewBcryptHasher(bcrypt.MaxCost + 1)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_COST")
	})

	t.Run("hashes passwords over 72 bytes", func(t *testing.T) {
		hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
		require.NoError(t, err)

		long := strings.Repeat("x", 73)
		hash, err := hasher.Hash(long)
		require.NoError(t, err)

		ok, err := hasher.Verify(long, hash)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = hasher.Verify(strings.Repeat("x", 72), hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("long passwords sharing a prefix differ", func(t *testing.T) {
		hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
		require.NoError(t, err)

		prefix := strings.Repeat("p", 80)
		hash, err := hasher.Hash(prefix + "a")
		require.NoError(t, err)

		ok, err := hasher.Verify(prefix+"b", hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestArgon2idHasher_Verify(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	t.Run("produces PHC string", func(t *testing.T) {
		hash, err := hasher.Hash("password123")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(hash), "$argon2id$"))
	})

	t.Run("wrong algorithm returns error", func(t *testing.T) {
		_, err := hasher.Verify("password", []byte("$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported hash algorithm")
	})

	t.Run("invalid parameters format returns error", func(t *testing.T) {
		_, err := hasher.Verify("password", []byte("$argon2id$v=19$invalid$c2FsdA$aGFzaA"))
		assert.Error(t, err)
	})

	t.Run("invalid salt base64 returns error", func(t *testing.T) {
		_, err := hasher.Verify("password", []byte("$argon2id$v=19$m=65536,t=1,p=4$!!!invalid!!!$aGFzaA"))
		assert.Error(t, err)
	})

	t.Run("threads overflow returns error", func(t *testing.T) {
		_, err := hasher.Verify("password", []byte("$argon2id$v=19$m=65536,t=1,p=256$c2FsdA$aGFzaA"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "threads value")
	})
}

func TestNewHasher(t *testing.T) {
	tests := []struct {
		name    string
		want    any
		wantErr bool
	}{
		{name: "", want: &auth.BcryptHasher{}},
		{name: "bcrypt", want: &auth.BcryptHasher{}},
		{name: "argon2id", want: &auth.Argon2idHasher{}},
		{name: "md5", wantErr: true},
	}
	for _, tt := range tests {
		t.Run("hasher "+tt.name, func(t *testing.T) {
			h, err := auth.NewHasher(tt.name, bcrypt.MinCost)
			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "AUTH_UNKNOWN_HASHER")
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, h)
		})
	}
}
