package password

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHash(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{name: "regular password", password: "password123"},
		{name: "password with special chars", password: "p@ssw0rd!@#$%^&*()"},
		{name: "unicode password", password: "пароль-секрет"},
		{name: "minimal password", password: "123456"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := GetHash(tt.password)
			require.NoError(t, err)
			assert.NotEmpty(t, hash)
			assert.NotEqual(t, tt.password, hash)
			assert.NoError(t, CompareHash(hash, tt.password))
		})
	}
}

func TestCompareHash(t *testing.T) {
	correctHash, err := GetHash("correct_password")
	require.NoError(t, err)

	tests := []struct {
		name     string
		hash     string
		password string
		mismatch bool
		wantErr  bool
	}{
		{name: "matching password", hash: correctHash, password: "correct_password"},
		{name: "wrong password", hash: correctHash, password: "wrong_password", mismatch: true, wantErr: true},
		{name: "empty password", hash: correctHash, password: "", mismatch: true, wantErr: true},
		{name: "garbage hash", hash: "not-a-bcrypt-hash", password: "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CompareHash(tt.hash, tt.password)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.mismatch, errors.Is(err, ErrMismatch))
		})
	}
}

func TestGetHash_SamePasswordDifferentSalt(t *testing.T) {
	hash1, err := GetHash("password1")
	require.NoError(t, err)
	hash2, err := GetHash("password1")
	require.NoError(t, err)
	assert.NotEqual(t, hash1, hash2)
}
