package service

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestTokenAuth_Disabled(t *testing.T) {
	a := NewTokenAuth("  ")
	assert.False(t, a.Enabled())
	assert.NoError(t, a.Verify(""))
	assert.NoError(t, a.Verify("anything"))
}

func TestTokenAuth_Verify(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse-battery"), bcrypt.MinCost)
	require.NoError(t, err)
	a := NewTokenAuth(string(hash) + "\n")
	require.True(t, a.Enabled())

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"correct token", "correct-horse-battery", false},
		{"wrong token", "correct-horse-battery!", true},
		{"empty token", "", true},
		{"prefix only", "correct", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Verify(tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidToken)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHashToken(t *testing.T) {
	hash, err := HashToken("a-long-enough-token")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2"))
	assert.NoError(t, NewTokenAuth(hash).Verify("a-long-enough-token"))
}

func TestHashToken_RejectsWeakTokens(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"too short", "short", "at least 16"},
		{"too long", strings.Repeat("x", 73), "at most 72"},
		{"whitespace", "has a space inside it", "whitespace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := HashToken(tt.token)
			require.ErrorIs(t, err, ErrWeakToken)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTokenAuth_Sessions(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse-battery"), bcrypt.MinCost)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewTokenAuth(string(hash))
	a.now = func() time.Time { return now }

	value := a.IssueSession()
	require.NoError(t, a.ValidateSession(value))

	t.Run("tampered signature", func(t *testing.T) {
		assert.ErrorIs(t, a.ValidateSession(value+"x"), ErrInvalidToken)
	})

	t.Run("tampered timestamp", func(t *testing.T) {
		_, sig, _ := strings.Cut(value, ":")
		forged := strconv.FormatInt(now.Add(time.Hour).Unix(), 10) + ":" + sig
		assert.ErrorIs(t, a.ValidateSession(forged), ErrInvalidToken)
	})

	t.Run("malformed", func(t *testing.T) {
		assert.ErrorIs(t, a.ValidateSession("garbage"), ErrInvalidToken)
		assert.ErrorIs(t, a.ValidateSession(""), ErrInvalidToken)
	})

	t.Run("other process key", func(t *testing.T) {
		other := NewTokenAuth(string(hash))
		assert.ErrorIs(t, other.ValidateSession(value), ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		now = now.Add(SessionTTL + time.Second)
		assert.ErrorIs(t, a.ValidateSession(value), ErrExpiredToken)
	})
}

func TestTokenAuth_SessionsDisabled(t *testing.T) {
	assert.NoError(t, NewTokenAuth("").ValidateSession("anything"))
}
