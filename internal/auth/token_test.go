package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestNewTokenService_ShortSecret(t *testing.T) {
	_, err := NewTokenService(strings.Repeat("x", MinSecretLength-1), time.Hour)
	assert.Error(t, err)

	_, err = NewTokenService(strings.Repeat("x", MinSecretLength), time.Hour)
	assert.NoError(t, err)
}

func TestTokenService_IssueAndVerify(t *testing.T) {
	s, err := NewTokenService(secret, time.Hour)
	require.NoError(t, err)

	token, err := s.Issue("user-123")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."))

	userID, err := s.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestTokenService_Expired(t *testing.T) {
	s, err := NewTokenService(secret, time.Hour)
	require.NoError(t, err)

	issuedAt := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issuedAt }
	token, err := s.Issue("user-123")
	require.NoError(t, err)

	s.now = func() time.Time { return issuedAt.Add(time.Hour + time.Minute) }
	_, err = s.Verify(context.Background(), token)
	assert.NoError(t, err, "within clock skew")

	s.now = func() time.Time { return issuedAt.Add(2 * time.Hour) }
	_, err = s.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenService_RejectsForeignTokens(t *testing.T) {
	s, err := NewTokenService(secret, time.Hour)
	require.NoError(t, err)
	other, err := NewTokenService(strings.Repeat("z", 40), time.Hour)
	require.NoError(t, err)

	foreign, err := other.Issue("user-123")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "wrong secret", token: foreign},
		{name: "garbage", token: "not.a.token"},
		{name: "unsigned", token: "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJ1c2VyLTEyMyJ9."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Verify(context.Background(), tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTokenService_EmptySubject(t *testing.T) {
	s, err := NewTokenService(secret, time.Hour)
	require.NoError(t, err)

	token, err := s.Issue("")
	require.NoError(t, err)

	_, err = s.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestUserIDContext(t *testing.T) {
	_, ok := UserIDFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithUserID(context.Background(), "user-123")
	id, ok := UserIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "user-123", id)
}
