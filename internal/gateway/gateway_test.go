package gateway

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHeadersTrustsUsernameOnlyWhenAuthenticated(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderRequestID, "req-1")
	h.Set(HeaderUserName, "alice")
	h.Set(HeaderUserRole, "customer")

	rc := FromHeaders(h)
	assert.Equal(t, "req-1", rc.RequestID)
	assert.False(t, rc.Authenticated)
	assert.Empty(t, rc.Username, "X-User-Name must be ignored without X-Authenticated")
	assert.Empty(t, rc.Role)
}

func TestFromHeadersAcceptsIdentityWhenAuthenticated(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderRequestID, "req-2")
	h.Set(HeaderUserName, "alice")
	h.Set(HeaderUserRole, "customer")
	h.Set(HeaderAuthenticated, "true")

	rc := FromHeaders(h)
	assert.True(t, rc.Authenticated)
	assert.Equal(t, "alice", rc.Username)
	assert.Equal(t, "customer", rc.Role)
}

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerifierAcceptsValidAccessToken(t *testing.T) {
	now := time.Now()
	claims := Claims{
		Role: "customer",
		Type: TokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(defaultLifetime)),
		},
	}
	tokenString := signToken(t, "secret", claims)

	v := NewVerifier("secret")
	got, err := v.Verify(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username())
	assert.Equal(t, "customer", got.Role)
}

func TestVerifierRejectsExpiredToken(t *testing.T) {
	now := time.Now()
	claims := Claims{
		Role: "customer",
		Type: TokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		},
	}
	tokenString := signToken(t, "secret", claims)

	v := NewVerifier("secret")
	_, err := v.Verify(tokenString)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifierRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	claims := Claims{
		Role: "customer",
		Type: TokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	tokenString := signToken(t, "secret", claims)

	v := NewVerifier("different-secret")
	_, err := v.Verify(tokenString)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifierRejectsWrongTokenType(t *testing.T) {
	now := time.Now()
	claims := Claims{
		Role: "customer",
		Type: "refresh_token",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	tokenString := signToken(t, "secret", claims)

	v := NewVerifier("secret")
	_, err := v.Verify(tokenString)
	require.ErrorIs(t, err, ErrWrongTokenType)
}
