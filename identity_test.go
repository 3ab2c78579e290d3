package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

func newJwtProviderWithKey(t *testing.T) (*JwtIdentityProvider, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	path := filepath.Join(t.TempDir(), "jwt_public.pem")
	require.NoError(t, os.WriteFile(path, pubPEM, 0o600))

	provider, err := NewJwtIdentityProvider(path)
	require.NoError(t, err)
	return provider, key
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestJwtIdentityProviderMapsClaims(t *testing.T) {
	provider, key := newJwtProviderWithKey(t)

	token := signToken(t, key, identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Name:          "Amina Rahman",
		Email:         "amina@example.com",
		EmailVerified: true,
		Picture:       "https://cdn.example.com/amina.png",
	})

	req := httptest.NewRequest("GET", "/api/flow/progress", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	identity, err := provider.CurrentUser(req)
	require.NoError(t, err)
	require.Equal(t, "user-42", identity.ID)
	require.Equal(t, "Amina Rahman", identity.DisplayName)
	require.Equal(t, "amina@example.com", identity.Email)
	require.True(t, identity.EmailVerified)
	require.Equal(t, "https://cdn.example.com/amina.png", identity.AvatarURL)
}

func TestJwtIdentityProviderRejectsBadTokens(t *testing.T) {
	provider, key := newJwtProviderWithKey(t)

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		_, err := provider.CurrentUser(req)
		require.Error(t, err)
	})

	t.Run("not a bearer token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwdw==")
		_, err := provider.CurrentUser(req)
		require.Error(t, err)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer not.a.token")
		_, err := provider.CurrentUser(req)
		require.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		token := signToken(t, key, jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		})
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		_, err := provider.CurrentUser(req)
		require.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		token := signToken(t, key, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		_, err := provider.CurrentUser(req)
		require.Error(t, err)
	})

	t.Run("wrong signing method", func(t *testing.T) {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString([]byte("shared-secret"))
		require.NoError(t, err)

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		_, err = provider.CurrentUser(req)
		require.Error(t, err)
	})

	t.Run("signed with another key", func(t *testing.T) {
		otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		token := signToken(t, otherKey, jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		_, err = provider.CurrentUser(req)
		require.Error(t, err)
	})
}
