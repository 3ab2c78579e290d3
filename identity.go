package main

import (
	"crypto/rsa"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// Identity is the authenticated user as reported by the identity provider.
type Identity struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	AvatarURL     string `json:"avatar_url,omitempty"`
}

// IdentityProvider resolves the current user from a request. A nil identity
// means "not authenticated" and the pipeline must refuse to start.
type IdentityProvider interface {
	CurrentUser(r *http.Request) (*Identity, error)
}

// JwtIdentityProvider verifies RS256 bearer tokens issued by the platform's
// auth service and maps the standard claims onto an Identity.
type JwtIdentityProvider struct {
	publicKey *rsa.PublicKey
}

func NewJwtIdentityProvider(publicKeyPath string) (*JwtIdentityProvider, error) {
	keyBytes, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, err
	}

	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(keyBytes)
	if err != nil {
		return nil, err
	}

	return &JwtIdentityProvider{publicKey: publicKey}, nil
}

type identityClaims struct {
	jwt.RegisteredClaims
	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Picture       string `json:"picture,omitempty"`
}

func (p *JwtIdentityProvider) CurrentUser(r *http.Request) (*Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, fmt.Errorf("missing authorization header")
	}
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, fmt.Errorf("authorization header is not a bearer token")
	}

	claims := &identityClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token")
	}

	return &Identity{
		ID:            claims.Subject,
		DisplayName:   claims.Name,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		AvatarURL:     claims.Picture,
	}, nil
}

// requireIdentity wraps a handler with authentication: an unauthenticated
// request never reaches the flow.
func requireIdentity(provider IdentityProvider, next func(identity *Identity, w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := provider.CurrentUser(r)
		if err != nil || identity == nil {
			slog.Debug("Rejecting unauthenticated request", "path", r.URL.Path, "error", err)
			respondWithErr(w, http.StatusUnauthorized, "not authenticated", "request without valid identity", err)
			return
		}
		next(identity, w, r)
	}
}
