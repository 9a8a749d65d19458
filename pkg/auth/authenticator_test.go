package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate_ModeNoneGrantsFullAccess(t *testing.T) {
	a := NewAuthenticator(Config{Mode: ModeNone}, nil)
	p, err := a.Authenticate(context.Background(), ContourUser, http.Header{}, "ingest.chunk")
	require.NoError(t, err)
	require.True(t, p.HasScope(ScopeAdminWrite))
}

func TestAuthenticate_APIKeyModeAllowsMatchingKeyOnlyForItsContour(t *testing.T) {
	a := NewAuthenticator(Config{
		Mode:           ModeAPIKey,
		UserAPIKeys:    []string{"user-key"},
		ServiceAPIKeys: []string{"svc-key"},
	}, nil)

	h := http.Header{}
	h.Set("X-API-Key", "user-key")
	p, err := a.Authenticate(context.Background(), ContourUser, h, "ingest.chunk")
	require.NoError(t, err)
	require.Equal(t, ContourUser, p.Contour)

	_, err = a.Authenticate(context.Background(), ContourService, h, "admin.read")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAuthenticate_APIKeyModeRejectsUnknownKey(t *testing.T) {
	a := NewAuthenticator(Config{Mode: ModeAPIKey, UserAPIKeys: []string{"good"}}, nil)
	h := http.Header{}
	h.Set("X-API-Key", "bad")
	_, err := a.Authenticate(context.Background(), ContourUser, h, "ingest.chunk")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAuthenticate_APIKeyModeRejectsMissingCredential(t *testing.T) {
	a := NewAuthenticator(Config{Mode: ModeAPIKey, UserAPIKeys: []string{"good"}}, nil)
	_, err := a.Authenticate(context.Background(), ContourUser, http.Header{}, "ingest.chunk")
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticate_JWTModeValidatesAgainstJWKS(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "key-1",
			"n":   base64.RawURLEncoding.EncodeToString(priv.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(priv.PublicKey.E)).Bytes()),
		}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(srv.Close)

	a := NewAuthenticator(Config{
		Mode:        ModeJWT,
		JWTIssuer:   "https://issuer.example",
		JWTAudience: "meetingsvc",
		JWKSURL:     srv.URL,
	}, nil)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub":       "svc-account",
		"iss":       "https://issuer.example",
		"aud":       "meetingsvc",
		"tenant_id": "tenant-a",
		"scope":     "admin:read admin:write",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})
	token.Header["kid"] = "key-1"
	signed, err := token.SignedString(priv)
	require.NoError(t, err)

	h := http.Header{}
	h.Set("Authorization", "Bearer "+signed)
	p, err := a.Authenticate(context.Background(), ContourService, h, "admin.read")
	require.NoError(t, err)
	require.Equal(t, "tenant-a", p.TenantID)
	require.True(t, p.HasScope(ScopeAdminRead))
	require.NoError(t, RequireScope(p, ScopeAdminRead))
	require.ErrorIs(t, RequireScope(p, ScopeInternalWS), ErrForbidden)
}

func TestAuthenticate_JWTModeRejectsBadSignature(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "key-1",
			"n":   base64.RawURLEncoding.EncodeToString(priv.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(priv.PublicKey.E)).Bytes()),
		}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(srv.Close)

	a := NewAuthenticator(Config{Mode: ModeJWT, JWKSURL: srv.URL}, nil)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "x", "exp": time.Now().Add(time.Hour).Unix(),
	})
	token.Header["kid"] = "key-1"
	signed, err := token.SignedString(other) // wrong key
	require.NoError(t, err)

	h := http.Header{}
	h.Set("Authorization", "Bearer "+signed)
	_, err = a.Authenticate(context.Background(), ContourService, h, "admin.read")
	require.Error(t, err)
}

func TestRequireTenant(t *testing.T) {
	p := &Principal{TenantID: "a"}
	require.NoError(t, RequireTenant(p, "b", false))
	require.ErrorIs(t, RequireTenant(p, "b", true), ErrForbidden)
	require.NoError(t, RequireTenant(p, "a", true))
}
