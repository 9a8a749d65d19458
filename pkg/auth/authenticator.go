package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/codeready-toolchain/meetingsvc/pkg/store"
)

// Mode mirrors config.AuthMode; kept distinct so this package has no import
// on pkg/config.
type Mode string

const (
	ModeNone   Mode = "none"
	ModeAPIKey Mode = "api_key"
	ModeJWT    Mode = "jwt"
)

// Config parametrizes the Authenticator from config.Auth.
type Config struct {
	Mode                    Mode
	UserAPIKeys             []string
	ServiceAPIKeys          []string
	JWTIssuer               string
	JWTAudience             string
	JWKSURL                 string
	TenantEnforced          bool
	ServiceFallbackToAPIKey bool
}

// Authenticator resolves request credentials into a Principal and enforces
// the contour/scope/tenant rules spec.md §4.10 names.
type Authenticator struct {
	cfg   Config
	jwks  *jwksCache
	audit *store.AuditStore

	logger *slog.Logger
}

// NewAuthenticator constructs an Authenticator. audit may be nil to skip
// persistence (events are still logged).
func NewAuthenticator(cfg Config, audit *store.AuditStore) *Authenticator {
	a := &Authenticator{cfg: cfg, audit: audit, logger: slog.Default().With("component", "auth")}
	if cfg.Mode == ModeJWT && cfg.JWKSURL != "" {
		a.jwks = newJWKSCache(cfg.JWKSURL, 0)
	}
	return a
}

// Authenticate resolves the credential in headers for the given contour,
// auditing the allow/deny decision. action names the operation being
// attempted, for the audit record.
func (a *Authenticator) Authenticate(ctx context.Context, contour Contour, headers http.Header, action string) (*Principal, error) {
	principal, err := a.authenticate(ctx, contour, headers)
	a.recordAudit(ctx, principal, action, err)
	return principal, err
}

func (a *Authenticator) authenticate(ctx context.Context, contour Contour, headers http.Header) (*Principal, error) {
	switch a.cfg.Mode {
	case ModeNone, "":
		return &Principal{Contour: contour, Subject: "local", Scopes: allScopes()}, nil

	case ModeAPIKey:
		return a.authenticateAPIKey(contour, headers)

	case ModeJWT:
		p, err := a.authenticateJWT(ctx, contour, headers)
		if err == nil {
			return p, nil
		}
		if contour == ContourService && a.cfg.ServiceFallbackToAPIKey {
			return a.authenticateAPIKey(contour, headers)
		}
		return nil, err

	default:
		return nil, fmt.Errorf("auth: unknown mode %q", a.cfg.Mode)
	}
}

func (a *Authenticator) authenticateAPIKey(contour Contour, headers http.Header) (*Principal, error) {
	key := apiKeyFromHeaders(headers)
	if key == "" {
		return nil, ErrUnauthenticated
	}

	var keys []string
	switch contour {
	case ContourUser:
		keys = a.cfg.UserAPIKeys
	case ContourService:
		keys = a.cfg.ServiceAPIKeys
	}
	for _, k := range keys {
		if k == key {
			if contour == ContourUser && a.cfg.TenantEnforced {
				return nil, ErrForbidden // tenant mode requires JWT on user routes
			}
			return &Principal{Contour: contour, Subject: "api-key", Scopes: allScopes()}, nil
		}
	}
	return nil, ErrForbidden
}

func (a *Authenticator) authenticateJWT(ctx context.Context, contour Contour, headers http.Header) (*Principal, error) {
	raw := bearerToken(headers)
	if raw == "" {
		return nil, ErrUnauthenticated
	}
	if a.jwks == nil {
		return nil, fmt.Errorf("auth: jwt mode requires jwks_url")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256"})}
	if a.cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.JWTIssuer))
	}
	if a.cfg.JWTAudience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.JWTAudience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return a.jwks.key(kid)
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	sub, _ := claims["sub"].(string)
	tenantID, _ := claims["tenant_id"].(string)
	scopes := scopesFromClaims(claims)

	if contour == ContourService && !scopes[ScopeAdminRead] && !scopes[ScopeAdminWrite] && !scopes[ScopeInternalWS] {
		return nil, ErrForbidden
	}

	return &Principal{Contour: contour, Subject: sub, TenantID: tenantID, Scopes: scopes}, nil
}

// RequireScope returns ErrForbidden if p lacks scope.
func RequireScope(p *Principal, scope Scope) error {
	if !p.HasScope(scope) {
		return ErrForbidden
	}
	return nil
}

// RequireTenant returns ErrForbidden if tenant enforcement is on and p's
// tenant does not match want.
func RequireTenant(p *Principal, want string, enforced bool) error {
	if !enforced {
		return nil
	}
	if p == nil || p.TenantID != want {
		return ErrForbidden
	}
	return nil
}

func (a *Authenticator) recordAudit(ctx context.Context, p *Principal, action string, authErr error) {
	decision := store.AuditAllow
	actor := "anonymous"
	if authErr != nil {
		decision = store.AuditDeny
	} else if p != nil {
		actor = p.Subject
	}

	a.logger.Info("auth decision", "actor", actor, "action", action, "decision", decision)
	if a.audit == nil {
		return
	}
	var detail *string
	if authErr != nil {
		msg := authErr.Error()
		detail = &msg
	}
	if err := a.audit.Record(ctx, store.AuditEvent{Actor: actor, Action: action, Detail: detail}); err != nil {
		a.logger.Warn("failed to persist audit event", "error", err)
	}
}

func apiKeyFromHeaders(headers http.Header) string {
	if v := headers.Get("X-API-Key"); v != "" {
		return v
	}
	if v := bearerToken(headers); v != "" {
		return v
	}
	return ""
}

func bearerToken(headers http.Header) string {
	v := headers.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(v, prefix) {
		return strings.TrimPrefix(v, prefix)
	}
	return ""
}

func scopesFromClaims(claims jwt.MapClaims) map[Scope]bool {
	scopes := map[Scope]bool{}
	switch v := claims["scope"].(type) {
	case string:
		for _, s := range strings.Fields(v) {
			scopes[Scope(s)] = true
		}
	case []any:
		for _, s := range v {
			if str, ok := s.(string); ok {
				scopes[Scope(str)] = true
			}
		}
	}
	return scopes
}

func allScopes() map[Scope]bool {
	return map[Scope]bool{ScopeAdminRead: true, ScopeAdminWrite: true, ScopeInternalWS: true}
}
