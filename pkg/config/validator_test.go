package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Database:    Database{Password: "secret", MaxOpenConns: 10, MaxIdleConns: 5},
		Storage:     Storage{Mode: StorageModeLocal},
		Queue:       Queue{Mode: QueueModeQueue},
		Auth:        Auth{Mode: AuthModeNone},
	}
}

func TestEvaluate_DevelopmentDefaultsAreReady(t *testing.T) {
	r := validConfig().Evaluate()
	assert.True(t, r.Ready)
	assert.Empty(t, r.Issues)
}

func TestEvaluate_ProductionForbidsLocalStorage(t *testing.T) {
	cfg := validConfig()
	cfg.Environment = EnvProduction
	cfg.Auth.Mode = AuthModeJWT
	cfg.Auth.JWTIssuer = "https://issuer.example.com"
	cfg.Auth.JWKSURL = "https://issuer.example.com/jwks.json"
	cfg.Auth.ServiceFallbackToAPIKey = false

	r := cfg.Evaluate()
	assert.False(t, r.Ready)
	assert.Contains(t, r.Issues, Issue{SeverityError, "storage.mode",
		"STORAGE_MODE=local is forbidden in production"})
}

func TestEvaluate_JWTModeRequiresIssuerAndJWKS(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Mode = AuthModeJWT

	r := cfg.Evaluate()
	assert.False(t, r.Ready)
}

func TestEvaluate_APIKeyModeRequiresAtLeastOneKey(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Mode = AuthModeAPIKey

	r := cfg.Evaluate()
	assert.False(t, r.Ready)
}

func TestValidate_NonProductionNeverAborts(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Mode = AuthModeAPIKey // would be an error-severity issue
	cfg.FailFast = true

	assert.NoError(t, cfg.Validate())
}

func TestValidate_ProductionFailFastAborts(t *testing.T) {
	cfg := validConfig()
	cfg.Environment = EnvProduction
	cfg.FailFast = true

	assert.Error(t, cfg.Validate())
}
