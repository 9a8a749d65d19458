// Package config loads and validates process configuration from the
// environment, then backs the readiness gate (startup validation plus
// GET /v1/admin/system/readiness).
package config

import "time"

// Environment selects the deployment tier. Production tightens several
// defaults (storage mode, auth fallback, fail-fast).
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// QueueMode selects between the durable broker-backed pipeline and the
// synchronous inline fallback used for local development.
type QueueMode string

const (
	QueueModeQueue  QueueMode = "queue"
	QueueModeInline QueueMode = "inline"
)

// StorageMode selects the blob backend. "local" is forbidden in production.
type StorageMode string

const (
	StorageModeLocal  StorageMode = "local"
	StorageModeShared StorageMode = "shared"
)

// AuthMode selects the authentication scheme for both HTTP and WebSocket contours.
type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeAPIKey AuthMode = "api_key"
	AuthModeJWT    AuthMode = "jwt"
)

// Config is the fully-resolved process configuration, assembled by Load
// and checked by Validate before any component is constructed.
type Config struct {
	Environment Environment
	HTTPAddr    string
	FailFast    bool

	Database Database
	Redis    Redis
	Storage  Storage
	Queue    Queue
	Auth     Auth
	Connector Connector
	Breaker   Breaker
	Reconcile Reconcile
	Providers Providers
}

// Database mirrors database.Config's env-driven fields; kept distinct so
// pkg/config has no import on pkg/database.
type Database struct {
	Host, User, Password, Name, SSLMode string
	Port                                int
	MaxOpenConns, MaxIdleConns          int
	ConnMaxLifetime, ConnMaxIdleTime    time.Duration
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Storage struct {
	Mode      StorageMode
	LocalRoot string
	SharedURI string
}

type Queue struct {
	Mode               QueueMode
	VisibilityTimeout  time.Duration
	MaxAttempts        int
	WorkersPerStage     int
}

type Auth struct {
	Mode           AuthMode
	UserAPIKeys    []string
	ServiceAPIKeys []string
	JWTIssuer      string
	JWTAudience    string
	JWKSURL        string
	TenantEnforced bool
	// ServiceFallbackToAPIKey allows the service contour to accept a static
	// key even when Mode is jwt; spec requires this off in production.
	ServiceFallbackToAPIKey bool
}

type Connector struct {
	BaseURL           string
	Token             string
	OpLockTTL         time.Duration
	LivePullInterval  time.Duration
}

type Breaker struct {
	FailureThreshold int
	Window           time.Duration
	HalfOpenAfter    time.Duration
}

type Reconcile struct {
	Interval                time.Duration
	StaleAfter              time.Duration
	ReconciliationLimit     int
	AutoReconnectAfterFails int
	LivePullSessionsLimit   int
	LivePullBatchLimit      int
	BreakerSelfHeal         bool
	BreakerSelfHealMinAge   time.Duration
}

type Providers struct {
	AnthropicAPIKey string
	AnthropicModel  string

	AWSRegion      string
	BedrockModelID string

	SlackToken     string
	SlackChannelID string

	SMTPAddr string
	SMTPFrom string
	SMTPTo   []string
	SMTPUser string
	SMTPPass string
}
