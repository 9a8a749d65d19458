package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Load reads Config from the environment, applying the same defaults the
// teacher's .env-based bootstrap used (see joho/godotenv usage in cmd/meetingsvc).
// It does not validate; call Validate (or Evaluate) afterward.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: Environment(getenv("ENVIRONMENT", string(EnvDevelopment))),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		FailFast:    getBool("FAIL_FAST", false),

		Database: Database{
			Host:     getenv("DB_HOST", "localhost"),
			Port:     getInt("DB_PORT", 5432),
			User:     getenv("DB_USER", "meetingsvc"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     getenv("DB_NAME", "meetingsvc"),
			SSLMode:  getenv("DB_SSLMODE", "disable"),

			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: getDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
		},

		Redis: Redis{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},

		Storage: Storage{
			Mode:      StorageMode(getenv("STORAGE_MODE", string(StorageModeLocal))),
			LocalRoot: getenv("STORAGE_LOCAL_ROOT", "./data/blobs"),
			SharedURI: os.Getenv("STORAGE_SHARED_URI"),
		},

		Queue: Queue{
			Mode:              QueueMode(getenv("QUEUE_MODE", string(QueueModeQueue))),
			VisibilityTimeout: getDuration("QUEUE_VISIBILITY_TIMEOUT", 30*time.Second),
			MaxAttempts:       getInt("QUEUE_MAX_ATTEMPTS", 5),
			WorkersPerStage:   getInt("QUEUE_WORKERS_PER_STAGE", 4),
		},

		Auth: Auth{
			Mode:                    AuthMode(getenv("AUTH_MODE", string(AuthModeNone))),
			UserAPIKeys:             getList("AUTH_USER_API_KEYS"),
			ServiceAPIKeys:          getList("AUTH_SERVICE_API_KEYS"),
			JWTIssuer:               os.Getenv("AUTH_JWT_ISSUER"),
			JWTAudience:             os.Getenv("AUTH_JWT_AUDIENCE"),
			JWKSURL:                 os.Getenv("AUTH_JWKS_URL"),
			TenantEnforced:          getBool("AUTH_TENANT_ENFORCED", false),
			ServiceFallbackToAPIKey: getBool("AUTH_SERVICE_FALLBACK_API_KEY", true),
		},

		Connector: Connector{
			BaseURL:          os.Getenv("CONNECTOR_BASE_URL"),
			Token:            os.Getenv("CONNECTOR_TOKEN"),
			OpLockTTL:        getDuration("CONNECTOR_OP_LOCK_TTL", 10*time.Second),
			LivePullInterval: getDuration("CONNECTOR_LIVE_PULL_INTERVAL", 5*time.Second),
		},

		Breaker: Breaker{
			FailureThreshold: getInt("BREAKER_FAILURE_THRESHOLD", 5),
			Window:           getDuration("BREAKER_WINDOW", time.Minute),
			HalfOpenAfter:    getDuration("BREAKER_HALF_OPEN_AFTER", 30*time.Second),
		},

		Reconcile: Reconcile{
			Interval:                getDuration("RECONCILE_INTERVAL", 15*time.Second),
			StaleAfter:              getDuration("RECONCILE_STALE_AFTER", 2*time.Minute),
			ReconciliationLimit:     getInt("RECONCILE_LIMIT", 20),
			AutoReconnectAfterFails: getInt("RECONCILE_AUTO_RECONNECT_AFTER_FAILS", 3),
			LivePullSessionsLimit:   getInt("RECONCILE_LIVE_PULL_SESSIONS_LIMIT", 50),
			LivePullBatchLimit:      getInt("RECONCILE_LIVE_PULL_BATCH_LIMIT", 20),
			BreakerSelfHeal:         getBool("RECONCILE_BREAKER_SELF_HEAL", true),
			BreakerSelfHealMinAge:   getDuration("RECONCILE_BREAKER_SELF_HEAL_MIN_AGE", 5*time.Minute),
		},

		Providers: Providers{
			AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
			AnthropicModel:  getenv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),

			AWSRegion:      getenv("AWS_REGION", "us-east-1"),
			BedrockModelID: getenv("BEDROCK_MODEL_ID", "anthropic.claude-3-sonnet-20240229-v1:0"),

			SlackToken:     os.Getenv("SLACK_BOT_TOKEN"),
			SlackChannelID: os.Getenv("SLACK_CHANNEL_ID"),

			SMTPAddr: os.Getenv("SMTP_ADDR"),
			SMTPFrom: os.Getenv("SMTP_FROM"),
			SMTPTo:   getList("SMTP_TO"),
			SMTPUser: os.Getenv("SMTP_USER"),
			SMTPPass: os.Getenv("SMTP_PASSWORD"),
		},
	}

	if cfg.Environment != EnvDevelopment && cfg.Environment != EnvStaging && cfg.Environment != EnvProduction {
		return nil, fmt.Errorf("invalid ENVIRONMENT %q", cfg.Environment)
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
