// Command meetingsvc runs the meeting ingest/processing service: the
// HTTP/WebSocket API, the four pipeline worker pools, and one
// reconciliation loop per configured connector provider.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/smtp"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/meetingsvc/pkg/api"
	"github.com/codeready-toolchain/meetingsvc/pkg/auth"
	"github.com/codeready-toolchain/meetingsvc/pkg/blob"
	"github.com/codeready-toolchain/meetingsvc/pkg/breaker"
	"github.com/codeready-toolchain/meetingsvc/pkg/broker"
	"github.com/codeready-toolchain/meetingsvc/pkg/config"
	"github.com/codeready-toolchain/meetingsvc/pkg/connector"
	"github.com/codeready-toolchain/meetingsvc/pkg/database"
	"github.com/codeready-toolchain/meetingsvc/pkg/events"
	"github.com/codeready-toolchain/meetingsvc/pkg/jobs"
	"github.com/codeready-toolchain/meetingsvc/pkg/pipeline"
	"github.com/codeready-toolchain/meetingsvc/pkg/providers/analytics"
	"github.com/codeready-toolchain/meetingsvc/pkg/providers/delivery"
	"github.com/codeready-toolchain/meetingsvc/pkg/providers/enhancer"
	"github.com/codeready-toolchain/meetingsvc/pkg/providers/stt"
	"github.com/codeready-toolchain/meetingsvc/pkg/reconcile"
	"github.com/codeready-toolchain/meetingsvc/pkg/slack"
	"github.com/codeready-toolchain/meetingsvc/pkg/store"
	"github.com/codeready-toolchain/meetingsvc/pkg/version"
	"github.com/codeready-toolchain/meetingsvc/pkg/worker"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "directory holding the .env file")
	flag.Parse()

	logger := slog.Default().With("component", "main")

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		logger.Warn("no .env file loaded, using process environment", "path", envPath, "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	readiness := cfg.Evaluate()
	for _, issue := range readiness.Issues {
		logger.Warn("configuration issue", "severity", issue.Severity, "field", issue.Field, "message", issue.Message)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("configuration not ready in production with FAIL_FAST set, refusing to start", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting meetingsvc", "version", version.Full(), "environment", cfg.Environment)

	dbClient, err := database.NewClient(ctx, database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Name,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logger.Error("error closing database client", "error", err)
		}
	}()
	logger.Info("connected to postgres and ran migrations")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	b := broker.New(rdb)

	blobStore, err := blob.NewLocalStore(cfg.Storage.LocalRoot)
	if err != nil {
		logger.Error("failed to open blob store", "error", err)
		os.Exit(1)
	}
	if cfg.Storage.Mode == config.StorageModeShared {
		logger.Warn("STORAGE_MODE=shared requested but no shared backend is wired yet, falling back to local", "local_root", cfg.Storage.LocalRoot)
	}

	meetings := store.NewMeetingStore(dbClient.DB())
	idempotency := store.NewIdempotencyStore(dbClient.DB())
	sessions := store.NewConnectorSessionStore(dbClient.DB())
	audit := store.NewAuditStore(dbClient.DB())

	breakerMgr := breaker.NewManager(cfg.Breaker.FailureThreshold, cfg.Breaker.Window, cfg.Breaker.HalfOpenAfter)

	transcriber := stt.NewStubTranscriber()

	var enh enhancer.Enhancer
	if cfg.Providers.AnthropicAPIKey != "" {
		enh = enhancer.NewClaude(cfg.Providers.AnthropicAPIKey, cfg.Providers.AnthropicModel)
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set, transcript enhancement will fail at runtime")
	}

	var analyzer analytics.Analyzer
	if cfg.Providers.AWSRegion != "" {
		bedrock, err := analytics.NewBedrock(ctx, cfg.Providers.AWSRegion, cfg.Providers.BedrockModelID)
		if err != nil {
			logger.Error("failed to construct bedrock analytics client", "error", err)
			os.Exit(1)
		}
		analyzer = bedrock
	}

	reportSender, alertNotifier := buildDeliverySenders(cfg, logger)

	pl := &pipeline.Pipeline{
		Meetings:      meetings,
		Idempotency:   idempotency,
		Blobs:         blobStore,
		Broker:        b,
		Transcriber:   transcriber,
		Enhancer:      enh,
		Analyzer:      analyzer,
		ReportSender:  reportSender,
		AlertNotifier: alertNotifier,
		QueueMode:     cfg.Queue.Mode,
		MaxAttempts:   cfg.Queue.MaxAttempts,
	}

	pools := startWorkerPools(ctx, b, pl, cfg)
	defer func() {
		for _, p := range pools {
			p.Stop()
		}
	}()

	authenticator := auth.NewAuthenticator(auth.Config{
		Mode:                    auth.Mode(cfg.Auth.Mode),
		UserAPIKeys:             cfg.Auth.UserAPIKeys,
		ServiceAPIKeys:          cfg.Auth.ServiceAPIKeys,
		JWTIssuer:               cfg.Auth.JWTIssuer,
		JWTAudience:             cfg.Auth.JWTAudience,
		JWKSURL:                 cfg.Auth.JWKSURL,
		TenantEnforced:          cfg.Auth.TenantEnforced,
		ServiceFallbackToAPIKey: cfg.Auth.ServiceFallbackToAPIKey,
	}, audit)

	ingestFacade := &api.IngestFacade{Meetings: meetings, Blobs: blobStore, Pipeline: pl}
	connManager := events.NewConnectionManager(api.NewWSIngestAdapter(ingestFacade), 5*time.Second)

	server := api.NewServer(cfg, meetings, idempotency, blobStore, b, breakerMgr, pl, authenticator, connManager)

	// Loops run in goroutines tied to ctx, cancelled on shutdown signal; no
	// separate handle is needed here once registered.
	registerConnectors(ctx, server, cfg, sessions, breakerMgr, ingestFacade, logger)

	addr := cfg.HTTPAddr
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := server.Start(addr); err != nil {
			logger.Error("http server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}
}

// startWorkerPools starts one pool per pipeline stage, sized by
// QUEUE_WORKERS_PER_STAGE. In inline mode the broker queues are never
// populated (Dispatch runs handlers synchronously), so the pools simply
// idle — started unconditionally to keep the code path uniform regardless
// of QUEUE_MODE, and because QUEUE_MODE is process-wide but could in
// principle be flipped without a restart of the admin surface.
func startWorkerPools(ctx context.Context, b *broker.Broker, pl *pipeline.Pipeline, cfg *config.Config) []*worker.Pool {
	concurrency := cfg.Queue.WorkersPerStage
	if concurrency <= 0 {
		concurrency = 4
	}
	visibility := cfg.Queue.VisibilityTimeout

	stages := []struct {
		step    jobs.Step
		handler worker.Handler
	}{
		{jobs.StepSTT, worker.HandlerFunc(pl.HandleSTT)},
		{jobs.StepEnhancer, worker.HandlerFunc(pl.HandleEnhancer)},
		{jobs.StepAnalytics, worker.HandlerFunc(pl.HandleAnalytics)},
		{jobs.StepDelivery, worker.HandlerFunc(pl.HandleDelivery)},
	}

	pools := make([]*worker.Pool, 0, len(stages))
	for _, st := range stages {
		pool := worker.NewPool(b, worker.Config{
			Queue:             st.step.Queue(),
			Handler:           st.handler,
			Concurrency:       concurrency,
			VisibilityTimeout: visibility,
		})
		pool.Start(ctx)
		pools = append(pools, pool)
	}
	return pools
}

// buildDeliverySenders wires the delivery providers configured via
// environment: Slack when a bot token/channel are set, SMTP when a relay
// address is set. Both may be configured; a nil return means that leg of
// delivery is skipped (a nil ReportSender lets the Analytics stage mark the
// meeting done without delivering; delivery.AlertNotifier is fail-open by
// contract), preferring Slack when both are present since it
// reaches the whole meeting channel rather than a recipient list.
func buildDeliverySenders(cfg *config.Config, logger *slog.Logger) (delivery.ReportSender, delivery.AlertNotifier) {
	if svc := slack.NewService(slack.ServiceConfig{
		Token:   cfg.Providers.SlackToken,
		Channel: cfg.Providers.SlackChannelID,
	}); svc != nil {
		logger.Info("delivery: using slack sender", "channel", cfg.Providers.SlackChannelID)
		sender := delivery.NewSlackSender(svc)
		return sender, sender
	}

	if cfg.Providers.SMTPAddr != "" && len(cfg.Providers.SMTPTo) > 0 {
		var smtpAuth smtp.Auth
		if cfg.Providers.SMTPUser != "" {
			host, _, _ := splitHostPort(cfg.Providers.SMTPAddr)
			smtpAuth = smtp.PlainAuth("", cfg.Providers.SMTPUser, cfg.Providers.SMTPPass, host)
		}
		logger.Info("delivery: using smtp sender", "addr", cfg.Providers.SMTPAddr, "recipients", len(cfg.Providers.SMTPTo))
		sender := delivery.NewSMTPSender(cfg.Providers.SMTPAddr, cfg.Providers.SMTPFrom, cfg.Providers.SMTPTo, smtpAuth)
		return sender, nil
	}

	logger.Warn("no delivery provider configured (SLACK_BOT_TOKEN or SMTP_ADDR+SMTP_TO), reports and alerts will not be delivered")
	return nil, nil
}

func splitHostPort(addr string) (string, string, error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], nil
		}
	}
	return addr, "", nil
}

// registerConnectors wires exactly one connector provider ("meet", the only
// one CONNECTOR_BASE_URL-backed HTTPClient targets) when configured, with
// its lifecycle Manager and reconciliation Loop registered under the admin
// surface. Additional providers would repeat this block with their own
// base URL/token and connector kind.
func registerConnectors(
	ctx context.Context,
	server *api.Server,
	cfg *config.Config,
	sessions *store.ConnectorSessionStore,
	breakerMgr *breaker.Manager,
	ingestFacade *api.IngestFacade,
	logger *slog.Logger,
) []*reconcile.Loop {
	if cfg.Connector.BaseURL == "" {
		logger.Info("CONNECTOR_BASE_URL not set, no connector providers registered")
		return nil
	}

	const connectorKind = "meet"

	client := connector.NewHTTPClient(connector.HTTPClientConfig{
		BaseURL: cfg.Connector.BaseURL,
		Token:   cfg.Connector.Token,
	})

	mgr := connector.NewManager(sessions, client, breakerMgr, api.NewConnectorIngestAdapter(ingestFacade), connectorKind)
	mgr.OpLockTTL = cfg.Connector.OpLockTTL

	loop := reconcile.NewLoop(sessions, mgr, breakerMgr, reconcile.Config{
		Interval:                cfg.Reconcile.Interval,
		StaleAfter:              cfg.Reconcile.StaleAfter,
		ReconciliationLimit:     cfg.Reconcile.ReconciliationLimit,
		AutoReconnectAfterFails: cfg.Reconcile.AutoReconnectAfterFails,
		LivePullSessionsLimit:   cfg.Reconcile.LivePullSessionsLimit,
		LivePullBatchLimit:      cfg.Reconcile.LivePullBatchLimit,
		BreakerSelfHeal:         cfg.Reconcile.BreakerSelfHeal,
		BreakerSelfHealMinAge:   cfg.Reconcile.BreakerSelfHealMinAge,
	})

	server.RegisterConnector(connectorKind, mgr, loop)
	go loop.Run(ctx)

	logger.Info("registered connector provider", "kind", connectorKind, "base_url", cfg.Connector.BaseURL)
	return []*reconcile.Loop{loop}
}
