// Package e2e boots the real stores, broker, and pipeline against an
// ephemeral Postgres and an in-process Redis, exercising the crash/
// redelivery and connector-reconnect scenarios (spec.md §8/S2, S6) that
// sqlmock-based unit tests cannot: those replay a scripted sequence of
// expected queries and so can never observe what Postgres itself does with
// a second, truly concurrent claim against the same row.
package e2e

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/meetingsvc/pkg/blob"
	"github.com/codeready-toolchain/meetingsvc/pkg/breaker"
	"github.com/codeready-toolchain/meetingsvc/pkg/broker"
	"github.com/codeready-toolchain/meetingsvc/pkg/config"
	"github.com/codeready-toolchain/meetingsvc/pkg/connector"
	"github.com/codeready-toolchain/meetingsvc/pkg/database"
	"github.com/codeready-toolchain/meetingsvc/pkg/pipeline"
	"github.com/codeready-toolchain/meetingsvc/pkg/providers/stt"
	"github.com/codeready-toolchain/meetingsvc/pkg/reconcile"
	"github.com/codeready-toolchain/meetingsvc/pkg/store"
)

// TestApp wires the real stores, broker, and pipeline the same way
// cmd/meetingsvc/main.go does, minus HTTP/WS transport — these tests drive
// the pipeline and connector lifecycle directly.
type TestApp struct {
	DB          *database.Client
	Meetings    *store.MeetingStore
	Idempotency *store.IdempotencyStore
	Sessions    *store.ConnectorSessionStore
	Broker      *broker.Broker
	Blobs       blob.Store
	Breaker     *breaker.Manager
	Pipeline    *pipeline.Pipeline
}

// NewTestApp boots a TestApp. The Postgres instance and Redis server are
// cleaned up via t.Cleanup.
func NewTestApp(t *testing.T) *TestApp {
	t.Helper()
	ctx := context.Background()

	dbClient := newTestDatabase(t, ctx)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	blobs, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	meetings := store.NewMeetingStore(dbClient.DB())
	idempotency := store.NewIdempotencyStore(dbClient.DB())
	sessions := store.NewConnectorSessionStore(dbClient.DB())
	br := broker.New(rdb)
	brk := breaker.NewManager(5, time.Minute, time.Second)

	p := &pipeline.Pipeline{
		Meetings:    meetings,
		Idempotency: idempotency,
		Blobs:       blobs,
		Broker:      br,
		Transcriber: stt.NewStubTranscriber(),
		QueueMode:   config.QueueModeInline,
		MaxAttempts: 5,
	}

	return &TestApp{
		DB: dbClient, Meetings: meetings, Idempotency: idempotency,
		Sessions: sessions, Broker: br, Blobs: blobs, Breaker: brk, Pipeline: p,
	}
}

// NewManager builds a connector.Manager sharing this TestApp's session store
// and breaker, for connector lifecycle/reconcile scenarios.
func (a *TestApp) NewManager(client connector.Client, ingest connector.Ingester, connectorKind string) *connector.Manager {
	return connector.NewManager(a.Sessions, client, a.Breaker, ingest, connectorKind)
}

// newTestDatabase connects to CI_DATABASE_URL's host/port/user/password/
// dbname if the individual TEST_DB_* vars are set (CI mode, mirroring the
// teacher's CI_DATABASE_URL escape hatch), otherwise spins up a disposable
// Postgres via testcontainers-go (local dev mode).
func newTestDatabase(t *testing.T, ctx context.Context) *database.Client {
	t.Helper()

	if host := os.Getenv("TEST_DB_HOST"); host != "" {
		t.Log("using external PostgreSQL from TEST_DB_* environment")
		port, err := strconv.Atoi(getenvDefault("TEST_DB_PORT", "5432"))
		require.NoError(t, err)
		client, err := database.NewClient(ctx, database.Config{
			Host:     host,
			Port:     port,
			User:     getenvDefault("TEST_DB_USER", "meetingsvc"),
			Password: os.Getenv("TEST_DB_PASSWORD"),
			Database: getenvDefault("TEST_DB_NAME", "meetingsvc"),
			SSLMode:  getenvDefault("TEST_DB_SSLMODE", "disable"),
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })
		return client
	}

	t.Log("using testcontainers for PostgreSQL")
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("meetingsvc"),
		postgres.WithUsername("meetingsvc"),
		postgres.WithPassword("meetingsvc"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	port, err := strconv.Atoi(mappedPort.Port())
	require.NoError(t, err)

	client, err := database.NewClient(ctx, database.Config{
		Host: host, Port: port, User: "meetingsvc", Password: "meetingsvc",
		Database: "meetingsvc", SSLMode: "disable",
		MaxOpenConns: 10, MaxIdleConns: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// reconcileLoop builds a reconcile.Loop against this TestApp's session
// store/breaker for connector scenarios.
func (a *TestApp) reconcileLoop(mgr *connector.Manager, cfg reconcile.Config) *reconcile.Loop {
	return reconcile.NewLoop(a.Sessions, mgr, a.Breaker, cfg)
}
