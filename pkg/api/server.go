// Package api is the HTTP/WebSocket edge: the ingest facade (C9), the
// read/rebuild surface over meeting artifacts, the two WebSocket contours,
// and the admin surface (C12) over queues, storage, readiness, and
// connectors.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeready-toolchain/meetingsvc/pkg/auth"
	"github.com/codeready-toolchain/meetingsvc/pkg/blob"
	"github.com/codeready-toolchain/meetingsvc/pkg/breaker"
	"github.com/codeready-toolchain/meetingsvc/pkg/broker"
	"github.com/codeready-toolchain/meetingsvc/pkg/config"
	"github.com/codeready-toolchain/meetingsvc/pkg/connector"
	"github.com/codeready-toolchain/meetingsvc/pkg/events"
	"github.com/codeready-toolchain/meetingsvc/pkg/pipeline"
	"github.com/codeready-toolchain/meetingsvc/pkg/reconcile"
	"github.com/codeready-toolchain/meetingsvc/pkg/store"
	"github.com/codeready-toolchain/meetingsvc/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg           *config.Config
	meetings      *store.MeetingStore
	idempotency   *store.IdempotencyStore
	blobs         blob.Store
	broker        *broker.Broker
	breakerMgr    *breaker.Manager
	pipeline      *pipeline.Pipeline
	authenticator *auth.Authenticator
	events        *events.ConnectionManager
	ingest        *IngestFacade
	validate      *validator.Validate

	connectors map[string]*connectorEntry

	tenantEnforced bool
}

type connectorEntry struct {
	manager *connector.Manager
	loop    *reconcile.Loop
}

// NewServer constructs the API server and registers routes.
func NewServer(
	cfg *config.Config,
	meetings *store.MeetingStore,
	idempotency *store.IdempotencyStore,
	blobs blob.Store,
	br *broker.Broker,
	breakerMgr *breaker.Manager,
	pl *pipeline.Pipeline,
	authenticator *auth.Authenticator,
	connManager *events.ConnectionManager,
) *Server {
	e := echo.New()

	s := &Server{
		echo:           e,
		cfg:            cfg,
		meetings:       meetings,
		idempotency:    idempotency,
		blobs:          blobs,
		broker:         br,
		breakerMgr:     breakerMgr,
		pipeline:       pl,
		authenticator:  authenticator,
		events:         connManager,
		validate:       validator.New(),
		connectors:     make(map[string]*connectorEntry),
		tenantEnforced: cfg.Auth.TenantEnforced,
	}
	s.ingest = &IngestFacade{Meetings: meetings, Blobs: blobs, Pipeline: pl}

	s.setupRoutes()
	return s
}

// RegisterConnector wires a connector kind's lifecycle manager and
// reconciliation loop into the admin surface, keyed by provider.
func (s *Server) RegisterConnector(provider string, mgr *connector.Manager, loop *reconcile.Loop) {
	s.connectors[provider] = &connectorEntry{manager: mgr, loop: loop}
}

func (s *Server) connectorEntryFor(provider string) (*connectorEntry, error) {
	e, ok := s.connectors[provider]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e, nil
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(16 * 1024 * 1024)) // above a typical chunk upload
	s.echo.Use(securityHeaders())
	s.echo.Use(traceID())

	s.echo.GET("/health", s.healthHandler)

	userAuth := s.authMiddleware(auth.ContourUser, "meeting_api", "")
	serviceAuth := s.authMiddleware(auth.ContourService, "internal_api", auth.ScopeInternalWS)
	adminRead := s.authMiddleware(auth.ContourService, "admin_read", auth.ScopeAdminRead)
	adminWrite := s.authMiddleware(auth.ContourService, "admin_write", auth.ScopeAdminWrite)

	v1 := s.echo.Group("/v1")

	meetings := v1.Group("", userAuth)
	meetings.POST("/meetings/start", s.startMeetingHandler)
	meetings.POST("/meetings/:id/chunks", s.ingestChunkHandler)
	meetings.GET("/meetings/:id", s.getMeetingHandler)
	meetings.GET("/meetings/:id/artifact", s.getArtifactHandler)
	meetings.POST("/meetings/:id/artifacts/rebuild", s.rebuildMeetingHandler)
	meetings.POST("/meetings/:id/finalize", s.finalizeMeetingHandler)
	meetings.GET("/ws/:id", s.wsHandler)

	internal := v1.Group("/internal", serviceAuth)
	internal.POST("/meetings/:id/chunks", s.ingestChunkHandler)
	internal.GET("/ws/:id", s.wsHandler)

	admin := v1.Group("/admin")
	admin.GET("/metrics", echo.WrapHandler(promhttp.Handler()), adminRead)
	admin.GET("/queues/health", s.queuesHealthHandler, adminRead)
	admin.GET("/storage/health", s.storageHealthHandler, adminRead)
	admin.GET("/system/readiness", s.readinessHandler, adminRead)

	admin.POST("/connectors/:provider/:id/join", s.connectorJoinHandler, adminWrite)
	admin.POST("/connectors/:provider/:id/leave", s.connectorLeaveHandler, adminWrite)
	admin.POST("/connectors/:provider/:id/reconnect", s.connectorReconnectHandler, adminWrite)
	admin.GET("/connectors/:provider/:id/status", s.connectorStatusHandler, adminRead)
	admin.GET("/connectors/:provider/:id/health", s.connectorHealthHandler, adminRead)
	admin.POST("/connectors/:provider/:id/live-pull", s.connectorLivePullHandler, adminWrite)
	admin.GET("/connectors/:provider/circuit-breaker", s.connectorBreakerStatusHandler, adminRead)
	admin.POST("/connectors/:provider/circuit-breaker/reset", s.connectorBreakerResetHandler, adminWrite)
	admin.GET("/connectors/:provider/sessions", s.connectorSessionsHandler, adminRead)
	admin.POST("/connectors/:provider/reconcile", s.connectorReconcileHandler, adminWrite)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used
// by tests to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &HealthResponse{Status: "healthy", Version: version.Full()})
}

// reqCtx bounds a handler's work to a sane upper time, independent of the
// client's own request timeout.
func reqCtx(c *echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), 20*time.Second)
}
