package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/meetingsvc/pkg/jobs"
)

// queuesHealthHandler handles GET /v1/admin/queues/health.
func (s *Server) queuesHealthHandler(c *echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	resp := QueuesHealthResponse{BrokerReachable: s.broker.Ping(ctx) == nil}
	for _, step := range []jobs.Step{jobs.StepSTT, jobs.StepEnhancer, jobs.StepAnalytics, jobs.StepDelivery} {
		queue := step.Queue()
		qh := QueueHealth{Queue: queue}

		depth, err := s.broker.Depth(ctx, queue)
		if err != nil {
			qh.Error = err.Error()
		} else {
			qh.Depth = depth
		}

		if pending, err := s.broker.PendingDepth(ctx, queue); err != nil {
			if qh.Error == "" {
				qh.Error = err.Error()
			}
		} else {
			qh.PendingDepth = pending
		}

		if dlq, err := s.broker.DLQDepth(ctx, queue); err != nil {
			if qh.Error == "" {
				qh.Error = err.Error()
			}
		} else {
			qh.DLQDepth = dlq
		}

		resp.Queues = append(resp.Queues, qh)
	}
	return c.JSON(http.StatusOK, &resp)
}

// storageHealthChecker is implemented by blob.LocalStore; checked via type
// assertion since blob.Store's interface has no Health method (shared
// backends may have no cheap way to probe liveness beyond Get/Probe).
type storageHealthChecker interface {
	Health(ctx context.Context) error
}

// storageHealthHandler handles GET /v1/admin/storage/health.
func (s *Server) storageHealthHandler(c *echo.Context) error {
	checker, ok := s.blobs.(storageHealthChecker)
	if !ok {
		return c.JSON(http.StatusOK, &StorageHealthResponse{Healthy: true})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := checker.Health(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, &StorageHealthResponse{Healthy: false, Error: err.Error()})
	}
	return c.JSON(http.StatusOK, &StorageHealthResponse{Healthy: true})
}

// readinessHandler handles GET /v1/admin/system/readiness.
func (s *Server) readinessHandler(c *echo.Context) error {
	readiness := s.cfg.Evaluate()
	status := http.StatusOK
	if !readiness.Ready {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, &readiness)
}

func (s *Server) connectorJoinHandler(c *echo.Context) error {
	entry, err := s.connectorEntryFor(c.Param("provider"))
	if err != nil {
		return mapError(err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	sess, err := entry.manager.Join(ctx, c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, newConnectorSessionResponse(sess))
}

func (s *Server) connectorLeaveHandler(c *echo.Context) error {
	entry, err := s.connectorEntryFor(c.Param("provider"))
	if err != nil {
		return mapError(err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := entry.manager.Leave(ctx, c.Param("id")); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) connectorReconnectHandler(c *echo.Context) error {
	entry, err := s.connectorEntryFor(c.Param("provider"))
	if err != nil {
		return mapError(err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	sess, err := entry.manager.Reconnect(ctx, c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, newConnectorSessionResponse(sess))
}

func (s *Server) connectorStatusHandler(c *echo.Context) error {
	entry, err := s.connectorEntryFor(c.Param("provider"))
	if err != nil {
		return mapError(err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	sess, err := entry.manager.Status(ctx, c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, newConnectorSessionResponse(sess))
}

func (s *Server) connectorHealthHandler(c *echo.Context) error {
	entry, err := s.connectorEntryFor(c.Param("provider"))
	if err != nil {
		return mapError(err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	sess, err := entry.manager.Status(ctx, c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	if sess.ExternalRef == nil {
		return c.JSON(http.StatusOK, map[string]any{"healthy": false, "reason": "no external reference"})
	}

	meetingID := c.Param("id")
	callErr := entry.manager.Breaker.Call(ctx, entry.manager.ConnectorKind, func(ctx context.Context) error {
		return entry.manager.Provider.HealthCheck(ctx, meetingID, *sess.ExternalRef)
	})
	if callErr != nil {
		return c.JSON(http.StatusOK, map[string]any{"healthy": false, "reason": callErr.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"healthy": true})
}

func (s *Server) connectorLivePullHandler(c *echo.Context) error {
	entry, err := s.connectorEntryFor(c.Param("provider"))
	if err != nil {
		return mapError(err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	pulled, err := entry.manager.LivePull(ctx, c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"pulled": pulled})
}

func (s *Server) connectorBreakerStatusHandler(c *echo.Context) error {
	entry, err := s.connectorEntryFor(c.Param("provider"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, s.breakerMgr.Record(entry.manager.ConnectorKind))
}

func (s *Server) connectorBreakerResetHandler(c *echo.Context) error {
	entry, err := s.connectorEntryFor(c.Param("provider"))
	if err != nil {
		return mapError(err)
	}
	s.breakerMgr.Reset(entry.manager.ConnectorKind, "admin reset")
	return c.JSON(http.StatusOK, s.breakerMgr.Record(entry.manager.ConnectorKind))
}

func (s *Server) connectorSessionsHandler(c *echo.Context) error {
	entry, err := s.connectorEntryFor(c.Param("provider"))
	if err != nil {
		return mapError(err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	sessions, err := entry.manager.Sessions.ListActive(ctx, 500)
	if err != nil {
		return mapError(err)
	}

	resp := make([]ConnectorSessionResponse, 0, len(sessions))
	for i := range sessions {
		if sessions[i].ConnectorKind != entry.manager.ConnectorKind {
			continue
		}
		resp = append(resp, newConnectorSessionResponse(&sessions[i]))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) connectorReconcileHandler(c *echo.Context) error {
	entry, err := s.connectorEntryFor(c.Param("provider"))
	if err != nil {
		return mapError(err)
	}
	if entry.loop == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no reconciliation loop registered for this connector")
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := entry.loop.Tick(ctx); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
