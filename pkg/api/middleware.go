package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/meetingsvc/pkg/auth"
	"github.com/codeready-toolchain/meetingsvc/pkg/jobs"
)

// securityHeaders sets standard security response headers on every response.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// traceID accepts an inbound X-Trace-Id header or mints one, echoing it back
// on the response (spec.md §6's trace-propagation contract).
func traceID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get("X-Trace-Id")
			if id == "" {
				id = jobs.NewTraceID()
			}
			c.Response().Header().Set("X-Trace-Id", id)
			c.Set("trace_id", id)
			return next(c)
		}
	}
}

// authMiddleware authenticates contour requests, stores the resolved
// Principal on the echo context, and enforces scope when required.
func (s *Server) authMiddleware(contour auth.Contour, action string, requiredScope auth.Scope) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			p, err := s.authenticator.Authenticate(c.Request().Context(), contour, c.Request().Header, action)
			if err != nil {
				return mapError(err)
			}
			if requiredScope != "" && contour == auth.ContourService {
				if err := auth.RequireScope(p, requiredScope); err != nil {
					return mapError(err)
				}
			}
			c.Set("principal", p)
			return next(c)
		}
	}
}

func principalFromEcho(c *echo.Context) *auth.Principal {
	p, _ := c.Get("principal").(*auth.Principal)
	return p
}

// requireTenant enforces that the meeting's tenant matches the principal's,
// when tenant enforcement is configured (spec.md §4.10).
func (s *Server) requireTenant(c *echo.Context, tenantID string) error {
	if err := auth.RequireTenant(principalFromEcho(c), tenantID, s.tenantEnforced); err != nil {
		return mapError(err)
	}
	return nil
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}
