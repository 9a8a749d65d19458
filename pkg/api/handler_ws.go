package api

import (
	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades HTTP connections to WebSocket and delegates to the
// connection manager, scoped to the meeting named in the path. Serves both
// /v1/ws/{id} (user contour) and /v1/internal/ws/{id} (service contour) —
// auth is already enforced by the route group's middleware.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.events == nil {
		return echo.NewHTTPError(503, "websocket not available")
	}

	meetingID := c.Param("id")
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	s.events.HandleConnection(c.Request().Context(), conn, meetingID)
	return nil
}
