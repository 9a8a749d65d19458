package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/meetingsvc/pkg/auth"
	"github.com/codeready-toolchain/meetingsvc/pkg/blob"
	"github.com/codeready-toolchain/meetingsvc/pkg/breaker"
	"github.com/codeready-toolchain/meetingsvc/pkg/connector"
	"github.com/codeready-toolchain/meetingsvc/pkg/store"
)

// mapError translates a domain-layer error into an echo HTTP error, the
// single place the sentinel vocabulary surfaced by store/auth/connector/
// breaker gets turned into a status code.
func mapError(err error) *echo.HTTPError {
	var validErr *store.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}

	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	case errors.Is(err, store.ErrAlreadyExists):
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	case errors.Is(err, store.ErrInvalidStatusTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrDuplicateChunkSeq):
		return echo.NewHTTPError(http.StatusConflict, "chunk_seq already used for this meeting")
	case errors.Is(err, auth.ErrUnauthenticated):
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	case errors.Is(err, auth.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "not permitted")
	case errors.Is(err, connector.ErrBusy):
		return echo.NewHTTPError(http.StatusConflict, "connector operation already in progress")
	case errors.Is(err, breaker.ErrOpen):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "circuit breaker open")
	}

	slog.Error("unexpected api error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
