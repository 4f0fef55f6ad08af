package intake

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ErrorResponse is the JSON error envelope of every intake endpoint.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// Fail writes the response for err. Validation errors become 400 with
// their details. Anything else is logged and answered with a generic 500.
func Fail(c echo.Context, logger *zap.Logger, err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Details: verr.Details})
	}
	logger.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Bool("persistence", errors.Is(err, ErrPersistence)),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
}
