// Package controlapi exposes the ward agent's gesture surface as a local
// HTTP API: the hardware button, hold switch and companion tools drive the
// trigger controller through these routes.
package controlapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/wardn/wardn/domain/repositories"
	"github.com/wardn/wardn/internal/sos"
)

// ErrorResponse is the error payload of every control route.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusResponse reports the trigger controller's phase.
type StatusResponse struct {
	State        string `json:"state"`
	ActiveTimers int    `json:"active_timers"`
}

// InitRoutes initializes the control API routes.
func InitRoutes(e *echo.Echo, controller *sos.Controller, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "ward-agent",
		})
	})

	e.GET("/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, StatusResponse{
			State:        string(controller.State()),
			ActiveTimers: controller.ActiveTimers(),
		})
	})

	group := e.Group("/sos")
	group.POST("/trigger", func(c echo.Context) error {
		return activationError(c, controller.Activate(c.Request().Context()), logger)
	})
	group.POST("/confirm", func(c echo.Context) error {
		controller.Confirm()
		return c.NoContent(http.StatusAccepted)
	})
	group.POST("/cancel", func(c echo.Context) error {
		controller.Cancel()
		return c.NoContent(http.StatusAccepted)
	})
	group.POST("/hold/start", func(c echo.Context) error {
		return activationError(c, controller.HoldStart(c.Request().Context()), logger)
	})
	group.POST("/hold/release", func(c echo.Context) error {
		controller.HoldRelease()
		return c.NoContent(http.StatusAccepted)
	})
}

func activationError(c echo.Context, err error, logger *zap.Logger) error {
	switch {
	case err == nil:
		return c.NoContent(http.StatusAccepted)
	case errors.Is(err, repositories.ErrNoContacts):
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "no_contacts",
			Message: "Add at least one emergency contact before triggering SOS",
		})
	default:
		logger.Error("activation failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "activation_failed",
			Message: err.Error(),
		})
	}
}
