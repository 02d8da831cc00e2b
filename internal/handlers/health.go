package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// DBPinger is the slice of the connection pool the health probe needs.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness of the ingestion service and
// reachability of its record store.
type HealthHandler struct {
	db     DBPinger
	logger *slog.Logger
}

func NewHealthHandler(log *slog.Logger, db DBPinger) *HealthHandler {
	return &HealthHandler{db: db, logger: log.With(slog.String("handler", "health"))}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.GET("/health", h.Health)
	e.HEAD("/health", h.HealthHead)
}

// Ping answers without touching any dependency.
func (h *HealthHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "chatvault",
	})
}

func (h *HealthHandler) Health(c echo.Context) error {
	if err := h.db.Ping(c.Request().Context()); err != nil {
		h.logger.Warn("record store unreachable", slog.String("error", err.Error()))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status":   "degraded",
			"database": "unreachable",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":   "ok",
		"database": "ok",
	})
}

func (h *HealthHandler) HealthHead(c echo.Context) error {
	if err := h.db.Ping(c.Request().Context()); err != nil {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusOK)
}
