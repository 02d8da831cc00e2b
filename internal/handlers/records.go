package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chatvault/chatvault/internal/ingest"
	"github.com/chatvault/chatvault/internal/record"
)

// RecordsHandler exposes read access to message records plus the
// operational endpoints: redrive sweeps and analysis results.
type RecordsHandler struct {
	records      record.Repository
	orchestrator *ingest.Orchestrator
	logger       *slog.Logger
}

// NewRecordsHandler creates the records handler.
func NewRecordsHandler(log *slog.Logger, records record.Repository, orchestrator *ingest.Orchestrator) *RecordsHandler {
	return &RecordsHandler{
		records:      records,
		orchestrator: orchestrator,
		logger:       log.With(slog.String("handler", "records")),
	}
}

func (h *RecordsHandler) Register(e *echo.Echo) {
	e.GET("/records/:file_unique_id", h.GetByFileUniqueID)
	e.GET("/records", h.ListByMediaGroup)
	e.POST("/records/:id/analyzed", h.MarkAnalyzed)
	e.POST("/redrive", h.Redrive)
}

func (h *RecordsHandler) GetByFileUniqueID(c echo.Context) error {
	fileUniqueID := strings.TrimSpace(c.Param("file_unique_id"))
	if fileUniqueID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "file unique id is required")
	}

	rec, err := h.records.FindByFileUniqueID(c.Request().Context(), fileUniqueID)
	if errors.Is(err, record.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *RecordsHandler) ListByMediaGroup(c echo.Context) error {
	mediaGroupID := strings.TrimSpace(c.QueryParam("media_group_id"))
	if mediaGroupID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "media_group_id is required")
	}

	records, err := h.records.ListByMediaGroup(c.Request().Context(), mediaGroupID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if records == nil {
		records = []record.MessageRecord{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"media_group_id": mediaGroupID,
		"records":        records,
	})
}

// MarkAnalyzed stores the caption-analysis result for a record and
// completes its lifecycle.
func (h *RecordsHandler) MarkAnalyzed(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "record id is required")
	}

	var body struct {
		AnalyzedContent map[string]any `json:"analyzed_content"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rec, err := h.orchestrator.MarkAnalyzed(c.Request().Context(), id, body.AnalyzedContent)
	if errors.Is(err, record.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

// Redrive triggers an immediate sweep of records flagged for
// redownload, independent of the cron schedule.
func (h *RecordsHandler) Redrive(c echo.Context) error {
	var body struct {
		Limit int `json:"limit"`
	}
	if err := c.Bind(&body); err != nil && !errors.Is(err, echo.ErrUnsupportedMediaType) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.Limit <= 0 {
		body.Limit = 50
	}

	report, err := h.orchestrator.Redrive(c.Request().Context(), body.Limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}
