package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"

	"github.com/chatvault/chatvault/internal/ingest"
	"github.com/chatvault/chatvault/internal/media"
)

const webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookHandler receives Telegram webhook updates and feeds them to
// the ingestion pipeline.
type WebhookHandler struct {
	orchestrator *ingest.Orchestrator
	secret       string
	logger       *slog.Logger
}

// NewWebhookHandler creates the webhook handler. secret is the value
// Telegram echoes back in the secret-token header; empty disables the
// check.
func NewWebhookHandler(log *slog.Logger, orchestrator *ingest.Orchestrator, secret string) *WebhookHandler {
	return &WebhookHandler{
		orchestrator: orchestrator,
		secret:       secret,
		logger:       log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhook/telegram", h.Receive)
}

// Receive handles one webhook delivery. The response is always fast:
// Telegram retries non-2xx responses, so pipeline failures that already
// persisted a record still return 200.
func (h *WebhookHandler) Receive(c echo.Context) error {
	if h.secret != "" && c.Request().Header.Get(webhookSecretHeader) != h.secret {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(c.Request().Body).Decode(&update); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed update payload")
	}

	ctx := c.Request().Context()
	switch {
	case update.Message != nil:
		res, err := h.orchestrator.HandleMessage(ctx, update.Message)
		return h.respond(c, res, err)
	case update.EditedMessage != nil:
		res, err := h.orchestrator.HandleEditedMessage(ctx, update.EditedMessage)
		return h.respond(c, res, err)
	default:
		// Update kinds the pipeline does not ingest are acknowledged so
		// Telegram stops redelivering them.
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}
}

func (h *WebhookHandler) respond(c echo.Context, res ingest.Result, err error) error {
	if err != nil {
		var ingestErr *ingest.Error
		if errors.As(err, &ingestErr) {
			if errors.Is(err, media.ErrNoMedia) {
				return c.JSON(http.StatusOK, map[string]string{
					"status":         "ignored",
					"correlation_id": ingestErr.CorrelationID,
				})
			}
			h.logger.Error("ingestion failed",
				slog.String("correlation_id", ingestErr.CorrelationID),
				slog.String("error", ingestErr.Err.Error()))
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"status":         "error",
				"correlation_id": ingestErr.CorrelationID,
			})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	body := map[string]any{
		"status":         "ok",
		"duplicate":      res.Duplicate,
		"correlation_id": res.CorrelationID,
	}
	if res.Record != nil {
		body["record_id"] = res.Record.ID
		body["processing_state"] = string(res.Record.State)
	}
	if res.TextRecord != nil {
		body["text_record_id"] = res.TextRecord.ID
	}
	return c.JSON(http.StatusOK, body)
}
