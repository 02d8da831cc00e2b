// Package telegram adapts the Bot API file endpoints to the media
// pipeline's file source contract.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/chatvault/chatvault/internal/media"
)

const defaultFileEndpoint = "https://api.telegram.org/file/bot%s/%s"

// FileAPI resolves and downloads files through the Telegram Bot API.
// File ids issued in webhook payloads are short-lived; an expired one
// surfaces as media.ErrHandleExpired so the pipeline can flag the
// record for redownload instead of retrying.
type FileAPI struct {
	bot      *tgbotapi.BotAPI
	token    string
	endpoint string
	client   *http.Client
	logger   *slog.Logger

	// getFile is swapped in tests.
	getFile func(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

// NewFileAPI creates the Telegram file source.
func NewFileAPI(log *slog.Logger, bot *tgbotapi.BotAPI, token string) *FileAPI {
	if log == nil {
		log = slog.Default()
	}
	api := &FileAPI{
		bot:      bot,
		token:    token,
		endpoint: defaultFileEndpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   log.With(slog.String("service", "telegram")),
	}
	api.getFile = func(config tgbotapi.FileConfig) (tgbotapi.File, error) {
		return bot.GetFile(config)
	}
	return api
}

func (a *FileAPI) DescribeFile(ctx context.Context, handle string) (media.FileLocation, error) {
	if err := ctx.Err(); err != nil {
		return media.FileLocation{}, err
	}

	file, err := a.getFile(tgbotapi.FileConfig{FileID: handle})
	if err != nil {
		if isExpiredHandle(err) {
			return media.FileLocation{}, fmt.Errorf("resolve file handle: %w", media.ErrHandleExpired)
		}
		return media.FileLocation{}, fmt.Errorf("resolve file handle: %w", err)
	}
	if file.FilePath == "" {
		return media.FileLocation{}, fmt.Errorf("resolve file handle: empty file path")
	}
	return media.FileLocation{Path: file.FilePath}, nil
}

func (a *FileAPI) Download(ctx context.Context, location media.FileLocation) ([]byte, string, error) {
	url := fmt.Sprintf(a.endpoint, a.token, location.Path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// The retrieval path itself aged out.
		return nil, "", fmt.Errorf("download file: %w", media.ErrHandleExpired)
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", fmt.Errorf("download file: status %d", resp.StatusCode)
	default:
		// Any other rejection is not recoverable by retrying.
		return nil, "", fmt.Errorf("download file: status %d: %w", resp.StatusCode, media.ErrPermanent)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// isExpiredHandle matches the Bot API errors returned for stale or
// malformed file ids.
func isExpiredHandle(err error) bool {
	var apiErr tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusNotFound {
			return true
		}
		if apiErr.Code == http.StatusBadRequest {
			msg := strings.ToLower(apiErr.Message)
			return strings.Contains(msg, "wrong file_id") ||
				strings.Contains(msg, "file is temporarily unavailable") ||
				strings.Contains(msg, "invalid file_id")
		}
	}
	return false
}

var _ media.FileSource = (*FileAPI)(nil)
