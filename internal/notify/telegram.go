package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultTelegramAPI = "https://api.telegram.org"
	// Telegram truncates nothing for us; longer texts are rejected.
	telegramMaxText    = 4096
	telegramMaxCaption = 1024
)

// TelegramConfig holds Bot API credentials and the destination chat.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	APIBase  string
	// RatePerSecond bounds outgoing API calls. Zero disables limiting.
	RatePerSecond float64
	Timeout       time.Duration
}

// Telegram sends messages through the Telegram Bot API.
type Telegram struct {
	cfg     TelegramConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ Sink = (*Telegram)(nil)

// NewTelegram creates a Telegram sink. A nil client uses a dedicated client with cfg.Timeout.
func NewTelegram(cfg TelegramConfig, client *http.Client, logger *zap.Logger) *Telegram {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultTelegramAPI
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Telegram{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("telegram"),
	}
}

// Configured reports whether both the token and the chat id are set.
func (t *Telegram) Configured() bool {
	return t.cfg.BotToken != "" && t.cfg.ChatID != ""
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

// Send posts the text with sendMessage, then uploads the attachment (if any) with sendPhoto.
func (t *Telegram) Send(ctx context.Context, msg Message) (DeliveryResult, error) {
	res := DeliveryResult{Channel: "telegram"}
	if !t.Configured() {
		return res, &DeliveryError{Channel: res.Channel, Err: ErrNotConfigured}
	}

	payload := map[string]any{
		"chat_id":                  t.cfg.ChatID,
		"text":                     truncate(msg.Text, telegramMaxText),
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return res, &DeliveryError{Channel: res.Channel, Err: err}
	}
	if err := t.call(ctx, "sendMessage", "application/json", bytes.NewReader(body)); err != nil {
		return res, &DeliveryError{Channel: res.Channel, Err: err}
	}
	res.Delivered = true

	if msg.Attachment != "" {
		if err := t.sendPhoto(ctx, msg.Attachment, truncate(msg.Text, telegramMaxCaption)); err != nil {
			// The text went out; the evidence did not.
			res.Detail = "attachment not delivered"
			return res, &DeliveryError{Channel: res.Channel, Err: err}
		}
		t.logger.Debug("Attachment delivered", zap.String("path", msg.Attachment))
	}
	return res, nil
}

func (t *Telegram) sendPhoto(ctx context.Context, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("chat_id", t.cfg.ChatID)
	_ = w.WriteField("caption", caption)
	part, err := w.CreateFormFile("photo", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("read attachment: %w", err)
	}
	if err := w.Close(); err != nil {
		return err
	}
	return t.call(ctx, "sendPhoto", w.FormDataContentType(), &buf)
}

func (t *Telegram) call(ctx context.Context, method, contentType string, body io.Reader) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", strings.TrimSuffix(t.cfg.APIBase, "/"), t.cfg.BotToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", method, redactToken(err, t.cfg.BotToken))
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		// url.Error carries the request URL, and with it the token.
		return fmt.Errorf("%s: %w", method, redactToken(err, t.cfg.BotToken))
	}
	defer resp.Body.Close()

	var parsed telegramResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return fmt.Errorf("%s: status %d: decode response: %w", method, resp.StatusCode, err)
	}
	if resp.StatusCode/100 != 2 || !parsed.OK {
		return fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, parsed.Description)
	}
	return nil
}

type redactedError struct{ msg string }

func (e redactedError) Error() string { return e.msg }

func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return redactedError{msg: strings.ReplaceAll(err.Error(), token, "<token>")}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
