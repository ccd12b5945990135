// Package telegram delivers posts to a chat through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/newswire/internal/resilience"
)

// MaxCaptionRunes is the Bot API limit for photo captions. Longer posts are
// sent as plain messages.
const MaxCaptionRunes = 1024

const defaultBaseURL = "https://api.telegram.org"

// Publisher accepts finished posts.
type Publisher interface {
	Publish(ctx context.Context, text string, imageRef *string) error
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the Bot API base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// Client posts HTML-formatted messages to one chat.
type Client struct {
	token   string
	chatID  string
	baseURL string
	http    *http.Client
}

var _ Publisher = (*Client)(nil)

// NewClient creates a Bot API client for chatID.
func NewClient(token, chatID string, opts ...Option) (*Client, error) {
	if token == "" || chatID == "" {
		return nil, eris.New("telegram: token and chat_id are required")
	}
	c := &Client{
		token:   token,
		chatID:  chatID,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type sendPhotoRequest struct {
	ChatID    string `json:"chat_id"`
	Photo     string `json:"photo"`
	Caption   string `json:"caption"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Publish sends text, as a photo caption when imageRef is set and the text
// fits. A rejected photo falls back to a text message. Success means the
// Bot API acknowledged delivery.
func (c *Client) Publish(ctx context.Context, text string, imageRef *string) error {
	if imageRef != nil && *imageRef != "" && utf8.RuneCountInString(text) <= MaxCaptionRunes {
		err := c.call(ctx, "sendPhoto", sendPhotoRequest{
			ChatID: c.chatID, Photo: *imageRef, Caption: text, ParseMode: "HTML",
		})
		if err == nil || resilience.IsTransient(err) || ctx.Err() != nil {
			return err
		}
		zap.L().Warn("telegram: photo rejected, sending text only",
			zap.String("photo", *imageRef),
			zap.Error(err),
		)
	}
	return c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID: c.chatID, Text: text, ParseMode: "HTML",
	})
}

func (c *Client) call(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrapf(err, "telegram: marshal %s", method)
	}
	endpoint := c.baseURL + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return eris.Wrapf(err, "telegram: create %s request", method)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// The token is part of the URL; keep it out of the error.
		return resilience.NewTransientError(eris.Errorf("telegram: %s: request failed", method), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return eris.Wrapf(err, "telegram: read %s response", method)
	}
	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return eris.Wrapf(err, "telegram: %s: status %d: unreadable response", method, resp.StatusCode)
	}
	if out.OK {
		return nil
	}

	apiErr := eris.Errorf("telegram: %s: %d %s", method, out.ErrorCode, out.Description)
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		if out.Parameters.RetryAfter > 0 {
			zap.L().Warn("telegram: rate limited", zap.Int("retry_after_secs", out.Parameters.RetryAfter))
		}
		return resilience.NewTransientError(apiErr, resp.StatusCode)
	}
	return apiErr
}
