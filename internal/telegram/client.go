package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"topup-bot/internal/metrics"
)

const (
	defaultBaseURL     = "https://api.telegram.org"
	defaultSendTimeout = 5 * time.Second
	defaultPollWait    = 20 * time.Second
)

var (
	// ErrNotConfigured is returned when a bot token or chat id is missing.
	ErrNotConfigured = errors.New("telegram bot not configured")
	// ErrNotDelivered is returned when the API answered ok=false.
	ErrNotDelivered = errors.New("telegram message not delivered")
)

// Update is the subset of a Bot API update consumed by the router.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is the subset of a Bot API message consumed by the router.
type Message struct {
	MessageID int64    `json:"message_id"`
	Date      int64    `json:"date,omitempty"`
	Chat      *Chat    `json:"chat,omitempty"`
	Text      string   `json:"text,omitempty"`
	Caption   string   `json:"caption,omitempty"`
	ReplyTo   *Message `json:"reply_to_message,omitempty"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// Body returns the message text, falling back to a media caption.
func (m *Message) Body() string {
	if m == nil {
		return ""
	}
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// RepliedMessageID returns the id of the message this one replies to.
func (m *Message) RepliedMessageID() (int64, bool) {
	if m == nil || m.ReplyTo == nil || m.ReplyTo.MessageID == 0 {
		return 0, false
	}
	return m.ReplyTo.MessageID, true
}

// SendResult describes a delivered message.
type SendResult struct {
	MessageID int64
}

// Config holds Bot API client configuration.
type Config struct {
	BaseURL     string
	SendTimeout time.Duration
	PollWait    time.Duration
}

// Client talks to the Bot API on behalf of any number of bot tokens.
type Client struct {
	http        *http.Client
	baseURL     string
	sendTimeout time.Duration
	pollWait    time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New creates a new Bot API client.
func New(cfg Config, httpClient *http.Client, logger *slog.Logger, metricRegistry *metrics.Metrics) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	pollWait := cfg.PollWait
	if pollWait <= 0 {
		pollWait = defaultPollWait
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		http:        httpClient,
		baseURL:     base,
		sendTimeout: sendTimeout,
		pollWait:    pollWait,
		logger:      logger.With("component", "telegram"),
		metrics:     metricRegistry,
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
	Result      *struct {
		MessageID int64 `json:"message_id"`
	} `json:"result,omitempty"`
}

type getUpdatesResponse struct {
	OK          bool     `json:"ok"`
	Description string   `json:"description,omitempty"`
	Result      []Update `json:"result"`
}

// SendMessage posts text to chatID as the bot identified by token. The call
// is abandoned after timeout (client default when zero) and is never retried.
func (c *Client) SendMessage(ctx context.Context, token, chatID, text string, timeout time.Duration) (SendResult, error) {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(chatID) == "" {
		return SendResult{}, ErrNotConfigured
	}
	if timeout <= 0 {
		timeout = c.sendTimeout
	}

	payload, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return SendResult{}, fmt.Errorf("encode sendMessage: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out sendMessageResponse
	if err := c.do(reqCtx, "sendMessage", http.MethodPost, c.methodURL(token, "sendMessage", nil), bytes.NewReader(payload), &out); err != nil {
		return SendResult{}, err
	}
	if !out.OK || out.Result == nil {
		return SendResult{}, fmt.Errorf("%w: %d %s", ErrNotDelivered, out.ErrorCode, out.Description)
	}
	return SendResult{MessageID: out.Result.MessageID}, nil
}

// GetUpdates long-polls for updates newer than after. The server holds the
// request for up to wait (client default when zero) when nothing is pending.
func (c *Client) GetUpdates(ctx context.Context, token string, after int64, wait time.Duration) ([]Update, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNotConfigured
	}
	if wait <= 0 {
		wait = c.pollWait
	}
	secs := int(wait.Seconds())
	if secs < 1 {
		secs = 1
	}
	query := url.Values{}
	query.Set("timeout", strconv.Itoa(secs))
	query.Set("offset", strconv.FormatInt(after+1, 10))

	reqCtx, cancel := context.WithTimeout(ctx, wait+5*time.Second)
	defer cancel()

	var out getUpdatesResponse
	if err := c.do(reqCtx, "getUpdates", http.MethodGet, c.methodURL(token, "getUpdates", query), nil, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, fmt.Errorf("telegram getUpdates: ok=false %s", out.Description)
	}
	return out.Result, nil
}

func (c *Client) methodURL(token, method string, query url.Values) string {
	u := fmt.Sprintf("%s/bot%s/%s", c.baseURL, token, method)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, httpMethod, endpoint string, body io.Reader, dest any) error {
	req, err := http.NewRequestWithContext(ctx, httpMethod, endpoint, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if c.metrics != nil {
		c.metrics.ChatLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.observe(method, "error")
		// The token is part of the URL; strip it from transport errors.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if err := json.Unmarshal(raw, dest); err != nil {
		c.observe(method, "invalid_response")
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("telegram %s http %d: %s", method, resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	c.observe(method, strconv.Itoa(resp.StatusCode))
	return nil
}

func (c *Client) observe(method, status string) {
	if c.metrics == nil {
		return
	}
	c.metrics.ChatRequests.WithLabelValues(method, status).Inc()
}
