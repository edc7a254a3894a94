// Package email SendGrid v3 mail send 客户端
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"SafeCircle/config"
	"SafeCircle/pkg/httpx"
	"SafeCircle/pkg/logger"
)

const defaultBaseURL = "https://api.sendgrid.com"

type Config struct {
	APIKey     string
	BaseURL    string
	FromEmail  string
	FromName   string
	TemplateID string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		APIKey:     cfg.SendGridAPIKey,
		BaseURL:    cfg.SendGridBaseURL,
		FromEmail:  cfg.SendGridFromEmail,
		FromName:   cfg.SendGridFromName,
		TemplateID: cfg.SendGridTemplateID,
		MaxRetries: 2,
	}
}

func (c Config) Configured() bool {
	return c.APIKey != "" && c.FromEmail != ""
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func New(cfg Config) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, errors.New("sendgrid: api key required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("sendgrid"),
	}, nil
}

type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Message 模板 ID 为空时使用 Subject + Text/HTML
type Message struct {
	To           Address
	Subject      string
	Text         string
	HTML         string
	TemplateData map[string]any
	Categories   []string
}

type SendResult struct {
	StatusCode int
	MessageID  string
}

type mailSendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             Address           `json:"from"`
	Subject          string            `json:"subject,omitempty"`
	Content          []mailContent     `json:"content,omitempty"`
	TemplateID       string            `json:"template_id,omitempty"`
	Categories       []string          `json:"categories,omitempty"`
}

type personalization struct {
	To                  []Address      `json:"to"`
	DynamicTemplateData map[string]any `json:"dynamic_template_data,omitempty"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (c *Client) Send(ctx context.Context, msg Message) (*SendResult, error) {
	if strings.TrimSpace(msg.To.Email) == "" {
		return nil, errors.New("sendgrid: recipient required")
	}
	if c.cfg.FromEmail == "" {
		return nil, errors.New("sendgrid: from email required")
	}

	wire := mailSendRequest{
		Personalizations: []personalization{{To: []Address{msg.To}}},
		From:             Address{Email: c.cfg.FromEmail, Name: c.cfg.FromName},
		Categories:       msg.Categories,
	}

	if c.cfg.TemplateID != "" && len(msg.TemplateData) > 0 {
		wire.TemplateID = c.cfg.TemplateID
		wire.Personalizations[0].DynamicTemplateData = msg.TemplateData
	} else {
		if strings.TrimSpace(msg.Subject) == "" {
			return nil, errors.New("sendgrid: subject required")
		}
		wire.Subject = msg.Subject
		if t := strings.TrimSpace(msg.Text); t != "" {
			wire.Content = append(wire.Content, mailContent{Type: "text/plain", Value: t})
		}
		if h := strings.TrimSpace(msg.HTML); h != "" {
			wire.Content = append(wire.Content, mailContent{Type: "text/html", Value: h})
		}
		if len(wire.Content) == 0 {
			return nil, errors.New("sendgrid: content required")
		}
	}

	resp, err := c.do(ctx, "/v3/mail/send", wire)
	if err != nil {
		return nil, err
	}
	return &SendResult{
		StatusCode: resp.StatusCode,
		MessageID:  strings.TrimSpace(resp.Header.Get("X-Message-Id")),
	}, nil
}

type errorItem struct {
	Message string `json:"message"`
	Field   any    `json:"field,omitempty"`
}

type errorResponse struct {
	Errors []errorItem `json:"errors"`
}

// HTTPError 非 2xx 响应
type HTTPError struct {
	StatusCode int
	Body       string
	Errors     []errorItem
}

func (e *HTTPError) Error() string {
	if len(e.Errors) > 0 && e.Errors[0].Message != "" {
		return fmt.Sprintf("sendgrid http %d: %s", e.StatusCode, e.Errors[0].Message)
	}
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = "<empty body>"
	}
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	return fmt.Sprintf("sendgrid http %d: %s", e.StatusCode, msg)
}

func (e *HTTPError) HTTPStatusCode() int {
	return e.StatusCode
}

func (c *Client) do(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	backoff := c.cfg.Backoff
	for attempt := 0; ; attempt++ {
		resp, err := c.doOnce(ctx, path, payload)
		if err == nil {
			return resp, nil
		}
		if !httpx.IsRetryableError(err) || attempt >= c.cfg.MaxRetries {
			return nil, err
		}

		sleepFor := httpx.Jitter(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.logger.Warn("SendGrid request retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Duration("sleep", sleepFor),
			zap.Error(err),
		)
		if err := httpx.Sleep(ctx, sleepFor); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

func (c *Client) doOnce(ctx context.Context, path string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		he := &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil && len(er.Errors) > 0 {
			he.Errors = er.Errors
		}
		return resp, he
	}
	return resp, nil
}
