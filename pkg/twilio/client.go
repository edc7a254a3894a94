// Package twilio Twilio REST 客户端，只覆盖短信发送和语音外呼
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"SafeCircle/config"
	"SafeCircle/pkg/httpx"
	"SafeCircle/pkg/logger"
)

const defaultBaseURL = "https://api.twilio.com/2010-04-01"

type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	// Backoff 首次重试前的等待，之后翻倍
	Backoff time.Duration
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FromNumber: cfg.TwilioFromNumber,
		BaseURL:    cfg.TwilioBaseURL,
		Timeout:    cfg.TwilioTimeout,
		MaxRetries: cfg.TwilioMaxRetries,
	}
}

// Configured 凭证和主叫号码齐全
func (c Config) Configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.FromNumber != ""
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func New(cfg Config) (*Client, error) {
	cfg.AccountSID = strings.TrimSpace(cfg.AccountSID)
	cfg.AuthToken = strings.TrimSpace(cfg.AuthToken)
	cfg.FromNumber = strings.TrimSpace(cfg.FromNumber)
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("twilio: account sid and auth token required")
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
		logger:     logger.Named("twilio"),
	}, nil
}

// Message Messages.json 响应中用到的字段
type Message struct {
	SID          string  `json:"sid"`
	Status       string  `json:"status"`
	To           string  `json:"to"`
	ErrorCode    *int    `json:"error_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// Call Calls.json 响应中用到的字段
type Call struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
}

// SendSMS 发送单条短信
func (c *Client) SendSMS(ctx context.Context, to, body string) (*Message, error) {
	to = strings.TrimSpace(to)
	body = strings.TrimSpace(body)
	if to == "" || body == "" {
		return nil, errors.New("twilio: to and body required")
	}
	if c.cfg.FromNumber == "" {
		return nil, errors.New("twilio: from number required")
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.cfg.FromNumber)
	form.Set("Body", body)

	return doForm[Message](ctx, c, c.endpoint("Messages.json"), form)
}

// CreateCall 发起外呼，接通后 Twilio 向 callbackURL 请求 TwiML
func (c *Client) CreateCall(ctx context.Context, to, callbackURL string) (*Call, error) {
	to = strings.TrimSpace(to)
	if to == "" || callbackURL == "" {
		return nil, errors.New("twilio: to and callback url required")
	}
	if c.cfg.FromNumber == "" {
		return nil, errors.New("twilio: from number required")
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.cfg.FromNumber)
	form.Set("Url", callbackURL)
	form.Set("Method", http.MethodPost)

	return doForm[Call](ctx, c, c.endpoint("Calls.json"), form)
}

func (c *Client) endpoint(resource string) string {
	return fmt.Sprintf("%s/Accounts/%s/%s", c.cfg.BaseURL, c.cfg.AccountSID, resource)
}

type apiError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

// HTTPError 非 2xx 响应
type HTTPError struct {
	StatusCode int
	Body       string
	APIError   *apiError
}

func (e *HTTPError) Error() string {
	if e.APIError != nil && e.APIError.Message != "" {
		if e.APIError.Code != 0 {
			return fmt.Sprintf("twilio http %d: %s (code=%d)", e.StatusCode, e.APIError.Message, e.APIError.Code)
		}
		return fmt.Sprintf("twilio http %d: %s", e.StatusCode, e.APIError.Message)
	}
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = "<empty body>"
	}
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	return fmt.Sprintf("twilio http %d: %s", e.StatusCode, msg)
}

func (e *HTTPError) HTTPStatusCode() int {
	return e.StatusCode
}

func doForm[T any](ctx context.Context, c *Client, urlStr string, form url.Values) (*T, error) {
	backoff := c.cfg.Backoff

	for attempt := 0; ; attempt++ {
		out, resp, err := doFormOnce[T](ctx, c, urlStr, form)
		if err == nil {
			return out, nil
		}
		if !httpx.IsRetryableError(err) || attempt >= c.cfg.MaxRetries {
			return nil, err
		}

		sleepFor := httpx.Jitter(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.logger.Warn("Twilio request retrying",
			zap.String("url", urlStr),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", c.cfg.MaxRetries),
			zap.Duration("sleep", sleepFor),
			zap.Error(err),
		)
		if err := httpx.Sleep(ctx, sleepFor); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

func doFormOnce[T any](ctx context.Context, c *Client, urlStr string, form url.Values) (*T, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		he := &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && ae.Message != "" {
			he.APIError = &ae
		}
		return nil, resp, he
	}

	var out T
	if len(raw) == 0 {
		return &out, resp, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp, fmt.Errorf("twilio decode error: %w", err)
	}
	return &out, resp, nil
}
