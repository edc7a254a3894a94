// Package apns Apple Push Notification service HTTP/2 客户端
package apns

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
	"SafeCircle/pkg/logger"
)

const (
	ProductionURL  = "https://api.push.apple.com"
	DevelopmentURL = "https://api.sandbox.push.apple.com"
)

type Config struct {
	KeyID          string
	TeamID         string
	PrivateKeyPath string
	Topic          string
	Production     bool
	BaseURL        string
	Timeout        time.Duration
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		KeyID:          cfg.APNsKeyID,
		TeamID:         cfg.APNsTeamID,
		PrivateKeyPath: cfg.APNsPrivateKeyPath,
		Topic:          cfg.APNsTopic,
		Production:     cfg.APNsProduction,
	}
}

func (c Config) Configured() bool {
	return c.KeyID != "" && c.TeamID != "" && c.PrivateKeyPath != "" && c.Topic != ""
}

// Notification 推送内容，Data 合并进 payload 顶层
type Notification struct {
	Title    string
	Body     string
	Sound    string
	Priority int // 10 立即，5 省电
	Data     map[string]any
	// CollapseID 同一告警的多次推送在设备上折叠
	CollapseID string
}

// DeviceResult 单个设备的投递结果
type DeviceResult struct {
	DeviceToken  string
	APNsID       string
	StatusCode   int
	Reason       string
	Unregistered bool
}

func (r DeviceResult) OK() bool {
	return r.StatusCode == http.StatusOK
}

type Client struct {
	cfg        Config
	tokens     TokenProvider
	httpClient *http.Client
	logger     *zap.Logger
}

func New(cfg Config, tokens TokenProvider) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("apns: token provider required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("apns: topic required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DevelopmentURL
		if cfg.Production {
			cfg.BaseURL = ProductionURL
		}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		cfg:    cfg,
		tokens: tokens,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &http.Transport{ForceAttemptHTTP2: true, MaxIdleConnsPerHost: 8},
		},
		logger: logger.Named("apns"),
	}, nil
}

type aps struct {
	Alert struct {
		Title string `json:"title,omitempty"`
		Body  string `json:"body"`
	} `json:"alert"`
	Sound string `json:"sound,omitempty"`
}

func buildPayload(n Notification) ([]byte, error) {
	var a aps
	a.Alert.Title = n.Title
	a.Alert.Body = n.Body
	a.Sound = n.Sound

	payload := make(map[string]any, len(n.Data)+1)
	for k, v := range n.Data {
		payload[k] = v
	}
	payload["aps"] = a
	return json.Marshal(payload)
}

type errorBody struct {
	Reason string `json:"reason"`
}

// Push 向单个设备推送
// 返回 error 表示请求本身没有完成（网络、签名），APNs 拒绝时通过 DeviceResult 返回
func (c *Client) Push(ctx context.Context, deviceToken string, n Notification) (DeviceResult, error) {
	res := DeviceResult{DeviceToken: deviceToken}

	body, err := buildPayload(n)
	if err != nil {
		return res, fmt.Errorf("apns: failed to encode payload: %w", err)
	}
	auth, err := c.tokens.AuthHeader(ctx)
	if err != nil {
		return res, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/3/device/"+deviceToken, bytes.NewReader(body))
	if err != nil {
		return res, err
	}
	req.Header.Set("authorization", auth)
	req.Header.Set("apns-topic", c.cfg.Topic)
	req.Header.Set("apns-push-type", "alert")
	if n.Priority > 0 {
		req.Header.Set("apns-priority", fmt.Sprintf("%d", n.Priority))
	}
	if n.CollapseID != "" {
		req.Header.Set("apns-collapse-id", n.CollapseID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return res, fmt.Errorf("apns: request failed: %w", err)
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.APNsID = resp.Header.Get("apns-id")
	if resp.StatusCode == http.StatusOK {
		return res, nil
	}

	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil {
		res.Reason = eb.Reason
	}
	res.Unregistered = resp.StatusCode == http.StatusGone ||
		(resp.StatusCode == http.StatusBadRequest && (eb.Reason == "BadDeviceToken" || eb.Reason == "Unregistered"))

	c.logger.Warn("APNs rejected notification",
		zap.Int("status", resp.StatusCode),
		zap.String("reason", res.Reason),
		zap.String("apns_id", res.APNsID),
		zap.Bool("unregistered", res.Unregistered),
	)
	return res, nil
}
