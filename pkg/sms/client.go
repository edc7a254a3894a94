// Package sms 短信发送，支持阿里云、Twilio 和仅打日志的 mock
package sms

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"SafeCircle/config"
	"SafeCircle/pkg/errors"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/twilio"
)

// Client 短信客户端接口，返回服务商的消息 ID
type Client interface {
	Send(ctx context.Context, to, body string) (messageID string, err error)
	Provider() string
}

var (
	smsClient Client
	smsOnce   sync.Once
	smsErr    error
)

// Init 按 SMS_PROVIDER 初始化短信客户端
// 凭证缺失时返回 errors.ErrChannelNotConfigured，调用方据此跳过短信渠道
func Init() error {
	smsOnce.Do(func() {
		smsClient, smsErr = newClient(&config.Cfg)
		if smsErr != nil {
			logger.L().Warn("SMS client not available",
				zap.String("provider", config.Cfg.SMSProvider),
				zap.Error(smsErr),
			)
			return
		}

		logger.L().Info("SMS client initialized successfully",
			zap.String("provider", smsClient.Provider()),
		)
	})

	return smsErr
}

func newClient(cfg *config.Config) (Client, error) {
	switch cfg.SMSProvider {
	case "aliyun":
		if cfg.SMSSignName == "" || cfg.SMSTemplateCode == "" {
			return nil, errors.ErrChannelNotConfigured
		}
		return NewAliyunClient(cfg.SMSSignName, cfg.SMSTemplateCode)
	case "twilio":
		tcfg := twilio.ConfigFrom(cfg)
		if !tcfg.Configured() {
			return nil, errors.ErrChannelNotConfigured
		}
		tc, err := twilio.New(tcfg)
		if err != nil {
			return nil, err
		}
		return NewTwilioClient(tc), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported SMS provider: %s", cfg.SMSProvider)
	}
}

// GetClient 未初始化或未配置时返回 nil
func GetClient() Client {
	return smsClient
}
