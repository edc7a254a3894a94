package notify

import (
	"context"

	"go.uber.org/zap"

	"SafeCircle/pkg/apns"
	"SafeCircle/pkg/email"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/twilio"
)

// PushMessage 推送内容
type PushMessage struct {
	Title      string
	Body       string
	Urgent     bool
	CollapseID string
	Data       map[string]any
}

// PushSender 按用户推送到其所有有效设备
// 单个设备失败体现在结果里，只有查询设备失败才返回 error
type PushSender interface {
	Send(ctx context.Context, userID int64, msg PushMessage) ([]apns.DeviceResult, error)
}

// SMSSender 短信
type SMSSender interface {
	Send(ctx context.Context, to, body string) (messageID string, err error)
}

// EmailParams 邮件内容，配置了动态模板时使用 TemplateData
type EmailParams struct {
	ToName       string
	Subject      string
	Text         string
	TemplateData map[string]any
}

// EmailSender 邮件
type EmailSender interface {
	Send(ctx context.Context, to string, p EmailParams) (messageID string, err error)
}

// VoiceCaller 语音外呼，未配置凭证时返回空 SID 和 nil
type VoiceCaller interface {
	InitiateCall(ctx context.Context, to, callbackURL string) (callSID string, err error)
}

// DeviceStore 设备令牌
type DeviceStore interface {
	ActiveTokens(ctx context.Context, userID int64) ([]string, error)
	Deactivate(ctx context.Context, tokens []string) error
}

// APNsPush 通过 APNs 推送，并停用被 APNs 判定为失效的令牌
type APNsPush struct {
	client  *apns.Client
	devices DeviceStore
	logger  *zap.Logger
}

func NewAPNsPush(client *apns.Client, devices DeviceStore) *APNsPush {
	return &APNsPush{client: client, devices: devices, logger: logger.Named("notify.push")}
}

func (p *APNsPush) Send(ctx context.Context, userID int64, msg PushMessage) ([]apns.DeviceResult, error) {
	tokens, err := p.devices.ActiveTokens(ctx, userID)
	if err != nil {
		return nil, err
	}

	n := apns.Notification{
		Title:      msg.Title,
		Body:       msg.Body,
		Sound:      "default",
		Priority:   5,
		Data:       msg.Data,
		CollapseID: msg.CollapseID,
	}
	if msg.Urgent {
		n.Priority = 10
	}

	results := make([]apns.DeviceResult, 0, len(tokens))
	var dead []string
	for _, token := range tokens {
		res, err := p.client.Push(ctx, token, n)
		if err != nil {
			res.Reason = err.Error()
		}
		if res.Unregistered {
			dead = append(dead, token)
		}
		results = append(results, res)
	}

	if len(dead) > 0 {
		if err := p.devices.Deactivate(ctx, dead); err != nil {
			p.logger.Warn("Failed to deactivate unregistered device tokens",
				zap.Int64("user_id", userID),
				zap.Int("count", len(dead)),
				zap.Error(err),
			)
		}
	}
	return results, nil
}

// SendGridEmail EmailSender 的 SendGrid 实现
type SendGridEmail struct {
	client *email.Client
}

func NewSendGridEmail(client *email.Client) *SendGridEmail {
	return &SendGridEmail{client: client}
}

func (s *SendGridEmail) Send(ctx context.Context, to string, p EmailParams) (string, error) {
	res, err := s.client.Send(ctx, email.Message{
		To:           email.Address{Email: to, Name: p.ToName},
		Subject:      p.Subject,
		Text:         p.Text,
		TemplateData: p.TemplateData,
		Categories:   []string{"alert"},
	})
	if err != nil {
		return "", err
	}
	return res.MessageID, nil
}

// TwilioVoice VoiceCaller 的 Twilio 实现，client 为空表示未配置
type TwilioVoice struct {
	client *twilio.Client
}

func NewTwilioVoice(client *twilio.Client) *TwilioVoice {
	return &TwilioVoice{client: client}
}

func (v *TwilioVoice) InitiateCall(ctx context.Context, to, callbackURL string) (string, error) {
	if v == nil || v.client == nil {
		return "", nil
	}
	call, err := v.client.CreateCall(ctx, to, callbackURL)
	if err != nil {
		return "", err
	}
	return call.SID, nil
}
