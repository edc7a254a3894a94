package sms

import (
	"context"

	"SafeCircle/pkg/twilio"
)

// TwilioClient 复用语音外呼的 Twilio 账号发送短信
type TwilioClient struct {
	client *twilio.Client
}

func NewTwilioClient(client *twilio.Client) *TwilioClient {
	return &TwilioClient{client: client}
}

func (c *TwilioClient) Provider() string {
	return "twilio"
}

func (c *TwilioClient) Send(ctx context.Context, to, body string) (string, error) {
	msg, err := c.client.SendSMS(ctx, to, body)
	if err != nil {
		return "", err
	}
	return msg.SID, nil
}
