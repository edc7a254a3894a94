package sms

import (
	"context"
	"encoding/json"
	"fmt"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	openapiutil "github.com/alibabacloud-go/openapi-util/service"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	credential "github.com/aliyun/credentials-go/credentials"
	"go.uber.org/zap"

	"SafeCircle/pkg/logger"
)

// AliyunClient 阿里云短信，告警正文通过模板变量 content 下发
type AliyunClient struct {
	client       *openapi.Client
	signName     string
	templateCode string
	logger       *zap.Logger
}

// NewAliyunClient 凭证从 ALIBABA_CLOUD_ACCESS_KEY_ID / ALIBABA_CLOUD_ACCESS_KEY_SECRET 读取
func NewAliyunClient(signName, templateCode string) (*AliyunClient, error) {
	cred, err := credential.NewCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create aliyun credential: %w", err)
	}

	client, err := openapi.NewClient(&openapi.Config{
		Credential: cred,
		Endpoint:   tea.String("dysmsapi.aliyuncs.com"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create aliyun client: %w", err)
	}

	return &AliyunClient{
		client:       client,
		signName:     signName,
		templateCode: templateCode,
		logger:       logger.Named("sms.aliyun"),
	}, nil
}

func (c *AliyunClient) Provider() string {
	return "aliyun"
}

func apiInfo(action string) *openapi.Params {
	return &openapi.Params{
		Action:      tea.String(action),
		Version:     tea.String("2017-05-25"),
		Protocol:    tea.String("HTTPS"),
		Method:      tea.String("POST"),
		AuthType:    tea.String("AK"),
		Style:       tea.String("RPC"),
		Pathname:    tea.String("/"),
		ReqBodyType: tea.String("json"),
		BodyType:    tea.String("json"),
	}
}

func (c *AliyunClient) Send(ctx context.Context, to, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	param, err := json.Marshal(map[string]string{"content": body})
	if err != nil {
		return "", fmt.Errorf("failed to marshal template param: %w", err)
	}

	queries := map[string]interface{}{
		"PhoneNumbers":  tea.String(to),
		"SignName":      tea.String(c.signName),
		"TemplateCode":  tea.String(c.templateCode),
		"TemplateParam": tea.String(string(param)),
	}

	resp, err := c.client.CallApi(apiInfo("SendSms"), &openapi.OpenApiRequest{
		Query: openapiutil.Query(queries),
	}, &util.RuntimeOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to send SMS: %w", err)
	}

	result, err := parseSendResponse(resp)
	if err != nil {
		c.logger.Warn("Aliyun SMS rejected",
			zap.String("template", c.templateCode),
			zap.String("request_id", result.RequestID),
			zap.Error(err),
		)
		return "", err
	}
	return result.BizID, nil
}

type sendResult struct {
	BizID     string
	Code      string
	Message   string
	RequestID string
}

// parseSendResponse 解析 CallApi 返回的 map
func parseSendResponse(resp map[string]interface{}) (sendResult, error) {
	var out sendResult

	if raw, ok := resp["statusCode"]; ok && raw != nil {
		code, err := parseStatusCode(raw)
		if err != nil {
			return out, err
		}
		if code != 200 {
			return out, fmt.Errorf("SMS API error: statusCode=%d", code)
		}
	}

	if resp["body"] == nil {
		return out, fmt.Errorf("SMS API returned empty body")
	}
	bodyBytes, err := json.Marshal(resp["body"])
	if err != nil {
		return out, fmt.Errorf("failed to marshal response body: %w", err)
	}
	var body struct {
		BizID     string `json:"BizId"`
		Code      string `json:"Code"`
		Message   string `json:"Message"`
		RequestID string `json:"RequestId"`
	}
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		return out, fmt.Errorf("failed to decode response body: %w", err)
	}

	out = sendResult{BizID: body.BizID, Code: body.Code, Message: body.Message, RequestID: body.RequestID}
	if body.Code != "OK" {
		return out, fmt.Errorf("SMS send failed: %s - %s", body.Code, body.Message)
	}
	return out, nil
}

func parseStatusCode(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case *int:
		if n != nil {
			return *n, nil
		}
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	}
	return 0, fmt.Errorf("unexpected statusCode type %T", v)
}
