package sms

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"SafeCircle/pkg/logger"
	"SafeCircle/utils"
)

type MockCall struct {
	To   string
	Body string
}

// MockClient 只记录并打印日志，不真正发送
type MockClient struct {
	mu    sync.Mutex
	Calls []MockCall

	// FailNext 置为 true 时，下一次调用返回错误并自动复位
	FailNext bool
}

func NewMockClient() *MockClient {
	return &MockClient{Calls: make([]MockCall, 0)}
}

func (m *MockClient) Provider() string {
	return "mock"
}

func (m *MockClient) Send(ctx context.Context, to, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{To: to, Body: body})
	if m.FailNext {
		m.FailNext = false
		return "", errors.New("mock sms send failure")
	}

	logger.Named("sms.mock").Info("Mock SMS sent",
		zap.String("to", utils.MaskPhone(to)),
		zap.Int("length", len(body)),
	)
	return "mock-" + strconv.Itoa(len(m.Calls)), nil
}

func (m *MockClient) Sent() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.Calls))
	copy(out, m.Calls)
	return out
}
