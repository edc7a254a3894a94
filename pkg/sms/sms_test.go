package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SafeCircle/config"
	"SafeCircle/pkg/errors"
	"SafeCircle/pkg/twilio"
)

func TestParseSendResponse(t *testing.T) {
	ok, err := parseSendResponse(map[string]interface{}{
		"statusCode": 200,
		"body": map[string]interface{}{
			"BizId":     "900619746936498440^0",
			"Code":      "OK",
			"Message":   "OK",
			"RequestId": "F655A8D5-B967-440B-8683-DAD6FF8DE990",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "900619746936498440^0", ok.BizID)

	res, err := parseSendResponse(map[string]interface{}{
		"statusCode": int32(200),
		"body": map[string]interface{}{
			"Code":      "isv.BUSINESS_LIMIT_CONTROL",
			"Message":   "触发分钟级流控",
			"RequestId": "req-2",
		},
	})
	require.Error(t, err)
	assert.Equal(t, "req-2", res.RequestID)
	assert.Contains(t, err.Error(), "isv.BUSINESS_LIMIT_CONTROL")

	_, err = parseSendResponse(map[string]interface{}{"statusCode": float64(500), "body": map[string]interface{}{}})
	assert.Error(t, err)
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()

	id, err := m.Send(context.Background(), "+15555550100", "hello")
	require.NoError(t, err)
	assert.Equal(t, "mock-1", id)

	m.FailNext = true
	_, err = m.Send(context.Background(), "+15555550100", "again")
	assert.Error(t, err)

	_, err = m.Send(context.Background(), "+15555550101", "third")
	require.NoError(t, err)
	assert.Len(t, m.Sent(), 3)
}

func TestTwilioClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "+15555550100", r.PostForm.Get("To"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer srv.Close()

	tc, err := twilio.New(twilio.Config{AccountSID: "AC1", AuthToken: "t", FromNumber: "+15555550199", BaseURL: srv.URL})
	require.NoError(t, err)

	id, err := NewTwilioClient(tc).Send(context.Background(), "+15555550100", "body")
	require.NoError(t, err)
	assert.Equal(t, "SM123", id)
}

func TestNewClient_NotConfigured(t *testing.T) {
	_, err := newClient(&config.Config{SMSProvider: "twilio"})
	assert.ErrorIs(t, err, errors.ErrChannelNotConfigured)

	_, err = newClient(&config.Config{SMSProvider: "aliyun"})
	assert.ErrorIs(t, err, errors.ErrChannelNotConfigured)

	_, err = newClient(&config.Config{SMSProvider: "carrier-pigeon"})
	assert.Error(t, err)

	c, err := newClient(&config.Config{SMSProvider: "mock"})
	require.NoError(t, err)
	assert.Equal(t, "mock", c.Provider())
}
