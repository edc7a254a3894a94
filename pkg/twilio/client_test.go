package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, srv *httptest.Server, retries int) *Client {
	t.Helper()
	c, err := New(Config{
		AccountSID: "AC123",
		AuthToken:  "secret",
		FromNumber: "+15550001111",
		BaseURL:    srv.URL,
		MaxRetries: retries,
		Backoff:    time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestSendSMS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "+15551234567", r.PostForm.Get("To"))
		assert.Equal(t, "+15550001111", r.PostForm.Get("From"))
		assert.Equal(t, "hello", r.PostForm.Get("Body"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued","to":"+15551234567"}`))
	}))
	defer srv.Close()

	msg, err := newTestClient(t, srv, 0).SendSMS(context.Background(), "+15551234567", "hello")
	require.NoError(t, err)
	assert.Equal(t, "SM1", msg.SID)
}

func TestCreateCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Accounts/AC123/Calls.json", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "https://sc.example/v1/voice/calls/tok", r.PostForm.Get("Url"))
		_, _ = w.Write([]byte(`{"sid":"CA9","status":"queued"}`))
	}))
	defer srv.Close()

	call, err := newTestClient(t, srv, 0).CreateCall(context.Background(), "+15551234567", "https://sc.example/v1/voice/calls/tok")
	require.NoError(t, err)
	assert.Equal(t, "CA9", call.SID)
}

func TestRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"sid":"SM2"}`))
	}))
	defer srv.Close()

	msg, err := newTestClient(t, srv, 2).SendSMS(context.Background(), "+15551234567", "hi")
	require.NoError(t, err)
	assert.Equal(t, "SM2", msg.SID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number","status":400}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, 3).SendSMS(context.Background(), "+1", "hi")
	require.Error(t, err)
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, 400, he.HTTPStatusCode())
	assert.Contains(t, err.Error(), "code=21211")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{AccountSID: "AC123"})
	assert.Error(t, err)
	assert.False(t, Config{AccountSID: "AC1", AuthToken: "x"}.Configured())
}

func TestTwiML(t *testing.T) {
	r := &Response{}
	r.Gather(Gather{
		Input:     "dtmf",
		NumDigits: 1,
		Action:    "https://sc.example/v1/voice/calls/tok",
		Method:    "POST",
		Says:      []Say{NewSay("Press 1 & confirm.")},
	}).Hangup()

	out, err := r.Marshal()
	require.NoError(t, err)
	s := string(out)
	assert.True(t, strings.HasPrefix(s, "<?xml"))
	assert.Contains(t, s, `<Gather input="dtmf" numDigits="1" action="https://sc.example/v1/voice/calls/tok" method="POST">`)
	assert.Contains(t, s, "Press 1 &amp; confirm.")
	assert.Contains(t, s, "<Hangup></Hangup>")
}
