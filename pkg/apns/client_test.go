package apns

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPEM(t *testing.T) ([]byte, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), key
}

type staticTokens string

func (s staticTokens) AuthHeader(context.Context) (string, error) {
	return "bearer " + string(s), nil
}

func TestJWTProvider_SignsAndCaches(t *testing.T) {
	pemBytes, key := testKeyPEM(t)
	p, err := NewJWTProvider("KEY123", "TEAM456", pemBytes)
	require.NoError(t, err)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	first, err := p.AuthHeader(context.Background())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(first, "bearer "))

	parsed, err := jwt.Parse(strings.TrimPrefix(first, "bearer "), func(tok *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}), jwt.WithoutClaimsValidation())
	require.NoError(t, err)
	assert.Equal(t, "KEY123", parsed.Header["kid"])
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "TEAM456", claims["iss"])

	now = now.Add(49 * time.Minute)
	cached, err := p.AuthHeader(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, cached)

	now = now.Add(2 * time.Minute)
	refreshed, err := p.AuthHeader(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, refreshed)
}

func TestJWTProvider_RejectsBadKey(t *testing.T) {
	_, err := NewJWTProvider("k", "t", []byte("not a key"))
	assert.Error(t, err)

	_, err = NewJWTProvider("", "t", nil)
	assert.Error(t, err)
}

func TestPush_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3/device/abc123", r.URL.Path)
		assert.Equal(t, "bearer tok", r.Header.Get("authorization"))
		assert.Equal(t, "app.safecircle", r.Header.Get("apns-topic"))
		assert.Equal(t, "10", r.Header.Get("apns-priority"))
		assert.Equal(t, "alert-7", r.Header.Get("apns-collapse-id"))

		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, float64(7), payload["alert_id"])
		apsBody := payload["aps"].(map[string]any)
		alert := apsBody["alert"].(map[string]any)
		assert.Equal(t, "Time to check in", alert["body"])

		w.Header().Set("apns-id", "uuid-1")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(Config{Topic: "app.safecircle", BaseURL: srv.URL}, staticTokens("tok"))
	require.NoError(t, err)

	res, err := c.Push(context.Background(), "abc123", Notification{
		Body:       "Time to check in",
		Priority:   10,
		CollapseID: "alert-7",
		Data:       map[string]any{"alert_id": 7},
	})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "uuid-1", res.APNsID)
	assert.False(t, res.Unregistered)
}

func TestPush_Unregistered(t *testing.T) {
	cases := []struct {
		name   string
		status int
		reason string
		unreg  bool
	}{
		{"gone", http.StatusGone, "Unregistered", true},
		{"bad device token", http.StatusBadRequest, "BadDeviceToken", true},
		{"payload too large", http.StatusRequestEntityTooLarge, "PayloadTooLarge", false},
		{"bad topic", http.StatusBadRequest, "BadTopic", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"reason":"` + tc.reason + `"}`))
			}))
			defer srv.Close()

			c, err := New(Config{Topic: "app.safecircle", BaseURL: srv.URL}, staticTokens("tok"))
			require.NoError(t, err)

			res, err := c.Push(context.Background(), "dead", Notification{Body: "x"})
			require.NoError(t, err)
			assert.False(t, res.OK())
			assert.Equal(t, tc.reason, res.Reason)
			assert.Equal(t, tc.unreg, res.Unregistered)
		})
	}
}
