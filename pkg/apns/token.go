package apns

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// APNs 要求 provider token 在 20~60 分钟之间刷新
const (
	tokenRefreshAfter = 50 * time.Minute
)

// TokenProvider 提供 authorization 头，调用方不感知令牌有效期
type TokenProvider interface {
	AuthHeader(ctx context.Context) (string, error)
}

// JWTProvider ES256 provider token，缓存并提前刷新
type JWTProvider struct {
	keyID  string
	teamID string
	key    *ecdsa.PrivateKey

	mu       sync.Mutex
	token    string
	issuedAt time.Time

	now func() time.Time
}

func NewJWTProvider(keyID, teamID string, pemBytes []byte) (*JWTProvider, error) {
	if keyID == "" || teamID == "" {
		return nil, errors.New("apns: key id and team id required")
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("apns: failed to parse signing key: %w", err)
	}
	return &JWTProvider{keyID: keyID, teamID: teamID, key: key, now: time.Now}, nil
}

// NewJWTProviderFromFile 读取 .p8 私钥文件
func NewJWTProviderFromFile(keyID, teamID, path string) (*JWTProvider, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("apns: failed to read signing key: %w", err)
	}
	return NewJWTProvider(keyID, teamID, pemBytes)
}

func (p *JWTProvider) AuthHeader(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.token != "" && now.Sub(p.issuedAt) < tokenRefreshAfter {
		return "bearer " + p.token, nil
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": p.teamID,
		"iat": now.Unix(),
	})
	tok.Header["kid"] = p.keyID

	signed, err := tok.SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("apns: failed to sign provider token: %w", err)
	}
	p.token = signed
	p.issuedAt = now
	return "bearer " + signed, nil
}
