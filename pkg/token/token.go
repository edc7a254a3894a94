package token

import (
	"fmt"
	"strconv"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/hertz-contrib/jwt"

	"SafeCircle/config"
	"SafeCircle/pkg/errors"
)

const (
	// IdentityKey claims 中存放用户 public_id 的字段
	IdentityKey = "uid"
)

var (
	// middleware 与签发共用同一份密钥和过期配置
	sharedGenerator *jwt.HertzJWTMiddleware
)

func Init() error {
	if config.Cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	var err error
	sharedGenerator, err = jwt.New(&jwt.HertzJWTMiddleware{
		Key:         []byte(config.Cfg.JWTSecret),
		Timeout:     time.Duration(config.Cfg.JWTExpireMinutes) * time.Minute,
		IdentityKey: IdentityKey,
		TimeFunc:    time.Now,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token generator: %w", err)
	}
	return nil
}

// GetGenerator 获取共享的 token 生成器（供 middleware 使用）
func GetGenerator() *jwt.HertzJWTMiddleware {
	return sharedGenerator
}

// GenerateAccessToken 为 public_id 签发 access token
// 正式令牌由认证服务签发，这里用于运维工具和集成测试
func GenerateAccessToken(publicID int64) (string, int, error) {
	if sharedGenerator == nil {
		return "", 0, errors.ErrTokenGeneratorNotInitialized
	}

	now := sharedGenerator.TimeFunc()
	expiresAt := now.Add(sharedGenerator.Timeout)

	claims := jwtv5.MapClaims{
		IdentityKey: strconv.FormatInt(publicID, 10),
		"iat":       now.Unix(),
		"exp":       expiresAt.Unix(),
		"orig_iat":  now.Unix(),
	}
	signed, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(sharedGenerator.Key)
	if err != nil {
		return "", 0, fmt.Errorf("failed to generate access token: %w", err)
	}
	return signed, int(sharedGenerator.Timeout.Seconds()), nil
}
