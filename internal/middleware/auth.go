package middleware

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/jwt"

	"SafeCircle/internal/model"
	"SafeCircle/internal/repository"
	apperrors "SafeCircle/pkg/errors"
	"SafeCircle/pkg/response"
	"SafeCircle/pkg/token"
)

const (
	IdentityKey = token.IdentityKey
	userIDKey   = "user_id"
)

// UserResolver 按 public_id 查询用户
type UserResolver interface {
	GetByPublicID(ctx context.Context, publicID int64) (*model.User, error)
}

var (
	authMiddleware *jwt.HertzJWTMiddleware
	userResolver   UserResolver
)

func initAuthMiddleware(users UserResolver) error {
	sharedGenerator := token.GetGenerator()
	if sharedGenerator == nil {
		return fmt.Errorf("token generator not initialized, call token.Init() first")
	}
	if users == nil {
		return fmt.Errorf("user resolver is required")
	}
	userResolver = users

	mw, err := jwt.New(&jwt.HertzJWTMiddleware{
		Realm:       "SafeCircle API",
		Key:         sharedGenerator.Key,
		Timeout:     sharedGenerator.Timeout,
		IdentityKey: sharedGenerator.IdentityKey,
		TimeFunc:    sharedGenerator.TimeFunc,

		IdentityHandler: func(ctx context.Context, c *app.RequestContext) interface{} {
			claims := jwt.ExtractClaims(ctx, c)
			uid, ok := claims[IdentityKey].(string)
			if !ok {
				if uidFloat, ok := claims[IdentityKey].(float64); ok {
					uid = fmt.Sprintf("%.0f", uidFloat)
				} else {
					return nil
				}
			}
			return uid
		},

		Unauthorized: func(ctx context.Context, c *app.RequestContext, code int, message string) {
			response.Error(ctx, c, apperrors.Unauthorized)
		},

		TokenLookup:   "header: Authorization",
		TokenHeadName: "Bearer",
	})
	if err != nil {
		return fmt.Errorf("failed to build auth middleware: %w", err)
	}
	authMiddleware = mw
	return nil
}

// AuthMiddleware 校验 JWT 并把内部用户 ID 写入请求上下文
func AuthMiddleware() []app.HandlerFunc {
	if authMiddleware == nil {
		panic("AuthMiddleware not initialized, call Init() first")
	}
	return []app.HandlerFunc{authMiddleware.MiddlewareFunc(), resolveUser}
}

func resolveUser(ctx context.Context, c *app.RequestContext) {
	raw, exists := c.Get(IdentityKey)
	if !exists {
		c.Abort()
		response.Error(ctx, c, apperrors.Unauthorized)
		return
	}
	publicID, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		c.Abort()
		response.Error(ctx, c, apperrors.InvalidUserID)
		return
	}

	user, err := userResolver.GetByPublicID(ctx, publicID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && user.Status != model.UserStatusActive) {
		c.Abort()
		response.Error(ctx, c, apperrors.InvalidUserID)
		return
	}
	if err != nil {
		c.Abort()
		response.Error(ctx, c, err)
		return
	}

	c.Set(userIDKey, user.ID)
	c.Next(ctx)
}

// GetUserID 从请求上下文中获取内部用户 ID
func GetUserID(ctx context.Context, c *app.RequestContext) (int64, bool) {
	v, exists := c.Get(userIDKey)
	if !exists {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
