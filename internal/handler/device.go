package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"SafeCircle/internal/middleware"
	"SafeCircle/internal/model"
	"SafeCircle/internal/service"
	"SafeCircle/pkg/errors"
	"SafeCircle/pkg/response"
)

// RegisterDevice 注册推送设备
// POST /v1/devices
func RegisterDevice(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserID(ctx, c)
	if !ok {
		response.Error(ctx, c, errors.Unauthorized)
		return
	}

	var req model.RegisterDeviceRequest
	if err := c.BindJSON(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	if err := service.Device().Register(ctx, userID, req); err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, map[string]interface{}{"registered": true})
}
