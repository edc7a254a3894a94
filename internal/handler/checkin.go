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

// RecordCheckIn 打卡，同时关闭该打卡人所有未关闭的告警
// POST /v1/check-ins
func RecordCheckIn(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserID(ctx, c)
	if !ok {
		response.Error(ctx, c, errors.Unauthorized)
		return
	}

	var req model.RecordCheckInRequest
	if err := c.BindJSON(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	result, err := service.CheckIn().Record(ctx, userID, req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, result)
}

// GetTodayCheckIn 查询当天打卡状态
// GET /v1/check-ins/today
func GetTodayCheckIn(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserID(ctx, c)
	if !ok {
		response.Error(ctx, c, errors.Unauthorized)
		return
	}

	result, err := service.CheckIn().Today(ctx, userID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, result)
}
