package handler

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"

	"SafeCircle/internal/middleware"
	"SafeCircle/internal/model"
	"SafeCircle/internal/service"
	"SafeCircle/pkg/errors"
	"SafeCircle/pkg/response"
)

func alertIDParam(c *app.RequestContext) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("alert_id"), 10, 64)
	return id, err == nil && id > 0
}

// ListAlerts 告警历史
// GET /v1/alerts?role=checker|supporter&before_id=&limit=
func ListAlerts(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserID(ctx, c)
	if !ok {
		response.Error(ctx, c, errors.Unauthorized)
		return
	}

	var beforeID int64
	if v := c.Query("before_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			response.Error(ctx, c, errors.InvalidRequest)
			return
		}
		beforeID = n
	}
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			response.Error(ctx, c, errors.InvalidRequest)
			return
		}
		limit = n
	}

	views, err := service.Alert().History(ctx, userID, service.HistoryRole(c.Query("role")), beforeID, limit)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	meta := map[string]interface{}{"count": len(views)}
	if len(views) == limit {
		meta["next_before_id"] = views[len(views)-1].ID
	}
	response.SuccessWithMeta(ctx, c, views, meta)
}

// AcknowledgeAlert 支持者确认收到
// POST /v1/alerts/:alert_id/ack
func AcknowledgeAlert(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserID(ctx, c)
	if !ok {
		response.Error(ctx, c, errors.Unauthorized)
		return
	}
	alertID, ok := alertIDParam(c)
	if !ok {
		response.Error(ctx, c, errors.AlertNotFound)
		return
	}

	view, err := service.Alert().Acknowledge(ctx, userID, alertID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, view)
}

// ResolveAlert 支持者手动关闭
// POST /v1/alerts/:alert_id/resolve
func ResolveAlert(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserID(ctx, c)
	if !ok {
		response.Error(ctx, c, errors.Unauthorized)
		return
	}
	alertID, ok := alertIDParam(c)
	if !ok {
		response.Error(ctx, c, errors.AlertNotFound)
		return
	}

	var req model.ResolveAlertRequest
	if err := c.BindJSON(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	view, err := service.Alert().Resolve(ctx, userID, alertID, req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, view)
}

// CancelAlert 打卡人取消自己的告警
// POST /v1/alerts/:alert_id/cancel
func CancelAlert(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserID(ctx, c)
	if !ok {
		response.Error(ctx, c, errors.Unauthorized)
		return
	}
	alertID, ok := alertIDParam(c)
	if !ok {
		response.Error(ctx, c, errors.AlertNotFound)
		return
	}

	view, err := service.Alert().Cancel(ctx, userID, alertID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, view)
}

// TriggerSOS 打卡人手动求助
// POST /v1/alerts/sos
func TriggerSOS(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserID(ctx, c)
	if !ok {
		response.Error(ctx, c, errors.Unauthorized)
		return
	}

	view, err := service.Alert().TriggerSOS(ctx, userID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, view)
}
