package router

import (
	"github.com/cloudwego/hertz/pkg/app/server"

	"SafeCircle/internal/handler"
	"SafeCircle/internal/middleware"
)

func Register(h *server.Hertz) {
	h.Use(middleware.RecoverMiddleware())
	h.Use(middleware.CORSMiddleware())
	h.Use(middleware.MetricsMiddleware())

	h.GET("/healthz", handler.Healthz)

	v1 := h.Group("/v1")

	// Twilio 回调不带用户令牌，回调 token 本身有时效
	v1.POST("/voice/calls/:token", middleware.VoiceRateLimitMiddleware(), handler.VoiceCallback)

	authed := v1.Group("", middleware.AuthMiddleware()...)
	authed.Use(middleware.GeneralRateLimitMiddleware())

	checkIns := authed.Group("/check-ins")
	{
		checkIns.POST("", handler.RecordCheckIn)
		checkIns.GET("/today", handler.GetTodayCheckIn)
	}

	alerts := authed.Group("/alerts")
	{
		alerts.GET("", handler.ListAlerts)
		alerts.POST("/sos", middleware.SOSRateLimitMiddleware(), handler.TriggerSOS)
		alerts.POST("/:alert_id/ack", handler.AcknowledgeAlert)
		alerts.POST("/:alert_id/resolve", handler.ResolveAlert)
		alerts.POST("/:alert_id/cancel", handler.CancelAlert)
	}

	authed.POST("/devices", handler.RegisterDevice)
}
