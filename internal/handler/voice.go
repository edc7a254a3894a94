package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"go.uber.org/zap"

	"SafeCircle/internal/service"
	"SafeCircle/pkg/logger"
)

// VoiceCallback Twilio 外呼回调，表单字段 Digits
// POST /v1/voice/calls/:token
func VoiceCallback(ctx context.Context, c *app.RequestContext) {
	callToken := c.Param("token")
	digits := string(c.FormValue("Digits"))

	body, err := service.Voice().Handle(ctx, callToken, digits)
	if err != nil {
		logger.Ctx(ctx).Error("Failed to handle voice callback",
			zap.String("call_sid", string(c.FormValue("CallSid"))),
			zap.Error(err),
		)
		c.Data(consts.StatusInternalServerError, "text/plain; charset=utf-8", []byte("error"))
		return
	}
	c.Data(consts.StatusOK, "application/xml; charset=utf-8", body)
}
