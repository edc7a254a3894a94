package response

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"

	"SafeCircle/pkg/errors"
)

// ErrorResponse 统一的错误响应格式
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Details map[string]interface{} `json:"details,omitempty"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
}

// SuccessResponse 统一的成功响应格式
type SuccessResponse struct {
	Data interface{}            `json:"data"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

func errorToHTTPStatus(def errors.Definition) int {
	switch def.Code {
	case errors.TooManyRequests.Code:
		return http.StatusTooManyRequests
	case errors.Unauthorized.Code, errors.InvalidUserID.Code:
		return http.StatusUnauthorized
	case errors.NotInCircle.Code, errors.AlertNotOwned.Code:
		return http.StatusForbidden
	case errors.AlertNotFound.Code, errors.ScheduleNotFound.Code,
		errors.ResourceNotFound.Code, errors.VoiceCallExpired.Code:
		return http.StatusNotFound
	case errors.AlertClosed.Code, errors.ManualAlertExhausted.Code, errors.AlertDispatchBusy.Code:
		return http.StatusConflict
	case errors.InvalidRequest.Code, errors.CheckInScoresInvalid.Code,
		errors.ResolutionInvalid.Code, errors.ResolutionNotesLong.Code,
		errors.DeviceTokenInvalid.Code:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error 返回错误响应，非业务错误统一按内部错误处理，不暴露细节
func Error(ctx context.Context, c *app.RequestContext, err error) {
	ErrorWithDetails(ctx, c, err, nil)
}

func ErrorWithDetails(ctx context.Context, c *app.RequestContext, err error, details map[string]interface{}) {
	def, ok := errors.AsDefinition(err)
	if !ok {
		def = errors.InternalError
	}

	c.JSON(errorToHTTPStatus(def), ErrorResponse{
		Error: ErrorDetail{
			Code:    def.Code,
			Message: def.Message,
			Details: details,
		},
	})
}

func Success(ctx context.Context, c *app.RequestContext, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: data,
	})
}

func SuccessWithMeta(ctx context.Context, c *app.RequestContext, data interface{}, meta map[string]interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: data,
		Meta: meta,
	})
}

func BindError(ctx context.Context, c *app.RequestContext, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    errors.InvalidRequest.Code,
			Message: err.Error(),
		},
	})
}
