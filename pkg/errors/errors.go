package errors

import stderrors "errors"

func (d Definition) Error() string {
	return d.Message
}

// Definition 表示业务错误码及默认信息。
type Definition struct {
	Code    string
	Message string
}

// 通用错误。
var (
	Unauthorized     = Definition{Code: "UNAUTHORIZED", Message: "Unauthorized"}
	InvalidUserID    = Definition{Code: "INVALID_USER_ID", Message: "Invalid user ID format"}
	InvalidRequest   = Definition{Code: "INVALID_REQUEST", Message: "Invalid request"}
	TooManyRequests  = Definition{Code: "TOO_MANY_REQUESTS", Message: "Too many requests"}
	InternalError    = Definition{Code: "INTERNAL_SERVER_ERROR", Message: "Internal server error"}
	ResourceNotFound = Definition{Code: "NOT_FOUND", Message: "Resource not found"}
)

// 平安打卡模块错误。
var (
	CheckInScoresInvalid = Definition{Code: "CHECK_IN_SCORES_INVALID", Message: "Scores must be between 1 and 5"}
	ScheduleNotFound     = Definition{Code: "SCHEDULE_NOT_FOUND", Message: "No active check-in schedule"}
)

// 告警模块错误。
var (
	AlertNotFound        = Definition{Code: "ALERT_NOT_FOUND", Message: "Alert not found"}
	AlertClosed          = Definition{Code: "ALERT_CLOSED", Message: "Alert already resolved or cancelled"}
	AlertNotOwned        = Definition{Code: "ALERT_NOT_OWNED", Message: "Only the checker can cancel this alert"}
	NotInCircle          = Definition{Code: "NOT_IN_CIRCLE", Message: "You are not an active supporter of this checker"}
	ResolutionInvalid    = Definition{Code: "RESOLUTION_INVALID", Message: "Resolution reason invalid"}
	ResolutionNotesLong  = Definition{Code: "RESOLUTION_NOTES_TOO_LONG", Message: "Resolution notes too long"}
	ManualAlertExhausted = Definition{Code: "MANUAL_ALERT_EXHAUSTED", Message: "An SOS alert was already raised today"}
	AlertDispatchBusy    = Definition{Code: "ALERT_DISPATCH_BUSY", Message: "Alert notifications are still going out, try again shortly"}
)

// 语音回调错误。
var (
	VoiceCallExpired = Definition{Code: "VOICE_CALL_EXPIRED", Message: "Voice call context expired"}
)

// 设备错误。
var (
	DeviceTokenInvalid = Definition{Code: "DEVICE_TOKEN_INVALID", Message: "Device token or platform invalid"}
)

// Lookup 提供错误码查询能力。
var Lookup = map[string]Definition{
	Unauthorized.Code:         Unauthorized,
	InvalidUserID.Code:        InvalidUserID,
	InvalidRequest.Code:       InvalidRequest,
	TooManyRequests.Code:      TooManyRequests,
	InternalError.Code:        InternalError,
	ResourceNotFound.Code:     ResourceNotFound,
	CheckInScoresInvalid.Code: CheckInScoresInvalid,
	ScheduleNotFound.Code:     ScheduleNotFound,
	AlertNotFound.Code:        AlertNotFound,
	AlertClosed.Code:          AlertClosed,
	AlertNotOwned.Code:        AlertNotOwned,
	NotInCircle.Code:          NotInCircle,
	ResolutionInvalid.Code:    ResolutionInvalid,
	ResolutionNotesLong.Code:  ResolutionNotesLong,
	ManualAlertExhausted.Code: ManualAlertExhausted,
	AlertDispatchBusy.Code:    AlertDispatchBusy,
	VoiceCallExpired.Code:     VoiceCallExpired,
	DeviceTokenInvalid.Code:   DeviceTokenInvalid,
}

// Get 根据错误码返回 Definition，若不存在则返回空 Definition。
func Get(code string) Definition {
	if def, ok := Lookup[code]; ok {
		return def
	}
	return Definition{Code: code, Message: "Unexpected error"}
}

// 内部哨兵错误，不直接返回给客户端。
var (
	// ErrChannelNotConfigured 渠道未配置凭证，视为主动跳过
	ErrChannelNotConfigured = stderrors.New("notification channel not configured")
	// ErrCircuitOpen 渠道熔断中
	ErrCircuitOpen = stderrors.New("circuit breaker is open")
	// ErrSkipMessage 消费者确认后丢弃该消息，不再重试
	ErrSkipMessage = stderrors.New("skip message")
	// ErrTokenGeneratorNotInitialized token 生成器未初始化
	ErrTokenGeneratorNotInitialized = stderrors.New("token generator not initialized")
)

// AsDefinition 从错误链中提取业务错误定义
func AsDefinition(err error) (Definition, bool) {
	var def Definition
	if stderrors.As(err, &def) {
		return def, true
	}
	var ptr *Definition
	if stderrors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	return Definition{}, false
}
