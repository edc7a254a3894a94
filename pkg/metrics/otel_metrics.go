package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics OpenTelemetry 指标集合
// 未初始化时 GetMetrics 返回 nil，所有 Record 方法对 nil 接收者是空操作
type OTelMetrics struct {
	// 告警引擎
	AlertsCreatedTotal     metric.Int64Counter
	EscalationsTotal       metric.Int64Counter
	CASConflictsTotal      metric.Int64Counter
	DispatchRecoveredTotal metric.Int64Counter
	TickDuration           metric.Float64Histogram
	TicksTotal             metric.Int64Counter

	// 通知扇出
	NotificationsTotal   metric.Int64Counter
	NotificationDuration metric.Float64Histogram
	BreakerOpenTotal     metric.Int64Counter
}

var (
	// 全局指标实例
	metrics *OTelMetrics
	// meter 用于创建指标
	meter = otel.Meter("safecircle")
)

// InitMetrics 初始化 OpenTelemetry 指标
func InitMetrics() error {
	var err error
	m := &OTelMetrics{}

	m.AlertsCreatedTotal, err = meter.Int64Counter(
		"alerts_created_total",
		metric.WithDescription("Total number of alerts created"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return err
	}

	m.EscalationsTotal, err = meter.Int64Counter(
		"alert_escalations_total",
		metric.WithDescription("Total number of alert level transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return err
	}

	m.CASConflictsTotal, err = meter.Int64Counter(
		"alert_cas_conflicts_total",
		metric.WithDescription("Conditional updates that lost a race"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		return err
	}

	m.DispatchRecoveredTotal, err = meter.Int64Counter(
		"alert_dispatch_recovered_total",
		metric.WithDescription("Interrupted fan-outs re-claimed after lease expiry"),
		metric.WithUnit("{dispatch}"),
	)
	if err != nil {
		return err
	}

	m.TickDuration, err = meter.Float64Histogram(
		"escalation_tick_duration_seconds",
		metric.WithDescription("Time spent in one escalation tick"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	m.TicksTotal, err = meter.Int64Counter(
		"escalation_ticks_total",
		metric.WithDescription("Total number of escalation ticks"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return err
	}

	m.NotificationsTotal, err = meter.Int64Counter(
		"notifications_total",
		metric.WithDescription("Notification sends by channel and status"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return err
	}

	m.NotificationDuration, err = meter.Float64Histogram(
		"notification_send_duration_seconds",
		metric.WithDescription("Time spent in a single provider send"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	m.BreakerOpenTotal, err = meter.Int64Counter(
		"notification_breaker_open_total",
		metric.WithDescription("Times a provider circuit breaker opened"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	metrics = m
	return nil
}

// GetMetrics 获取全局指标实例
func GetMetrics() *OTelMetrics {
	return metrics
}

// RecordAlertCreated 记录新建告警
func (m *OTelMetrics) RecordAlertCreated(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.AlertsCreatedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordEscalation 记录档位变化
func (m *OTelMetrics) RecordEscalation(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.EscalationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordCASConflict op: create, advance, claim
func (m *OTelMetrics) RecordCASConflict(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.CASConflictsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *OTelMetrics) RecordDispatchRecovered(ctx context.Context, level string) {
	if m == nil {
		return
	}
	m.DispatchRecoveredTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("level", level)))
}

// RecordTick 记录一次 tick，result: ok, error, skipped
func (m *OTelMetrics) RecordTick(ctx context.Context, result string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.TicksTotal.Add(ctx, 1, attrs)
	m.TickDuration.Record(ctx, seconds, attrs)
}

// RecordNotification 记录单次渠道发送
func (m *OTelMetrics) RecordNotification(ctx context.Context, channel, level, status string, seconds float64) {
	if m == nil {
		return
	}
	m.NotificationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("level", level),
		attribute.String("status", status),
	))
	if status != "skipped" {
		m.NotificationDuration.Record(ctx, seconds, metric.WithAttributes(
			attribute.String("channel", channel),
		))
	}
}

func (m *OTelMetrics) RecordBreakerOpen(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.BreakerOpenTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}
