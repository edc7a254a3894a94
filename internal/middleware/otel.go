package middleware

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/config"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const meterName = "safecircle.http"

type httpInstruments struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	active   metric.Int64UpDownCounter
}

var (
	instruments     httpInstruments
	instrumentsOnce sync.Once
)

// 全局 MeterProvider 未设置时 otel 返回 no-op 实现
func loadInstruments() httpInstruments {
	instrumentsOnce.Do(func() {
		meter := otel.Meter(meterName)
		instruments.requests, _ = meter.Int64Counter("http.server.requests.total",
			metric.WithDescription("Total number of HTTP requests"),
			metric.WithUnit("{request}"),
		)
		instruments.duration, _ = meter.Float64Histogram("http.server.duration",
			metric.WithDescription("HTTP request duration"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
		)
		instruments.active, _ = meter.Int64UpDownCounter("http.server.active_requests",
			metric.WithDescription("Number of active HTTP requests"),
			metric.WithUnit("{request}"),
		)
	})
	return instruments
}

// toValidUTF8 清洗用户可控字符串，非法 UTF-8 会导致指标序列化失败
func toValidUTF8(val string) string {
	return strings.ToValidUTF8(val, "")
}

// MetricsMiddleware 请求计数与耗时，route 使用注册的路由模板
func MetricsMiddleware() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		ins := loadInstruments()
		start := time.Now()
		if ins.active != nil {
			ins.active.Add(ctx, 1)
		}

		c.Next(ctx)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		attrs := metric.WithAttributes(
			attribute.String("http.method", toValidUTF8(string(c.Method()))),
			attribute.String("http.route", toValidUTF8(route)),
			attribute.Int("http.status_code", c.Response.StatusCode()),
		)
		if ins.requests != nil {
			ins.requests.Add(ctx, 1, attrs)
		}
		if ins.duration != nil {
			ins.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		if ins.active != nil {
			ins.active.Add(ctx, -1)
		}

		if userID, ok := GetUserID(ctx, c); ok {
			trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("enduser.id", userID))
		}
	}
}

// NewServerTracerConfig Hertz server 追踪配置和中间件
func NewServerTracerConfig(opts ...hertztracing.Option) (config.Option, app.HandlerFunc) {
	tracer, cfg := hertztracing.NewServerTracer(opts...)
	return tracer, hertztracing.ServerMiddleware(cfg)
}
