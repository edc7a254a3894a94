package redis

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingHook go-redis 钩子，为每条命令创建 span 并记录耗时
type TracingHook struct {
	tracer trace.Tracer
	meter  metric.Meter
	attrs  []attribute.KeyValue

	once     sync.Once
	commands metric.Int64Counter
	duration metric.Float64Histogram
}

func NewTracingHook(serviceName string, db int) *TracingHook {
	return &TracingHook{
		tracer: otel.Tracer(serviceName + ".redis"),
		meter:  otel.Meter(serviceName + ".redis"),
		attrs: []attribute.KeyValue{
			semconv.DBSystemRedis,
			attribute.Int("db.redis.database_index", db),
		},
	}
}

func (th *TracingHook) instruments() {
	th.once.Do(func() {
		th.commands, _ = th.meter.Int64Counter(
			"redis.commands.total",
			metric.WithDescription("Total number of Redis commands"),
			metric.WithUnit("{command}"),
		)
		th.duration, _ = th.meter.Float64Histogram(
			"redis.command.duration",
			metric.WithDescription("Redis command duration"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1.0),
		)
	})
}

// DialHook 实现 redis.Hook 接口
func (th *TracingHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

// ProcessHook 实现 redis.Hook 接口
func (th *TracingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		name := strings.ToUpper(cmd.Name())
		ctx, span := th.tracer.Start(ctx, "redis."+strings.ToLower(name),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(th.attrs...),
			trace.WithAttributes(attribute.String("db.operation", name)),
		)
		defer span.End()

		start := time.Now()
		err := next(ctx, cmd)

		status := "success"
		switch {
		case err == nil:
			span.SetStatus(codes.Ok, "")
		case err == redis.Nil:
			status = "not_found"
			span.SetStatus(codes.Ok, "")
		default:
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		th.instruments()
		labels := metric.WithAttributes(
			attribute.String("redis.command", name),
			attribute.String("redis.status", status),
		)
		if th.commands != nil {
			th.commands.Add(ctx, 1, labels)
		}
		if th.duration != nil {
			th.duration.Record(ctx, time.Since(start).Seconds(), labels)
		}
		return err
	}
}

// ProcessPipelineHook 实现 redis.Hook 接口
func (th *TracingHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		ctx, span := th.tracer.Start(ctx, "redis.pipeline",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(th.attrs...),
			trace.WithAttributes(attribute.Int("redis.pipeline.length", len(cmds))),
		)
		defer span.End()

		err := next(ctx, cmds)
		if err != nil && err != redis.Nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}

// InstrumentClient 为 Redis 客户端挂载钩子
func InstrumentClient(client *redis.Client, serviceName string, db int) {
	if client == nil {
		return
	}
	client.AddHook(NewTracingHook(serviceName, db))
}
