package database

import (
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	spanKey  = "otel:span"
	startKey = "otel:start_time"
)

// PluginConfig 插件配置
type PluginConfig struct {
	ServiceName  string
	MaxSQLLength int
	// 单测使用 sqlite 时关闭 postgres 语义属性
	DBSystem attribute.KeyValue
}

// DefaultPluginConfig 默认插件配置
func DefaultPluginConfig(serviceName string) PluginConfig {
	return PluginConfig{
		ServiceName:  serviceName,
		MaxSQLLength: 500,
		DBSystem:     semconv.DBSystemPostgreSQL,
	}
}

// OTELPlugin GORM OpenTelemetry 插件，记录 span 与查询耗时
type OTELPlugin struct {
	tracer trace.Tracer
	config PluginConfig

	instOnce sync.Once
	queries  metric.Int64Counter
	duration metric.Float64Histogram
}

// NewOTELPlugin 创建插件实例
func NewOTELPlugin(config PluginConfig) *OTELPlugin {
	if config.ServiceName == "" {
		config.ServiceName = "safecircle"
	}
	if config.MaxSQLLength <= 0 {
		config.MaxSQLLength = 500
	}
	return &OTELPlugin{
		tracer: otel.Tracer(config.ServiceName + ".gorm"),
		config: config,
	}
}

// Name 实现 gorm.Plugin 接口
func (p *OTELPlugin) Name() string {
	return "otel_plugin"
}

// Initialize 为每类回调注册前后钩子
func (p *OTELPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	hooks := []struct {
		op       string
		register func(name string, before, after func(*gorm.DB)) error
	}{
		{"select", func(n string, b, a func(*gorm.DB)) error {
			if err := cb.Query().Before("gorm:query").Register("otel:before_"+n, b); err != nil {
				return err
			}
			return cb.Query().After("gorm:query").Register("otel:after_"+n, a)
		}},
		{"insert", func(n string, b, a func(*gorm.DB)) error {
			if err := cb.Create().Before("gorm:create").Register("otel:before_"+n, b); err != nil {
				return err
			}
			return cb.Create().After("gorm:create").Register("otel:after_"+n, a)
		}},
		{"update", func(n string, b, a func(*gorm.DB)) error {
			if err := cb.Update().Before("gorm:update").Register("otel:before_"+n, b); err != nil {
				return err
			}
			return cb.Update().After("gorm:update").Register("otel:after_"+n, a)
		}},
		{"delete", func(n string, b, a func(*gorm.DB)) error {
			if err := cb.Delete().Before("gorm:delete").Register("otel:before_"+n, b); err != nil {
				return err
			}
			return cb.Delete().After("gorm:delete").Register("otel:after_"+n, a)
		}},
		{"raw", func(n string, b, a func(*gorm.DB)) error {
			if err := cb.Raw().Before("gorm:raw").Register("otel:before_"+n, b); err != nil {
				return err
			}
			return cb.Raw().After("gorm:raw").Register("otel:after_"+n, a)
		}},
		{"row", func(n string, b, a func(*gorm.DB)) error {
			if err := cb.Row().Before("gorm:row").Register("otel:before_"+n, b); err != nil {
				return err
			}
			return cb.Row().After("gorm:row").Register("otel:after_"+n, a)
		}},
	}

	for _, h := range hooks {
		op := h.op
		if err := h.register(op, p.before(op), p.after(op)); err != nil {
			return err
		}
	}
	return nil
}

func (p *OTELPlugin) instruments() {
	p.instOnce.Do(func() {
		meter := otel.Meter(p.config.ServiceName + ".gorm")
		p.queries, _ = meter.Int64Counter(
			"db.queries.total",
			metric.WithDescription("Total number of database queries"),
			metric.WithUnit("{query}"),
		)
		p.duration, _ = meter.Float64Histogram(
			"db.query.duration",
			metric.WithDescription("Database query duration"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5),
		)
	})
}

func (p *OTELPlugin) before(op string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		attrs := []attribute.KeyValue{attribute.String("db.operation", op)}
		if p.config.DBSystem.Valid() {
			attrs = append(attrs, p.config.DBSystem)
		}
		if db.Statement.Table != "" {
			attrs = append(attrs, attribute.String("db.sql.table", db.Statement.Table))
		}

		ctx, span := p.tracer.Start(db.Statement.Context, "db."+op,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attrs...),
		)
		db.Statement.Context = ctx
		db.InstanceSet(spanKey, span)
		db.InstanceSet(startKey, time.Now())
	}
}

func (p *OTELPlugin) after(op string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(spanKey)
		if !ok {
			return
		}
		span, ok := v.(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		stmt := db.Statement.SQL.String()
		if len(stmt) > p.config.MaxSQLLength {
			stmt = stmt[:p.config.MaxSQLLength] + "..."
		}
		// 只记录带占位符的 SQL，不记录参数
		span.SetAttributes(
			semconv.DBStatement(strings.TrimSpace(stmt)),
			attribute.Int64("db.rows_affected", db.Statement.RowsAffected),
		)

		status := "success"
		switch {
		case db.Error == nil, db.Error == gorm.ErrRecordNotFound:
			span.SetStatus(codes.Ok, "")
		default:
			status = "error"
			span.SetStatus(codes.Error, db.Error.Error())
			span.RecordError(db.Error)
		}

		p.instruments()
		labels := metric.WithAttributes(
			attribute.String("db.operation", op),
			attribute.String("db.status", status),
		)
		if p.queries != nil {
			p.queries.Add(db.Statement.Context, 1, labels)
		}
		if start, ok := db.InstanceGet(startKey); ok {
			if t, ok := start.(time.Time); ok && p.duration != nil {
				p.duration.Record(db.Statement.Context, time.Since(t).Seconds(), labels)
			}
		}
	}
}

// WithOTELPlugin 为 GORM 添加 OpenTelemetry 插件
func WithOTELPlugin(db *gorm.DB, config PluginConfig) error {
	return db.Use(NewOTELPlugin(config))
}
