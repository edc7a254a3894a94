package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"SafeCircle/config"
	"SafeCircle/internal/cache"
	"SafeCircle/internal/notify"
	"SafeCircle/internal/queue"
	"SafeCircle/internal/repository"
	"SafeCircle/internal/schedule"
	"SafeCircle/internal/service"
	"SafeCircle/pkg/apns"
	"SafeCircle/pkg/email"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/metrics"
	"SafeCircle/pkg/otel"
	"SafeCircle/pkg/sms"
	"SafeCircle/pkg/twilio"
)

const tickLeaseKey = "escalation:tick"

// Repositories 所有进程共用的存储层
type Repositories struct {
	Users     *repository.UserRepo
	Schedules *repository.ScheduleRepo
	CheckIns  *repository.CheckInRepo
	Alerts    *repository.AlertRepo
	Circles   *repository.CircleRepo
	Devices   *repository.DeviceRepo
	Attempts  *repository.AttemptRepo
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Users:     repository.NewUserRepo(db),
		Schedules: repository.NewScheduleRepo(db),
		CheckIns:  repository.NewCheckInRepo(db),
		Alerts:    repository.NewAlertRepo(db),
		Circles:   repository.NewCircleRepo(db),
		Devices:   repository.NewDeviceRepo(db),
		Attempts:  repository.NewAttemptRepo(db),
	}
}

// Dispatcher 按配置组装各通知渠道，未配置的渠道留空
// withCalls=false 时不写语音回调上下文，外呼也随之关闭
func Dispatcher(cfg *config.Config, repos *Repositories, withCalls bool) (*notify.Dispatcher, error) {
	opts := notify.Options{
		Users:         repos.Users,
		Circles:       repos.Circles,
		Attempts:      repos.Attempts,
		PublicBaseURL: cfg.PublicBaseURL,
		SendTimeout:   cfg.NotifySendTimeout,
		Concurrency:   cfg.NotifyConcurrency,
	}

	if apnsCfg := apns.ConfigFrom(cfg); apnsCfg.Configured() {
		tokens, err := apns.NewJWTProviderFromFile(apnsCfg.KeyID, apnsCfg.TeamID, apnsCfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load apns key: %w", err)
		}
		client, err := apns.New(apnsCfg, tokens)
		if err != nil {
			return nil, fmt.Errorf("failed to create apns client: %w", err)
		}
		opts.Push = notify.NewAPNsPush(client, repos.Devices)
	} else {
		logger.L().Warn("APNs not configured, push notifications disabled")
	}

	if err := sms.Init(); err != nil {
		logger.L().Warn("SMS service disabled", zap.Error(err))
	} else if client := sms.GetClient(); client != nil {
		opts.SMS = client
	}

	if emailCfg := email.ConfigFrom(cfg); emailCfg.Configured() {
		client, err := email.New(emailCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create sendgrid client: %w", err)
		}
		opts.Email = notify.NewSendGridEmail(client)
	} else {
		logger.L().Warn("SendGrid not configured, email notifications disabled")
	}

	if withCalls && cfg.VoiceConfigured() {
		client, err := twilio.New(twilio.ConfigFrom(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to create twilio client: %w", err)
		}
		opts.Voice = notify.NewTwilioVoice(client)
		opts.Calls = cache.CallStore{}
	}

	return notify.New(opts)
}

// Engine 升级引擎，leaseEnabled 需要 Redis
func Engine(cfg *config.Config, repos *Repositories, dispatcher *notify.Dispatcher, events schedule.EventPublisher, redisReady bool) (*schedule.Engine, error) {
	opts := schedule.Options{
		Schedules:     repos.Schedules,
		CheckIns:      repos.CheckIns,
		Alerts:        repos.Alerts,
		Dispatcher:    dispatcher,
		Thresholds:    schedule.ThresholdsFromConfig(cfg),
		Workers:       cfg.EscalationWorkers,
		DispatchLease: cfg.DispatchLease,
	}
	if events != nil {
		opts.Events = events
	}
	if redisReady {
		opts.Nudges = cache.NudgeMarker{}
		if cfg.TickLeaseEnabled {
			opts.Lease = cache.TickLease{Key: tickLeaseKey, TTL: cfg.TickTimeout}
		}
	}
	return schedule.NewEngine(opts)
}

// Services 初始化 HTTP 服务层
func Services(cfg *config.Config, repos *Repositories, dispatcher *notify.Dispatcher, producer *queue.Producer) error {
	deps := service.Deps{
		Users:         repos.Users,
		Schedules:     repos.Schedules,
		CheckIns:      repos.CheckIns,
		Alerts:        repos.Alerts,
		Circles:       repos.Circles,
		Devices:       repos.Devices,
		Dispatcher:    dispatcher,
		Calls:         cache.CallStore{},
		PublicBaseURL: cfg.PublicBaseURL,
		DispatchLease: cfg.DispatchLease,
	}
	if producer != nil {
		deps.Events = producer
	}
	return service.Init(deps)
}

// Telemetry 按配置开启链路追踪和指标，返回的函数在退出时调用
// 初始化失败只告警，进程照常运行
func Telemetry(ctx context.Context, cfg *config.Config, process string) func() {
	if !cfg.OTELEnabled {
		return func() {}
	}

	shutdown, err := otel.InitOpenTelemetry(ctx, otel.Config{
		ServiceName:    cfg.ServiceName + "-" + process,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRatio:    cfg.OTELSampleRatio,
	})
	if err != nil {
		logger.L().Warn("Failed to initialize OpenTelemetry", zap.String("process", process), zap.Error(err))
		return func() {}
	}
	if err := metrics.InitMetrics(); err != nil {
		logger.L().Warn("Failed to initialize metrics", zap.Error(err))
	}

	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.L().Warn("Failed to flush telemetry", zap.Error(err))
		}
	}
}
