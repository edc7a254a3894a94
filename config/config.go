package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

var Cfg Config

type Config struct {
	// 服务配置
	ServerPort    string `env:"SERVER_PORT" envDefault:"8888"`
	ServerHost    string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"development"` // development, staging, production
	ServiceName   string `env:"SERVICE_NAME" envDefault:"safecircle"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8888"` // 语音回调等外部可访问地址

	// PostgreSQL 配置
	PostgreSQLHost      string        `env:"POSTGRESQL_HOST" envDefault:"localhost"`
	PostgreSQLPort      string        `env:"POSTGRESQL_PORT" envDefault:"5432"`
	PostgreSQLUser      string        `env:"POSTGRESQL_USER" envDefault:"postgres"`
	PostgreSQLPassword  string        `env:"POSTGRESQL_PASSWORD" envDefault:"postgres"`
	PostgreSQLDatabase  string        `env:"POSTGRESQL_DATABASE" envDefault:"safecircle"`
	PostgreSQLSchema    string        `env:"POSTGRESQL_SCHEMA" envDefault:"public"`
	PostgreSQLSSLMode   string        `env:"POSTGRESQL_SSLMODE" envDefault:"disable"`
	PostgreSQLMaxIdle   int           `env:"POSTGRESQL_MAX_IDLE" envDefault:"10"`
	PostgreSQLMaxOpen   int           `env:"POSTGRESQL_MAX_OPEN" envDefault:"50"`
	PostgreSQLSlowSQL   time.Duration `env:"POSTGRESQL_SLOW_SQL" envDefault:"200ms"`
	DatabaseAutoMigrate bool          `env:"DATABASE_AUTO_MIGRATE" envDefault:"true"` // 多实例部署时只让一个进程迁移

	// Redis 配置
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"sc"`

	// RabbitMQ 配置
	RabbitMQAddr     string `env:"RABBITMQ_ADDR" envDefault:"localhost"`
	RabbitMQPort     string `env:"RABBITMQ_PORT" envDefault:"5672"`
	RabbitMQUsername string `env:"RABBITMQ_USERNAME" envDefault:"guest"`
	RabbitMQPassword string `env:"RABBITMQ_PASSWORD" envDefault:"guest"`
	RabbitMQVhost    string `env:"RABBITMQ_VHOST" envDefault:"/"`

	// JWT 配置，令牌由认证服务签发，这里只负责校验
	JWTSecret        string `env:"JWT_SECRET"`
	JWTExpireMinutes int    `env:"JWT_EXPIRE_MINUTES" envDefault:"30"`

	// 告警升级阈值，均以错过截止时间起算
	EscalationSoftAfter       time.Duration `env:"ESCALATION_SOFT_AFTER" envDefault:"24h"`
	EscalationHardAfter       time.Duration `env:"ESCALATION_HARD_AFTER" envDefault:"36h"`
	EscalationEscalationAfter time.Duration `env:"ESCALATION_ESCALATION_AFTER" envDefault:"48h"`

	// 调度配置
	TickInterval      time.Duration `env:"ESCALATION_TICK_INTERVAL" envDefault:"15m"`
	TickTimeout       time.Duration `env:"ESCALATION_TICK_TIMEOUT" envDefault:"10m"`
	TickLeaseEnabled  bool          `env:"TICK_LEASE_ENABLED" envDefault:"true"`
	EscalationWorkers int           `env:"ESCALATION_WORKERS" envDefault:"8"`
	DispatchLease     time.Duration `env:"DISPATCH_LEASE" envDefault:"10m"`

	// 通知扇出配置
	NotifySendTimeout time.Duration `env:"NOTIFY_SEND_TIMEOUT" envDefault:"10s"`
	NotifyConcurrency int           `env:"NOTIFY_CONCURRENCY" envDefault:"16"`

	// 短信服务配置
	// 阿里云 AccessKey 通过 ALIBABA_CLOUD_ACCESS_KEY_ID / ALIBABA_CLOUD_ACCESS_KEY_SECRET 读取
	SMSProvider             string `env:"SMS_PROVIDER" envDefault:"twilio"` // aliyun, twilio, mock
	AliCloudAccessKeyID     string `env:"ALIBABA_CLOUD_ACCESS_KEY_ID"`
	AliCloudAccessKeySecret string `env:"ALIBABA_CLOUD_ACCESS_KEY_SECRET"`
	SMSSignName             string `env:"SMS_SIGN_NAME"`
	SMSTemplateCode         string `env:"SMS_TEMPLATE_CODE"`

	// Twilio，短信和语音外呼共用
	TwilioAccountSID string        `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string        `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string        `env:"TWILIO_FROM_NUMBER"`
	TwilioBaseURL    string        `env:"TWILIO_BASE_URL" envDefault:"https://api.twilio.com/2010-04-01"`
	TwilioTimeout    time.Duration `env:"TWILIO_TIMEOUT" envDefault:"15s"`
	TwilioMaxRetries int           `env:"TWILIO_MAX_RETRIES" envDefault:"2"`

	// SendGrid 邮件
	SendGridAPIKey     string `env:"SENDGRID_API_KEY"`
	SendGridBaseURL    string `env:"SENDGRID_BASE_URL" envDefault:"https://api.sendgrid.com"`
	SendGridFromEmail  string `env:"SENDGRID_FROM_EMAIL"`
	SendGridFromName   string `env:"SENDGRID_FROM_NAME" envDefault:"SafeCircle"`
	SendGridTemplateID string `env:"SENDGRID_TEMPLATE_ID"`

	// APNs 推送
	APNsKeyID          string `env:"APNS_KEY_ID"`
	APNsTeamID         string `env:"APNS_TEAM_ID"`
	APNsPrivateKeyPath string `env:"APNS_PRIVATE_KEY_PATH"`
	APNsTopic          string `env:"APNS_TOPIC"`
	APNsProduction     bool   `env:"APNS_PRODUCTION" envDefault:"false"`

	// Snowflake ID 生成器配置
	SnowflakeMachineID  int64 `env:"SNOWFLAKE_MACHINE_ID" envDefault:"1"`
	SnowflakeDataCenter int64 `env:"SNOWFLAKE_DATACENTER_ID" envDefault:"1"`

	// 日志配置
	LoggerLevel      string `env:"LOGGER_LEVEL" envDefault:"INFO"`
	LoggerFormat     string `env:"LOGGER_FORMAT" envDefault:"text"` // json, text
	LoggerOutputPath string `env:"LOGGER_OUTPUT_PATH" envDefault:"stdout"`

	// 链路追踪与指标
	OTELEnabled     bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTELSampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"0.1"`
	ServiceVersion  string  `env:"SERVICE_VERSION"`

	// 速率限制配置, 配置在中间件内
	RateLimitEnabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`

	// 允许跨域的来源，逗号分隔，"*" 表示全部；为空时不下发 CORS 头
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("WARN: Cannot load .env file: %v, using environment variables", err)
	}

	Cfg = Config{}
	if err := env.Parse(&Cfg); err != nil {
		log.Fatalf("Failed to parse environment variables: %v", err)
	}

	validateConfig()
}

func validateConfig() {
	if !(Cfg.EscalationSoftAfter > 0 &&
		Cfg.EscalationSoftAfter < Cfg.EscalationHardAfter &&
		Cfg.EscalationHardAfter < Cfg.EscalationEscalationAfter) {
		log.Fatalf("escalation thresholds must be positive and strictly increasing: soft=%s hard=%s escalation=%s",
			Cfg.EscalationSoftAfter, Cfg.EscalationHardAfter, Cfg.EscalationEscalationAfter)
	}

	if Cfg.JWTSecret == "" {
		log.Printf("WARN: JWT_SECRET is not set, API server will refuse to start")
	}

	switch Cfg.SMSProvider {
	case "aliyun":
		if Cfg.SMSSignName == "" || Cfg.SMSTemplateCode == "" {
			log.Printf("WARN: SMS_SIGN_NAME or SMS_TEMPLATE_CODE is not set, SMS will be skipped")
		}
	case "twilio":
		if Cfg.TwilioAccountSID == "" || Cfg.TwilioAuthToken == "" {
			log.Printf("WARN: TWILIO_ACCOUNT_SID or TWILIO_AUTH_TOKEN is not set, SMS will be skipped")
		}
	}

	if Cfg.TwilioAccountSID == "" || Cfg.TwilioFromNumber == "" {
		log.Printf("WARN: Twilio voice is not configured, voice calls will be skipped")
	}

	if Cfg.SendGridAPIKey == "" {
		log.Printf("WARN: SENDGRID_API_KEY is not set, email will be skipped")
	}

	if Cfg.APNsKeyID == "" || Cfg.APNsPrivateKeyPath == "" {
		log.Printf("WARN: APNs is not configured, push notifications will be skipped")
	}
}

func (c *Config) GetDSN() string {
	return "host=" + c.PostgreSQLHost +
		" port=" + c.PostgreSQLPort +
		" user=" + c.PostgreSQLUser +
		" password=" + c.PostgreSQLPassword +
		" dbname=" + c.PostgreSQLDatabase +
		" sslmode=" + c.PostgreSQLSSLMode +
		" search_path=" + c.PostgreSQLSchema
}

func (c *Config) GetRabbitMQURL() string {
	return "amqp://" + c.RabbitMQUsername + ":" + c.RabbitMQPassword + "@" + c.RabbitMQAddr + ":" + c.RabbitMQPort + c.RabbitMQVhost
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// VoiceConfigured Twilio 外呼需要账号和主叫号码
func (c *Config) VoiceConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}
