// Package notify 告警通知扇出：按档位挑选收件人和渠道，并发发送并记录每次尝试
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"SafeCircle/internal/cache"
	"SafeCircle/internal/model"
	pkgerrors "SafeCircle/pkg/errors"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/metrics"
	"SafeCircle/utils"
)

// UserStore 用户查询
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// CircleStore 关系查询
type CircleStore interface {
	ActiveSupporters(ctx context.Context, checkerID int64) ([]model.CircleLink, error)
	GetByIDs(ctx context.Context, ids []int64) ([]model.CircleLink, error)
}

// AttemptStore 发送记录
type AttemptStore interface {
	CreateBatch(ctx context.Context, attempts []model.NotificationAttempt) error
}

// CallRegistry 保存外呼上下文，返回回调 URL 中的 token
type CallRegistry interface {
	Register(ctx context.Context, call cache.CallContext) (string, error)
}

type Options struct {
	Users    UserStore
	Circles  CircleStore
	Attempts AttemptStore

	// 渠道为空表示未配置，对应发送记为 skipped
	Push  PushSender
	SMS   SMSSender
	Email EmailSender
	Voice VoiceCaller
	Calls CallRegistry

	PublicBaseURL string
	SendTimeout   time.Duration
	Concurrency   int
	Now           func() time.Time
	Logger        *zap.Logger
}

// Dispatcher 实现 schedule.Dispatcher
type Dispatcher struct {
	users    UserStore
	circles  CircleStore
	attempts AttemptStore

	push  PushSender
	sms   SMSSender
	email EmailSender
	voice VoiceCaller
	calls CallRegistry

	baseURL     string
	sendTimeout time.Duration
	concurrency int
	now         func() time.Time
	logger      *zap.Logger

	breakers   map[model.NotificationChannel]*CircuitBreaker
	skipLogged sync.Map
}

func New(opts Options) (*Dispatcher, error) {
	if opts.Users == nil || opts.Circles == nil {
		return nil, errors.New("notify: user and circle stores required")
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 16
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("notify")
	}

	return &Dispatcher{
		users:       opts.Users,
		circles:     opts.Circles,
		attempts:    opts.Attempts,
		push:        opts.Push,
		sms:         opts.SMS,
		email:       opts.Email,
		voice:       opts.Voice,
		calls:       opts.Calls,
		baseURL:     strings.TrimRight(opts.PublicBaseURL, "/"),
		sendTimeout: opts.SendTimeout,
		concurrency: opts.Concurrency,
		now:         opts.Now,
		logger:      opts.Logger,
		breakers: map[model.NotificationChannel]*CircuitBreaker{
			model.NotificationChannelPush:  NewCircuitBreaker("apns", 5, 30*time.Second),
			model.NotificationChannelSMS:   NewCircuitBreaker("sms", 5, time.Minute),
			model.NotificationChannelEmail: NewCircuitBreaker("sendgrid", 5, time.Minute),
			model.NotificationChannelVoice: NewCircuitBreaker("twilio_voice", 3, 2*time.Minute),
		},
	}, nil
}

// send 单次发送任务，Link 为空表示发给打卡人本人
type send struct {
	Channel model.NotificationChannel
	Link    *model.CircleLink
	UserID  *int64
	Msg     messageContext

	push  PushMessage
	sms   string
	email EmailParams
}

// Dispatch 执行某个档位的扇出
// 所有发送并发执行并全部等待结束，返回至少尝试联系过一次的支持者
func (d *Dispatcher) Dispatch(ctx context.Context, alert *model.AlertEvent, level model.AlertLevel) ([]int64, error) {
	checker, err := d.users.GetByID(ctx, alert.CheckerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checker %d: %w", alert.CheckerID, err)
	}

	base := messageContext{
		Checker:     checker,
		Alert:       alert,
		Level:       level,
		HoursMissed: utils.HoursSince(alert.MissedWindowAt, d.now()),
	}

	var sends []send
	if level == model.AlertLevelReminder {
		checkerID := checker.ID
		sends = append(sends, send{
			Channel: model.NotificationChannelPush,
			UserID:  &checkerID,
			Msg:     base,
			push:    reminderPush(base),
		})
	} else {
		links, err := d.circles.ActiveSupporters(ctx, alert.CheckerID)
		if err != nil {
			return nil, fmt.Errorf("failed to load supporters for checker %d: %w", alert.CheckerID, err)
		}
		for _, link := range SelectSupporters(level, links) {
			sends = append(sends, alertSends(base, link)...)
		}
	}

	attempts := d.run(ctx, alert, level, sends)
	d.saveAttempts(ctx, alert.ID, attempts)

	notified := contactedLinks(attempts)
	d.logger.Info("Alert fan-out completed",
		zap.Int64("alert_id", alert.ID),
		zap.String("level", string(level)),
		zap.Int("sends", len(sends)),
		zap.Int("supporters_contacted", len(notified)),
	)
	return notified, nil
}

func alertSends(base messageContext, link model.CircleLink) []send {
	l := link
	m := base
	m.Link = &l

	var out []send
	for _, ch := range Channels(m.Level, &l) {
		s := send{Channel: ch, Link: &l, UserID: l.SupporterUserID, Msg: m}
		switch ch {
		case model.NotificationChannelPush:
			s.push = supporterPush(m)
		case model.NotificationChannelSMS:
			s.sms = smsBody(m)
		case model.NotificationChannelEmail:
			s.email = alertEmail(m)
		}
		out = append(out, s)
	}
	return out
}

// run 有界并发执行所有发送，每个发送有独立超时，失败只记录
func (d *Dispatcher) run(ctx context.Context, alert *model.AlertEvent, level model.AlertLevel, sends []send) []model.NotificationAttempt {
	attempts := make([]model.NotificationAttempt, len(sends))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i := range sends {
		i := i
		g.Go(func() error {
			attempts[i] = d.deliver(ctx, alert, level, &sends[i])
			return nil
		})
	}
	_ = g.Wait()
	return attempts
}

func (d *Dispatcher) deliver(ctx context.Context, alert *model.AlertEvent, level model.AlertLevel, s *send) model.NotificationAttempt {
	attempt := model.NotificationAttempt{
		AlertID:         alert.ID,
		Level:           level,
		RecipientUserID: s.UserID,
		Channel:         s.Channel,
	}
	if s.Link != nil {
		id := s.Link.ID
		attempt.CircleLinkID = &id
	}

	sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	start := time.Now()
	var ref string
	err := d.breakers[s.Channel].Call(sctx, func(ctx context.Context) error {
		var err error
		ref, err = d.sendOn(ctx, s)
		return err
	})
	elapsed := time.Since(start)
	attempt.AttemptedAt = d.now().UTC()

	switch {
	case err == nil:
		attempt.Status = model.AttemptStatusSent
		if ref != "" {
			attempt.ProviderRef = &ref
		}
	case errors.Is(err, pkgerrors.ErrChannelNotConfigured), errors.Is(err, errNoDevices), errors.Is(err, errBadAddress):
		attempt.Status = model.AttemptStatusSkipped
		attempt.ErrorMessage = errorText(err)
		if errors.Is(err, pkgerrors.ErrChannelNotConfigured) {
			d.logSkipOnce(s.Channel)
		}
	default:
		attempt.Status = model.AttemptStatusFailed
		attempt.ErrorMessage = errorText(err)
		fields := []zap.Field{
			zap.Int64("alert_id", alert.ID),
			zap.String("level", string(level)),
			zap.String("channel", string(s.Channel)),
			zap.Error(err),
		}
		if attempt.CircleLinkID != nil {
			fields = append(fields, zap.Int64("link_id", *attempt.CircleLinkID))
		}
		if to := maskedRecipient(s); to != "" {
			fields = append(fields, zap.String("to", to))
		}
		d.logger.Warn("Notification send failed", fields...)
	}

	metrics.GetMetrics().RecordNotification(ctx, string(s.Channel), string(level), string(attempt.Status), elapsed.Seconds())
	return attempt
}

const maxErrorBytes = 255

var (
	errNoDevices  = errors.New("no active push device")
	errBadAddress = errors.New("recipient address is malformed")
)

// maskedRecipient 日志里的收件人，手机号只留末四位
func maskedRecipient(s *send) string {
	if s.Link == nil {
		return ""
	}
	switch s.Channel {
	case model.NotificationChannelSMS, model.NotificationChannelVoice:
		return utils.MaskPhone(s.Link.Phone())
	case model.NotificationChannelEmail:
		return utils.MaskEmail(s.Link.Email())
	}
	return ""
}

// sendOn 调用具体渠道，返回服务商引用
func (d *Dispatcher) sendOn(ctx context.Context, s *send) (string, error) {
	switch s.Channel {
	case model.NotificationChannelPush:
		if d.push == nil || s.UserID == nil {
			return "", pkgerrors.ErrChannelNotConfigured
		}
		results, err := d.push.Send(ctx, *s.UserID, s.push)
		if err != nil {
			return "", err
		}
		if len(results) == 0 {
			return "", errNoDevices
		}
		var reasons []string
		for _, r := range results {
			if r.OK() {
				return r.APNsID, nil
			}
			reasons = append(reasons, r.Reason)
		}
		return "", fmt.Errorf("push rejected on all %d devices: %s", len(results), strings.Join(reasons, ","))

	case model.NotificationChannelSMS:
		if d.sms == nil {
			return "", pkgerrors.ErrChannelNotConfigured
		}
		if !utils.ValidateE164(s.Link.Phone()) {
			return "", errBadAddress
		}
		return d.sms.Send(ctx, s.Link.Phone(), s.sms)

	case model.NotificationChannelEmail:
		if d.email == nil {
			return "", pkgerrors.ErrChannelNotConfigured
		}
		if !utils.ValidateEmail(s.Link.Email()) {
			return "", errBadAddress
		}
		return d.email.Send(ctx, s.Link.Email(), s.email)

	case model.NotificationChannelVoice:
		if d.voice == nil || d.calls == nil {
			return "", pkgerrors.ErrChannelNotConfigured
		}
		if !utils.ValidateE164(s.Link.Phone()) {
			return "", errBadAddress
		}
		return d.call(ctx, s)
	}
	return "", fmt.Errorf("unknown channel %q", s.Channel)
}

func (d *Dispatcher) call(ctx context.Context, s *send) (string, error) {
	m := s.Msg
	call := cache.CallContext{
		AlertID:      m.Alert.ID,
		CircleLinkID: s.Link.ID,
		CheckerName:  m.name(),
		HoursMissed:  m.HoursMissed,
		LastLocation: m.location(),
	}
	if m.Checker.Phone != nil {
		call.CheckerPhone = *m.Checker.Phone
	}

	token, err := d.calls.Register(ctx, call)
	if err != nil {
		return "", err
	}
	sid, err := d.voice.InitiateCall(ctx, s.Link.Phone(), d.baseURL+"/v1/voice/calls/"+token)
	if err != nil {
		return "", err
	}
	if sid == "" {
		return "", pkgerrors.ErrChannelNotConfigured
	}
	return sid, nil
}

func (d *Dispatcher) logSkipOnce(ch model.NotificationChannel) {
	if _, loaded := d.skipLogged.LoadOrStore(ch, struct{}{}); loaded {
		return
	}
	d.logger.Warn("Notification channel not configured, skipping",
		zap.String("channel", string(ch)),
	)
}

// saveAttempts 写审计记录失败不影响已发出的通知
func (d *Dispatcher) saveAttempts(ctx context.Context, alertID int64, attempts []model.NotificationAttempt) {
	if d.attempts == nil || len(attempts) == 0 {
		return
	}
	if err := d.attempts.CreateBatch(ctx, attempts); err != nil {
		d.logger.Error("Failed to save notification attempts",
			zap.Int64("alert_id", alertID),
			zap.Int("count", len(attempts)),
			zap.Error(err),
		)
	}
}

// contactedLinks sent 或 failed 都算尝试联系过，skipped 不算
func contactedLinks(attempts []model.NotificationAttempt) []int64 {
	seen := make(map[int64]struct{})
	out := make([]int64, 0)
	for _, a := range attempts {
		if a.CircleLinkID == nil || a.Status == model.AttemptStatusSkipped {
			continue
		}
		if _, ok := seen[*a.CircleLinkID]; ok {
			continue
		}
		seen[*a.CircleLinkID] = struct{}{}
		out = append(out, *a.CircleLinkID)
	}
	return out
}

// errorText 截断到 255 字节，不切断多字节字符
func errorText(err error) *string {
	msg := err.Error()
	if len(msg) > maxErrorBytes {
		cut := maxErrorBytes
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return &msg
}
