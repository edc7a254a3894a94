package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"SafeCircle/internal/cache"
	"SafeCircle/internal/model"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/twilio"
)

// 外呼按键
const (
	digitAcknowledge = "1"
	digitContactInfo = "2"
	digitReplay      = "9"
)

// VoiceService 处理 Twilio 外呼回调，返回 TwiML
type VoiceService struct {
	calls   CallLookup
	alerts  AlertStore
	events  EventPublisher
	baseURL string
	now     func() time.Time
	logger  *zap.Logger
}

func NewVoiceService(d Deps) *VoiceService {
	return &VoiceService{
		calls:   d.Calls,
		alerts:  d.Alerts,
		events:  d.Events,
		baseURL: strings.TrimRight(d.PublicBaseURL, "/"),
		now:     nowFunc(d),
		logger:  logger.Named("voice"),
	}
}

// Handle digits 为空表示首次接通
// 上下文过期或告警已关闭时仍返回合法 TwiML，Twilio 只认 200
func (s *VoiceService) Handle(ctx context.Context, token, digits string) ([]byte, error) {
	resp := &twilio.Response{}

	call, ok, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if !ok {
		resp.Say("This SafeCircle alert is no longer active. Goodbye.").Hangup()
		return resp.Marshal()
	}

	alert, err := s.alerts.GetByID(ctx, call.AlertID)
	if err != nil {
		return nil, err
	}
	if !alert.IsOpen() {
		resp.Say(fmt.Sprintf("Good news. The alert for %s has already been resolved. Goodbye.", call.CheckerName)).Hangup()
		return resp.Marshal()
	}

	switch digits {
	case "", digitReplay:
		s.menu(resp, token, call, greeting(call))
	case digitAcknowledge:
		if err := s.acknowledge(ctx, alert, call); err != nil {
			return nil, err
		}
		resp.Say(fmt.Sprintf("Thank you. We've let SafeCircle know you are checking on %s. Please try to reach them as soon as you can. Goodbye.", call.CheckerName)).
			Hangup()
	case digitContactInfo:
		s.menu(resp, token, call, contactInfo(call))
	default:
		s.menu(resp, token, call, "Sorry, that is not a valid option.")
	}
	return resp.Marshal()
}

func (s *VoiceService) lookup(ctx context.Context, token string) (*cache.CallContext, bool, error) {
	if s.calls == nil || token == "" {
		return nil, false, nil
	}
	return s.calls.Lookup(ctx, token)
}

func (s *VoiceService) menu(resp *twilio.Response, token string, call *cache.CallContext, lead string) {
	action := s.baseURL + "/v1/voice/calls/" + token
	resp.Gather(twilio.Gather{
		Input:     "dtmf",
		NumDigits: 1,
		Action:    action,
		Method:    "POST",
		Timeout:   8,
		Says: []twilio.Say{
			twilio.NewSay(lead),
			twilio.NewSay("Press 1 to let us know you are checking on them. Press 2 to hear their contact information. Press 9 to repeat this message."),
		},
	})
	resp.Say("We did not receive a response. Goodbye.").Hangup()
}

func (s *VoiceService) acknowledge(ctx context.Context, alert *model.AlertEvent, call *cache.CallContext) error {
	ok, err := s.alerts.Acknowledge(ctx, alert.ID, call.CircleLinkID, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if fresh, err := s.alerts.GetByID(ctx, alert.ID); err == nil {
		alert = fresh
	}
	publish(ctx, s.events, model.AlertEventAcknowledged, alert)
	s.logger.Info("Alert acknowledged by phone",
		zap.Int64("alert_id", alert.ID),
		zap.Int64("link_id", call.CircleLinkID),
	)
	return nil
}

func greeting(call *cache.CallContext) string {
	text := fmt.Sprintf("This is an urgent message from SafeCircle. %s has not checked in for %d hours.", call.CheckerName, call.HoursMissed)
	if call.LastLocation != "" {
		text += " Their last known location was " + call.LastLocation + "."
	}
	return text
}

func contactInfo(call *cache.CallContext) string {
	if call.CheckerPhone == "" {
		return fmt.Sprintf("We don't have a phone number on file for %s.", call.CheckerName)
	}
	return fmt.Sprintf("You can reach %s at %s.", call.CheckerName, spellDigits(call.CheckerPhone))
}

// spellDigits 逐位朗读号码
func spellDigits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r < '0' || r > '9' {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
