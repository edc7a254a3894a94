package notify

import (
	"fmt"
	"strconv"
	"time"

	"SafeCircle/internal/model"
)

// messageContext 生成文案需要的信息
type messageContext struct {
	Checker     *model.User
	Alert       *model.AlertEvent
	Level       model.AlertLevel
	Link        *model.CircleLink
	HoursMissed int
}

func (m messageContext) name() string {
	return m.Checker.DisplayName()
}

// location 支持者无权查看位置时不输出
func (m messageContext) location() string {
	if m.Link == nil || !m.Link.CanSeeLocation || m.Alert.LastKnownLocation == nil {
		return ""
	}
	return *m.Alert.LastKnownLocation
}

func (m messageContext) headline() string {
	switch m.Level {
	case model.AlertLevelSoft:
		return fmt.Sprintf("%s hasn't checked in today", m.name())
	case model.AlertLevelHard:
		return fmt.Sprintf("%s still hasn't checked in", m.name())
	case model.AlertLevelEscalation:
		return fmt.Sprintf("Urgent: no check-in from %s", m.name())
	default:
		return "You missed today's check-in"
	}
}

func (m messageContext) detail() string {
	var text string
	switch m.Level {
	case model.AlertLevelSoft:
		text = fmt.Sprintf("%s missed their daily check-in %dh ago. A quick message might help.", m.name(), m.HoursMissed)
	case model.AlertLevelHard:
		text = fmt.Sprintf("It has been %dh since %s missed their check-in. Please try to reach them.", m.HoursMissed, m.name())
	case model.AlertLevelEscalation:
		text = fmt.Sprintf("%s has not checked in for %dh. If you cannot reach them, consider contacting local emergency services.", m.name(), m.HoursMissed)
	default:
		return "Tap to check in and let your circle know you're OK."
	}
	if loc := m.location(); loc != "" {
		text += " Last known location: " + loc + "."
	}
	return text
}

func alertData(a *model.AlertEvent, level model.AlertLevel) map[string]any {
	return map[string]any{
		"type":       "alert",
		"alert_id":   a.ID,
		"checker_id": a.CheckerID,
		"level":      string(level),
	}
}

func collapseID(a *model.AlertEvent) string {
	return "alert-" + strconv.FormatInt(a.ID, 10)
}

func reminderPush(m messageContext) PushMessage {
	return PushMessage{
		Title:      m.headline(),
		Body:       m.detail(),
		CollapseID: collapseID(m.Alert),
		Data:       alertData(m.Alert, m.Level),
	}
}

func supporterPush(m messageContext) PushMessage {
	return PushMessage{
		Title:      m.headline(),
		Body:       m.detail(),
		Urgent:     m.Level.Rank() >= model.AlertLevelHard.Rank(),
		CollapseID: collapseID(m.Alert),
		Data:       alertData(m.Alert, m.Level),
	}
}

func smsBody(m messageContext) string {
	return "SafeCircle: " + m.detail()
}

func alertEmail(m messageContext) EmailParams {
	p := EmailParams{
		Subject: m.headline(),
		Text:    m.detail() + "\n\nOpen SafeCircle to acknowledge or resolve this alert.",
		TemplateData: map[string]any{
			"kind":         "alert",
			"checker_name": m.name(),
			"level":        string(m.Level),
			"hours_missed": m.HoursMissed,
			"headline":     m.headline(),
			"detail":       m.detail(),
		},
	}
	if m.Link != nil {
		p.ToName = m.Link.ContactName
		if loc := m.location(); loc != "" {
			p.TemplateData["last_location"] = loc
		}
	}
	return p
}

func allClearText(m messageContext) (title, body string) {
	title = fmt.Sprintf("%s is OK", m.name())
	switch {
	case m.Alert.Status == model.AlertStatusCancelled:
		body = fmt.Sprintf("%s cancelled the alert. No further action is needed.", m.name())
	case m.Alert.Resolution != nil && *m.Alert.Resolution == model.ResolutionCheckedIn:
		body = fmt.Sprintf("%s just checked in. Thanks for looking out for them.", m.name())
	default:
		body = "The alert has been resolved. No further action is needed."
	}
	return title, body
}

func allClearPush(m messageContext) PushMessage {
	title, body := allClearText(m)
	data := alertData(m.Alert, m.Alert.Level)
	data["type"] = "all_clear"
	return PushMessage{Title: title, Body: body, CollapseID: collapseID(m.Alert), Data: data}
}

func allClearEmail(m messageContext) EmailParams {
	title, body := allClearText(m)
	p := EmailParams{
		Subject: title,
		Text:    body,
		TemplateData: map[string]any{
			"kind":         "all_clear",
			"checker_name": m.name(),
			"headline":     title,
			"detail":       body,
		},
	}
	if m.Link != nil {
		p.ToName = m.Link.ContactName
	}
	return p
}

// headsUpPush 告诉打卡人支持者已被通知
func headsUpPush(m messageContext) PushMessage {
	var body string
	switch m.Level {
	case model.AlertLevelSoft:
		body = "Your first contact has been told you missed your check-in. Check in now to let them know you're OK."
	case model.AlertLevelHard:
		body = "Your whole circle is being contacted. Check in now to stop the alert."
	default:
		body = "Your circle has been told this is urgent. Check in now if you're OK."
	}
	data := alertData(m.Alert, m.Level)
	data["type"] = "heads_up"
	return PushMessage{
		Title:      "Your circle has been notified",
		Body:       body,
		Urgent:     true,
		CollapseID: collapseID(m.Alert),
		Data:       data,
	}
}

func nudgePush(checker *model.User, windowEnd time.Time) PushMessage {
	loc, err := time.LoadLocation(checker.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return PushMessage{
		Title: "Time to check in",
		Body:  fmt.Sprintf("Your check-in window closes at %s.", windowEnd.In(loc).Format("15:04")),
		Data:  map[string]any{"type": "nudge"},
	}
}
