package schedule

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"SafeCircle/internal/model"
	"SafeCircle/pkg/logger"
)

// dayLayout 打卡日格式，以计划所在时区的本地日期为准
const dayLayout = "2006-01-02"

// Window 某个打卡日的窗口，时间均为绝对时刻
type Window struct {
	Day      string
	DayStart time.Time // 打卡日本地零点，判断"当天是否已打卡"的起点
	Start    time.Time
	End      time.Time
	Deadline time.Time // End + grace
}

var locations sync.Map // tz name -> *time.Location

// Location 计划的时区，无法识别时退回 UTC 并记录一次告警
func Location(s *model.Schedule) *time.Location {
	name := s.Timezone
	if name == "" {
		return time.UTC
	}
	if loc, ok := locations.Load(name); ok {
		return loc.(*time.Location)
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.L().Warn("Unknown schedule timezone, falling back to UTC",
			zap.Int64("checker_id", s.CheckerID),
			zap.String("timezone", name),
			zap.Error(err),
		)
		loc = time.UTC
	}
	locations.Store(name, loc)
	return loc
}

// LocalDay now 在计划时区下的日期
func LocalDay(s *model.Schedule, now time.Time) string {
	return now.In(Location(s)).Format(dayLayout)
}

// IsActiveDay now 在计划时区下的星期是否在生效日内
func IsActiveDay(s *model.Schedule, now time.Time) bool {
	return s.ActiveDays.Has(now.In(Location(s)).Weekday())
}

// WindowFor 构造 day 当天的窗口，day 只取其在计划时区下的年月日
// 结束时间不晚于开始时间时视为跨午夜窗口
// 夏令时跳变由 time.Date 的规范化处理
func WindowFor(s *model.Schedule, day time.Time) Window {
	loc := Location(s)
	local := day.In(loc)
	y, m, d := local.Date()

	dayStart := time.Date(y, m, d, 0, 0, 0, 0, loc)
	start := time.Date(y, m, d, s.WindowStartHour, s.WindowStartMinute, 0, 0, loc)
	end := time.Date(y, m, d, s.WindowEndHour, s.WindowEndMinute, 0, 0, loc)
	if !end.After(start) {
		end = time.Date(y, m, d+1, s.WindowEndHour, s.WindowEndMinute, 0, 0, loc)
	}

	return Window{
		Day:      dayStart.Format(dayLayout),
		DayStart: dayStart,
		Start:    start,
		End:      end,
		Deadline: end.Add(time.Duration(s.GraceMinutes) * time.Minute),
	}
}

// Deadline day 当天窗口结束加宽限期的时刻
func Deadline(s *model.Schedule, day time.Time) time.Time {
	return WindowFor(s, day).Deadline
}

// IsWindowMissed now 严格晚于今天的截止时刻
func IsWindowMissed(s *model.Schedule, now time.Time) bool {
	return now.After(Deadline(s, now))
}

// MissedWindow 最近一个已过截止时刻的生效窗口
// 今天的截止时刻未到时，回看昨天：昨天的截止时刻可能因宽限期越过了午夜
func MissedWindow(s *model.Schedule, now time.Time) (Window, bool) {
	loc := Location(s)
	local := now.In(loc)

	today := WindowFor(s, local)
	if now.After(today.Deadline) {
		if !s.ActiveDays.Has(today.DayStart.Weekday()) {
			return Window{}, false
		}
		return today, true
	}

	y, m, d := local.Date()
	yesterday := WindowFor(s, time.Date(y, m, d-1, 12, 0, 0, 0, loc))
	if !s.ActiveDays.Has(yesterday.DayStart.Weekday()) {
		return Window{}, false
	}
	// 只接管跨越午夜的截止时刻，更早的窗口由当天的 tick 负责
	if !yesterday.Deadline.After(today.DayStart) || !now.After(yesterday.Deadline) {
		return Window{}, false
	}
	return yesterday, true
}

// NudgeAt 截止前提醒时刻，lead 为 0 时不提醒
func NudgeAt(s *model.Schedule, w Window) (time.Time, bool) {
	if s.ReminderLeadMinutes <= 0 {
		return time.Time{}, false
	}
	return w.End.Add(-time.Duration(s.ReminderLeadMinutes) * time.Minute), true
}
