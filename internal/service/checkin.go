package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"SafeCircle/internal/model"
	"SafeCircle/internal/schedule"
	pkgerrors "SafeCircle/pkg/errors"
	"SafeCircle/pkg/logger"
)

type CheckInService struct {
	users     UserStore
	schedules ScheduleStore
	checkIns  CheckInStore
	alerts    AlertStore
	events    EventPublisher
	now       func() time.Time
}

func NewCheckInService(d Deps) *CheckInService {
	return &CheckInService{
		users:     d.Users,
		schedules: d.Schedules,
		checkIns:  d.CheckIns,
		alerts:    d.Alerts,
		events:    d.Events,
		now:       nowFunc(d),
	}
}

func validScore(v int) bool {
	return v >= 1 && v <= 5
}

// Record 保存打卡并同步关闭该打卡人所有未关闭的告警
func (s *CheckInService) Record(ctx context.Context, checkerID int64, req model.RecordCheckInRequest) (*model.CheckInResponse, error) {
	if !validScore(req.MoodScore) || !validScore(req.EnergyScore) || !validScore(req.SleepScore) {
		return nil, pkgerrors.CheckInScoresInvalid
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return nil, pkgerrors.InvalidRequest
	}
	if req.Latitude != nil && (*req.Latitude < -90 || *req.Latitude > 90 || *req.Longitude < -180 || *req.Longitude > 180) {
		return nil, pkgerrors.InvalidRequest
	}

	now := s.now().UTC()
	checkIn := &model.CheckIn{
		CheckerID:   checkerID,
		CheckedInAt: now,
		MoodScore:   req.MoodScore,
		EnergyScore: req.EnergyScore,
		SleepScore:  req.SleepScore,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Address:     req.Address,
	}
	if err := s.checkIns.Create(ctx, checkIn); err != nil {
		return nil, err
	}

	resolved, err := s.alerts.ResolveOpenForChecker(ctx, checkerID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alerts after check-in: %w", err)
	}

	ids := make([]int64, 0, len(resolved))
	for i := range resolved {
		ids = append(ids, resolved[i].ID)
		publish(ctx, s.events, model.AlertEventResolved, &resolved[i])
	}
	if len(ids) > 0 {
		logger.Ctx(ctx).Info("Check-in resolved open alerts",
			zap.Int64("checker_id", checkerID),
			zap.Int64s("alert_ids", ids),
		)
	}

	return &model.CheckInResponse{CheckIn: *checkIn, ResolvedAlerts: ids}, nil
}

// Today 当天打卡状态，没有生效计划时按用户时区的自然日计算
func (s *CheckInService) Today(ctx context.Context, checkerID int64) (*model.TodayCheckInResponse, error) {
	now := s.now()

	sched, err := s.schedules.ActiveFor(ctx, checkerID)
	if err != nil {
		return nil, err
	}

	resp := &model.TodayCheckInResponse{}
	var dayStart time.Time
	if sched != nil {
		w := schedule.WindowFor(sched, now)
		resp.Day = w.Day
		resp.WindowEnd = &w.End
		resp.Deadline = &w.Deadline
		dayStart = w.DayStart
	} else {
		user, err := s.users.GetByID(ctx, checkerID)
		if err != nil {
			return nil, err
		}
		loc, err := time.LoadLocation(user.Timezone)
		if err != nil {
			loc = time.UTC
		}
		local := now.In(loc)
		dayStart = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		resp.Day = local.Format("2006-01-02")
	}

	resp.CheckedIn, err = s.checkIns.HasCheckedInSince(ctx, checkerID, dayStart)
	if err != nil {
		return nil, err
	}
	latest, err := s.checkIns.Latest(ctx, checkerID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		at := latest.CheckedInAt
		resp.LastAt = &at
	}
	resp.OpenAlerts, err = s.alerts.CountOpenForChecker(ctx, checkerID)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
