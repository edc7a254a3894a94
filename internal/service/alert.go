package service

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"SafeCircle/internal/model"
	"SafeCircle/internal/repository"
	pkgerrors "SafeCircle/pkg/errors"
	"SafeCircle/pkg/logger"
)

const maxResolutionNotes = 1000

type AlertService struct {
	users      UserStore
	alerts     AlertStore
	circles    CircleStore
	events     EventPublisher
	dispatcher Dispatcher
	lease      time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

func NewAlertService(d Deps) *AlertService {
	lease := d.DispatchLease
	if lease <= 0 {
		lease = 10 * time.Minute
	}
	return &AlertService{
		users:      d.Users,
		alerts:     d.Alerts,
		circles:    d.Circles,
		events:     d.Events,
		dispatcher: d.Dispatcher,
		lease:      lease,
		now:        nowFunc(d),
		logger:     logger.Named("alert"),
	}
}

func (s *AlertService) load(ctx context.Context, alertID int64) (*model.AlertEvent, error) {
	alert, err := s.alerts.GetByID(ctx, alertID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, pkgerrors.AlertNotFound
	}
	return alert, err
}

// supporterLink 当前用户必须是该打卡人的有效支持者
func (s *AlertService) supporterLink(ctx context.Context, checkerID, userID int64) (*model.CircleLink, error) {
	link, err := s.circles.LinkForSupporter(ctx, checkerID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, pkgerrors.NotInCircle
	}
	return link, err
}

func (s *AlertService) view(ctx context.Context, alert *model.AlertEvent, canSeeLocation bool) (model.AlertView, error) {
	checker, err := s.users.GetByID(ctx, alert.CheckerID)
	if err != nil {
		return model.AlertView{}, err
	}
	return model.NewAlertView(alert, checker.DisplayName(), canSeeLocation), nil
}

// Acknowledge 支持者确认收到，升级继续进行
// 对已确认的告警重复确认直接返回当前状态
func (s *AlertService) Acknowledge(ctx context.Context, userID, alertID int64) (*model.AlertView, error) {
	alert, err := s.load(ctx, alertID)
	if err != nil {
		return nil, err
	}
	link, err := s.supporterLink(ctx, alert.CheckerID, userID)
	if err != nil {
		return nil, err
	}

	ok, err := s.alerts.Acknowledge(ctx, alert.ID, link.ID, s.now())
	if err != nil {
		return nil, err
	}
	if alert, err = s.load(ctx, alertID); err != nil {
		return nil, err
	}
	if !ok {
		if !alert.IsOpen() {
			return nil, pkgerrors.AlertClosed
		}
	} else {
		publish(ctx, s.events, model.AlertEventAcknowledged, alert)
		s.logger.Info("Alert acknowledged",
			zap.Int64("alert_id", alert.ID),
			zap.Int64("link_id", link.ID),
			zap.String("level", string(alert.Level)),
		)
	}

	v, err := s.view(ctx, alert, link.CanSeeLocation)
	return &v, err
}

// Resolve 支持者手动关闭
func (s *AlertService) Resolve(ctx context.Context, userID, alertID int64, req model.ResolveAlertRequest) (*model.AlertView, error) {
	if !req.Reason.ValidSupporterReason() {
		return nil, pkgerrors.ResolutionInvalid
	}
	if req.Notes != nil && utf8.RuneCountInString(*req.Notes) > maxResolutionNotes {
		return nil, pkgerrors.ResolutionNotesLong
	}

	alert, err := s.load(ctx, alertID)
	if err != nil {
		return nil, err
	}
	link, err := s.supporterLink(ctx, alert.CheckerID, userID)
	if err != nil {
		return nil, err
	}

	linkID := link.ID
	ok, err := s.alerts.Resolve(ctx, alert.ID, &linkID, req.Reason, req.Notes, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.AlertClosed
	}

	if alert, err = s.load(ctx, alertID); err != nil {
		return nil, err
	}
	publish(ctx, s.events, model.AlertEventResolved, alert)
	s.logger.Info("Alert resolved by supporter",
		zap.Int64("alert_id", alert.ID),
		zap.Int64("link_id", link.ID),
		zap.String("reason", string(req.Reason)),
	)

	v, err := s.view(ctx, alert, link.CanSeeLocation)
	return &v, err
}

// Cancel 打卡人取消自己的告警
func (s *AlertService) Cancel(ctx context.Context, checkerID, alertID int64) (*model.AlertView, error) {
	alert, err := s.load(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.CheckerID != checkerID {
		return nil, pkgerrors.AlertNotOwned
	}

	ok, err := s.alerts.Cancel(ctx, alert.ID, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.AlertClosed
	}

	if alert, err = s.load(ctx, alertID); err != nil {
		return nil, err
	}
	publish(ctx, s.events, model.AlertEventCancelled, alert)

	v, err := s.view(ctx, alert, true)
	return &v, err
}

// HistoryRole 查看角色
type HistoryRole string

const (
	RoleChecker   HistoryRole = "checker"
	RoleSupporter HistoryRole = "supporter"
)

// History 告警历史，supporter 视角按各自关系的位置可见性裁剪
func (s *AlertService) History(ctx context.Context, userID int64, role HistoryRole, beforeID int64, limit int) ([]model.AlertView, error) {
	switch role {
	case RoleChecker, "":
		alerts, err := s.alerts.ListForCheckers(ctx, []int64{userID}, beforeID, limit)
		if err != nil {
			return nil, err
		}
		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		out := make([]model.AlertView, 0, len(alerts))
		for i := range alerts {
			out = append(out, model.NewAlertView(&alerts[i], user.DisplayName(), true))
		}
		return out, nil

	case RoleSupporter:
		links, err := s.circles.LinksForSupporter(ctx, userID)
		if err != nil {
			return nil, err
		}
		if len(links) == 0 {
			return []model.AlertView{}, nil
		}
		byChecker := make(map[int64]model.CircleLink, len(links))
		checkerIDs := make([]int64, 0, len(links))
		for _, l := range links {
			if _, ok := byChecker[l.CheckerID]; !ok {
				checkerIDs = append(checkerIDs, l.CheckerID)
			}
			byChecker[l.CheckerID] = l
		}

		alerts, err := s.alerts.ListForCheckers(ctx, checkerIDs, beforeID, limit)
		if err != nil {
			return nil, err
		}
		users, err := s.users.GetByIDs(ctx, checkerIDs)
		if err != nil {
			return nil, err
		}
		out := make([]model.AlertView, 0, len(alerts))
		for i := range alerts {
			a := &alerts[i]
			out = append(out, model.NewAlertView(a, users[a.CheckerID].DisplayName(), byChecker[a.CheckerID].CanSeeLocation))
		}
		return out, nil

	default:
		return nil, pkgerrors.InvalidRequest
	}
}
