package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"SafeCircle/internal/cache"
	"SafeCircle/internal/model"
	"SafeCircle/internal/repository"
	"SafeCircle/internal/service"
	"SafeCircle/internal/testutil"
	pkgerrors "SafeCircle/pkg/errors"
)

var now = time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)

type publishedEvent struct {
	Type    model.AlertEventType
	AlertID int64
	Status  model.AlertStatus
}

type fakeEvents struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakeEvents) PublishAlertEvent(_ context.Context, t model.AlertEventType, a *model.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{Type: t, AlertID: a.ID, Status: a.Status})
	return nil
}

func (f *fakeEvents) types() []model.AlertEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.AlertEventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeDispatcher struct {
	levels   []model.AlertLevel
	notified []int64
	err      error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ *model.AlertEvent, level model.AlertLevel) ([]int64, error) {
	f.levels = append(f.levels, level)
	return f.notified, f.err
}

type fakeCalls map[string]cache.CallContext

func (f fakeCalls) Lookup(_ context.Context, token string) (*cache.CallContext, bool, error) {
	c, ok := f[token]
	if !ok {
		return nil, false, nil
	}
	return &c, true, nil
}

type env struct {
	db     *gorm.DB
	alerts *repository.AlertRepo
	events *fakeEvents
	disp   *fakeDispatcher
	calls  fakeCalls
	deps   service.Deps
}

func newEnv(t *testing.T) *env {
	db := testutil.DB(t)
	e := &env{
		db:     db,
		alerts: repository.NewAlertRepo(db),
		events: &fakeEvents{},
		disp:   &fakeDispatcher{},
		calls:  fakeCalls{},
	}
	e.deps = service.Deps{
		Users:         repository.NewUserRepo(db),
		Schedules:     repository.NewScheduleRepo(db),
		CheckIns:      repository.NewCheckInRepo(db),
		Alerts:        e.alerts,
		Circles:       repository.NewCircleRepo(db),
		Devices:       repository.NewDeviceRepo(db),
		Events:        e.events,
		Dispatcher:    e.disp,
		Calls:         e.calls,
		PublicBaseURL: "https://sc.example",
		DispatchLease: 10 * time.Minute,
		Now:           func() time.Time { return now },
	}
	return e
}

func (e *env) reload(t *testing.T, id int64) *model.AlertEvent {
	t.Helper()
	a, err := e.alerts.GetByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestCheckIn_RecordResolvesOpenAlerts(t *testing.T) {
	e := newEnv(t)
	checker := testutil.SeedUser(t, e.db, "Mia", "UTC")
	older := testutil.SeedAlert(t, e.db, checker.ID, "2026-03-09", model.AlertLevelHard, now.Add(-40*time.Hour))
	newer := testutil.SeedAlert(t, e.db, checker.ID, "2026-03-10", model.AlertLevelReminder, now.Add(-16*time.Hour))
	other := testutil.SeedUser(t, e.db, "Ben", "UTC")
	untouched := testutil.SeedAlert(t, e.db, other.ID, "2026-03-10", model.AlertLevelSoft, now.Add(-25*time.Hour))

	svc := service.NewCheckInService(e.deps)
	resp, err := svc.Record(context.Background(), checker.ID, model.RecordCheckInRequest{MoodScore: 4, EnergyScore: 3, SleepScore: 5})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{older.ID, newer.ID}, resp.ResolvedAlerts)

	for _, id := range []int64{older.ID, newer.ID} {
		a := e.reload(t, id)
		assert.Equal(t, model.AlertStatusResolved, a.Status)
		require.NotNil(t, a.Resolution)
		assert.Equal(t, model.ResolutionCheckedIn, *a.Resolution)
		assert.Nil(t, a.ResolvedBy)
	}
	assert.Equal(t, model.AlertStatusSent, e.reload(t, untouched.ID).Status)
	assert.Equal(t, []model.AlertEventType{model.AlertEventResolved, model.AlertEventResolved}, e.events.types())
}

func TestCheckIn_RecordValidation(t *testing.T) {
	e := newEnv(t)
	svc := service.NewCheckInService(e.deps)
	lat := 40.7

	_, err := svc.Record(context.Background(), 1, model.RecordCheckInRequest{MoodScore: 0, EnergyScore: 3, SleepScore: 3})
	assert.ErrorIs(t, err, pkgerrors.CheckInScoresInvalid)

	_, err = svc.Record(context.Background(), 1, model.RecordCheckInRequest{MoodScore: 3, EnergyScore: 6, SleepScore: 3})
	assert.ErrorIs(t, err, pkgerrors.CheckInScoresInvalid)

	_, err = svc.Record(context.Background(), 1, model.RecordCheckInRequest{MoodScore: 3, EnergyScore: 3, SleepScore: 3, Latitude: &lat})
	assert.ErrorIs(t, err, pkgerrors.InvalidRequest)
}

func TestCheckIn_Today(t *testing.T) {
	e := newEnv(t)
	checker := testutil.SeedUser(t, e.db, "Mia", "America/New_York")
	testutil.SeedSchedule(t, e.db, checker.ID, "America/New_York", 21, 30)
	testutil.SeedAlert(t, e.db, checker.ID, "2026-03-10", model.AlertLevelReminder, now.Add(-14*time.Hour))

	svc := service.NewCheckInService(e.deps)
	today, err := svc.Today(context.Background(), checker.ID)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-11", today.Day)
	assert.False(t, today.CheckedIn)
	assert.Equal(t, int64(1), today.OpenAlerts)
	require.NotNil(t, today.Deadline)
	assert.WithinDuration(t, time.Date(2026, 3, 12, 1, 30, 0, 0, time.UTC), *today.Deadline, 0)

	_, err = svc.Record(context.Background(), checker.ID, model.RecordCheckInRequest{MoodScore: 3, EnergyScore: 3, SleepScore: 3})
	require.NoError(t, err)

	today, err = svc.Today(context.Background(), checker.ID)
	require.NoError(t, err)
	assert.True(t, today.CheckedIn)
	assert.Equal(t, int64(0), today.OpenAlerts)
	require.NotNil(t, today.LastAt)
}

func TestCheckIn_TodayWithoutSchedule(t *testing.T) {
	e := newEnv(t)
	checker := testutil.SeedUser(t, e.db, "Kai", "Asia/Kolkata")

	today, err := service.NewCheckInService(e.deps).Today(context.Background(), checker.ID)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-11", today.Day)
	assert.Nil(t, today.Deadline)
}

func TestAlert_AcknowledgeKeepsAlertOpen(t *testing.T) {
	e := newEnv(t)
	checker := testutil.SeedUser(t, e.db, "Mia", "UTC")
	supporter := testutil.SeedUser(t, e.db, "Ana", "UTC")
	link := testutil.SeedLink(t, e.db, checker.ID, "Ana", 1, testutil.WithSupporterUser(supporter.ID))
	alert := testutil.SeedAlert(t, e.db, checker.ID, "2026-03-10", model.AlertLevelSoft, now.Add(-25*time.Hour))

	svc := service.NewAlertService(e.deps)
	v, err := svc.Acknowledge(context.Background(), supporter.ID, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertStatusAcknowledged, v.Status)
	require.NotNil(t, v.AcknowledgedBy)
	assert.Equal(t, link.ID, *v.AcknowledgedBy)
	assert.Nil(t, v.ResolvedAt)
	assert.Equal(t, "Mia", v.CheckerName)

	again, err := svc.Acknowledge(context.Background(), supporter.ID, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertStatusAcknowledged, again.Status)
	assert.Equal(t, []model.AlertEventType{model.AlertEventAcknowledged}, e.events.types())
}

func TestAlert_AcknowledgeRequiresAcceptedLink(t *testing.T) {
	e := newEnv(t)
	checker := testutil.SeedUser(t, e.db, "Mia", "UTC")
	invited := testutil.SeedUser(t, e.db, "Zed", "UTC")
	testutil.SeedLink(t, e.db, checker.ID, "Zed", 1, testutil.WithSupporterUser(invited.ID), testutil.Pending())
	stranger := testutil.SeedUser(t, e.db, "Eve", "UTC")
	alert := testutil.SeedAlert(t, e.db, checker.ID, "2026-03-10", model.AlertLevelSoft, now.Add(-25*time.Hour))

	svc := service.NewAlertService(e.deps)
	_, err := svc.Acknowledge(context.Background(), invited.ID, alert.ID)
	assert.ErrorIs(t, err, pkgerrors.NotInCircle)
	_, err = svc.Acknowledge(context.Background(), stranger.ID, alert.ID)
	assert.ErrorIs(t, err, pkgerrors.NotInCircle)
	_, err = svc.Acknowledge(context.Background(), stranger.ID, 999999)
	assert.ErrorIs(t, err, pkgerrors.AlertNotFound)
}

func TestAlert_Resolve(t *testing.T) {
	e := newEnv(t)
	checker := testutil.SeedUser(t, e.db, "Mia", "UTC")
	supporter := testutil.SeedUser(t, e.db, "Ana", "UTC")
	link := testutil.SeedLink(t, e.db, checker.ID, "Ana", 1, testutil.WithSupporterUser(supporter.ID))
	alert := testutil.SeedAlert(t, e.db, checker.ID, "2026-03-10", model.AlertLevelHard, now.Add(-37*time.Hour))
	svc := service.NewAlertService(e.deps)

	_, err := svc.Resolve(context.Background(), supporter.ID, alert.ID, model.ResolveAlertRequest{Reason: "bored"})
	assert.ErrorIs(t, err, pkgerrors.ResolutionInvalid)

	_, err = svc.Resolve(context.Background(), supporter.ID, alert.ID, model.ResolveAlertRequest{Reason: model.ResolutionCancelled})
	assert.ErrorIs(t, err, pkgerrors.ResolutionInvalid)

	long := strings.Repeat("é", 1001)
	_, err = svc.Resolve(context.Background(), supporter.ID, alert.ID, model.ResolveAlertRequest{Reason: model.ResolutionContacted, Notes: &long})
	assert.ErrorIs(t, err, pkgerrors.ResolutionNotesLong)

	notes := "Spoke to her, phone died"
	v, err := svc.Resolve(context.Background(), supporter.ID, alert.ID, model.ResolveAlertRequest{Reason: model.ResolutionContacted, Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, model.AlertStatusResolved, v.Status)
	require.NotNil(t, v.ResolvedBy)
	assert.Equal(t, link.ID, *v.ResolvedBy)
	require.NotNil(t, v.ResolutionNotes)
	assert.Equal(t, notes, *v.ResolutionNotes)

	_, err = svc.Resolve(context.Background(), supporter.ID, alert.ID, model.ResolveAlertRequest{Reason: model.ResolutionOther})
	assert.ErrorIs(t, err, pkgerrors.AlertClosed)
	_, err = svc.Acknowledge(context.Background(), supporter.ID, alert.ID)
	assert.ErrorIs(t, err, pkgerrors.AlertClosed)
}

func TestAlert_Cancel(t *testing.T) {
	e := newEnv(t)
	checker := testutil.SeedUser(t, e.db, "Mia", "UTC")
	other := testutil.SeedUser(t, e.db, "Ben", "UTC")
	alert := testutil.SeedAlert(t, e.db, checker.ID, "2026-03-11", model.AlertLevelReminder, now.Add(-time.Hour))
	svc := service.NewAlertService(e.deps)

	_, err := svc.Cancel(context.Background(), other.ID, alert.ID)
	assert.ErrorIs(t, err, pkgerrors.AlertNotOwned)

	v, err := svc.Cancel(context.Background(), checker.ID, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertStatusCancelled, v.Status)
	require.NotNil(t, v.ResolvedAt)

	_, err = svc.Cancel(context.Background(), checker.ID, alert.ID)
	assert.ErrorIs(t, err, pkgerrors.AlertClosed)
	assert.Equal(t, []model.AlertEventType{model.AlertEventCancelled}, e.events.types())
}

func TestAlert_HistoryRespectsLocationVisibility(t *testing.T) {
	e := newEnv(t)
	mia := testutil.SeedUser(t, e.db, "Mia", "UTC")
	kai := testutil.SeedUser(t, e.db, "Kai", "UTC")
	ana := testutil.SeedUser(t, e.db, "Ana", "UTC")
	testutil.SeedLink(t, e.db, mia.ID, "Ana", 1, testutil.WithSupporterUser(ana.ID), func(l *model.CircleLink) { l.CanSeeLocation = true })
	testutil.SeedLink(t, e.db, kai.ID, "Ana", 1, testutil.WithSupporterUser(ana.ID))

	loc := "12 Elm St"
	for _, c := range []*model.User{mia, kai} {
		a := testutil.SeedAlert(t, e.db, c.ID, "2026-03-10", model.AlertLevelSoft, now.Add(-25*time.Hour))
		require.NoError(t, e.db.Model(a).Update("last_known_location", loc).Error)
	}

	svc := service.NewAlertService(e.deps)
	views, err := svc.History(context.Background(), ana.ID, service.RoleSupporter, 0, 0)
	require.NoError(t, err)
	require.Len(t, views, 2)
	for _, v := range views {
		switch v.CheckerName {
		case "Mia":
			require.NotNil(t, v.LastKnownLocation)
			assert.Equal(t, loc, *v.LastKnownLocation)
		case "Kai":
			assert.Nil(t, v.LastKnownLocation)
		default:
			t.Fatalf("unexpected checker %q", v.CheckerName)
		}
	}

	own, err := svc.History(context.Background(), mia.ID, service.RoleChecker, 0, 0)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.NotNil(t, own[0].LastKnownLocation)

	_, err = svc.History(context.Background(), mia.ID, "admin", 0, 0)
	assert.ErrorIs(t, err, pkgerrors.InvalidRequest)
}

func TestAlert_TriggerSOS(t *testing.T) {
	e := newEnv(t)
	checker := testutil.SeedUser(t, e.db, "Mia", "Australia/Sydney")
	e.disp.notified = []int64{11, 12}
	svc := service.NewAlertService(e.deps)

	v, err := svc.TriggerSOS(context.Background(), checker.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertLevelHard, v.Level)
	assert.Equal(t, []model.AlertLevel{model.AlertLevelHard}, e.disp.levels)
	assert.Equal(t, []int64{11, 12}, v.NotifiedSupporterIDs)

	stored := e.reload(t, v.ID)
	assert.Equal(t, model.AlertSourceManual, stored.Source)
	assert.Equal(t, "2026-03-12", stored.AlertDay, "local day in Sydney")
	assert.False(t, stored.DispatchPending)
	assert.Equal(t, []int64{11, 12}, []int64(stored.NotifiedSupporterIDs))

	_, err = svc.TriggerSOS(context.Background(), checker.ID)
	assert.ErrorIs(t, err, pkgerrors.ManualAlertExhausted)
	assert.Equal(t, []model.AlertEventType{model.AlertEventCreated}, e.events.types())
}

func TestAlert_TriggerSOSEscalatesOpenMissedAlert(t *testing.T) {
	e := newEnv(t)
	checker := testutil.SeedUser(t, e.db, "Mia", "UTC")
	missed := testutil.SeedAlert(t, e.db, checker.ID, "2026-03-11", model.AlertLevelReminder, now.Add(-2*time.Hour))
	e.disp.notified = []int64{21}
	svc := service.NewAlertService(e.deps)

	v, err := svc.TriggerSOS(context.Background(), checker.ID)
	require.NoError(t, err)
	assert.Equal(t, missed.ID, v.ID)
	assert.Equal(t, model.AlertLevelHard, v.Level)
	assert.Equal(t, []model.AlertLevel{model.AlertLevelHard}, e.disp.levels)
	assert.Equal(t, []model.AlertEventType{model.AlertEventEscalated}, e.events.types())

	stored := e.reload(t, missed.ID)
	assert.Equal(t, model.AlertSourceMissedWindow, stored.Source)
	assert.Equal(t, model.AlertLevelHard, stored.Level)
	assert.Equal(t, model.AlertStatusSent, stored.Status)
	assert.False(t, stored.DispatchPending)
	assert.Equal(t, []int64{21}, []int64(stored.NotifiedSupporterIDs))

	var open int64
	require.NoError(t, e.db.Model(&model.AlertEvent{}).
		Where("checker_id = ? AND alert_day = ? AND status IN ?", checker.ID, "2026-03-11",
			[]string{string(model.AlertStatusPending), string(model.AlertStatusSent)}).
		Count(&open).Error)
	assert.Equal(t, int64(1), open)

	// already at hard: no second row and no second fan-out
	again, err := svc.TriggerSOS(context.Background(), checker.ID)
	require.NoError(t, err)
	assert.Equal(t, missed.ID, again.ID)
	assert.Len(t, e.disp.levels, 1)
}

func TestAlert_TriggerSOSWhileDispatchInFlight(t *testing.T) {
	e := newEnv(t)
	checker := testutil.SeedUser(t, e.db, "Mia", "UTC")
	missed := testutil.SeedAlert(t, e.db, checker.ID, "2026-03-11", model.AlertLevelSoft, now.Add(-25*time.Hour))
	require.NoError(t, e.db.Model(missed).Update("dispatch_pending", true).Error)

	_, err := service.NewAlertService(e.deps).TriggerSOS(context.Background(), checker.ID)
	assert.ErrorIs(t, err, pkgerrors.AlertDispatchBusy)
	assert.Empty(t, e.disp.levels)
	assert.Equal(t, model.AlertLevelSoft, e.reload(t, missed.ID).Level)
}

func TestAlert_TriggerSOSLeavesClaimOnFailure(t *testing.T) {
	e := newEnv(t)
	checker := testutil.SeedUser(t, e.db, "Mia", "UTC")
	e.disp.err = errors.New("store down")

	v, err := service.NewAlertService(e.deps).TriggerSOS(context.Background(), checker.ID)
	require.NoError(t, err)

	stored := e.reload(t, v.ID)
	assert.True(t, stored.DispatchPending)
	require.NotNil(t, stored.DispatchLeaseUntil)
	assert.WithinDuration(t, now.Add(10*time.Minute), *stored.DispatchLeaseUntil, time.Second)
}

func TestDevice_Register(t *testing.T) {
	e := newEnv(t)
	user := testutil.SeedUser(t, e.db, "Mia", "UTC")
	svc := service.NewDeviceService(e.deps)

	err := svc.Register(context.Background(), user.ID, model.RegisterDeviceRequest{Platform: "android", Token: strings.Repeat("a", 64)})
	assert.ErrorIs(t, err, pkgerrors.DeviceTokenInvalid)
	err = svc.Register(context.Background(), user.ID, model.RegisterDeviceRequest{Token: "short"})
	assert.ErrorIs(t, err, pkgerrors.DeviceTokenInvalid)

	token := strings.Repeat("AB", 32)
	require.NoError(t, svc.Register(context.Background(), user.ID, model.RegisterDeviceRequest{Platform: "iOS", Token: token}))

	tokens, err := repository.NewDeviceRepo(e.db).ActiveTokens(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{strings.ToLower(token)}, tokens)
}

func TestVoice_Flow(t *testing.T) {
	e := newEnv(t)
	checker := testutil.SeedUser(t, e.db, "Mia", "UTC")
	link := testutil.SeedLink(t, e.db, checker.ID, "Ana", 1, testutil.WithPhone("+14155550101"))
	alert := testutil.SeedAlert(t, e.db, checker.ID, "2026-03-10", model.AlertLevelHard, now.Add(-37*time.Hour))
	e.calls["tok"] = cache.CallContext{
		AlertID:      alert.ID,
		CircleLinkID: link.ID,
		CheckerName:  "Mia",
		CheckerPhone: "+1 (415) 555-0100",
		HoursMissed:  37,
	}
	svc := service.NewVoiceService(e.deps)
	ctx := context.Background()

	out, err := svc.Handle(ctx, "tok", "")
	require.NoError(t, err)
	body := string(out)
	assert.Contains(t, body, "Mia has not checked in for 37 hours")
	assert.Contains(t, body, `action="https://sc.example/v1/voice/calls/tok"`)
	assert.Contains(t, body, `numDigits="1"`)

	out, err = svc.Handle(ctx, "tok", "2")
	require.NoError(t, err)
	assert.Contains(t, string(out), "1 4 1 5 5 5 5 0 1 0 0")

	out, err = svc.Handle(ctx, "tok", "7")
	require.NoError(t, err)
	assert.Contains(t, string(out), "not a valid option")

	out, err = svc.Handle(ctx, "tok", "1")
	require.NoError(t, err)
	assert.Contains(t, string(out), "<Hangup>")
	stored := e.reload(t, alert.ID)
	assert.Equal(t, model.AlertStatusAcknowledged, stored.Status)
	require.NotNil(t, stored.AcknowledgedBy)
	assert.Equal(t, link.ID, *stored.AcknowledgedBy)

	out, err = svc.Handle(ctx, "expired", "")
	require.NoError(t, err)
	assert.Contains(t, string(out), "no longer active")

	_, err = e.alerts.Resolve(ctx, alert.ID, nil, model.ResolutionCheckedIn, nil, now)
	require.NoError(t, err)
	out, err = svc.Handle(ctx, "tok", "1")
	require.NoError(t, err)
	assert.Contains(t, string(out), "already been resolved")
}
