package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SafeCircle/internal/model"
	"SafeCircle/internal/repository"
	"SafeCircle/internal/testutil"
)

func newClaim(token string) model.DispatchClaim {
	return model.DispatchClaim{Token: token, LeaseUntil: time.Now().UTC().Add(10 * time.Minute)}
}

func TestAlertRepo_CreateIfAbsent_OnePerCheckerDay(t *testing.T) {
	db := testutil.DB(t)
	repo := repository.NewAlertRepo(db)
	ctx := context.Background()
	checker := testutil.SeedUser(t, db, "Mia", "UTC")
	missed := time.Date(2026, 3, 2, 20, 30, 0, 0, time.UTC)

	newAlert := func() *model.AlertEvent {
		return &model.AlertEvent{
			CheckerID:      checker.ID,
			AlertDay:       "2026-03-02",
			Source:         model.AlertSourceMissedWindow,
			Level:          model.AlertLevelReminder,
			Status:         model.AlertStatusPending,
			TriggeredAt:    missed.Add(time.Minute),
			MissedWindowAt: missed,
		}
	}

	created, err := repo.CreateIfAbsent(ctx, newAlert())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateIfAbsent(ctx, newAlert())
	require.NoError(t, err)
	assert.False(t, created, "second insert for the same day must be a no-op")

	exists, err := repo.ExistsForDay(ctx, checker.ID, "2026-03-02")
	require.NoError(t, err)
	assert.True(t, exists)

	var count int64
	require.NoError(t, db.Model(&model.AlertEvent{}).Where("checker_id = ?", checker.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAlertRepo_OneOpenAlertPerCheckerDay(t *testing.T) {
	db := testutil.DB(t)
	repo := repository.NewAlertRepo(db)
	ctx := context.Background()
	checker := testutil.SeedUser(t, db, "Mia", "UTC")
	missed := testutil.SeedAlert(t, db, checker.ID, "2026-03-02", model.AlertLevelReminder, time.Now().Add(-2*time.Hour))

	manual := &model.AlertEvent{
		CheckerID:      checker.ID,
		AlertDay:       "2026-03-02",
		Source:         model.AlertSourceManual,
		Level:          model.AlertLevelHard,
		Status:         model.AlertStatusSent,
		TriggeredAt:    time.Now().UTC(),
		MissedWindowAt: time.Now().UTC(),
	}
	created, err := repo.CreateIfAbsent(ctx, manual)
	require.NoError(t, err)
	assert.False(t, created, "a pending missed-window alert already holds the day")

	open, err := repo.OpenForDay(ctx, checker.ID, "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, missed.ID, open.ID)

	closed, err := repo.Cancel(ctx, missed.ID, time.Now())
	require.NoError(t, err)
	require.True(t, closed)

	_, err = repo.OpenForDay(ctx, checker.ID, "2026-03-02")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	manual.ID = 0
	created, err = repo.CreateIfAbsent(ctx, manual)
	require.NoError(t, err)
	assert.True(t, created, "the day is free once the earlier alert is closed")

	// 漏打卡告警已关闭，当天仍视为已检测
	exists, err := repo.ExistsForDay(ctx, checker.ID, "2026-03-02")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAlertRepo_ExistsForDay_OpenManualAlert(t *testing.T) {
	db := testutil.DB(t)
	repo := repository.NewAlertRepo(db)
	ctx := context.Background()
	checker := testutil.SeedUser(t, db, "Mia", "UTC")

	exists, err := repo.ExistsForDay(ctx, checker.ID, "2026-03-02")
	require.NoError(t, err)
	assert.False(t, exists)

	manual := &model.AlertEvent{
		CheckerID:      checker.ID,
		AlertDay:       "2026-03-02",
		Source:         model.AlertSourceManual,
		Level:          model.AlertLevelHard,
		Status:         model.AlertStatusSent,
		TriggeredAt:    time.Now().UTC(),
		MissedWindowAt: time.Now().UTC(),
	}
	require.NoError(t, db.Create(manual).Error)

	exists, err = repo.ExistsForDay(ctx, checker.ID, "2026-03-02")
	require.NoError(t, err)
	assert.True(t, exists)

	closed, err := repo.Resolve(ctx, manual.ID, nil, model.ResolutionFalseAlarm, nil, time.Now())
	require.NoError(t, err)
	require.True(t, closed)

	exists, err = repo.ExistsForDay(ctx, checker.ID, "2026-03-02")
	require.NoError(t, err)
	assert.False(t, exists, "a closed manual alert does not block detection")
}

func TestAlertRepo_TryAdvance_SingleWinner(t *testing.T) {
	db := testutil.DB(t)
	repo := repository.NewAlertRepo(db)
	ctx := context.Background()
	checker := testutil.SeedUser(t, db, "Mia", "UTC")
	alert := testutil.SeedAlert(t, db, checker.ID, "2026-03-02", model.AlertLevelReminder, time.Now().Add(-25*time.Hour))

	const racers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := repo.TryAdvance(ctx, alert.ID, model.AlertLevelReminder, model.AlertLevelSoft, newClaim("claim"))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	got, err := repo.GetByID(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertLevelSoft, got.Level)
	assert.Equal(t, model.AlertStatusSent, got.Status)
	assert.True(t, got.DispatchPending)
	require.NotNil(t, got.DispatchToken)
	assert.Equal(t, "claim", *got.DispatchToken)
}

func TestAlertRepo_TryAdvance_KeepsAcknowledged(t *testing.T) {
	db := testutil.DB(t)
	repo := repository.NewAlertRepo(db)
	ctx := context.Background()
	checker := testutil.SeedUser(t, db, "Mia", "UTC")
	link := testutil.SeedLink(t, db, checker.ID, "Ana", 1)
	alert := testutil.SeedAlert(t, db, checker.ID, "2026-03-02", model.AlertLevelSoft, time.Now().Add(-37*time.Hour))

	ok, err := repo.Acknowledge(ctx, alert.ID, link.ID, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.TryAdvance(ctx, alert.ID, model.AlertLevelSoft, model.AlertLevelHard, newClaim("c1"))
	require.NoError(t, err)
	assert.True(t, ok, "acknowledged alerts keep escalating")

	got, err := repo.GetByID(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertLevelHard, got.Level)
	assert.Equal(t, model.AlertStatusAcknowledged, got.Status)
	require.NotNil(t, got.AcknowledgedBy)
	assert.Equal(t, link.ID, *got.AcknowledgedBy)
}

func TestAlertRepo_TryAdvance_StaleOrResolved(t *testing.T) {
	db := testutil.DB(t)
	repo := repository.NewAlertRepo(db)
	ctx := context.Background()
	checker := testutil.SeedUser(t, db, "Mia", "UTC")
	alert := testutil.SeedAlert(t, db, checker.ID, "2026-03-02", model.AlertLevelSoft, time.Now().Add(-37*time.Hour))

	ok, err := repo.TryAdvance(ctx, alert.ID, model.AlertLevelReminder, model.AlertLevelSoft, newClaim("stale"))
	require.NoError(t, err)
	assert.False(t, ok, "expected level no longer matches")

	_, err = repo.TryAdvance(ctx, alert.ID, model.AlertLevelHard, model.AlertLevelSoft, newClaim("down"))
	assert.Error(t, err, "levels never decrease")

	resolved, err := repo.ResolveOpenForChecker(ctx, checker.ID, time.Now())
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, alert.ID, resolved[0].ID)

	ok, err = repo.TryAdvance(ctx, alert.ID, model.AlertLevelSoft, model.AlertLevelHard, newClaim("late"))
	require.NoError(t, err)
	assert.False(t, ok, "resolved alerts never advance")

	got, err := repo.GetByID(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertLevelSoft, got.Level)
	assert.Equal(t, model.AlertStatusResolved, got.Status)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, model.ResolutionCheckedIn, *got.Resolution)
	assert.Nil(t, got.ResolvedBy)
}

func TestAlertRepo_Dispatch_ClaimAndComplete(t *testing.T) {
	db := testutil.DB(t)
	repo := repository.NewAlertRepo(db)
	ctx := context.Background()
	checker := testutil.SeedUser(t, db, "Mia", "UTC")
	alert := testutil.SeedAlert(t, db, checker.ID, "2026-03-02", model.AlertLevelReminder, time.Now().Add(-25*time.Hour))

	expired := model.DispatchClaim{Token: "first", LeaseUntil: time.Now().UTC().Add(-time.Minute)}
	ok, err := repo.TryAdvance(ctx, alert.ID, model.AlertLevelReminder, model.AlertLevelSoft, expired)
	require.NoError(t, err)
	require.True(t, ok)

	// the next level waits for this fan-out to finish
	ok, err = repo.TryAdvance(ctx, alert.ID, model.AlertLevelSoft, model.AlertLevelHard, newClaim("early"))
	require.NoError(t, err)
	assert.False(t, ok)

	// lease expired: a later tick may take over
	now := time.Now()
	ok, err = repo.ClaimDispatch(ctx, alert.ID, model.AlertLevelSoft, newClaim("second"), now)
	require.NoError(t, err)
	require.True(t, ok)

	// the fresh lease blocks another claimant
	ok, err = repo.ClaimDispatch(ctx, alert.ID, model.AlertLevelSoft, newClaim("third"), now)
	require.NoError(t, err)
	assert.False(t, ok)

	// the original owner lost its claim
	ok, err = repo.CompleteDispatch(ctx, alert.ID, "first", []int64{1})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.CompleteDispatch(ctx, alert.ID, "second", []int64{3, 5})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(ctx, alert.ID)
	require.NoError(t, err)
	assert.False(t, got.DispatchPending)
	assert.Nil(t, got.DispatchToken)
	assert.Equal(t, []int64{3, 5}, []int64(got.NotifiedSupporterIDs))
}

func TestAlertRepo_Resolution_ClearsPendingDispatch(t *testing.T) {
	db := testutil.DB(t)
	repo := repository.NewAlertRepo(db)
	ctx := context.Background()
	checker := testutil.SeedUser(t, db, "Mia", "UTC")
	link := testutil.SeedLink(t, db, checker.ID, "Ana", 1)
	alert := testutil.SeedAlert(t, db, checker.ID, "2026-03-02", model.AlertLevelReminder, time.Now().Add(-25*time.Hour))

	ok, err := repo.TryAdvance(ctx, alert.ID, model.AlertLevelReminder, model.AlertLevelSoft, newClaim("tok"))
	require.NoError(t, err)
	require.True(t, ok)

	notes := "spoke on the phone"
	ok, err = repo.Resolve(ctx, alert.ID, &link.ID, model.ResolutionContacted, &notes, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	// a second close loses
	ok, err = repo.Cancel(ctx, alert.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	// the in-flight fan-out still records who was contacted
	ok, err = repo.CompleteDispatch(ctx, alert.ID, "tok", []int64{link.ID})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertStatusResolved, got.Status)
	assert.False(t, got.DispatchPending)
	require.NotNil(t, got.ResolvedBy)
	assert.Equal(t, link.ID, *got.ResolvedBy)
	require.NotNil(t, got.ResolutionNotes)
	assert.Equal(t, notes, *got.ResolutionNotes)
	assert.True(t, got.Notified(link.ID))

	open, err := repo.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestAlertRepo_Cancel(t *testing.T) {
	db := testutil.DB(t)
	repo := repository.NewAlertRepo(db)
	ctx := context.Background()
	checker := testutil.SeedUser(t, db, "Mia", "UTC")
	alert := testutil.SeedAlert(t, db, checker.ID, "2026-03-02", model.AlertLevelHard, time.Now().Add(-40*time.Hour))

	ok, err := repo.Cancel(ctx, alert.ID, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.GetByID(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertStatusCancelled, got.Status)
	assert.NotNil(t, got.ResolvedAt)
	assert.Nil(t, got.ResolvedBy)

	_, err = repo.GetByID(ctx, alert.ID+100)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAlertRepo_ListForCheckers_Paginates(t *testing.T) {
	db := testutil.DB(t)
	repo := repository.NewAlertRepo(db)
	ctx := context.Background()
	checker := testutil.SeedUser(t, db, "Mia", "UTC")
	other := testutil.SeedUser(t, db, "Leo", "UTC")

	var ids []int64
	for _, day := range []string{"2026-03-01", "2026-03-02", "2026-03-03"} {
		ids = append(ids, testutil.SeedAlert(t, db, checker.ID, day, model.AlertLevelReminder, time.Now()).ID)
	}
	testutil.SeedAlert(t, db, other.ID, "2026-03-01", model.AlertLevelReminder, time.Now())

	page, err := repo.ListForCheckers(ctx, []int64{checker.ID}, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)

	page, err = repo.ListForCheckers(ctx, []int64{checker.ID}, page[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)

	page, err = repo.ListForCheckers(ctx, nil, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}
