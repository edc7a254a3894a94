package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	pkgerrors "SafeCircle/pkg/errors"
)

func TestCircuitBreaker(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("test", 2, time.Minute)
	cb.now = func() time.Time { return now }

	boom := errors.New("boom")
	fail := func(context.Context) error { return boom }
	ok := func(context.Context) error { return nil }
	ctx := context.Background()

	assert.ErrorIs(t, cb.Call(ctx, fail), boom)
	assert.Equal(t, BreakerClosed, cb.State())
	assert.ErrorIs(t, cb.Call(ctx, fail), boom)
	assert.Equal(t, BreakerOpen, cb.State())

	called := false
	err := cb.Call(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, pkgerrors.ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	assert.NoError(t, cb.Call(ctx, ok))
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("test", 1, time.Minute)
	cb.now = func() time.Time { return now }
	ctx := context.Background()
	boom := errors.New("boom")

	_ = cb.Call(ctx, func(context.Context) error { return boom })
	assert.Equal(t, BreakerOpen, cb.State())

	now = now.Add(2 * time.Minute)
	_ = cb.Call(ctx, func(context.Context) error { return boom })
	assert.Equal(t, BreakerOpen, cb.State())
	assert.ErrorIs(t, cb.Call(ctx, func(context.Context) error { return nil }), pkgerrors.ErrCircuitOpen)
}

func TestCircuitBreaker_IgnoresNeutralErrors(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Minute)
	ctx := context.Background()

	_ = cb.Call(ctx, func(context.Context) error { return pkgerrors.ErrChannelNotConfigured })
	_ = cb.Call(ctx, func(context.Context) error { return errNoDevices })
	_ = cb.Call(ctx, func(context.Context) error { return context.Canceled })
	_ = cb.Call(ctx, func(context.Context) error { return errBadAddress })
	_ = cb.Call(ctx, func(context.Context) error { return errBadAddress })
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestErrorTextKeepsRuneBoundary(t *testing.T) {
	short := errorText(errors.New("carrier rejected"))
	assert.Equal(t, "carrier rejected", *short)

	// 254 个 ASCII 字节后接一个三字节字符，跨过 255 边界
	long := errors.New(strings.Repeat("x", 254) + "号码无效")
	got := *errorText(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("x", 254), got)

	exact := strings.Repeat("y", 300)
	assert.Len(t, *errorText(errors.New(exact)), 255)
}
