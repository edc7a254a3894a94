package schedule

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"SafeCircle/pkg/metrics"
)

// TickResult 一次 tick 的统计
type TickResult struct {
	Skipped    bool
	Scanned    int64
	Created    int64
	Nudged     int64
	Advanced   int64
	Recovered  int64
	Dispatched int64
	Conflicts  int64
	Duration   time.Duration
}

type tickStats struct {
	scanned, created, nudged, advanced, recovered, dispatched, conflicts atomic.Int64
}

func (s *tickStats) result(d time.Duration) TickResult {
	return TickResult{
		Scanned:    s.scanned.Load(),
		Created:    s.created.Load(),
		Nudged:     s.nudged.Load(),
		Advanced:   s.advanced.Load(),
		Recovered:  s.recovered.Load(),
		Dispatched: s.dispatched.Load(),
		Conflicts:  s.conflicts.Load(),
		Duration:   d,
	}
}

// group 有界并发，单个告警失败不取消其他告警的扇出
func (e *Engine) group() *errgroup.Group {
	g := &errgroup.Group{}
	g.SetLimit(e.workers)
	return g
}

// Tick 检测 -> 升级 -> 扇出
// 同一进程内上一次 tick 未结束时直接跳过；跨进程的重叠由存储层条件更新兜底
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.logger.Info("Previous tick still running, skipping")
		metrics.GetMetrics().RecordTick(ctx, "skipped", 0)
		return TickResult{Skipped: true}, nil
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.lastTickEnd = e.now()
		e.mu.Unlock()
	}()

	if e.lease != nil {
		release, ok, err := e.lease.Acquire(ctx)
		switch {
		case err != nil:
			e.logger.Warn("Failed to acquire tick lease, continuing without it", zap.Error(err))
		case !ok:
			e.logger.Info("Tick lease held by another instance, skipping")
			metrics.GetMetrics().RecordTick(ctx, "skipped", 0)
			return TickResult{Skipped: true}, nil
		default:
			defer release(context.WithoutCancel(ctx))
		}
	}

	start := e.now()
	stats := &tickStats{}

	err := e.run(ctx, start, stats)
	res := stats.result(e.now().Sub(start))

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.GetMetrics().RecordTick(ctx, outcome, res.Duration.Seconds())

	fields := []zap.Field{
		zap.Int64("scanned", res.Scanned),
		zap.Int64("created", res.Created),
		zap.Int64("nudged", res.Nudged),
		zap.Int64("advanced", res.Advanced),
		zap.Int64("recovered", res.Recovered),
		zap.Int64("conflicts", res.Conflicts),
		zap.Duration("duration", res.Duration),
	}
	if err != nil {
		e.logger.Error("Escalation tick failed", append(fields, zap.Error(err))...)
		return res, err
	}
	e.logger.Info("Escalation tick completed", fields...)
	return res, nil
}

func (e *Engine) run(ctx context.Context, now time.Time, stats *tickStats) error {
	if err := e.detect(ctx, now, stats); err != nil {
		return fmt.Errorf("failed to detect missed check-ins: %w", err)
	}
	if err := e.escalate(ctx, now, stats); err != nil {
		return fmt.Errorf("failed to escalate alerts: %w", err)
	}
	return nil
}

// Run 按固定间隔循环执行 tick，直到 ctx 结束
func (e *Engine) Run(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runOnce := func() {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if _, err := e.Tick(runCtx); err != nil {
			e.logger.Error("Escalation tick run failed", zap.Error(err))
		}
	}

	runOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 上一次仍在执行时 Tick 会自行跳过
			go runOnce()
		}
	}
}
