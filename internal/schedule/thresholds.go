package schedule

import (
	"fmt"
	"time"

	"SafeCircle/config"
	"SafeCircle/internal/model"
)

// Thresholds 以错过截止时刻起算的升级阈值
type Thresholds struct {
	Soft       time.Duration
	Hard       time.Duration
	Escalation time.Duration
}

// DefaultThresholds 24h / 36h / 48h
func DefaultThresholds() Thresholds {
	return Thresholds{
		Soft:       24 * time.Hour,
		Hard:       36 * time.Hour,
		Escalation: 48 * time.Hour,
	}
}

func ThresholdsFromConfig(cfg *config.Config) Thresholds {
	return Thresholds{
		Soft:       cfg.EscalationSoftAfter,
		Hard:       cfg.EscalationHardAfter,
		Escalation: cfg.EscalationEscalationAfter,
	}
}

func (t Thresholds) Validate() error {
	if t.Soft <= 0 || t.Soft >= t.Hard || t.Hard >= t.Escalation {
		return fmt.Errorf("thresholds must be positive and strictly increasing: soft=%s hard=%s escalation=%s",
			t.Soft, t.Hard, t.Escalation)
	}
	return nil
}

// LevelFor 已过时长对应的目标档位，达到阈值即升级
func (t Thresholds) LevelFor(elapsed time.Duration) model.AlertLevel {
	switch {
	case elapsed >= t.Escalation:
		return model.AlertLevelEscalation
	case elapsed >= t.Hard:
		return model.AlertLevelHard
	case elapsed >= t.Soft:
		return model.AlertLevelSoft
	default:
		return model.AlertLevelReminder
	}
}
