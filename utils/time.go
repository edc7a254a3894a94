package utils

import (
	"time"
)

// HoursSince 向下取整的小时数，from 在 now 之后时返回 0
func HoursSince(from, now time.Time) int {
	if !now.After(from) {
		return 0
	}
	return int(now.Sub(from) / time.Hour)
}
