package period

import (
	"errors"
	"fmt"
	"time"
)

// Day 是周期计算使用的单位长度，按经过时长计算而非日历日，避免夏令时/闰秒带来的偏差
const Day = 24 * time.Hour

// MaxPeriodicity 是允许的最大周期天数（约 100 年），保证 Length 不会溢出 time.Duration
const MaxPeriodicity = 36500

// ErrInvalidPeriodicity 在周期天数不是 [1, MaxPeriodicity] 内的整数时返回
var ErrInvalidPeriodicity = errors.New("invalid periodicity")

// Validate 校验周期天数，必须在 [1, MaxPeriodicity] 内
func Validate(periodicity int) error {
	if periodicity < 1 {
		return fmt.Errorf("%w: %d (must be a positive number of days)", ErrInvalidPeriodicity, periodicity)
	}
	if periodicity > MaxPeriodicity {
		return fmt.Errorf("%w: %d (must be at most %d days)", ErrInvalidPeriodicity, periodicity, MaxPeriodicity)
	}
	return nil
}

// Length 返回一个周期的时长，periodicity 需已通过 Validate
func Length(periodicity int) time.Duration {
	return time.Duration(periodicity) * Day
}

// Elapsed 返回自 ref 起已经跨过的周期边界数量
// now 早于 ref 时视为仍处于第一个周期
func Elapsed(ref time.Time, periodicity int, now time.Time) int {
	if now.Before(ref) {
		return 0
	}
	return int(now.Sub(ref) / Length(periodicity))
}

// Start 计算 now 所在周期的开始时间：ref + floor((now-ref)/p)*p
func Start(ref time.Time, periodicity int, now time.Time) time.Time {
	return ref.Add(time.Duration(Elapsed(ref, periodicity, now)) * Length(periodicity))
}

// End 计算 now 所在周期的结束时间（不含）
func End(ref time.Time, periodicity int, now time.Time) time.Time {
	return Start(ref, periodicity, now).Add(Length(periodicity))
}

// Contains 判断 now 是否落在 [start, end) 内
func Contains(ref time.Time, periodicity int, now time.Time) bool {
	start := Start(ref, periodicity, now)
	return !now.Before(start) && now.Before(start.Add(Length(periodicity)))
}

// Label 把周期天数转换为可读描述
func Label(periodicity int) string {
	switch periodicity {
	case 1:
		return "daily"
	case 7:
		return "weekly"
	case 28:
		return "monthly"
	default:
		return fmt.Sprintf("every %d days", periodicity)
	}
}
