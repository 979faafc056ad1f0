package service

import (
	"context"
	"time"

	"github.com/habitstreak/internal/habit"
	"github.com/habitstreak/internal/period"
)

// DefaultMissWindow 未完成统计默认回看 30 天
const DefaultMissWindow = 30 * period.Day

// StreakSummary 描述某个习惯的最长连胜
type StreakSummary struct {
	Name          string
	LongestStreak int
}

// MissSummary 描述某个习惯在窗口内的未完成次数
type MissSummary struct {
	Name   string
	Missed int64
	Since  time.Time
}

// List 重新从存储加载后返回全部习惯，以反映其他写入者的修改
func (r *HabitRegistry) List(ctx context.Context) ([]habit.Habit, error) {
	if err := r.Load(ctx); err != nil {
		return nil, err
	}
	return r.snapshot(), nil
}

// ListByPeriodicity 返回指定周期天数的习惯
func (r *HabitRegistry) ListByPeriodicity(ctx context.Context, periodicity int) ([]habit.Habit, error) {
	if err := period.Validate(periodicity); err != nil {
		return nil, &HabitError{Op: "list habits", Value: periodicity, Err: err}
	}

	habits, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]habit.Habit, 0, len(habits))
	for _, h := range habits {
		if h.Periodicity == periodicity {
			filtered = append(filtered, h)
		}
	}
	return filtered, nil
}

// LongestStreak 返回全部习惯中历史最长连胜
// 并列时取注册表顺序中第一个（即存储加载顺序，其后为新增顺序）；没有习惯时 found 为 false
func (r *HabitRegistry) LongestStreak() (StreakSummary, bool) {
	var (
		best  StreakSummary
		found bool
	)
	for _, h := range r.snapshot() {
		if !found || h.LongestStreak > best.LongestStreak {
			best = StreakSummary{Name: h.Name, LongestStreak: h.LongestStreak}
			found = true
		}
	}
	return best, found
}

// LongestStreakFor 返回单个习惯（规范化名称）的历史最长连胜
func (r *HabitRegistry) LongestStreakFor(ctx context.Context, rawName string) (StreakSummary, error) {
	h, err := r.Get(ctx, rawName)
	if err != nil {
		return StreakSummary{}, err
	}
	return StreakSummary{Name: h.Name, LongestStreak: h.LongestStreak}, nil
}

// MissedCount 统计习惯在最近 window 内的未完成次数，window <= 0 时使用 DefaultMissWindow
func (r *HabitRegistry) MissedCount(ctx context.Context, rawName string, window time.Duration) (MissSummary, error) {
	h, err := r.Get(ctx, rawName)
	if err != nil {
		return MissSummary{}, err
	}

	since := r.windowStart(window)
	count, err := r.store.CountMissEvents(ctx, h.Name, since)
	if err != nil {
		return MissSummary{}, persistenceError("count misses", h.Name, err)
	}
	return MissSummary{Name: h.Name, Missed: count, Since: since}, nil
}

// MostMissedHabit 返回最近 window 内未完成次数最多的习惯
// 并列时以存储查询返回的第一条为准；窗口内没有未完成时 found 为 false
func (r *HabitRegistry) MostMissedHabit(ctx context.Context, window time.Duration) (MissSummary, bool, error) {
	since := r.windowStart(window)
	tally, found, err := r.store.TopMissedHabit(ctx, since)
	if err != nil {
		return MissSummary{}, false, persistenceError("most missed habit", "", err)
	}
	if !found {
		return MissSummary{Since: since}, false, nil
	}
	return MissSummary{Name: tally.HabitName, Missed: tally.MissedCount, Since: since}, true, nil
}

func (r *HabitRegistry) windowStart(window time.Duration) time.Time {
	if window <= 0 {
		window = DefaultMissWindow
	}
	return r.now().Add(-window)
}
