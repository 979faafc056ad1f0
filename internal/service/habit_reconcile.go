package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/habitstreak/internal/db"
)

var errReconcilePanic = errors.New("reconcile panicked")

// HabitFailure 记录对账中单个习惯的失败
type HabitFailure struct {
	Name string
	Err  error
}

// ReconcileReport 汇总一次对账
type ReconcileReport struct {
	RunID   string
	At      time.Time
	Checked int
	Updated int
	Misses  int
	// Interrupted 表示 ctx 取消导致本轮提前结束，剩余习惯留到下一轮
	Interrupted bool
	Failures    []HabitFailure
}

// Err 合并全部失败，没有失败时返回 nil
func (r ReconcileReport) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, failure := range r.Failures {
		errs = append(errs, failure.Err)
	}
	return errors.Join(errs...)
}

// ReconcileAll 对全部习惯执行周期对账
//
// 每个习惯的对账与落库是独立的原子单元；单个习惯失败只会被记录，不影响其余习惯。
// 没有跨过周期边界的习惯不会被改动，因此可以按固定间隔无限次调用。
func (r *HabitRegistry) ReconcileAll(ctx context.Context, now time.Time) ReconcileReport {
	report := ReconcileReport{RunID: uuid.NewString(), At: now}
	log := r.log.With("run_id", report.RunID)

	for _, name := range r.names() {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}

		found, misses, changed, err := func() (bool, int, bool, error) {
			entry, ok := r.lockEntry(name)
			if !ok {
				return false, 0, false, nil
			}
			defer entry.mu.Unlock()

			misses, changed, err := r.reconcileEntry(ctx, entry, now)
			return true, misses, changed, err
		}()
		if !found {
			// 本轮开始后被删除
			continue
		}
		report.Checked++

		if err != nil {
			report.Failures = append(report.Failures, HabitFailure{Name: name, Err: err})
			log.Error("habit reconcile failed", "habit", name, "error", err)
			continue
		}
		if changed {
			report.Updated++
			report.Misses += misses
			if misses > 0 {
				log.Info("habit missed", "habit", name, "misses", misses)
			}
		}
	}

	log.Info("reconcile finished",
		"checked", report.Checked,
		"updated", report.Updated,
		"misses", report.Misses,
		"failures", len(report.Failures),
		"interrupted", report.Interrupted,
	)
	return report
}

// reconcileEntry 需在持有 entry.mu 时调用
// 对账或落库过程中的 panic 会被转换为该习惯的错误，习惯状态回滚到调用前
func (r *HabitRegistry) reconcileEntry(ctx context.Context, entry *habitEntry, now time.Time) (misses int, changed bool, err error) {
	before := *entry.habit
	defer func() {
		if p := recover(); p != nil {
			*entry.habit = before
			misses, changed = 0, false
			err = habitError("reconcile habit", before.Name, fmt.Errorf("%w: %v", errReconcilePanic, p))
		}
	}()

	res := entry.habit.Reconcile(now)
	if !res.Changed() {
		return 0, false, nil
	}

	if err := r.store.SaveTransition(ctx, db.Transition{Habit: recordFromHabit(entry.habit), Misses: res.Misses}); err != nil {
		*entry.habit = before
		return 0, false, persistenceError("reconcile habit", before.Name, err)
	}

	return len(res.Misses), true, nil
}

// ReconcileOne 只对单个习惯对账，供手动触发使用
func (r *HabitRegistry) ReconcileOne(ctx context.Context, rawName string, now time.Time) (int, error) {
	name, err := NormalizeName(rawName)
	if err != nil {
		return 0, habitError("reconcile habit", rawName, err)
	}

	entry, ok := r.lockEntry(name)
	if !ok {
		return 0, habitError("reconcile habit", name, ErrHabitNotFound)
	}
	defer entry.mu.Unlock()

	misses, _, err := r.reconcileEntry(ctx, entry, now)
	return misses, err
}
