package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/habitstreak/internal/db"
	"github.com/habitstreak/internal/habit"
	"github.com/habitstreak/internal/logger"
	"github.com/habitstreak/internal/period"
	"gorm.io/gorm"
)

// HabitStore 是注册表依赖的持久化接口，由 db.HabitStore 实现
type HabitStore interface {
	Insert(ctx context.Context, record db.Habit) error
	SaveTransition(ctx context.Context, t db.Transition) error
	Delete(ctx context.Context, name string) error
	LoadAll(ctx context.Context) ([]db.Habit, error)
	CountMissEvents(ctx context.Context, name string, since time.Time) (int64, error)
	TopMissedHabit(ctx context.Context, since time.Time) (db.MissTally, bool, error)
}

// HabitRegistry 持有全部习惯的内存索引，并串行化对同一习惯的读改写
//
// mu 保护键集合与遍历顺序；每个习惯另有一把锁，覆盖
// 读取-判断-修改-落库的完整过程。加锁顺序固定为 mu -> entry.mu。
type HabitRegistry struct {
	store HabitStore
	log   *logger.Logger
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]*habitEntry
	order   []string
}

type habitEntry struct {
	mu    sync.Mutex
	habit *habit.Habit
	// stale 表示该条目已被删除或被重新加载替换，持有者需要重新查找
	stale bool
}

// RegistryOption 配置 HabitRegistry
type RegistryOption func(*HabitRegistry)

// WithClock 替换时间来源，主要用于测试
func WithClock(now func() time.Time) RegistryOption {
	return func(r *HabitRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger 设置日志
func WithLogger(log *logger.Logger) RegistryOption {
	return func(r *HabitRegistry) {
		if log != nil {
			r.log = log
		}
	}
}

// NewHabitRegistry 构造一个空的注册表，调用 Load 从存储加载已有习惯
func NewHabitRegistry(store HabitStore, opts ...RegistryOption) *HabitRegistry {
	r := &HabitRegistry{
		store:   store,
		log:     logger.NewNop(),
		now:     time.Now,
		entries: make(map[string]*habitEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now 返回注册表使用的当前时间
func (r *HabitRegistry) Now() time.Time {
	return r.now()
}

// Load 用存储中的快照整体替换内存中的习惯集合
// 替换期间等待所有进行中的单个习惯操作结束，且不允许新的操作开始
func (r *HabitRegistry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := make([]*habitEntry, 0, len(r.order))
	for _, name := range r.order {
		entry := r.entries[name]
		entry.mu.Lock()
		current = append(current, entry)
	}
	release := func(markStale bool) {
		for _, entry := range current {
			if markStale {
				entry.stale = true
			}
			entry.mu.Unlock()
		}
	}

	records, err := r.store.LoadAll(ctx)
	if err != nil {
		release(false)
		return persistenceError("load habits", "", err)
	}

	entries := make(map[string]*habitEntry, len(records))
	order := make([]string, 0, len(records))
	for _, record := range records {
		h, err := habitFromRecord(record)
		if err != nil {
			release(false)
			return habitError("load habits", record.Name, err)
		}
		entries[h.Name] = &habitEntry{habit: h}
		order = append(order, h.Name)
	}

	release(true)
	r.entries = entries
	r.order = order

	r.log.Debug("habits loaded", "count", len(order))
	return nil
}

// Add 新建习惯，起点为当前时间，计数全部为 0
func (r *HabitRegistry) Add(ctx context.Context, rawName string, periodicity int) (habit.Habit, error) {
	name, err := NormalizeName(rawName)
	if err != nil {
		return habit.Habit{}, habitError("add habit", rawName, err)
	}

	h, err := habit.New(name, periodicity, r.now())
	if err != nil {
		return habit.Habit{}, &HabitError{Op: "add habit", Name: name, Value: periodicity, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return habit.Habit{}, habitError("add habit", name, ErrDuplicateHabit)
	}

	// 先落库，成功后才放入内存
	if err := r.store.Insert(ctx, recordFromHabit(h)); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return habit.Habit{}, habitError("add habit", name, ErrDuplicateHabit)
		}
		return habit.Habit{}, persistenceError("add habit", name, err)
	}

	r.entries[name] = &habitEntry{habit: h}
	r.order = append(r.order, name)

	r.log.Info("habit added", "habit", name, "periodicity", periodicity)
	return *h, nil
}

// Delete 删除习惯及其全部未完成记录
func (r *HabitRegistry) Delete(ctx context.Context, rawName string) error {
	name, err := NormalizeName(rawName)
	if err != nil {
		return habitError("delete habit", rawName, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[name]
	if !ok {
		return habitError("delete habit", name, ErrHabitNotFound)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := r.store.Delete(ctx, name); err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return persistenceError("delete habit", name, err)
		}
		// 存储中已不存在（例如被命令行删除），内存中同步移除即可
		r.log.Warn("habit missing from store during delete", "habit", name)
	}

	entry.stale = true
	delete(r.entries, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })

	r.log.Info("habit deleted", "habit", name)
	return nil
}

// CheckOffResult 是注册表层面的打卡结果
type CheckOffResult struct {
	habit.CheckOffResult
	Name string
	// MissesRecorded 打卡前追平周期时记下的未完成次数
	MissesRecorded int
}

// CheckOff 为习惯打卡
//
// 打卡前先把习惯推进到当前周期：如果上一个周期已经结束但后台对账还没跑，
// 这次打卡计入新周期，并在同一事务里补记未完成。
func (r *HabitRegistry) CheckOff(ctx context.Context, rawName string) (CheckOffResult, error) {
	name, err := NormalizeName(rawName)
	if err != nil {
		return CheckOffResult{}, habitError("check off", rawName, err)
	}

	entry, ok := r.lockEntry(name)
	if !ok {
		return CheckOffResult{}, habitError("check off", name, ErrHabitNotFound)
	}
	defer entry.mu.Unlock()

	now := r.now()
	before := *entry.habit

	reconciled := entry.habit.Reconcile(now)
	res := entry.habit.CheckOff()

	if reconciled.Changed() || res.Changed() {
		transition := db.Transition{Habit: recordFromHabit(entry.habit), Misses: reconciled.Misses}
		if res.Changed() {
			transition.CheckedOffAt = &now
		}
		if err := r.store.SaveTransition(ctx, transition); err != nil {
			*entry.habit = before
			return CheckOffResult{}, persistenceError("check off", name, err)
		}
	}

	if res.Outcome == habit.OutcomeMilestoneReached {
		r.log.Info("habit milestone reached", "habit", name, "streak", res.Streak, "milestones", res.MilestoneCount)
	} else {
		r.log.Debug("habit checked off", "habit", name, "outcome", res.Outcome.String(), "streak", res.Streak)
	}

	return CheckOffResult{CheckOffResult: res, Name: name, MissesRecorded: len(reconciled.Misses)}, nil
}

// Get 返回习惯当前状态的副本
func (r *HabitRegistry) Get(ctx context.Context, rawName string) (habit.Habit, error) {
	name, err := NormalizeName(rawName)
	if err != nil {
		return habit.Habit{}, habitError("get habit", rawName, err)
	}

	entry, ok := r.lockEntry(name)
	if !ok {
		return habit.Habit{}, habitError("get habit", name, ErrHabitNotFound)
	}
	defer entry.mu.Unlock()

	return *entry.habit, nil
}

// lockEntry 查找并锁定习惯条目；条目已失效时重新查找
func (r *HabitRegistry) lockEntry(name string) (*habitEntry, bool) {
	for {
		r.mu.RLock()
		entry, ok := r.entries[name]
		r.mu.RUnlock()
		if !ok {
			return nil, false
		}

		entry.mu.Lock()
		if !entry.stale {
			return entry, true
		}
		entry.mu.Unlock()
	}
}

// Snapshot 按注册表顺序返回内存中全部习惯的副本，不重新加载
func (r *HabitRegistry) Snapshot() []habit.Habit {
	return r.snapshot()
}

// snapshot 按注册表顺序返回全部习惯的副本
func (r *HabitRegistry) snapshot() []habit.Habit {
	r.mu.RLock()
	defer r.mu.RUnlock()

	habits := make([]habit.Habit, 0, len(r.order))
	for _, name := range r.order {
		entry := r.entries[name]
		entry.mu.Lock()
		habits = append(habits, *entry.habit)
		entry.mu.Unlock()
	}
	return habits
}

func (r *HabitRegistry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

func recordFromHabit(h *habit.Habit) db.Habit {
	return db.Habit{
		Name:           h.Name,
		Periodicity:    h.Periodicity,
		Streak:         h.Streak,
		LongestStreak:  h.LongestStreak,
		MilestoneCount: h.MilestoneCount,
		Done:           h.Done,
		ReferenceTime:  db.FormatTimestamp(h.ReferenceTime),
	}
}

func habitFromRecord(record db.Habit) (*habit.Habit, error) {
	if err := period.Validate(record.Periodicity); err != nil {
		return nil, err
	}

	ref, err := db.ParseTimestamp(record.ReferenceTime)
	if err != nil {
		return nil, fmt.Errorf("parse reference time %q: %w", record.ReferenceTime, err)
	}

	return &habit.Habit{
		Name:           record.Name,
		Periodicity:    record.Periodicity,
		ReferenceTime:  ref,
		Streak:         record.Streak,
		LongestStreak:  record.LongestStreak,
		MilestoneCount: record.MilestoneCount,
		Done:           record.Done,
	}, nil
}
