package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// HabitStore 负责习惯、未完成记录与打卡记录的持久化
// 习惯名唯一性由主键保证，删除习惯时在同一事务内删除其关联记录
type HabitStore struct {
	db *gorm.DB
}

// MissTally 是某个习惯在时间窗口内的未完成次数
type MissTally struct {
	HabitName   string
	MissedCount int64
}

// NewHabitStore 构造 HabitStore
func NewHabitStore(gdb *gorm.DB) *HabitStore {
	return &HabitStore{db: gdb}
}

// Insert 新建习惯，名称已存在时返回 gorm.ErrDuplicatedKey
func (s *HabitStore) Insert(ctx context.Context, record Habit) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Habit{}).Where("name = ?", record.Name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return gorm.ErrDuplicatedKey
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return fmt.Errorf("insert habit %s: %w", record.Name, err)
	}
	return nil
}

// Upsert 按名称写入习惯的最新状态，不追加任何事件记录
// 这是存储对外约定的 upsert；注册表自身的状态转换统一走 SaveTransition
func (s *HabitStore) Upsert(ctx context.Context, record Habit) error {
	if err := upsertHabit(s.db.WithContext(ctx), &record); err != nil {
		return fmt.Errorf("upsert habit %s: %w", record.Name, err)
	}
	return nil
}

// Transition 是一次状态转换需要落库的全部内容
type Transition struct {
	Habit  Habit
	Misses []time.Time
	// CheckedOffAt 非空时追加一条打卡记录
	CheckedOffAt *time.Time
}

// SaveTransition 在一个事务内写入习惯状态并追加未完成/打卡记录
func (s *HabitStore) SaveTransition(ctx context.Context, t Transition) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertHabit(tx, &t.Habit); err != nil {
			return err
		}
		if len(t.Misses) > 0 {
			events := make([]MissEvent, 0, len(t.Misses))
			for _, at := range t.Misses {
				events = append(events, MissEvent{HabitName: t.Habit.Name, MissedAt: FormatTimestamp(at)})
			}
			if err := tx.Create(&events).Error; err != nil {
				return err
			}
		}
		if t.CheckedOffAt != nil {
			event := CheckOffEvent{
				HabitName: t.Habit.Name,
				CheckedAt: FormatTimestamp(*t.CheckedOffAt),
				Streak:    t.Habit.Streak,
			}
			if err := tx.Create(&event).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save habit %s: %w", t.Habit.Name, err)
	}
	return nil
}

func upsertHabit(tx *gorm.DB, record *Habit) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"periodicity", "streak", "longest_streak", "milestone_count", "done", "reference_time", "updated_at",
		}),
	}).Create(record).Error
}

// Delete 删除习惯及其全部未完成与打卡记录，习惯不存在时返回 gorm.ErrRecordNotFound
func (s *HabitStore) Delete(ctx context.Context, name string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("habit_name = ?", name).Delete(&MissEvent{}).Error; err != nil {
			return err
		}
		if err := tx.Where("habit_name = ?", name).Delete(&CheckOffEvent{}).Error; err != nil {
			return err
		}
		result := tx.Where("name = ?", name).Delete(&Habit{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete habit %s: %w", name, err)
	}
	return nil
}

// LoadAll 返回全部习惯，按创建时间与名称排序
func (s *HabitStore) LoadAll(ctx context.Context) ([]Habit, error) {
	var habits []Habit
	if err := s.db.WithContext(ctx).Order("created_at ASC, name ASC").Find(&habits).Error; err != nil {
		return nil, fmt.Errorf("load habits: %w", err)
	}
	return habits, nil
}

// AppendMissEvent 追加一条未完成记录
func (s *HabitStore) AppendMissEvent(ctx context.Context, name string, at time.Time) error {
	event := MissEvent{HabitName: name, MissedAt: FormatTimestamp(at)}
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		return fmt.Errorf("append miss event %s: %w", name, err)
	}
	return nil
}

// CountMissEvents 统计习惯自 since 起的未完成次数
func (s *HabitStore) CountMissEvents(ctx context.Context, name string, since time.Time) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&MissEvent{}).
		Where("habit_name = ? AND missed_at >= ?", name, FormatTimestamp(since)).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count miss events %s: %w", name, err)
	}
	return count, nil
}

// TopMissedHabit 返回自 since 起未完成次数最多的习惯
// 次数相同时按名称排序取第一个；窗口内没有记录时 found 为 false
func (s *HabitStore) TopMissedHabit(ctx context.Context, since time.Time) (MissTally, bool, error) {
	var rows []MissTally
	if err := s.db.WithContext(ctx).Model(&MissEvent{}).
		Select("habit_name, COUNT(*) AS missed_count").
		Where("missed_at >= ?", FormatTimestamp(since)).
		Group("habit_name").
		Order("missed_count DESC, habit_name ASC").
		Limit(1).
		Scan(&rows).Error; err != nil {
		return MissTally{}, false, fmt.Errorf("top missed habit: %w", err)
	}

	if len(rows) == 0 {
		return MissTally{}, false, nil
	}
	return rows[0], true, nil
}

// ListMissEvents 返回全部未完成记录，主要用于命令行导出
func (s *HabitStore) ListMissEvents(ctx context.Context) ([]MissEvent, error) {
	var events []MissEvent
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list miss events: %w", err)
	}
	return events, nil
}

// ListCheckOffs 返回习惯的打卡记录，name 为空时返回全部
func (s *HabitStore) ListCheckOffs(ctx context.Context, name string) ([]CheckOffEvent, error) {
	var events []CheckOffEvent
	query := s.db.WithContext(ctx).Model(&CheckOffEvent{})
	if name != "" {
		query = query.Where("habit_name = ?", name)
	}
	if err := query.Order("id ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list check-offs: %w", err)
	}
	return events, nil
}
