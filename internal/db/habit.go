package db

import (
	"time"
)

// TimestampLayout 是所有时间字段的存储格式，统一使用 UTC
const TimestampLayout = "2006-01-02 15:04:05"

// Habit 定义了习惯表
// Name 为规范化（小写）后的名称，作为主键保证唯一
// ReferenceTime 是当前周期起点，按 TimestampLayout 存储
type Habit struct {
	Name           string `gorm:"primaryKey;size:191"`
	Periodicity    int    `gorm:"not null"`
	Streak         int    `gorm:"not null"`
	LongestStreak  int    `gorm:"not null"`
	MilestoneCount int    `gorm:"not null"`
	Done           bool   `gorm:"not null"`
	ReferenceTime  string `gorm:"size:19;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName 固定表名
func (Habit) TableName() string {
	return "habits"
}

// MissEvent 记录一个未按时完成的周期，只追加不修改
// 删除习惯时随之删除
type MissEvent struct {
	ID        uint   `gorm:"primaryKey"`
	HabitName string `gorm:"size:191;not null;index;index:idx_miss_events_habit_time,priority:1"`
	MissedAt  string `gorm:"size:19;not null;index;index:idx_miss_events_habit_time,priority:2"`
}

// TableName 固定表名
func (MissEvent) TableName() string {
	return "miss_events"
}

// CheckOffEvent 记录一次成功打卡及打卡后的连胜
// 与 MissEvent 一样只追加，删除习惯时随之删除
type CheckOffEvent struct {
	ID        uint   `gorm:"primaryKey"`
	HabitName string `gorm:"size:191;not null;index"`
	CheckedAt string `gorm:"size:19;not null"`
	Streak    int    `gorm:"not null"`
}

// TableName 固定表名
func (CheckOffEvent) TableName() string {
	return "check_off_events"
}

// FormatTimestamp 把时间转换为存储格式
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp 解析存储格式的时间，结果为 UTC
func ParseTimestamp(value string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, value, time.UTC)
}
