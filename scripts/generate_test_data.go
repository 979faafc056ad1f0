package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/habitstreak/internal/config"
	"github.com/habitstreak/internal/db"
	"github.com/habitstreak/internal/period"
)

type demoHabit struct {
	name           string
	periodicity    int
	streak         int
	longestStreak  int
	milestoneCount int
	done           bool
	// missedDaysAgo 每个元素生成一条发生在 N 天前的未完成记录
	missedDaysAgo []int
}

var demoHabits = []demoHabit{
	{name: "gym", periodicity: 1, streak: 9, longestStreak: 14, milestoneCount: 1, missedDaysAgo: []int{12, 20, 27}},
	{name: "cardio", periodicity: 3, streak: 7, longestStreak: 7, milestoneCount: 1, done: true, missedDaysAgo: []int{5, 15, 25, 40}},
	{name: "visit grandma", periodicity: 7, streak: 4, longestStreak: 4},
	{name: "drink 2l water", periodicity: 1, streak: 28, longestStreak: 28, milestoneCount: 4, done: true},
	{name: "clean windows", periodicity: 28, streak: 1, longestStreak: 1},
}

// 演示数据生成器
func main() {
	// 初始化数据库
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("配置加载失败:", err)
	}
	if err := db.Init(cfg.DatabaseDriver, cfg.DatabasePath); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}
	defer db.Close(db.DB)

	fmt.Println("开始生成演示数据...")

	created, err := seedDemoHabits(context.Background(), db.NewHabitStore(db.DB), time.Now())
	if err != nil {
		log.Fatal("演示数据生成失败:", err)
	}

	fmt.Println("演示数据生成完成！")
	fmt.Printf("习惯: 新建 %d 个，共 %d 个\n", created, len(demoHabits))
}

// seedDemoHabits 写入演示习惯及其未完成记录，已存在的习惯跳过
func seedDemoHabits(ctx context.Context, store *db.HabitStore, now time.Time) (int, error) {
	existing, err := store.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(existing))
	for _, h := range existing {
		seen[h.Name] = true
	}

	created := 0
	for _, demo := range demoHabits {
		if seen[demo.name] {
			fmt.Printf("习惯 %s 已存在，跳过创建\n", demo.name)
			continue
		}

		record := db.Habit{
			Name:           demo.name,
			Periodicity:    demo.periodicity,
			ReferenceTime:  db.FormatTimestamp(now),
			Streak:         demo.streak,
			LongestStreak:  demo.longestStreak,
			MilestoneCount: demo.milestoneCount,
			Done:           demo.done,
		}
		if err := store.Insert(ctx, record); err != nil {
			return created, err
		}
		for _, daysAgo := range demo.missedDaysAgo {
			if err := store.AppendMissEvent(ctx, demo.name, now.Add(-time.Duration(daysAgo)*period.Day)); err != nil {
				return created, err
			}
		}
		created++
		fmt.Printf("✅ 习惯 %s 创建完成\n", demo.name)
	}

	return created, nil
}
