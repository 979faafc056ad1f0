package habit

import (
	"fmt"
	"time"

	"github.com/habitstreak/internal/period"
)

// MilestoneInterval 连续完成多少个周期记一次里程碑
const MilestoneInterval = 7

// Outcome 描述一次打卡的结果
type Outcome int

const (
	// OutcomeAlreadyDone 当前周期已打卡，本次不产生任何变化
	OutcomeAlreadyDone Outcome = iota
	// OutcomeRecorded 打卡成功，连胜 +1
	OutcomeRecorded
	// OutcomeMilestoneReached 打卡成功且连胜达到 7 的倍数
	OutcomeMilestoneReached
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAlreadyDone:
		return "already_done"
	case OutcomeRecorded:
		return "recorded"
	case OutcomeMilestoneReached:
		return "milestone_reached"
	default:
		return "unknown"
	}
}

// Habit 是单个习惯的周期定义与进度
// ReferenceTime 是当前周期的起点，只会按整周期向前推进
// Done 仅在 [ReferenceTime, ReferenceTime+周期) 内为 true
type Habit struct {
	Name           string
	Periodicity    int
	ReferenceTime  time.Time
	Streak         int
	LongestStreak  int
	MilestoneCount int
	Done           bool
}

// New 以 now 作为首个周期起点创建习惯
// 起点截断到秒并转为 UTC，与存储格式 YYYY-MM-DD HH:MM:SS 保持一致
func New(name string, periodicity int, now time.Time) (*Habit, error) {
	if err := period.Validate(periodicity); err != nil {
		return nil, err
	}

	return &Habit{
		Name:          name,
		Periodicity:   periodicity,
		ReferenceTime: now.UTC().Truncate(time.Second),
	}, nil
}

// CurrentPeriod 返回 now 所在周期的起止时间
func (h *Habit) CurrentPeriod(now time.Time) (time.Time, time.Time) {
	start := period.Start(h.ReferenceTime, h.Periodicity, now)
	return start, start.Add(period.Length(h.Periodicity))
}

// CheckOffResult 是一次打卡转换的结果
type CheckOffResult struct {
	Outcome        Outcome
	Streak         int
	LongestStreak  int
	MilestoneCount int
}

// Changed 表示本次打卡是否修改了习惯状态
func (r CheckOffResult) Changed() bool {
	return r.Outcome != OutcomeAlreadyDone
}

// Message 返回简短的状态描述，具体展示由调用方负责
func (r CheckOffResult) Message() string {
	switch r.Outcome {
	case OutcomeAlreadyDone:
		return "already checked off this period"
	case OutcomeMilestoneReached:
		return fmt.Sprintf("checked off, streak is now %d; milestone %d reached", r.Streak, r.MilestoneCount)
	default:
		return fmt.Sprintf("checked off, streak is now %d", r.Streak)
	}
}

// CheckOff 标记当前周期已完成
// 同一周期内重复调用是幂等的，只返回 OutcomeAlreadyDone
// 调用方需保证 ReferenceTime 已经对齐到当前周期（先 Reconcile）
func (h *Habit) CheckOff() CheckOffResult {
	if h.Done {
		return h.result(OutcomeAlreadyDone)
	}

	h.Streak++
	h.Done = true
	if h.Streak > h.LongestStreak {
		h.LongestStreak = h.Streak
	}

	if h.incrementMilestoneIfDue() {
		return h.result(OutcomeMilestoneReached)
	}
	return h.result(OutcomeRecorded)
}

// incrementMilestoneIfDue 只在 CheckOff 成功后调用，避免重复计数
func (h *Habit) incrementMilestoneIfDue() bool {
	if h.Streak <= 0 || h.Streak%MilestoneInterval != 0 {
		return false
	}
	h.MilestoneCount++
	return true
}

func (h *Habit) result(outcome Outcome) CheckOffResult {
	return CheckOffResult{
		Outcome:        outcome,
		Streak:         h.Streak,
		LongestStreak:  h.LongestStreak,
		MilestoneCount: h.MilestoneCount,
	}
}

// ReconcileResult 描述一次周期对账的结果
type ReconcileResult struct {
	// Crossed 本次跨过的周期边界数量
	Crossed int
	// Misses 每个未完成的周期对应一条，时间戳为对账时刻
	Misses            []time.Time
	PreviousReference time.Time
}

// Changed 表示本次对账是否修改了习惯状态
func (r ReconcileResult) Changed() bool {
	return r.Crossed > 0
}

// Reconcile 把习惯推进到 now 所在的周期
//
// 刚结束的周期在 Done == false 时记一次未完成；之后完整经过的周期无人打卡，
// 每个各记一次。一次调用即可追平全部周期，ReferenceTime 最终等于
// period.Start(now)。发生未完成时 Streak 与 MilestoneCount 一并清零：
// 里程碑统计的是当前这段连胜，而不是累计成就。
func (h *Habit) Reconcile(now time.Time) ReconcileResult {
	res := ReconcileResult{PreviousReference: h.ReferenceTime}

	crossed := period.Elapsed(h.ReferenceTime, h.Periodicity, now)
	if crossed == 0 {
		return res
	}
	res.Crossed = crossed

	missed := crossed
	if h.Done {
		missed--
	}
	for i := 0; i < missed; i++ {
		res.Misses = append(res.Misses, now)
	}

	if missed > 0 {
		h.Streak = 0
		h.MilestoneCount = 0
	}
	h.Done = false
	h.ReferenceTime = h.ReferenceTime.Add(time.Duration(crossed) * period.Length(h.Periodicity))

	return res
}
