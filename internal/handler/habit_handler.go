package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitstreak/internal/habit"
	"github.com/habitstreak/internal/locale"
	"github.com/habitstreak/internal/period"
	"github.com/habitstreak/internal/service"
)

type habitPayload struct {
	Name string `json:"name"`
	// 兼容数字与数字字符串两种写法
	Periodicity json.RawMessage `json:"periodicity"`
}

// ListHabits 返回习惯列表，可按 ?periodicity=N 过滤
func (a *API) ListHabits(c *gin.Context) {
	var (
		habits []habit.Habit
		err    error
	)

	if raw := strings.TrimSpace(c.Query("periodicity")); raw != "" {
		periodicity, parseErr := service.ParsePeriodicity(raw)
		if parseErr != nil {
			handleHabitError(c, parseErr)
			return
		}
		habits, err = a.habits.ListByPeriodicity(c.Request.Context(), periodicity)
	} else {
		habits, err = a.habits.List(c.Request.Context())
	}
	if err != nil {
		a.log.Error("list habits failed", "error", err)
		handleHabitError(c, err)
		return
	}

	now := a.habits.Now()
	items := make([]gin.H, 0, len(habits))
	for _, h := range habits {
		items = append(items, habitToPayload(h, now))
	}

	respondSuccess(c, http.StatusOK, gin.H{"habits": items})
}

// CreateHabit 创建习惯
func (a *API) CreateHabit(c *gin.Context) {
	name, periodicity, ok := parseHabitInput(c)
	if !ok {
		return
	}

	created, err := a.habits.Add(c.Request.Context(), name, periodicity)
	if err != nil {
		a.logFailure("create habit failed", name, err)
		handleHabitError(c, err)
		return
	}

	respondSuccess(c, http.StatusCreated, gin.H{"habit": habitToPayload(created, a.habits.Now())})
}

// GetHabit 返回单个习惯详情
func (a *API) GetHabit(c *gin.Context) {
	h, err := a.habits.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		handleHabitError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, gin.H{"habit": habitToPayload(h, a.habits.Now())})
}

// DeleteHabit 删除习惯
func (a *API) DeleteHabit(c *gin.Context) {
	if err := a.habits.Delete(c.Request.Context(), c.Param("name")); err != nil {
		a.logFailure("delete habit failed", c.Param("name"), err)
		handleHabitError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, gin.H{"deleted": true})
}

// CheckOffHabit 为当前周期打卡
func (a *API) CheckOffHabit(c *gin.Context) {
	res, err := a.habits.CheckOff(c.Request.Context(), c.Param("name"))
	if err != nil {
		a.logFailure("check off failed", c.Param("name"), err)
		handleHabitError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"habit":           res.Name,
		"outcome":         res.Outcome.String(),
		"message":         res.Message(),
		"streak":          res.Streak,
		"longest_streak":  res.LongestStreak,
		"milestone_count": res.MilestoneCount,
		"misses_recorded": res.MissesRecorded,
	})
}

// GetHabitLongestStreak 返回单个习惯的历史最长连胜
func (a *API) GetHabitLongestStreak(c *gin.Context) {
	summary, err := a.habits.LongestStreakFor(c.Request.Context(), c.Param("name"))
	if err != nil {
		handleHabitError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, gin.H{"habit": summary.Name, "longest_streak": summary.LongestStreak})
}

// GetHabitMisses 返回习惯在最近 ?days=N 天内的未完成次数
func (a *API) GetHabitMisses(c *gin.Context) {
	window, err := parseWindowQuery(c, "days", a.missWindow)
	if err != nil {
		respondLocalizedError(c, http.StatusBadRequest, "invalid days window", "统计天数无效")
		return
	}

	summary, err := a.habits.MissedCount(c.Request.Context(), c.Param("name"), window)
	if err != nil {
		a.logFailure("count misses failed", c.Param("name"), err)
		handleHabitError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"habit":  summary.Name,
		"missed": summary.Missed,
		"since":  formatTime(summary.Since),
		"days":   int(window / period.Day),
	})
}

// GetLongestStreak 返回全部习惯中历史最长连胜
func (a *API) GetLongestStreak(c *gin.Context) {
	best, found := a.habits.LongestStreak()
	if !found {
		respondSuccess(c, http.StatusOK, gin.H{"habit": nil, "longest_streak": 0})
		return
	}

	respondSuccess(c, http.StatusOK, gin.H{"habit": best.Name, "longest_streak": best.LongestStreak})
}

// GetMostMissed 返回最近 ?days=N 天内未完成次数最多的习惯
func (a *API) GetMostMissed(c *gin.Context) {
	window, err := parseWindowQuery(c, "days", a.missWindow)
	if err != nil {
		respondLocalizedError(c, http.StatusBadRequest, "invalid days window", "统计天数无效")
		return
	}

	summary, found, err := a.habits.MostMissedHabit(c.Request.Context(), window)
	if err != nil {
		a.log.Error("most missed habit failed", "error", err)
		handleHabitError(c, err)
		return
	}

	payload := gin.H{"habit": nil, "missed": 0, "since": formatTime(summary.Since), "days": int(window / period.Day)}
	if found {
		payload["habit"] = summary.Name
		payload["missed"] = summary.Missed
	}
	respondSuccess(c, http.StatusOK, payload)
}

// TriggerReconcile 手动触发一轮对账
func (a *API) TriggerReconcile(c *gin.Context) {
	report, err := a.runReconcile(c.Request.Context())
	if err != nil {
		a.log.Error("manual reconcile failed", "error", err)
		respondLocalizedError(c, http.StatusServiceUnavailable, "reconcile service unavailable", "对账服务不可用")
		return
	}

	failures := make([]gin.H, 0, len(report.Failures))
	for _, failure := range report.Failures {
		failures = append(failures, gin.H{"habit": failure.Name, "error": locale.Pick(requestLanguage(c), "save failed", "保存失败")})
	}

	status := http.StatusOK
	if len(report.Failures) > 0 {
		status = http.StatusInternalServerError
	}

	respondSuccess(c, status, gin.H{
		"run_id":      report.RunID,
		"at":          formatTime(report.At),
		"checked":     report.Checked,
		"updated":     report.Updated,
		"misses":      report.Misses,
		"interrupted": report.Interrupted,
		"failures":    failures,
	})
}

func parseHabitInput(c *gin.Context) (string, int, bool) {
	var (
		name           string
		rawPeriodicity string
	)

	if strings.Contains(c.GetHeader("Content-Type"), "application/json") {
		var payload habitPayload
		if !bindJSON(c, &payload, "invalid request payload", "请求参数不合法") {
			return "", 0, false
		}
		name = payload.Name
		rawPeriodicity = strings.Trim(strings.TrimSpace(string(payload.Periodicity)), `"`)
	} else {
		name = c.PostForm("name")
		rawPeriodicity = c.PostForm("periodicity")
	}

	if strings.TrimSpace(rawPeriodicity) == "" {
		respondLocalizedError(c, http.StatusBadRequest, "periodicity is required", "周期天数不能为空")
		return "", 0, false
	}

	periodicity, err := service.ParsePeriodicity(rawPeriodicity)
	if err != nil {
		handleHabitError(c, err)
		return "", 0, false
	}

	return name, periodicity, true
}

func habitToPayload(h habit.Habit, now time.Time) gin.H {
	start, end := h.CurrentPeriod(now)
	return gin.H{
		"name":            h.Name,
		"periodicity":     h.Periodicity,
		"period_label":    period.Label(h.Periodicity),
		"reference_time":  formatTime(h.ReferenceTime),
		"period_start":    formatTime(start),
		"period_end":      formatTime(end),
		"streak":          h.Streak,
		"longest_streak":  h.LongestStreak,
		"milestone_count": h.MilestoneCount,
		"done":            h.Done,
	}
}

func (a *API) logFailure(msg, name string, err error) {
	if errors.Is(err, service.ErrPersistence) {
		a.log.Error(msg, "habit", name, "error", err)
		return
	}
	a.log.Debug(msg, "habit", name, "error", err)
}

// handleHabitError 把领域错误映射为 HTTP 状态码，存储层原始错误不会出现在响应中
func handleHabitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrHabitNotFound):
		respondLocalizedError(c, http.StatusNotFound, "habit not found", "习惯不存在")
	case errors.Is(err, service.ErrDuplicateHabit):
		respondLocalizedError(c, http.StatusConflict, "habit already exists", "习惯已存在")
	case errors.Is(err, service.ErrInvalidPeriodicity):
		respondLocalizedError(c, http.StatusBadRequest, "periodicity must be a positive number of days", "周期天数必须为正整数")
	case errors.Is(err, service.ErrInvalidHabitName):
		respondLocalizedError(c, http.StatusBadRequest, "invalid habit name", "习惯名称无效")
	default:
		respondLocalizedError(c, http.StatusInternalServerError, "operation failed", "操作失败")
	}
}
