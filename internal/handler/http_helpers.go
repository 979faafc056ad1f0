package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitstreak/internal/period"
)

const maxWindowDays = 3650

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func respondSuccess(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

func bindJSON(c *gin.Context, dst interface{}, english, chinese string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondLocalizedError(c, http.StatusBadRequest, english, chinese)
		return false
	}
	return true
}

// parseWindowQuery 解析 ?days=N，缺省时返回 fallback
func parseWindowQuery(c *gin.Context, key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 1 || days > maxWindowDays {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return time.Duration(days) * period.Day, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
