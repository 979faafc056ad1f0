package service

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/habitstreak/internal/period"
	"github.com/microcosm-cc/bluemonday"
)

const maxHabitNameRunes = 191

var namePolicy = bluemonday.StrictPolicy()

// NormalizeName 把用户输入的名称转换为规范形式：去除标签、合并空白、转小写
func NormalizeName(raw string) (string, error) {
	cleaned := html.UnescapeString(namePolicy.Sanitize(raw))
	name := strings.ToLower(strings.Join(strings.Fields(cleaned), " "))

	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidHabitName)
	}
	if utf8.RuneCountInString(name) > maxHabitNameRunes {
		return "", fmt.Errorf("%w: name longer than %d characters", ErrInvalidHabitName, maxHabitNameRunes)
	}
	return name, nil
}

// ParsePeriodicity 解析文本形式的周期天数
func ParsePeriodicity(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &HabitError{Op: "parse periodicity", Value: raw, Err: fmt.Errorf("%w: must be a number of days", ErrInvalidPeriodicity)}
	}
	if err := period.Validate(value); err != nil {
		return 0, &HabitError{Op: "parse periodicity", Value: raw, Err: err}
	}
	return value, nil
}
