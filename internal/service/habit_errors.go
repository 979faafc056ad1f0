package service

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/habitstreak/internal/period"
)

var (
	// ErrHabitNotFound 在指定习惯不存在时返回
	ErrHabitNotFound = errors.New("habit not found")
	// ErrDuplicateHabit 规范化后的名称已存在
	ErrDuplicateHabit = errors.New("habit already exists")
	// ErrInvalidPeriodicity 周期天数不是正整数
	ErrInvalidPeriodicity = period.ErrInvalidPeriodicity
	// ErrInvalidHabitName 名称为空或过长
	ErrInvalidHabitName = errors.New("invalid habit name")
	// ErrPersistence 存储层操作失败
	ErrPersistence = errors.New("persistence failure")
)

// HabitError 携带操作、习惯名和出错的取值，Unwrap 后可用 errors.Is 判断类别
type HabitError struct {
	Op    string
	Name  string
	Value any
	Err   error
}

func (e *HabitError) Error() string {
	msg := e.Op
	if e.Name != "" {
		msg += " " + strconv.Quote(e.Name)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value %v)", e.Value)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HabitError) Unwrap() error { return e.Err }

func habitError(op, name string, err error) error {
	return &HabitError{Op: op, Name: name, Err: err}
}

func persistenceError(op, name string, err error) error {
	return &HabitError{Op: op, Name: name, Err: fmt.Errorf("%w: %w", ErrPersistence, err)}
}
