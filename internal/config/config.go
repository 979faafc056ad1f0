package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr         string
	Port               string
	DatabaseDriver     string
	DatabasePath       string
	GinMode            string
	LogMode            string
	ReconcileSchedules []string
	Timezone           string
	MissWindowDays     int
}

// fileConfig 是 CONFIG_FILE 指向的 YAML 文件结构，空值表示不覆盖。
type fileConfig struct {
	Port               string   `yaml:"port"`
	ListenAddr         string   `yaml:"listen_addr"`
	DatabaseDriver     string   `yaml:"database_driver"`
	DatabasePath       string   `yaml:"database_path"`
	GinMode            string   `yaml:"gin_mode"`
	LogMode            string   `yaml:"log_mode"`
	ReconcileSchedules []string `yaml:"reconcile_schedules"`
	Timezone           string   `yaml:"timezone"`
	MissWindowDays     int      `yaml:"miss_window_days"`
}

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
// CONFIG_FILE 非空时先应用文件中的值，环境变量优先级更高。
func Load() (AppConfig, error) {
	var file fileConfig
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return AppConfig{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return AppConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	port := lookup("PORT", file.Port, "8080")

	listenAddr := lookup("LISTEN_ADDR", file.ListenAddr, "")
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", port)
	}

	driver := strings.ToLower(lookup("DATABASE_DRIVER", file.DatabaseDriver, "sqlite"))

	schedules := file.ReconcileSchedules
	if raw := strings.TrimSpace(os.Getenv("RECONCILE_SCHEDULES")); raw != "" {
		schedules = splitList(raw)
	}

	timezone := lookup("TIMEZONE", file.Timezone, "UTC")
	if _, err := time.LoadLocation(timezone); err != nil {
		return AppConfig{}, fmt.Errorf("invalid TIMEZONE %q: %w", timezone, err)
	}

	missWindowDays := file.MissWindowDays
	if raw := strings.TrimSpace(os.Getenv("MISS_WINDOW_DAYS")); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			return AppConfig{}, fmt.Errorf("invalid MISS_WINDOW_DAYS %q: %w", raw, err)
		}
		missWindowDays = days
	}
	if missWindowDays <= 0 {
		missWindowDays = 30
	}

	return AppConfig{
		ListenAddr:         listenAddr,
		Port:               port,
		DatabaseDriver:     driver,
		DatabasePath:       lookup("DATABASE_PATH", file.DatabasePath, "habits.db"),
		GinMode:            lookup("GIN_MODE", file.GinMode, "release"),
		LogMode:            lookup("LOG_MODE", file.LogMode, "prod"),
		ReconcileSchedules: schedules,
		Timezone:           timezone,
		MissWindowDays:     missWindowDays,
	}, nil
}

// Location 返回调度使用的时区
func (c AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MissWindow 返回未完成统计的默认窗口
func (c AppConfig) MissWindow() time.Duration {
	return time.Duration(c.MissWindowDays) * 24 * time.Hour
}

func lookup(key, fromFile, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	if value := strings.TrimSpace(fromFile); value != "" {
		return value
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
