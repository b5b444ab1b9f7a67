package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"loan-monitor/common/config"
)

// 存储驱动
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config 借用监控服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig

	Store struct {
		Driver      string // postgres | memory
		SeedFile    string // memory 驱动的初始数据（文档库 JSON 导出）
		AutoMigrate bool   // 启动时建表
	}

	Monitor struct {
		// Timezone 日历日计算时区（逾期天数、日报、周报边界）
		Timezone string
		Location *time.Location

		OverdueScanInterval  time.Duration
		NoShowScanInterval   time.Duration
		RepeatScanInterval   time.Duration
		DailyReportInterval  time.Duration
		WeeklyReportInterval time.Duration
		CleanupInterval      time.Duration

		ReportRetentionDays int
		JobLockTTL          time.Duration
		// RunOnce 每个任务执行一次后退出（外部调度）
		RunOnce bool
	}

	Cache struct {
		KeyPrefix   string
		SnapshotTTL time.Duration
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 存储连接：默认值 + 环境变量覆盖
	cfg.Database = config.DefaultDatabaseConfig("loan_monitor")
	if err := cfg.Database.LoadFromEnv("DB"); err != nil {
		return nil, err
	}
	cfg.Redis = config.DefaultRedisConfig()
	if err := cfg.Redis.LoadFromEnv("REDIS"); err != nil {
		return nil, err
	}

	cfg.Store.Driver = strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres))
	cfg.Store.SeedFile = getEnv("STORE_SEED_FILE", "")

	var err error
	if cfg.Store.AutoMigrate, err = getBool("DB_AUTO_MIGRATE", true); err != nil {
		return nil, err
	}

	cfg.Monitor.Timezone = getEnv("MONITOR_TIMEZONE", "UTC")
	if cfg.Monitor.Location, err = time.LoadLocation(cfg.Monitor.Timezone); err != nil {
		return nil, fmt.Errorf("invalid MONITOR_TIMEZONE %q: %w", cfg.Monitor.Timezone, err)
	}

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"OVERDUE_SCAN_INTERVAL", time.Hour, &cfg.Monitor.OverdueScanInterval},
		{"NOSHOW_SCAN_INTERVAL", 15 * time.Minute, &cfg.Monitor.NoShowScanInterval},
		{"REPEAT_SCAN_INTERVAL", time.Hour, &cfg.Monitor.RepeatScanInterval},
		{"DAILY_REPORT_INTERVAL", 24 * time.Hour, &cfg.Monitor.DailyReportInterval},
		{"WEEKLY_REPORT_INTERVAL", 24 * time.Hour, &cfg.Monitor.WeeklyReportInterval},
		{"REPORT_CLEANUP_INTERVAL", 24 * time.Hour, &cfg.Monitor.CleanupInterval},
		{"JOB_LOCK_TTL", 10 * time.Minute, &cfg.Monitor.JobLockTTL},
		{"CACHE_SNAPSHOT_TTL", 7 * 24 * time.Hour, &cfg.Cache.SnapshotTTL},
	}
	for _, d := range durations {
		if *d.dest, err = getDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	if cfg.Monitor.ReportRetentionDays, err = getInt("REPORT_RETENTION_DAYS", 90); err != nil {
		return nil, err
	}
	if cfg.Monitor.RunOnce, err = getBool("RUN_ONCE", false); err != nil {
		return nil, err
	}

	cfg.Cache.KeyPrefix = getEnv("CACHE_KEY_PREFIX", "loan-monitor:")
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: must be postgres or memory", c.Store.Driver)
	}
	if c.Store.Driver == StoreDriverPostgres {
		if err := c.Database.Validate(); err != nil {
			return err
		}
	}
	if err := c.Redis.Validate(); err != nil {
		return err
	}
	if c.Monitor.ReportRetentionDays <= 0 {
		return fmt.Errorf("REPORT_RETENTION_DAYS must be positive, got %d", c.Monitor.ReportRetentionDays)
	}
	if c.Monitor.JobLockTTL <= 0 {
		return fmt.Errorf("JOB_LOCK_TTL must be positive, got %s", c.Monitor.JobLockTTL)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDuration 支持 Go duration（"90s"、"1h"）或整数秒
func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return b, nil
}
