// Package config 存储连接配置（PostgreSQL / Redis），按前缀从环境变量覆盖
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled     bool
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// DefaultDatabaseConfig 本地开发默认值
func DefaultDatabaseConfig(database string) DatabaseConfig {
	return DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        database,
		SSLMode:         "disable",
		MaxConns:        10,
		MaxIdle:         5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// DefaultRedisConfig 本地开发默认值
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:     true,
		Addr:        "localhost:6379",
		PoolSize:    10,
		DialTimeout: 5 * time.Second,
	}
}

// GetDSN lib/pq 连接串（key=value 形式，值按需加引号）
func (c *DatabaseConfig) GetDSN() string {
	parts := []string{
		"host=" + quoteDSN(c.Host),
		fmt.Sprintf("port=%d", c.Port),
		"user=" + quoteDSN(c.User),
		"password=" + quoteDSN(c.Password),
		"dbname=" + quoteDSN(c.Database),
		"sslmode=" + quoteDSN(c.SSLMode),
	}
	if c.ConnectTimeout > 0 {
		secs := int(c.ConnectTimeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", secs))
	}
	return strings.Join(parts, " ")
}

// Redacted 日志用，隐藏密码
func (c *DatabaseConfig) Redacted() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	return u.Redacted()
}

func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Validate 校验数据库配置
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return errors.New("database host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid database port %d", c.Port)
	}
	if c.Database == "" {
		return errors.New("database name is required")
	}
	if c.MaxIdle > c.MaxConns && c.MaxConns > 0 {
		return fmt.Errorf("database max idle (%d) exceeds max conns (%d)", c.MaxIdle, c.MaxConns)
	}
	return nil
}

// Validate 校验 Redis 配置；未启用时不检查
func (c *RedisConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Addr == "" {
		return errors.New("redis addr is required when redis is enabled")
	}
	if c.DB < 0 {
		return fmt.Errorf("invalid redis db %d", c.DB)
	}
	return nil
}

// LoadFromEnv 按前缀覆盖数据库配置，如 DB_HOST、DB_MAX_CONNS
func (c *DatabaseConfig) LoadFromEnv(prefix string) error {
	env := envReader{prefix: prefix}
	env.stringVar("HOST", &c.Host)
	env.intVar("PORT", &c.Port)
	env.stringVar("USER", &c.User)
	env.stringVar("PASSWORD", &c.Password)
	env.stringVar("NAME", &c.Database)
	env.stringVar("SSLMODE", &c.SSLMode)
	env.intVar("MAX_CONNS", &c.MaxConns)
	env.intVar("MAX_IDLE", &c.MaxIdle)
	env.durationVar("CONN_MAX_LIFETIME", &c.ConnMaxLifetime)
	env.durationVar("CONNECT_TIMEOUT", &c.ConnectTimeout)
	return env.err()
}

// LoadFromEnv 按前缀覆盖 Redis 配置，如 REDIS_ADDR、REDIS_ENABLED
func (c *RedisConfig) LoadFromEnv(prefix string) error {
	env := envReader{prefix: prefix}
	env.boolVar("ENABLED", &c.Enabled)
	env.stringVar("ADDR", &c.Addr)
	env.stringVar("PASSWORD", &c.Password)
	env.intVar("DB", &c.DB)
	env.intVar("POOL_SIZE", &c.PoolSize)
	env.durationVar("DIAL_TIMEOUT", &c.DialTimeout)
	return env.err()
}

// envReader 只覆盖已设置的变量，解析错误累积后一次返回
type envReader struct {
	prefix string
	errs   []error
}

func (r *envReader) lookup(name string) (string, string, bool) {
	key := r.prefix + "_" + name
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return key, "", false
	}
	return key, value, true
}

func (r *envReader) stringVar(name string, dest *string) {
	if _, value, ok := r.lookup(name); ok {
		*dest = value
	}
}

func (r *envReader) intVar(name string, dest *int) {
	key, value, ok := r.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s %q: %w", key, value, err))
		return
	}
	*dest = n
}

func (r *envReader) boolVar(name string, dest *bool) {
	key, value, ok := r.lookup(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s %q: %w", key, value, err))
		return
	}
	*dest = b
}

// durationVar 支持 "30s" 或整数秒
func (r *envReader) durationVar(name string, dest *time.Duration) {
	key, value, ok := r.lookup(name)
	if !ok {
		return
	}
	if secs, err := strconv.Atoi(value); err == nil {
		*dest = time.Duration(secs) * time.Second
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s %q: %w", key, value, err))
		return
	}
	*dest = d
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}
