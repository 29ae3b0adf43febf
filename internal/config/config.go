// Package config 載入服務設定（YAML + 環境變數覆蓋）
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	Redis struct {
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"redis"`

	// NATS 為空時只做單機廣播
	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Session struct {
		Backend           string        `yaml:"backend"` // memory 或 redis
		InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
		MaxLifetime       time.Duration `yaml:"max_lifetime"`
		CookieName        string        `yaml:"cookie_name"`
		SecureCookie      bool          `yaml:"secure_cookie"`
	} `yaml:"session"`

	Auth struct {
		ElevatedRole string                     `yaml:"elevated_role"`
		Roles        map[string]map[string]bool `yaml:"roles"`
		// 啟動時確保此帳號存在（密碼可由 BOOTSTRAP_PASSWORD 覆蓋）
		BootstrapUser     string `yaml:"bootstrap_user"`
		BootstrapPassword string `yaml:"bootstrap_password"`
	} `yaml:"auth"`

	Cache struct {
		GeneralWindow   time.Duration `yaml:"general_window"`
		GeneralCapacity int           `yaml:"general_capacity"`
		PublicWindow    time.Duration `yaml:"public_window"`
		PublicCapacity  int           `yaml:"public_capacity"`
	} `yaml:"cache"`

	Realtime struct {
		MaxConnections int           `yaml:"max_connections"`
		RetryAfter     time.Duration `yaml:"retry_after"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"realtime"`

	Game struct {
		AbandonGrace time.Duration `yaml:"abandon_grace"`
	} `yaml:"game"`

	Housekeeping struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"housekeeping"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		Dir           string `yaml:"dir"`
		Hour          int    `yaml:"hour"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
}

// Default 返回默認配置
func Default() *Config {
	c := &Config{}

	c.Server.Port = 8080
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 15 * time.Second
	c.Server.IdleTimeout = 60 * time.Second

	c.Postgres.Host = "localhost"
	c.Postgres.Port = 5432
	c.Postgres.User = "postgres"
	c.Postgres.DBName = "procurement"
	c.Postgres.MaxConns = 10
	c.Postgres.MinConns = 2

	c.Redis.Addr = "localhost:6379"
	c.Redis.PoolSize = 10
	c.Redis.ReadTimeout = 3 * time.Second
	c.Redis.WriteTimeout = 3 * time.Second

	c.NATS.SubjectPrefix = "procurement.changes"

	c.Session.Backend = "memory"
	c.Session.InactivityTimeout = 30 * time.Minute
	c.Session.MaxLifetime = 8 * time.Hour
	c.Session.CookieName = "sid"

	c.Auth.ElevatedRole = "super_admin"

	c.Cache.GeneralWindow = 5 * time.Minute
	c.Cache.GeneralCapacity = 50
	c.Cache.PublicWindow = time.Minute
	c.Cache.PublicCapacity = 20

	c.Realtime.MaxConnections = 300
	c.Realtime.RetryAfter = 5 * time.Second

	c.Game.AbandonGrace = 5 * time.Minute

	c.Housekeeping.Interval = time.Minute

	c.Backup.Dir = "backups"
	c.Backup.Hour = 2
	c.Backup.RetentionDays = 20

	c.Log.Level = "info"
	c.Log.Format = "text"
	c.Log.Output = "stdout"

	return c
}

// Load 載入配置檔案；未出現的欄位保留預設值
func Load(path string) (*Config, error) {
	config := Default()

	// #nosec G304 - path 來自命令列參數，非使用者輸入
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate 檢查配置合理性
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Session.Backend != "memory" && c.Session.Backend != "redis" {
		return fmt.Errorf("unknown session backend: %q", c.Session.Backend)
	}
	if c.Session.InactivityTimeout <= 0 || c.Session.MaxLifetime < c.Session.InactivityTimeout {
		return fmt.Errorf("session max_lifetime must be >= inactivity_timeout > 0")
	}
	if c.Cache.GeneralCapacity <= 0 || c.Cache.PublicCapacity <= 0 {
		return fmt.Errorf("cache capacities must be positive")
	}
	if c.Realtime.MaxConnections <= 0 {
		return fmt.Errorf("realtime max_connections must be positive")
	}
	if c.Housekeeping.Interval <= 0 {
		return fmt.Errorf("housekeeping interval must be positive")
	}
	if c.Backup.Hour < 0 || c.Backup.Hour > 23 {
		return fmt.Errorf("backup hour must be within 0-23")
	}
	return nil
}

// BootstrapPassword 啟動帳號的密碼，環境變數優先
func (c *Config) BootstrapPassword() string {
	if pw := os.Getenv("BOOTSTRAP_PASSWORD"); pw != "" {
		return pw
	}
	return c.Auth.BootstrapPassword
}

// PostgresDSN 生成 PostgreSQL 連線字串
func (c *Config) PostgresDSN() string {
	// 支援環境變數覆蓋（生產環境常用）
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
	)
}
