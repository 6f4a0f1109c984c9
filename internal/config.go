package internal

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

	Hub struct {
		ProbeInterval  time.Duration `yaml:"probe_interval"`   // 心跳探測間隔
		SendBuffer     int           `yaml:"send_buffer"`      // 每連接發送緩衝
		WriteTimeout   time.Duration `yaml:"write_timeout"`    // 單次寫入超時
		MaxMessageSize int64         `yaml:"max_message_size"` // 入站消息大小上限
	} `yaml:"hub"`

	Storage struct {
		Driver string `yaml:"driver"` // "memory" 或 "postgres"
	} `yaml:"storage"`

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
		Enabled     bool          `yaml:"enabled"`
		Addr        string        `yaml:"addr"`
		Password    string        `yaml:"password"`
		DB          int           `yaml:"db"`
		PoolSize    int           `yaml:"pool_size"`
		SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
	} `yaml:"redis"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
}

// LoadConfig 從檔案載入配置，path 為空時使用預設值
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - path 來自命令行參數
		if err != nil {
			return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置檔失敗: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults 套用預設值
func (c *Config) applyDefaults() {
	c.Server.Port = 8080
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 15 * time.Second
	c.Server.IdleTimeout = 60 * time.Second

	c.Hub.ProbeInterval = 30 * time.Second
	c.Hub.SendBuffer = 256
	c.Hub.WriteTimeout = 10 * time.Second
	c.Hub.MaxMessageSize = 4096

	c.Storage.Driver = "memory"

	c.Postgres.Host = "localhost"
	c.Postgres.Port = 5432
	c.Postgres.User = "postgres"
	c.Postgres.DBName = "exam_sync"
	c.Postgres.MaxConns = 10
	c.Postgres.MinConns = 2

	c.Redis.Addr = "localhost:6379"
	c.Redis.PoolSize = 10
	c.Redis.SnapshotTTL = 30 * time.Second

	c.Log.Level = "info"
	c.Log.Format = "text"
	c.Log.Output = "stdout"
}

// validate 驗證配置
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("無效的服務端口: %d", c.Server.Port)
	}

	if c.Hub.ProbeInterval < time.Second {
		return fmt.Errorf("心跳探測間隔過短: %s", c.Hub.ProbeInterval)
	}

	if c.Hub.SendBuffer <= 0 {
		return fmt.Errorf("發送緩衝必須為正數: %d", c.Hub.SendBuffer)
	}

	switch c.Storage.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("不支援的存儲驅動: %s", c.Storage.Driver)
	}

	return nil
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

// RedisAddr 取得 Redis 位址
func (c *Config) RedisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	return c.Redis.Addr
}
