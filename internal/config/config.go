// Package config 載入 ledger 服務設定 (config/config.yaml + .env)
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-ledger/pkg/database"
)

// StorageMemory 記憶體 + WAL
const StorageMemory = "memory"

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Events     EventsConfig     `yaml:"events"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"` // 空字串表示不啟動 HTTP
	// 寫入端點每個 IP 在 WriteWindow 內最多幾次請求，0 不限制
	WriteLimit      int           `yaml:"write_limit"`
	WriteWindow     time.Duration `yaml:"write_window"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver   string          `yaml:"driver"`  // memory / mysql / postgres / sqlite
	WALDir   string          `yaml:"wal_dir"` // memory 專用
	Database database.Config `yaml:"database"`
}

type LedgerConfig struct {
	Currencies   []string      `yaml:"currencies"`
	NodeID       int64         `yaml:"node_id"` // snowflake node (0-1023)
	GuardTimeout time.Duration `yaml:"guard_timeout"`
}

type CheckpointConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Threshold int           `yaml:"threshold"`
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queue_size"`
	// Retain 記憶體 store 每個帳戶保留幾個 checkpoint，0 全部保留
	Retain int `yaml:"retain"`
}

type EventsConfig struct {
	Kafka  KafkaConfig `yaml:"kafka"`
	Buffer int         `yaml:"buffer"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug / info / warn / error
	Format string `yaml:"format"` // json / text
}

// Load 讀取設定檔。同目錄或工作目錄下的 .env 會先載入，
// YAML 內的 ${VAR} 以環境變數展開。
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse 解析 YAML 內容並補上預設值
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = ":50051"
	}
	if c.Server.WriteWindow <= 0 {
		c.Server.WriteWindow = time.Minute
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageMemory
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	if c.Storage.WALDir == "" {
		c.Storage.WALDir = "data"
	}
	if c.Storage.Driver != StorageMemory {
		c.Storage.Database.Driver = c.Storage.Driver
		c.Storage.Database = c.Storage.Database.WithDefaults()
	}

	if len(c.Ledger.Currencies) == 0 {
		c.Ledger.Currencies = []string{"EUR"}
	}
	for i, cur := range c.Ledger.Currencies {
		c.Ledger.Currencies[i] = strings.ToUpper(strings.TrimSpace(cur))
	}
	if c.Ledger.GuardTimeout <= 0 {
		c.Ledger.GuardTimeout = 2 * time.Second
	}

	if c.Checkpoint.Interval <= 0 {
		c.Checkpoint.Interval = 30 * time.Second
	}
	if c.Checkpoint.Threshold <= 0 {
		c.Checkpoint.Threshold = 1000
	}
	if c.Checkpoint.Workers <= 0 {
		c.Checkpoint.Workers = 4
	}
	if c.Checkpoint.QueueSize <= 0 {
		c.Checkpoint.QueueSize = 1024
	}

	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 1000
	}
	if c.Events.Kafka.Topic == "" {
		c.Events.Kafka.Topic = "ledger.transaction_posted"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	return c
}

// Validate 檢查設定是否合理
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, database.DriverMySQL, database.DriverPostgres, database.DriverSQLite:
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	for _, cur := range c.Ledger.Currencies {
		if len(cur) != 3 {
			return fmt.Errorf("config: invalid currency %q", cur)
		}
	}
	if c.Ledger.NodeID < 0 || c.Ledger.NodeID > 1023 {
		return fmt.Errorf("config: node_id %d out of range 0-1023", c.Ledger.NodeID)
	}
	if c.Server.WriteLimit < 0 {
		return fmt.Errorf("config: write_limit must not be negative")
	}
	if c.Checkpoint.Retain < 0 {
		return fmt.Errorf("config: checkpoint retain must not be negative")
	}
	if c.Events.Kafka.Enabled && len(c.Events.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka enabled without brokers")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	return nil
}
