package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Book      BookConfig      `mapstructure:"book"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	HTTPAddr    string   `mapstructure:"http_addr"`
	GRPCAddr    string   `mapstructure:"grpc_addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type SimulatorConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	Seed         uint64        `mapstructure:"seed"` // 0 picks a time-based seed
	Autostart    bool          `mapstructure:"autostart"`
}

type BookConfig struct {
	Depth int `mapstructure:"depth"`
}

type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	EventsTopic string   `mapstructure:"events_topic"`
	OrdersTopic string   `mapstructure:"orders_topic"`
	GroupID     string   `mapstructure:"group_id"`
}

type OutboxConfig struct {
	Dir           string        `mapstructure:"dir"` // empty keeps the outbox in memory
	DrainInterval time.Duration `mapstructure:"drain_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("server.http_addr", ":3001")
	v.SetDefault("server.grpc_addr", ":50051")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("simulator.tick_interval", 500*time.Millisecond)
	v.SetDefault("simulator.seed", 0)
	v.SetDefault("simulator.autostart", true)
	v.SetDefault("book.depth", 50)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.events_topic", "fracx.events")
	v.SetDefault("kafka.orders_topic", "fracx.orders")
	v.SetDefault("kafka.group_id", "fracx-engine")
	v.SetDefault("outbox.dir", "")
	v.SetDefault("outbox.drain_interval", 250*time.Millisecond)
}

// Load reads .env (if present), then the optional config file, then
// FRACX_* environment overrides, e.g. FRACX_SIMULATOR_TICK_INTERVAL=1s.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FRACX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Simulator.TickInterval <= 0 {
		return fmt.Errorf("simulator.tick_interval must be positive, got %s", c.Simulator.TickInterval)
	}
	if c.Book.Depth <= 0 {
		return fmt.Errorf("book.depth must be positive, got %d", c.Book.Depth)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}
	if c.Outbox.DrainInterval <= 0 {
		return fmt.Errorf("outbox.drain_interval must be positive, got %s", c.Outbox.DrainInterval)
	}
	return nil
}
