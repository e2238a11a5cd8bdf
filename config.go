package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"golang.org/x/exp/slog"
)

const (
	envDatabaseURL = "DATABASE_URL"
	envEnvFile     = "ENV_FILE"

	defaultEnvFile = ".env"
)

// Config 运行配置
//
// 加载顺序: 默认值 -> .env 文件 -> 环境变量 -> 命令行参数
type Config struct {
	DatabaseURL     string        `koanf:"database_url"`
	ListenAddr      string        `koanf:"listen_addr"`
	TotalRecords    int           `koanf:"total_records"`
	BatchSize       int           `koanf:"batch_size"`
	PoolMaxConns    int           `koanf:"pool_max_conns"`
	Concurrency     int           `koanf:"concurrency"`
	InsertMode      string        `koanf:"insert_mode"`
	LogLevel        string        `koanf:"log_level"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	SQLite          Pragma        `koanf:"sqlite"`
}

func defaultConfig() *Config {
	return &Config{
		ListenAddr:      ":8000",
		TotalRecords:    1_000_000,
		BatchSize:       10_000,
		PoolMaxConns:    10,
		InsertMode:      insertModeCopy,
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
		SQLite: Pragma{
			WithMutex:   true,
			BusyTimeout: 5000,
			JournalMode: "WAL",
			Synchronous: "NORMAL",
		},
	}
}

// Validate DATABASE_URL 缺失不算错误，由每次请求单独报告
func (c *Config) Validate() error {
	var errs []error

	if c.TotalRecords < 0 {
		errs = append(errs, fmt.Errorf("total_records must not be negative, got %d", c.TotalRecords))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.PoolMaxConns <= 0 {
		errs = append(errs, fmt.Errorf("pool_max_conns must be positive, got %d", c.PoolMaxConns))
	}
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency))
	}
	switch c.InsertMode {
	case insertModeCopy, insertModeBatch:
	default:
		errs = append(errs, fmt.Errorf("insert_mode must be %q or %q, got %q", insertModeCopy, insertModeBatch, c.InsertMode))
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout))
	}

	return errors.Join(errs...)
}

// envKey DATABASE_URL -> database_url, SQLITE_BUSY_TIMEOUT -> sqlite.busy_timeout
func envKey(s string) string {
	s = strings.ToLower(s)
	if rest, ok := strings.CutPrefix(s, "sqlite_"); ok {
		return "sqlite." + rest
	}
	return s
}

// flagKey database-url -> database_url
func flagKey(name string) string {
	name = strings.ReplaceAll(name, "-", "_")
	if rest, ok := strings.CutPrefix(name, "sqlite_"); ok {
		return "sqlite." + rest
	}
	return name
}

// LoadConfig 加载配置，flags 可以为 nil
func LoadConfig(flags *pflag.FlagSet) (*Config, error) {
	cfg := defaultConfig()
	k := koanf.New(".")

	envFile := defaultEnvFile
	if v := os.Getenv(envEnvFile); v != "" {
		envFile = v
	}
	if flags != nil {
		if f := flags.Lookup("env-file"); f != nil && f.Changed {
			envFile = f.Value.String()
		}
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := k.Load(file.Provider(envFile), dotenv.ParserEnv("", ".", envKey)); err != nil {
				return nil, fmt.Errorf("load env file %s, %w", envFile, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat env file %s, %w", envFile, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment variables, %w", err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed || f.Name == "env-file" {
				return "", nil
			}
			return flagKey(f.Name), posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("load flags, %w", err)
		}
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config, %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration, %w", err)
	}
	return cfg, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
