package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "STEPWISE"

	defaultServerName          = "stepwise"
	defaultLogLevel            = "info"
	defaultSessionBackend      = "file"
	defaultSessionTTL          = time.Hour
	defaultShutdownTimeout     = 10 * time.Second
	defaultCleanupInterval     = 10 * time.Minute
	defaultRunlogRetention     = 72 * time.Hour
	defaultRedisAddr           = "127.0.0.1:6379"
	defaultRedisKeyPrefix      = "stepwise:"
	defaultRedisLockTTL        = 30 * time.Second
	defaultMCPMaxPayloadBytes  = 1 << 20
	defaultMCPRateBurst        = 20
	defaultDefinitionsFilename = "workflows.yaml"
)

const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	ServerName         string
	LogLevel           string
	StateDir           string
	DefinitionsPath    string
	InboxDir           string
	SessionBackend     string
	SessionTTL         time.Duration
	RedisAddr          string
	RedisDB            int
	RedisKeyPrefix     string
	RedisLockTTL       time.Duration
	CleanupInterval    time.Duration
	RunlogRetention    time.Duration
	ShutdownTimeout    time.Duration
	MCPMaxPayloadBytes int
	MCPRateLimit       float64
	MCPRateBurst       int
}

// SessionDir is where the file backend keeps one record per token.
func (c Config) SessionDir() string {
	return filepath.Join(c.StateDir, "sessions")
}

// RunlogPath is the append-only action audit log.
func (c Config) RunlogPath() string {
	return filepath.Join(c.StateDir, "runlog.jsonl")
}

// Load resolves configuration from defaults, an optional YAML file and
// STEPWISE_* environment variables, in increasing precedence. An empty
// configFile falls back to $HOME/.stepwise.yaml when it exists.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, configFile); err != nil {
		return Config{}, err
	}

	stateDir := v.GetString("state_dir")
	if stateDir == "" {
		resolved, err := defaultStateDir()
		if err != nil {
			return Config{}, err
		}
		stateDir = resolved
	}
	definitionsPath := v.GetString("definitions_path")
	if definitionsPath == "" {
		definitionsPath = filepath.Join(stateDir, defaultDefinitionsFilename)
	}
	inboxDir := v.GetString("inbox_dir")
	if inboxDir == "" {
		inboxDir = filepath.Join(stateDir, "inbox")
	}

	cfg := Config{
		ServerName:         v.GetString("server_name"),
		LogLevel:           strings.ToLower(v.GetString("log_level")),
		StateDir:           stateDir,
		DefinitionsPath:    definitionsPath,
		InboxDir:           inboxDir,
		SessionBackend:     strings.ToLower(v.GetString("session_backend")),
		SessionTTL:         v.GetDuration("session_ttl"),
		RedisAddr:          v.GetString("redis_addr"),
		RedisDB:            v.GetInt("redis_db"),
		RedisKeyPrefix:     v.GetString("redis_key_prefix"),
		RedisLockTTL:       v.GetDuration("redis_lock_ttl"),
		CleanupInterval:    v.GetDuration("cleanup_interval"),
		RunlogRetention:    v.GetDuration("runlog_retention"),
		ShutdownTimeout:    v.GetDuration("shutdown_timeout"),
		MCPMaxPayloadBytes: v.GetInt("mcp_max_payload_bytes"),
		MCPRateLimit:       v.GetFloat64("mcp_rate_limit"),
		MCPRateBurst:       v.GetInt("mcp_rate_burst"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_name", defaultServerName)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("state_dir", "")
	v.SetDefault("definitions_path", "")
	v.SetDefault("inbox_dir", "")
	v.SetDefault("session_backend", defaultSessionBackend)
	v.SetDefault("session_ttl", defaultSessionTTL)
	v.SetDefault("redis_addr", defaultRedisAddr)
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_key_prefix", defaultRedisKeyPrefix)
	v.SetDefault("redis_lock_ttl", defaultRedisLockTTL)
	v.SetDefault("cleanup_interval", defaultCleanupInterval)
	v.SetDefault("runlog_retention", defaultRunlogRetention)
	v.SetDefault("shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("mcp_max_payload_bytes", defaultMCPMaxPayloadBytes)
	v.SetDefault("mcp_rate_limit", 0)
	v.SetDefault("mcp_rate_burst", defaultMCPRateBurst)
}

func readConfigFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %q: %w", configFile, err)
		}
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	v.AddConfigPath(home)
	v.SetConfigType("yaml")
	v.SetConfigName(".stepwise")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

func defaultStateDir() (string, error) {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "stepwise"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve state dir: %w", err)
	}
	return filepath.Join(home, ".local", "state", "stepwise"), nil
}

func (c Config) Validate() error {
	if c.ServerName == "" {
		return errors.New("server name cannot be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.LogLevel)
	}
	if c.StateDir == "" {
		return errors.New("state dir cannot be empty")
	}
	if c.DefinitionsPath == "" {
		return errors.New("definitions path cannot be empty")
	}
	switch c.SessionBackend {
	case BackendFile, BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("redis address cannot be empty when session backend is redis")
		}
		if c.RedisDB < 0 {
			return errors.New("redis db must be >= 0")
		}
		if c.RedisLockTTL <= 0 {
			return errors.New("redis lock ttl must be positive")
		}
	default:
		return fmt.Errorf("unsupported session backend %q", c.SessionBackend)
	}
	if c.SessionTTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if c.CleanupInterval < 0 {
		return errors.New("cleanup interval must be >= 0")
	}
	if c.RunlogRetention < 0 {
		return errors.New("runlog retention must be >= 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.MCPMaxPayloadBytes < 0 {
		return errors.New("mcp max payload bytes must be >= 0")
	}
	if c.MCPRateLimit < 0 {
		return errors.New("mcp rate limit must be >= 0")
	}
	if c.MCPRateLimit > 0 && c.MCPRateBurst <= 0 {
		return errors.New("mcp rate burst must be positive when rate limiting is enabled")
	}
	return nil
}
