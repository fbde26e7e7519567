package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Session   SessionConfig   `yaml:"session"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Logger    LoggerConfig    `yaml:"logger"`
}

type ServerConfig struct {
	Addr          string        `yaml:"addr"`
	AllowOrigins  []string      `yaml:"allow_origins"`
	RatePerSecond int           `yaml:"rate_per_second"`
	RateBurst     int           `yaml:"rate_burst"`
	RateWindow    time.Duration `yaml:"rate_window"`
	JWTSecret     string        `yaml:"jwt_secret"`
}

type StorageConfig struct {
	AuthDir     string `yaml:"auth_dir"`
	Backend     string `yaml:"backend"` // sqlite | postgres
	DatabaseURL string `yaml:"database_url"`
	CatalogPath string `yaml:"catalog_path"`
}

type BridgeConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Secret          string        `yaml:"secret"`
	Attempts        int           `yaml:"attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	Timeout         time.Duration `yaml:"timeout"`
	QueueSize       int           `yaml:"queue_size"`
	ImportBatchSize int           `yaml:"import_batch_size"`
	ImportPacing    time.Duration `yaml:"import_pacing"`
	ImportSettle    time.Duration `yaml:"import_settle"`
	ImportWorkers   int           `yaml:"import_workers"`
}

type SessionConfig struct {
	PairingValidity    time.Duration `yaml:"pairing_validity"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	AutoConnect        bool          `yaml:"auto_connect"`
	DeviceName         string        `yaml:"device_name"`
	DefaultCountryCode string        `yaml:"default_country_code"`
	OperationTimeout   time.Duration `yaml:"operation_timeout"`
}

// ReconnectConfig is the delay table applied per disconnect cause.
type ReconnectConfig struct {
	RestartRequired  time.Duration `yaml:"restart_required"`
	ConnectionClosed time.Duration `yaml:"connection_closed"`
	ConnectionLost   time.Duration `yaml:"connection_lost"`
	TimedOut         time.Duration `yaml:"timed_out"`
	Default          time.Duration `yaml:"default"`
	InitError        time.Duration `yaml:"init_error"`
}

type LoggerConfig struct {
	Mode       string `yaml:"mode"` // development | production
	Level      string `yaml:"level"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:          ":2121",
			AllowOrigins:  []string{"*"},
			RatePerSecond: 10,
			RateBurst:     10,
			RateWindow:    3 * time.Minute,
		},
		Storage: StorageConfig{
			AuthDir:     "./auth",
			Backend:     "sqlite",
			CatalogPath: "./whatsflow.db",
		},
		Bridge: BridgeConfig{
			Attempts:        3,
			RetryDelay:      2 * time.Second,
			Timeout:         5 * time.Second,
			QueueSize:       256,
			ImportBatchSize: 20,
			ImportPacing:    time.Second,
			ImportSettle:    5 * time.Second,
			ImportWorkers:   4,
		},
		Session: SessionConfig{
			PairingValidity:    60 * time.Second,
			HeartbeatInterval:  60 * time.Second,
			AutoConnect:        true,
			DeviceName:         "WhatsFlow",
			DefaultCountryCode: "55",
			OperationTimeout:   30 * time.Second,
		},
		Reconnect: ReconnectConfig{
			RestartRequired:  5 * time.Second,
			ConnectionClosed: 10 * time.Second,
			ConnectionLost:   15 * time.Second,
			TimedOut:         20 * time.Second,
			Default:          30 * time.Second,
			InitError:        15 * time.Second,
		},
		Logger: LoggerConfig{
			Mode:     "development",
			Level:    "info",
			Filename: "./logs/whatsflow.log",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and finally the environment (a .env file is honoured when present).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	loadEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func loadEnv(cfg *Config) {
	if v := getEnv("WHATSFLOW_ADDR", ""); v != "" {
		cfg.Server.Addr = v
	} else if v := getEnv("PORT", ""); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := getEnv("CORS_ALLOW_ORIGINS", ""); v != "" {
		origins := strings.Split(v, ",")
		for i, o := range origins {
			origins[i] = strings.TrimSpace(o)
		}
		cfg.Server.AllowOrigins = origins
	}
	setInt(&cfg.Server.RatePerSecond, "RATE_LIMIT_PER_SECOND")
	setInt(&cfg.Server.RateBurst, "RATE_LIMIT_BURST")
	setString(&cfg.Server.JWTSecret, "JWT_SECRET")

	setString(&cfg.Storage.AuthDir, "WHATSFLOW_AUTH_DIR")
	setString(&cfg.Storage.Backend, "WHATSFLOW_STORE_BACKEND")
	setString(&cfg.Storage.DatabaseURL, "DATABASE_URL")
	setString(&cfg.Storage.CatalogPath, "WHATSFLOW_CATALOG")

	setString(&cfg.Bridge.BaseURL, "FASTAPI_URL")
	setString(&cfg.Bridge.BaseURL, "BRIDGE_URL")
	setString(&cfg.Bridge.Secret, "BRIDGE_SECRET")
	setInt(&cfg.Bridge.Attempts, "BRIDGE_ATTEMPTS")
	setDuration(&cfg.Bridge.RetryDelay, "BRIDGE_RETRY_DELAY")

	setDuration(&cfg.Session.PairingValidity, "PAIRING_VALIDITY")
	setDuration(&cfg.Session.HeartbeatInterval, "HEARTBEAT_INTERVAL")
	setBool(&cfg.Session.AutoConnect, "AUTO_CONNECT")
	setString(&cfg.Session.DefaultCountryCode, "DEFAULT_COUNTRY_CODE")

	setDuration(&cfg.Reconnect.RestartRequired, "RECONNECT_RESTART_REQUIRED")
	setDuration(&cfg.Reconnect.ConnectionClosed, "RECONNECT_CONNECTION_CLOSED")
	setDuration(&cfg.Reconnect.ConnectionLost, "RECONNECT_CONNECTION_LOST")
	setDuration(&cfg.Reconnect.TimedOut, "RECONNECT_TIMED_OUT")
	setDuration(&cfg.Reconnect.Default, "RECONNECT_DEFAULT")
	setDuration(&cfg.Reconnect.InitError, "RECONNECT_INIT_ERROR")

	setString(&cfg.Logger.Mode, "LOG_MODE")
	setString(&cfg.Logger.Level, "LOG_LEVEL")
	if v := getEnv("LOG_FILE", ""); v != "" {
		cfg.Logger.FileEnable = true
		cfg.Logger.Filename = v
	}
}

// Validate rejects values the session layer cannot work with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Bridge.Attempts < 1 {
		return fmt.Errorf("bridge.attempts must be at least 1")
	}
	if c.Bridge.ImportBatchSize < 1 {
		return fmt.Errorf("bridge.import_batch_size must be at least 1")
	}
	if c.Bridge.ImportWorkers < 1 {
		return fmt.Errorf("bridge.import_workers must be at least 1")
	}
	if c.Bridge.QueueSize < 1 {
		return fmt.Errorf("bridge.queue_size must be at least 1")
	}
	if c.Session.PairingValidity <= 0 {
		return fmt.Errorf("session.pairing_validity must be positive")
	}
	if c.Session.HeartbeatInterval <= 0 {
		return fmt.Errorf("session.heartbeat_interval must be positive")
	}
	for name, d := range map[string]time.Duration{
		"restart_required":  c.Reconnect.RestartRequired,
		"connection_closed": c.Reconnect.ConnectionClosed,
		"connection_lost":   c.Reconnect.ConnectionLost,
		"timed_out":         c.Reconnect.TimedOut,
		"default":           c.Reconnect.Default,
		"init_error":        c.Reconnect.InitError,
	} {
		if d <= 0 {
			return fmt.Errorf("reconnect.%s must be positive", name)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func setString(dst *string, key string) {
	if v := getEnv(key, ""); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := getEnv(key, ""); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func setBool(dst *bool, key string) {
	if v := getEnv(key, ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := getEnv(key, ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
