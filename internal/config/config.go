// Package config resolves client settings from defaults, an optional YAML
// file, a .env file and QABOARD_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIURL            = "http://localhost:8000/api"
	DefaultWSURL             = "ws://localhost:8000/ws"
	DefaultReconnectDelay    = 3 * time.Second
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultPollInterval      = 5 * time.Second
	DefaultRequestTimeout    = 10 * time.Second
)

type Config struct {
	APIURL            string        `yaml:"api_url"`
	WSURL             string        `yaml:"ws_url"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RequestRate       float64       `yaml:"request_rate"`
	RequestBurst      int           `yaml:"request_burst"`
	SessionFile       string        `yaml:"session_file"`
	LogFile           string        `yaml:"log_file"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`
	MetricsAddr       string        `yaml:"metrics_addr"`
}

func Default() Config {
	return Config{
		APIURL:            DefaultAPIURL,
		WSURL:             DefaultWSURL,
		ReconnectDelay:    DefaultReconnectDelay,
		KeepaliveInterval: DefaultKeepaliveInterval,
		PollInterval:      DefaultPollInterval,
		RequestTimeout:    DefaultRequestTimeout,
		RequestRate:       10,
		RequestBurst:      5,
		SessionFile:       "~/.qaboard/user.json",
		LogFile:           "~/.qaboard/logs/qaboard.log",
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// DefaultPath is QABOARD_CONFIG, or ~/.qaboard/config.yaml.
func DefaultPath() string {
	if p := envOr("QABOARD_CONFIG", ""); p != "" {
		return p
	}
	return "~/.qaboard/config.yaml"
}

// Load layers the YAML file at path (missing is fine), then .env, then the
// process environment over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(ExpandHome(path))
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv()
	cfg.Normalize()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.APIURL = envOr("QABOARD_API_URL", c.APIURL)
	c.WSURL = envOr("QABOARD_WS_URL", c.WSURL)
	c.ReconnectDelay = envOrDuration("QABOARD_RECONNECT_DELAY", c.ReconnectDelay)
	c.KeepaliveInterval = envOrDuration("QABOARD_KEEPALIVE_INTERVAL", c.KeepaliveInterval)
	c.PollInterval = envOrDuration("QABOARD_POLL_INTERVAL", c.PollInterval)
	c.RequestTimeout = envOrDuration("QABOARD_REQUEST_TIMEOUT", c.RequestTimeout)
	c.RequestRate = envOrFloat("QABOARD_REQUEST_RATE", c.RequestRate)
	c.RequestBurst = envOrInt("QABOARD_REQUEST_BURST", c.RequestBurst)
	c.SessionFile = envOr("QABOARD_SESSION_FILE", c.SessionFile)
	c.LogFile = envOr("QABOARD_LOG_FILE", c.LogFile)
	c.LogLevel = envOr("QABOARD_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("QABOARD_LOG_FORMAT", c.LogFormat)
	c.MetricsAddr = envOr("QABOARD_METRICS_ADDR", c.MetricsAddr)
}

// Normalize trims values and clamps intervals into usable ranges.
func (c *Config) Normalize() {
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	c.WSURL = strings.TrimSpace(c.WSURL)
	c.PollInterval = clampDuration(c.PollInterval, time.Second, time.Minute)
	c.ReconnectDelay = clampDuration(c.ReconnectDelay, 100*time.Millisecond, time.Minute)
	c.KeepaliveInterval = clampDuration(c.KeepaliveInterval, time.Second, 10*time.Minute)
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RequestBurst < 1 {
		c.RequestBurst = 1
	}
	c.SessionFile = ExpandHome(strings.TrimSpace(c.SessionFile))
	c.LogFile = ExpandHome(strings.TrimSpace(c.LogFile))
}

func (c Config) Validate() error {
	if err := checkURL(c.APIURL, "http", "https"); err != nil {
		return fmt.Errorf("api_url: %w", err)
	}
	if err := checkURL(c.WSURL, "ws", "wss"); err != nil {
		return fmt.Errorf("ws_url: %w", err)
	}
	if c.RequestRate < 0 {
		return fmt.Errorf("request_rate must not be negative")
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q must be an absolute %s URL", raw, strings.Join(schemes, "/"))
}

func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func clampDuration(value, min, max time.Duration) time.Duration {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// envOrDuration accepts Go durations ("3s") or bare milliseconds ("3000").
func envOrDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
