// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/vthunder/clr/internal/logging"
	"github.com/vthunder/clr/internal/types"
)

// Config is the process configuration. Runtime-tunable thresholds live in
// the settings package instead.
type Config struct {
	APIHost           string
	APIPort           int
	InferenceInterval time.Duration
	WindowSeconds     float64
	MaxWindowEvents   int
	StatePath         string
	TimelineDB        string
	LowLoadThreshold  float64
	PolicyFile        string
}

// Defaults returns the built-in configuration
func Defaults() Config {
	return Config{
		APIHost:           "127.0.0.1",
		APIPort:           8765,
		InferenceInterval: 2 * time.Second,
		WindowSeconds:     300,
		MaxWindowEvents:   500,
		StatePath:         "state",
		TimelineDB:        "timeline.db",
		LowLoadThreshold:  0.35,
	}
}

// Load reads an optional .env file then applies CLR_* overrides
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		logging.Debug("config", "No .env file found, using environment variables")
	} else {
		logging.Info("config", "Loaded .env file")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a getenv-style lookup
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Defaults()

	if v := getenv("CLR_API_HOST"); v != "" {
		cfg.APIHost = v
	}
	if v := getenv("CLR_API_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 65535 {
			return cfg, fmt.Errorf("%w: CLR_API_PORT=%q", types.ErrConfig, v)
		}
		cfg.APIPort = n
	}
	if v := getenv("CLR_INFERENCE_INTERVAL_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 100 {
			return cfg, fmt.Errorf("%w: CLR_INFERENCE_INTERVAL_MS=%q (min 100)", types.ErrConfig, v)
		}
		cfg.InferenceInterval = time.Duration(n) * time.Millisecond
	}
	if v := getenv("CLR_WINDOW_SECONDS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 10 {
			return cfg, fmt.Errorf("%w: CLR_WINDOW_SECONDS=%q (min 10)", types.ErrConfig, v)
		}
		cfg.WindowSeconds = f
	}
	if v := getenv("CLR_MAX_WINDOW_EVENTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("%w: CLR_MAX_WINDOW_EVENTS=%q", types.ErrConfig, v)
		}
		cfg.MaxWindowEvents = n
	}
	if v := getenv("CLR_STATE_PATH"); v != "" {
		cfg.StatePath = v
	}
	if v := getenv("CLR_TIMELINE_DB"); v != "" {
		cfg.TimelineDB = v
	}
	if v := getenv("CLR_LOW_LOAD_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f >= 1 {
			return cfg, fmt.Errorf("%w: CLR_LOW_LOAD_THRESHOLD=%q", types.ErrConfig, v)
		}
		cfg.LowLoadThreshold = f
	}
	cfg.PolicyFile = getenv("CLR_POLICY_FILE")

	return cfg, nil
}

// Addr is the listen address for the HTTP API
func (c Config) Addr() string {
	return net.JoinHostPort(c.APIHost, strconv.Itoa(c.APIPort))
}

// TimelinePath resolves the timeline database under the state directory
// unless an absolute path was given.
func (c Config) TimelinePath() string {
	if filepath.IsAbs(c.TimelineDB) {
		return c.TimelineDB
	}
	return filepath.Join(c.StatePath, c.TimelineDB)
}

// SettingsPath is where user settings are persisted
func (c Config) SettingsPath() string {
	return filepath.Join(c.StatePath, "settings.json")
}
