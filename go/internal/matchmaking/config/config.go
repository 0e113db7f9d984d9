package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the matchmaking client configuration. Values come from Default,
// then the YAML file, then MATCHMAKING_* environment variables.
type Config struct {
	Server struct {
		WebSocketURL string `yaml:"websocket_url"`
		APIURL       string `yaml:"api_url"`
		FrontendURL  string `yaml:"frontend_url"` // prefix of result routes in logs
	} `yaml:"server"`

	UserID   int64 `yaml:"user_id"`
	AutoJoin bool  `yaml:"auto_join"`

	Timing struct {
		ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		DisplayTick       time.Duration `yaml:"display_tick"`
	} `yaml:"timing"`

	Log struct {
		Level   string `yaml:"level"`
		Console bool   `yaml:"console"`
	} `yaml:"log"`

	Status struct {
		Addr           string   `yaml:"addr"` // empty disables the local status API
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"status"`

	NATS struct {
		URL           string `yaml:"url"` // empty disables event fan-out
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
}

// Default returns the configuration for a local development server
func Default() Config {
	var c Config
	c.Server.WebSocketURL = "ws://127.0.0.1:8000/matchmaking/ws/matchmaking"
	c.Server.APIURL = "http://127.0.0.1:8000"
	c.Server.FrontendURL = "http://localhost:3000"
	c.AutoJoin = true
	c.Timing.ReconnectDelay = 3 * time.Second
	c.Timing.HeartbeatInterval = 30 * time.Second
	c.Timing.DisplayTick = 100 * time.Millisecond
	c.Log.Level = "info"
	c.Log.Console = true
	c.Status.Addr = "127.0.0.1:8090"
	c.Status.AllowedOrigins = []string{"http://localhost:3000"}
	c.NATS.SubjectPrefix = "codeduel.events"
	return c
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	c.applyEnv()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	c.Server.WebSocketURL = getEnv("MATCHMAKING_WS_URL", c.Server.WebSocketURL)
	c.Server.APIURL = getEnv("MATCHMAKING_API_URL", c.Server.APIURL)
	c.Server.FrontendURL = getEnv("MATCHMAKING_FRONTEND_URL", c.Server.FrontendURL)
	c.UserID = int64(getEnvAsInt("MATCHMAKING_USER_ID", int(c.UserID)))
	c.AutoJoin = getEnvAsBool("MATCHMAKING_AUTO_JOIN", c.AutoJoin)
	c.Timing.ReconnectDelay = getEnvAsDuration("MATCHMAKING_RECONNECT_DELAY", c.Timing.ReconnectDelay)
	c.Timing.HeartbeatInterval = getEnvAsDuration("MATCHMAKING_HEARTBEAT_INTERVAL", c.Timing.HeartbeatInterval)
	c.Timing.DisplayTick = getEnvAsDuration("MATCHMAKING_DISPLAY_TICK", c.Timing.DisplayTick)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Status.Addr = getEnv("MATCHMAKING_STATUS_ADDR", c.Status.Addr)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)
}

// Validate checks the values the client cannot run without
func (c Config) Validate() error {
	var errs []error
	if c.Server.WebSocketURL == "" {
		errs = append(errs, errors.New("server.websocket_url is required"))
	}
	if c.UserID < 0 {
		errs = append(errs, fmt.Errorf("user_id must not be negative, got %d", c.UserID))
	}
	if c.Timing.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("timing.reconnect_delay must be positive"))
	}
	if c.Timing.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("timing.heartbeat_interval must be positive"))
	}
	if c.Timing.DisplayTick <= 0 {
		errs = append(errs, errors.New("timing.display_tick must be positive"))
	}
	if c.NATS.URL != "" && c.NATS.SubjectPrefix == "" {
		errs = append(errs, errors.New("nats.subject_prefix is required when nats.url is set"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
