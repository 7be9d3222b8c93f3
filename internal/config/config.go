package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// ServerConfig holds HTTP API settings for serve.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level     string
	Retention int
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig
}

// EngineConfig tunes the local trigger engine.
type EngineConfig struct {
	ResyncInterval time.Duration
	RunTimeout     time.Duration
	// Embedded runs an engine inside the test command when the local
	// backend is selected, so verification works without a daemon.
	Embedded bool
}

// Config holds all runtime configuration.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Notification NotificationConfig
	Engine       EngineConfig

	Backend       string
	StateDir      string
	UseUTC        bool
	ShutdownGrace time.Duration
}

const (
	appName               = "taskschedule"
	envPrefix             = "TASKSCHED_"
	defaultAddr           = "127.0.0.1:7171"
	defaultLogLevel       = "info"
	defaultRunLogKeep     = 20
	defaultShutdownGrace  = 5 * time.Second
	defaultResyncInterval = time.Minute
	defaultRunTimeout     = 72 * time.Hour
	defaultBackend        = "auto"
)

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

func getEnvString(lookup LookupFunc, key, defaultVal string) string {
	if val, ok := lookup(envPrefix + key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(lookup LookupFunc, key string, defaultVal int) int {
	if val, ok := lookup(envPrefix + key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(lookup LookupFunc, key string, defaultVal bool) bool {
	if val, ok := lookup(envPrefix + key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultVal
}

func getEnvDuration(lookup LookupFunc, key string, defaultVal time.Duration) time.Duration {
	if val, ok := lookup(envPrefix + key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
			return d
		}
	}
	return defaultVal
}

// Load reads optional .env files and the environment.
// Priority: environment variables > .env file > defaults. Flags are applied
// on top with ApplyFlags.
func Load() (*Config, error) {
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, appName, ".env"))
	}
	for _, file := range envFiles {
		// godotenv never overrides variables that are already set, so the
		// first file wins over later ones.
		_ = godotenv.Load(file)
	}
	return FromLookup(os.LookupEnv), nil
}

// FromLookup builds a Config from lookup with defaults filled in.
func FromLookup(lookup LookupFunc) *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      getEnvString(lookup, "ADDR", defaultAddr),
			AuthToken: getEnvString(lookup, "AUTH_TOKEN", ""),
		},
		Log: LogConfig{
			Level:     getEnvString(lookup, "LOG_LEVEL", defaultLogLevel),
			Retention: getEnvInt(lookup, "LOG_RETENTION", defaultRunLogKeep),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     getEnvString(lookup, "BARK_URL", ""),
				Enabled: getEnvBool(lookup, "BARK_ENABLED", false),
			},
		},
		Engine: EngineConfig{
			ResyncInterval: getEnvDuration(lookup, "RESYNC_INTERVAL", defaultResyncInterval),
			RunTimeout:     getEnvDuration(lookup, "RUN_TIMEOUT", defaultRunTimeout),
			Embedded:       getEnvBool(lookup, "EMBEDDED_ENGINE", true),
		},
		Backend:       getEnvString(lookup, "BACKEND", defaultBackend),
		StateDir:      getEnvString(lookup, "STATE_DIR", ""),
		UseUTC:        getEnvBool(lookup, "USE_UTC", false),
		ShutdownGrace: getEnvDuration(lookup, "SHUTDOWN_GRACE", defaultShutdownGrace),
	}
}

// RegisterFlags adds the override flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("state-dir", "", "directory for the local task registry and run logs")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("backend", "", "task service backend (auto, windows, local)")
	fs.String("addr", "", "HTTP listen address for serve")
	fs.Bool("use-utc", false, "evaluate local triggers in UTC instead of local time")
	fs.Int("run-log-keep", 0, "number of run logs to retain per task")
	fs.Duration("shutdown-grace", 0, "grace period when shutting down serve")
}

// ApplyFlags copies every flag the user set explicitly onto cfg and fills in
// derived defaults.
func ApplyFlags(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "state-dir":
			cfg.StateDir = f.Value.String()
		case "log-level":
			cfg.Log.Level = f.Value.String()
		case "backend":
			cfg.Backend = f.Value.String()
		case "addr":
			cfg.Server.Addr = f.Value.String()
		case "use-utc":
			cfg.UseUTC, err = fs.GetBool(f.Name)
		case "run-log-keep":
			cfg.Log.Retention, err = fs.GetInt(f.Name)
		case "shutdown-grace":
			cfg.ShutdownGrace, err = fs.GetDuration(f.Name)
		}
	})
	if err != nil {
		return err
	}
	return finalize(cfg)
}

func finalize(cfg *Config) error {
	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	if cfg.Log.Retention < 1 {
		cfg.Log.Retention = defaultRunLogKeep
	}
	if cfg.Engine.ResyncInterval < 0 {
		cfg.Engine.ResyncInterval = 0
	}
	return nil
}

// Location returns the zone local triggers are evaluated in.
func (c *Config) Location() *time.Location {
	if c.UseUTC {
		return time.UTC
	}
	return time.Local
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, appName), nil
}
