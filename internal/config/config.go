package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const appName = "fieldsync"

// Config holds all application configuration
type Config struct {
	UserID  string        `mapstructure:"user_id" yaml:"user_id" validate:"required"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server" validate:"required"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Media   MediaConfig   `mapstructure:"media" yaml:"media"`
	Watch   WatchConfig   `mapstructure:"watch" yaml:"watch"`
}

// ServerConfig holds the remote sync API settings
type ServerConfig struct {
	BaseURL         string `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`
	Token           string `mapstructure:"token" yaml:"token"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds" validate:"min=1"`
	ReachabilityURL string `mapstructure:"reachability_url" yaml:"reachability_url,omitempty" validate:"omitempty,url"`
}

// StorageConfig holds on-device storage locations
type StorageConfig struct {
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	MediaDir     string `mapstructure:"media_dir" yaml:"media_dir"`
}

// SyncConfig holds sync behavior settings
type SyncConfig struct {
	RetryAttempts       int  `mapstructure:"retry_attempts" yaml:"retry_attempts" validate:"min=0"`
	RetryDelayMs        int  `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms" validate:"min=0"`
	TrustOverallSuccess bool `mapstructure:"trust_overall_success" yaml:"trust_overall_success"`
	PropagateDeletes    bool `mapstructure:"propagate_deletes" yaml:"propagate_deletes"`
	DebounceMs          int  `mapstructure:"debounce_ms" yaml:"debounce_ms" validate:"min=0"`
	IntervalSeconds     int  `mapstructure:"interval_seconds" yaml:"interval_seconds" validate:"min=0"`
}

// MediaConfig holds photo storage settings
type MediaConfig struct {
	MaxFileSizeMB   int      `mapstructure:"max_file_size_mb" yaml:"max_file_size_mb" validate:"min=1"`
	IncludePatterns []string `mapstructure:"include_patterns" yaml:"include_patterns"`
	CleanupDays     int      `mapstructure:"cleanup_days" yaml:"cleanup_days" validate:"min=1"`
}

// WatchConfig holds settings for the change-triggered sync daemon
type WatchConfig struct {
	IgnorePatterns []string `mapstructure:"ignore_patterns" yaml:"ignore_patterns"`
}

// Timeout returns the per-request timeout for remote calls
func (s *ServerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// ProbeURL returns the URL used for the internet reachability check
func (s *ServerConfig) ProbeURL() string {
	if s.ReachabilityURL != "" {
		return s.ReachabilityURL
	}
	return strings.TrimRight(s.BaseURL, "/") + "/health"
}

// RetryDelay returns the base delay between transport retries
func (s *SyncConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMs) * time.Millisecond
}

// Interval returns the periodic sync interval used by the watch daemon
func (s *SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// MaxFileSize returns the largest photo accepted, in bytes
func (m *MediaConfig) MaxFileSize() int64 {
	return int64(m.MaxFileSizeMB) * 1024 * 1024
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			TimeoutSeconds: 30,
		},
		Sync: SyncConfig{
			RetryAttempts:       3,
			RetryDelayMs:        1000,
			TrustOverallSuccess: true,
			DebounceMs:          2000,
			IntervalSeconds:     300,
		},
		Media: MediaConfig{
			MaxFileSizeMB: 25,
			IncludePatterns: []string{
				"*.{jpg,jpeg,png,heic,webp}",
			},
			CleanupDays: 30,
		},
		Watch: WatchConfig{
			IgnorePatterns: []string{
				"**/*-journal",
				"**/*-shm",
				"**/*.tmp",
				"**/.DS_Store",
			},
		},
	}
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("server.timeout_seconds", defaults.Server.TimeoutSeconds)
	v.SetDefault("sync.retry_attempts", defaults.Sync.RetryAttempts)
	v.SetDefault("sync.retry_delay_ms", defaults.Sync.RetryDelayMs)
	v.SetDefault("sync.trust_overall_success", defaults.Sync.TrustOverallSuccess)
	v.SetDefault("sync.propagate_deletes", defaults.Sync.PropagateDeletes)
	v.SetDefault("sync.debounce_ms", defaults.Sync.DebounceMs)
	v.SetDefault("sync.interval_seconds", defaults.Sync.IntervalSeconds)
	v.SetDefault("media.max_file_size_mb", defaults.Media.MaxFileSizeMB)
	v.SetDefault("media.include_patterns", defaults.Media.IncludePatterns)
	v.SetDefault("media.cleanup_days", defaults.Media.CleanupDays)
	v.SetDefault("watch.ignore_patterns", defaults.Watch.IgnorePatterns)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("FIELDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// AutomaticEnv only resolves keys viper already knows about
	for _, key := range []string{"user_id", "server.base_url", "server.token", "storage.database_path", "storage.media_dir"} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is okay if we have environment variables
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Server.Token = os.ExpandEnv(cfg.Server.Token)

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// resolvePaths fills storage locations under the data directory when unset
func (c *Config) resolvePaths() error {
	if c.Storage.DatabasePath == "" || c.Storage.MediaDir == "" {
		dataDir, err := GetStateDir()
		if err != nil {
			return err
		}
		if c.Storage.DatabasePath == "" {
			c.Storage.DatabasePath = filepath.Join(dataDir, appName+".db")
		}
		if c.Storage.MediaDir == "" {
			c.Storage.MediaDir = filepath.Join(dataDir, "media")
		}
	}

	c.Storage.DatabasePath = expandPath(c.Storage.DatabasePath)
	c.Storage.MediaDir = expandPath(c.Storage.MediaDir)
	return nil
}

// getConfigDir returns the appropriate config directory for the OS
func getConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
		return filepath.Join(os.Getenv("USERPROFILE"), ".config", appName)
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, appName)
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", appName)
	}
}

// GetStateDir returns the directory for config, session state and local data
func GetStateDir() (string, error) {
	dir := getConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return dir, nil
}

// expandPath expands ~ and environment variables in a path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return os.ExpandEnv(path)
}
