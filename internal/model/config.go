package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds the backend connection settings.
type ServerConfig struct {
	// BaseURL is the root URL of the backend (e.g., https://tracker.example.edu).
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// WebsocketPath is the path of the realtime endpoint, joined onto
	// BaseURL with the scheme switched to ws/wss.
	WebsocketPath string `mapstructure:"websocket_path" yaml:"websocket_path"`
}

// RealtimeConfig holds reconnection settings for the notification channel.
type RealtimeConfig struct {
	// ReconnectDelaySec is the base delay between reconnection attempts.
	// The effective delay is this value multiplied by the attempt number.
	ReconnectDelaySec int `mapstructure:"reconnect_delay_sec" yaml:"reconnect_delay_sec"`

	// MaxReconnectAttempts bounds the reconnection loop. After this many
	// failed attempts the channel stays down until reconnected explicitly.
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
}

// NotificationsConfig holds local notification handling settings.
type NotificationsConfig struct {
	// CachePath is the SQLite file used to keep notifications readable
	// across restarts. Empty disables the cache.
	CachePath string `mapstructure:"cache_path" yaml:"cache_path"`

	// PollIntervalSec is how often (in seconds) the polling fallback
	// re-fetches notifications while the realtime channel is down.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	Realtime      RealtimeConfig      `mapstructure:"realtime" yaml:"realtime"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
}

// WebsocketURL derives the realtime endpoint URL from the server base
// URL by switching the scheme to ws/wss and appending the socket path.
func (c *AppConfig) WebsocketURL() string {
	base := strings.TrimRight(c.Server.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	path := c.Server.WebsocketPath
	if path == "" {
		path = "/ws"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// configDir returns the directory holding configuration and local data,
// located at ~/.config/progresstrack.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "progresstrack")
}

// DefaultConfigPath returns the default path for the configuration file.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			BaseURL:       "http://localhost:8080",
			WebsocketPath: "/ws",
		},
		Realtime: RealtimeConfig{
			ReconnectDelaySec:    3,
			MaxReconnectAttempts: 5,
		},
		Notifications: NotificationsConfig{
			CachePath:       filepath.Join(configDir(), "notifications.db"),
			PollIntervalSec: 60,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	defaults := defaultAppConfig()
	v.SetDefault("server.base_url", defaults.Server.BaseURL)
	v.SetDefault("server.websocket_path", defaults.Server.WebsocketPath)
	v.SetDefault("realtime.reconnect_delay_sec", defaults.Realtime.ReconnectDelaySec)
	v.SetDefault("realtime.max_reconnect_attempts", defaults.Realtime.MaxReconnectAttempts)
	v.SetDefault("notifications.cache_path", defaults.Notifications.CachePath)
	v.SetDefault("notifications.poll_interval_sec", defaults.Notifications.PollIntervalSec)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaults, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaults, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server", cfg.Server)
	v.Set("realtime", cfg.Realtime)
	v.Set("notifications", cfg.Notifications)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
