package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is the default HTTP base URL for the Inkwell backend.
// Override at build time with: go build -ldflags "-X inkwell/internal/config.DefaultBaseURL=http://localhost:8090"
var DefaultBaseURL = "https://api.inkwell.app"

// Config represents the client configuration.
type Config struct {
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	AuthToken string `yaml:"auth_token,omitempty" mapstructure:"auth_token"`

	// Request/reconciliation timing. Zero values are replaced with the
	// defaults below on Load; tests inject small values directly.
	RequestTimeout     time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	ReconcileGrace     time.Duration `yaml:"reconcile_grace" mapstructure:"reconcile_grace"`
	StatusResetDelay   time.Duration `yaml:"status_reset_delay" mapstructure:"status_reset_delay"`
	ConversationExpiry time.Duration `yaml:"conversation_expiry" mapstructure:"conversation_expiry"`

	PageSize int `yaml:"page_size" mapstructure:"page_size"`
}

const (
	defaultRequestTimeout     = 60 * time.Second
	defaultReconcileGrace     = 2 * time.Second
	defaultStatusResetDelay   = time.Second
	defaultConversationExpiry = 30 * time.Minute
	defaultPageSize           = 20
)

var (
	configPath string
	configDir  string
)

func init() {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Sprintf("failed to get home directory: %v", err))
	}
	configDir = filepath.Join(home, ".inkwell")
	configPath = filepath.Join(configDir, "config.yaml")
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	return configPath
}

// PushURL derives the WebSocket endpoint for a session's push channel from
// the HTTP base URL.
// e.g. "https://api.inkwell.app" → "wss://api.inkwell.app/sessions/<id>/events"
func (c *Config) PushURL(sessionID string) string {
	u := strings.TrimSuffix(c.BaseURL, "/")
	if strings.HasPrefix(u, "https://") {
		u = "wss://" + u[8:]
	} else if strings.HasPrefix(u, "http://") {
		u = "ws://" + u[7:]
	}
	return u + "/sessions/" + sessionID + "/events"
}

// Load loads the configuration from file, creating a default one if none
// exists. Environment variables prefixed INKWELL_ override file values.
func Load() (*Config, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		defaultConfig := Default()
		if err := Save(defaultConfig); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return defaultConfig, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("INKWELL")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

// Save saves the configuration to file
func Save(cfg *Config) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Config holds the auth token, so keep permissions tight
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{BaseURL: DefaultBaseURL}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.ReconcileGrace == 0 {
		c.ReconcileGrace = defaultReconcileGrace
	}
	if c.StatusResetDelay == 0 {
		c.StatusResetDelay = defaultStatusResetDelay
	}
	if c.ConversationExpiry == 0 {
		c.ConversationExpiry = defaultConversationExpiry
	}
	if c.PageSize == 0 {
		c.PageSize = defaultPageSize
	}
}
