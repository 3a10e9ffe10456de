package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	AppID = "xcoffee"

	DefaultStreamURL      = "https://kaffee.hnf.de"
	DefaultReconnectDelay = 5 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultStallTimeout   = 30 * time.Second
	DefaultMaxFrameBytes  = 8 << 20
	DefaultTrojanSize     = 128
	DefaultJPEGQuality    = 75
	DefaultDisplayFPS     = 24

	EnvPrefix = "XCOFFEE"
)

type WindowConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

type Config struct {
	mu sync.RWMutex

	StreamURL      string        `mapstructure:"stream_url" yaml:"stream_url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	StallTimeout   time.Duration `mapstructure:"stall_timeout" yaml:"stall_timeout"`
	MaxFrameBytes  int           `mapstructure:"max_frame_bytes" yaml:"max_frame_bytes"`

	TrojanView  bool `mapstructure:"trojan_view" yaml:"trojan_view"`
	TrojanSize  int  `mapstructure:"trojan_size" yaml:"trojan_size"`
	JPEGQuality int  `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`

	DisplayFPS uint         `mapstructure:"display_fps" yaml:"display_fps"`
	Window     WindowConfig `mapstructure:"window" yaml:"window"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty" yaml:"log_pretty"`

	path string
}

func NewDefaultConfig() *Config {
	return &Config{
		StreamURL:      DefaultStreamURL,
		ReconnectDelay: DefaultReconnectDelay,
		ConnectTimeout: DefaultConnectTimeout,
		StallTimeout:   DefaultStallTimeout,
		MaxFrameBytes:  DefaultMaxFrameBytes,
		TrojanSize:     DefaultTrojanSize,
		JPEGQuality:    DefaultJPEGQuality,
		DisplayFPS:     DefaultDisplayFPS,
		Window:         WindowConfig{Width: 640, Height: 520},
		LogLevel:       "info",
		LogPretty:      true,
	}
}

// SetDefaults registers every key so env vars and bound flags resolve
// even when no config file exists.
func SetDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("stream_url", d.StreamURL)
	v.SetDefault("reconnect_delay", d.ReconnectDelay)
	v.SetDefault("connect_timeout", d.ConnectTimeout)
	v.SetDefault("stall_timeout", d.StallTimeout)
	v.SetDefault("max_frame_bytes", d.MaxFrameBytes)
	v.SetDefault("trojan_view", d.TrojanView)
	v.SetDefault("trojan_size", d.TrojanSize)
	v.SetDefault("jpeg_quality", d.JPEGQuality)
	v.SetDefault("display_fps", d.DisplayFPS)
	v.SetDefault("window.width", d.Window.Width)
	v.SetDefault("window.height", d.Window.Height)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_pretty", d.LogPretty)
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/xcoffee/config.yaml or the
// platform equivalent.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, AppID, "config.yaml")
}

// Load reads path (or the default path when empty) through v. A missing
// file is not an error; defaults and environment still apply.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultConfigPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := ValidateStreamURL(c.StreamURL); err != nil {
		return err
	}

	switch {
	case c.ReconnectDelay <= 0:
		return fmt.Errorf("reconnect_delay must be positive, got %s", c.ReconnectDelay)
	case c.ConnectTimeout <= 0:
		return fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout)
	case c.StallTimeout < 0:
		return fmt.Errorf("stall_timeout must not be negative, got %s", c.StallTimeout)
	case c.MaxFrameBytes <= 0:
		return fmt.Errorf("max_frame_bytes must be positive, got %d", c.MaxFrameBytes)
	case c.TrojanSize <= 0:
		return fmt.Errorf("trojan_size must be positive, got %d", c.TrojanSize)
	case c.JPEGQuality < 1 || c.JPEGQuality > 100:
		return fmt.Errorf("jpeg_quality must be within 1..100, got %d", c.JPEGQuality)
	case c.DisplayFPS == 0:
		return errors.New("display_fps must be positive")
	}

	return nil
}

func ValidateStreamURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid stream_url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("stream_url %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("stream_url %q has no host", raw)
	}
	return nil
}

func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

func (c *Config) GetTrojanView() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TrojanView
}

func (c *Config) SetTrojanView(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TrojanView = enabled
}

func (c *Config) GetFPS() uint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DisplayFPS
}

func (c *Config) GetStreamURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.StreamURL
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return yaml.Marshal(c)
}

// Save stores the settings the window changes into the file at path. Every
// other key is written back exactly as the file had it, so environment and
// flag overrides of a single run never end up on disk.
func (c *Config) Save(path string) error {
	doc := map[string]any{}

	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(existing, &doc); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	doc["trojan_view"] = c.GetTrojanView()

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}

	return nil
}

// SaveByDefault saves to the file the config was loaded from.
func (c *Config) SaveByDefault() error {
	path := c.Path()
	if path == "" {
		path = DefaultConfigPath()
	}
	return c.Save(path)
}
