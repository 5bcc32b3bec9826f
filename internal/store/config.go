package store

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRetryDelaySeconds = 5
	DefaultBufferCapacity    = 200
	MaxBufferCapacity        = 200
	DefaultChartWidth        = 800
	DefaultChartHeight       = 400
	DefaultChartTicks        = 6
	DefaultHTTPAddr          = ":8090"
	DefaultTokenFile         = ".livedash_token"
)

type Config struct {
	WSBase            string `yaml:"ws_base"`
	APIBase           string `yaml:"api_base"`
	RetryDelaySeconds int    `yaml:"retry_delay_seconds"`
	BufferCapacity    int    `yaml:"buffer_capacity"`
	TokenFile         string `yaml:"token_file"`
	Chart             struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
		Ticks  int `yaml:"ticks"`
	} `yaml:"chart"`
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Login struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"login"`
}

func (c *Config) Validate() error {
	if c.WSBase == "" {
		return errors.New("ws_base cannot be empty")
	}
	u, err := url.Parse(c.WSBase)
	if err != nil {
		return fmt.Errorf("invalid ws_base '%s': %w", c.WSBase, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("ws_base scheme must be 'ws' or 'wss', got '%s'", u.Scheme)
	}
	if c.RetryDelaySeconds <= 0 {
		return fmt.Errorf("retry_delay_seconds must be positive, got %d", c.RetryDelaySeconds)
	}
	if c.BufferCapacity <= 0 || c.BufferCapacity > MaxBufferCapacity {
		return fmt.Errorf("buffer_capacity must be between 1 and %d, got %d", MaxBufferCapacity, c.BufferCapacity)
	}
	if c.Chart.Width <= 60 || c.Chart.Height <= 40 {
		return fmt.Errorf("chart must be at least 61x41, got %dx%d", c.Chart.Width, c.Chart.Height)
	}
	return nil
}

// RetryDelay is the fixed delay before a reconnection attempt.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(b)
}

// ParseConfig decodes YAML, applies defaults and the DASH_* environment
// overlay, then validates.
func ParseConfig(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	applyEnv(&c)
	applyDefaults(&c)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

func applyDefaults(c *Config) {
	if c.RetryDelaySeconds == 0 {
		c.RetryDelaySeconds = DefaultRetryDelaySeconds
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = DefaultBufferCapacity
	}
	if c.Chart.Width == 0 {
		c.Chart.Width = DefaultChartWidth
	}
	if c.Chart.Height == 0 {
		c.Chart.Height = DefaultChartHeight
	}
	if c.Chart.Ticks == 0 {
		c.Chart.Ticks = DefaultChartTicks
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.TokenFile == "" {
		c.TokenFile = DefaultTokenFile
	}
}

func applyEnv(c *Config) {
	overlay := map[string]*string{
		"DASH_WS_BASE":    &c.WSBase,
		"DASH_API_BASE":   &c.APIBase,
		"DASH_TOKEN_FILE": &c.TokenFile,
		"DASH_USERNAME":   &c.Login.Username,
		"DASH_PASSWORD":   &c.Login.Password,
	}
	for key, dst := range overlay {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
}
