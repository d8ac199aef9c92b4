// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Selector SelectorConfig `mapstructure:"selector" yaml:"selector"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// EngineConfig tunes chain execution.
type EngineConfig struct {
	// PollInterval is the delay between predicate evaluations in WaitUntil/WaitFor.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// WaitTimeout bounds WaitUntil/WaitFor when the chain does not give its own timeout.
	WaitTimeout time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
	// MaxConcurrentChains limits how many chains Await runs at once. Zero means no limit.
	MaxConcurrentChains int `mapstructure:"max_concurrent_chains" yaml:"max_concurrent_chains"`
	// ActionsPerSecond paces side-effecting nodes within a chain. Zero disables pacing.
	ActionsPerSecond float64 `mapstructure:"actions_per_second" yaml:"actions_per_second"`
}

// Backend kinds understood by the service factory.
const (
	BackendChromedp = "chromedp"
	BackendRod      = "rod"
	BackendSelenium = "selenium"
)

// BrowserConfig describes how backend sessions are launched.
type BrowserConfig struct {
	// Backends lists the drivers every chain is replayed against.
	Backends          []string      `mapstructure:"backends" yaml:"backends"`
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SeleniumURL       string        `mapstructure:"selenium_url" yaml:"selenium_url"`
	RodControlURL     string        `mapstructure:"rod_control_url" yaml:"rod_control_url"`
}

// Selector strategy kinds.
const (
	SelectorCSS     = "css"
	SelectorXPath   = "xpath"
	SelectorLibrary = "library"
)

// SelectorConfig picks the DOM selector strategy.
type SelectorConfig struct {
	Strategy        string `mapstructure:"strategy" yaml:"strategy"`
	LibraryPath     string `mapstructure:"library_path" yaml:"library_path"`
	LibraryFunction string `mapstructure:"library_function" yaml:"library_function"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "fluentweb")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.poll_interval", "250ms")
	v.SetDefault("engine.wait_timeout", "10s")
	v.SetDefault("engine.max_concurrent_chains", 0)
	v.SetDefault("engine.actions_per_second", 0.0)

	// -- Browser --
	v.SetDefault("browser.backends", []string{BackendChromedp})
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 800)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.selenium_url", "http://localhost:4444/wd/hub")

	// -- Selector --
	v.SetDefault("selector.strategy", SelectorCSS)
	v.SetDefault("selector.library_function", "Sizzle")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
// Environment variables prefixed with FLUENTWEB_ override file values
// (e.g. FLUENTWEB_ENGINE_WAIT_TIMEOUT).
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("fluentweb")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("engine.poll_interval must be a positive duration")
	}
	if c.Engine.WaitTimeout < c.Engine.PollInterval {
		return fmt.Errorf("engine.wait_timeout must not be shorter than engine.poll_interval")
	}
	if c.Engine.MaxConcurrentChains < 0 {
		return fmt.Errorf("engine.max_concurrent_chains must not be negative")
	}
	if c.Engine.ActionsPerSecond < 0 {
		return fmt.Errorf("engine.actions_per_second must not be negative")
	}
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.Selector.Validate(); err != nil {
		return fmt.Errorf("selector configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the browser section.
func (b *BrowserConfig) Validate() error {
	if len(b.Backends) == 0 {
		return fmt.Errorf("at least one backend is required")
	}
	for _, kind := range b.Backends {
		switch kind {
		case BackendChromedp, BackendRod:
		case BackendSelenium:
			if b.SeleniumURL == "" {
				return fmt.Errorf("selenium_url is required for the selenium backend")
			}
		default:
			return fmt.Errorf("unknown backend %q", kind)
		}
	}
	if b.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation_timeout must be a positive duration")
	}
	if b.WindowWidth <= 0 || b.WindowHeight <= 0 {
		return fmt.Errorf("window_width and window_height must be positive")
	}
	return nil
}

// Validate checks the selector section.
func (s *SelectorConfig) Validate() error {
	switch s.Strategy {
	case SelectorCSS, SelectorXPath:
		return nil
	case SelectorLibrary:
		if s.LibraryPath == "" || s.LibraryFunction == "" {
			return fmt.Errorf("library_path and library_function are required for the library strategy")
		}
		return nil
	default:
		return fmt.Errorf("unknown strategy %q", s.Strategy)
	}
}
