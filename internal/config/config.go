// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BIDI_PILOT_BROWSER_HEADLESS.
const EnvPrefix = "BIDI_PILOT"

// FileName is the base name of the configuration file searched in . and $HOME.
const FileName = "bidi-pilot"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Input() InputConfig
	Agent() AgentConfig
	Store() StoreConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserDebugProtocol(bool)
	SetBrowserWSURL(string)

	// Agent Setters
	SetAgentMaxTurns(int)
	SetAgentAdditionalInstruction(string)
}

// Config holds the entire application configuration.
// It uses private fields to enforce access through the Interface's getter methods.
type Config struct {
	logger  LoggerConfig
	browser BrowserConfig
	input   InputConfig
	agent   AgentConfig
	store   StoreConfig
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig   { return c.logger }
func (c *Config) Browser() BrowserConfig { return c.browser }
func (c *Config) Input() InputConfig     { return c.input }
func (c *Config) Agent() AgentConfig     { return c.agent }
func (c *Config) Store() StoreConfig     { return c.store }

func (c *Config) SetBrowserHeadless(b bool)              { c.browser.Headless = b }
func (c *Config) SetBrowserDebugProtocol(b bool)         { c.browser.DebugProtocol = b }
func (c *Config) SetBrowserWSURL(url string)             { c.browser.WSURL = url }
func (c *Config) SetAgentMaxTurns(n int)                 { c.agent.MaxTurns = n }
func (c *Config) SetAgentAdditionalInstruction(s string) { c.agent.AdditionalInstruction = s }

// document mirrors Config with exported fields so viper can decode into it.
type document struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Input   InputConfig   `mapstructure:"input" yaml:"input"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
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

// BrowserConfig controls how the remote end is reached or launched.
type BrowserConfig struct {
	// WSURL connects to an already running remote end instead of launching one.
	WSURL               string         `mapstructure:"ws_url" yaml:"ws_url"`
	Executable          string         `mapstructure:"executable" yaml:"executable"`
	Headless            bool           `mapstructure:"headless" yaml:"headless"`
	DebugProtocol       bool           `mapstructure:"debug_protocol" yaml:"debug_protocol"`
	HandshakeTimeout    time.Duration  `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	LaunchTimeout       time.Duration  `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	MaxPayloadSize      int64          `mapstructure:"max_payload_size" yaml:"max_payload_size"`
	Viewport            ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	AcceptInsecureCerts bool           `mapstructure:"accept_insecure_certs" yaml:"accept_insecure_certs"`
	InjectedScriptPath  string         `mapstructure:"injected_script_path" yaml:"injected_script_path"`
}

// ViewportConfig is the size applied to every new browsing context.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// AgentConfig holds settings related to the model driven agent.
type AgentConfig struct {
	// Introduction replaces the built in system prompt when set.
	Introduction          string    `mapstructure:"introduction" yaml:"introduction"`
	AdditionalInstruction string    `mapstructure:"additional_instruction" yaml:"additional_instruction"`
	MaxTurns              int       `mapstructure:"max_turns" yaml:"max_turns"`
	LLM                   LLMConfig `mapstructure:"llm" yaml:"llm"`
}

// LLMProvider defines the supported chat completion providers.
type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderAzure  LLMProvider = "azure"
	ProviderOllama LLMProvider = "ollama"
	ProviderGemini LLMProvider = "gemini"
)

// LLMConfig defines the chat endpoint used by the agent.
type LLMConfig struct {
	Provider LLMProvider `mapstructure:"provider" yaml:"provider"`
	Model    string      `mapstructure:"model" yaml:"model"`
	APIKey   string      `mapstructure:"api_key" yaml:"-"`
	Endpoint string      `mapstructure:"endpoint" yaml:"endpoint"`
	// APITimeout bounds a single chat request.
	APITimeout time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	// OmitImagesExceptLast keeps image payloads only on the most recent history entries.
	OmitImagesExceptLast int     `mapstructure:"omit_images_except_last" yaml:"omit_images_except_last"`
	RequestsPerMinute    float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Temperature          float32 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens            int     `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// StoreConfig enables the transcript recorder.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"-"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	cfg, err := decode(v)
	if err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "bidi-pilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.ws_url", "")
	v.SetDefault("browser.executable", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.debug_protocol", false)
	v.SetDefault("browser.handshake_timeout", "30s")
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.max_payload_size", 256<<20)
	v.SetDefault("browser.viewport.width", 1024)
	v.SetDefault("browser.viewport.height", 800)
	v.SetDefault("browser.accept_insecure_certs", true)
	v.SetDefault("browser.injected_script_path", "")

	// -- Input --
	setInputDefaults(v)

	// -- Agent --
	v.SetDefault("agent.introduction", "")
	v.SetDefault("agent.additional_instruction", "")
	v.SetDefault("agent.max_turns", 50)
	v.SetDefault("agent.llm.provider", string(ProviderOllama))
	v.SetDefault("agent.llm.model", "llava:34b")
	v.SetDefault("agent.llm.api_key", "")
	v.SetDefault("agent.llm.endpoint", "http://localhost:11434/v1/chat/completions")
	v.SetDefault("agent.llm.api_timeout", "120s")
	v.SetDefault("agent.llm.omit_images_except_last", 3)
	v.SetDefault("agent.llm.requests_per_minute", 0)
	v.SetDefault("agent.llm.temperature", 0)
	v.SetDefault("agent.llm.max_tokens", 0)

	// -- Store --
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.url", "")
}

// NewViper returns a viper instance with defaults, environment overrides and the
// configuration file at path, or the first bidi-pilot.yaml found in . and $HOME.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("could not expand config path %q: %w", path, err)
		}
		v.SetConfigFile(expanded)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home)
			v.AddConfigPath(filepath.Join(home, ".config", FileName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return v, nil
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data
	_ = v.BindEnv("agent.llm.api_key", EnvPrefix+"_AGENT_LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("agent.llm.endpoint", EnvPrefix+"_AGENT_LLM_ENDPOINT", "OPENAI_ENDPOINT_URL")
	_ = v.BindEnv("store.url", EnvPrefix+"_STORE_URL", "DATABASE_URL")

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	// Gemini keys are commonly exported under their own name.
	if cfg.agent.LLM.Provider == ProviderGemini && cfg.agent.LLM.APIKey == "" {
		cfg.agent.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var doc document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &Config{
		logger:  doc.Logger,
		browser: doc.Browser,
		input:   doc.Input,
		agent:   doc.Agent,
		store:   doc.Store,
	}, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.browser.Viewport.Width <= 0 || c.browser.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport width and height must be positive integers")
	}
	if c.browser.HandshakeTimeout <= 0 {
		return fmt.Errorf("browser.handshake_timeout must be a positive duration")
	}
	if err := c.input.Validate(); err != nil {
		return fmt.Errorf("input configuration invalid: %w", err)
	}
	if c.agent.MaxTurns <= 0 {
		return fmt.Errorf("agent.max_turns must be a positive integer")
	}
	if err := c.agent.LLM.Validate(); err != nil {
		return fmt.Errorf("agent.llm configuration invalid: %w", err)
	}
	if c.store.Enabled && c.store.URL == "" {
		return fmt.Errorf("store.url is required when store.enabled is set")
	}
	return nil
}

// Validate checks the chat endpoint settings.
func (l *LLMConfig) Validate() error {
	switch l.Provider {
	case ProviderOpenAI, ProviderOllama:
		if l.Model == "" {
			return fmt.Errorf("model is required for provider %q", l.Provider)
		}
	case ProviderAzure:
		if l.Endpoint == "" {
			return fmt.Errorf("endpoint is required for provider %q", l.Provider)
		}
	case ProviderGemini:
		if l.Model == "" {
			return fmt.Errorf("model is required for provider %q", l.Provider)
		}
	default:
		return fmt.Errorf("unknown provider %q", l.Provider)
	}
	if l.OmitImagesExceptLast < 0 {
		return fmt.Errorf("omit_images_except_last must not be negative")
	}
	if l.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}
	return nil
}
