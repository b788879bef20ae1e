package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Defaults mirror the values a fresh install starts with.
const (
	DefaultBaseURL     = "http://192.168.0.1:11434"
	DefaultModel       = "llama"
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
	DefaultTopK        = 40
	DefaultStoragePath = "ollama_chat.sqlite"
)

// Target names an inference provider.
type Target string

const (
	TargetOllama   Target = "ollama"
	TargetLMStudio Target = "lmstudio"
	TargetClaude   Target = "claude"
	TargetOpenAI   Target = "openai"
)

// AllTargets lists every provider in display order.
var AllTargets = []Target{TargetOllama, TargetLMStudio, TargetClaude, TargetOpenAI}

// DisplayName returns the human readable provider name.
func (t Target) DisplayName() string {
	switch t {
	case TargetOllama:
		return "Ollama"
	case TargetLMStudio:
		return "LM Studio"
	case TargetClaude:
		return "Claude"
	case TargetOpenAI:
		return "OpenAI"
	}
	return string(t)
}

// Valid reports whether t is a known provider.
func (t Target) Valid() bool {
	for _, k := range AllTargets {
		if k == t {
			return true
		}
	}
	return false
}

// Config holds the application configuration
type Config struct {
	Server          ServerConfig     `mapstructure:"server"`
	Generation      GenerationConfig `mapstructure:"generation"`
	Provider        Target           `mapstructure:"provider"`
	Providers       []Target         `mapstructure:"providers"`
	ProvidersConfig ProvidersConfig  `mapstructure:"providers_config"`
	Storage         StorageConfig    `mapstructure:"storage"`
	Log             LogConfig        `mapstructure:"log"`
	Metrics         MetricsConfig    `mapstructure:"metrics"`
}

// ServerConfig points at the inference server.
type ServerConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// GenerationConfig holds the sampling parameters and system instruction.
type GenerationConfig struct {
	Instruction string  `mapstructure:"instruction"`
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	TopK        int     `mapstructure:"top_k"`
	Model       string  `mapstructure:"model"`
}

// ProvidersConfig holds credentials for the non-Ollama providers.
type ProvidersConfig struct {
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	LMStudio LMStudioConfig `mapstructure:"lmstudio"`
}

// OpenAIConfig holds the OpenAI configuration
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// LMStudioConfig holds the LM Studio configuration
type LMStudioConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// StorageConfig locates the sqlite conversation database.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig enables the prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// EnabledTargets returns the enabled providers, defaulting to Ollama only.
func (c Config) EnabledTargets() []Target {
	if len(c.Providers) == 0 {
		return []Target{TargetOllama}
	}
	out := make([]Target, 0, len(c.Providers))
	for _, t := range AllTargets {
		for _, p := range c.Providers {
			if p == t {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// IsEnabled reports whether t is in the enabled provider set.
func (c Config) IsEnabled(t Target) bool {
	for _, e := range c.EnabledTargets() {
		if e == t {
			return true
		}
	}
	return false
}

// Load loads the configuration from CONFIG_PATH, or config.yaml in the
// working directory. A missing file is not an error; defaults apply.
func Load() (*Config, error) {
	v := newViper()
	if err := readIn(v); err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch loads the configuration and calls onChange with the re-read settings
// every time the file changes on disk. It returns the initial configuration.
func Watch(onChange func(*Config)) (*Config, error) {
	v := newViper()
	if err := readIn(v); err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			return
		}
		onChange(next)
	})
	v.WatchConfig()
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		v.SetConfigFile(p)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("OLLAMACHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.base_url", DefaultBaseURL)
	v.SetDefault("generation.instruction", "")
	v.SetDefault("generation.temperature", DefaultTemperature)
	v.SetDefault("generation.top_p", DefaultTopP)
	v.SetDefault("generation.top_k", DefaultTopK)
	v.SetDefault("generation.model", DefaultModel)
	v.SetDefault("provider", string(TargetOllama))
	v.SetDefault("providers", []string{string(TargetOllama)})
	v.SetDefault("providers_config.openai.api_key", "")
	v.SetDefault("providers_config.openai.base_url", "")
	v.SetDefault("providers_config.lmstudio.base_url", "http://localhost:1234/v1")
	v.SetDefault("storage.path", DefaultStoragePath)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("metrics.addr", "")
	return v
}

func readIn(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		if os.Getenv("CONFIG_PATH") != "" && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize applies defaults for unset sampling values and clamps the rest to
// the ranges the inference servers accept.
func (c *Config) normalize() error {
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = DefaultBaseURL
	}
	g := &c.Generation
	if g.Temperature <= 0 {
		g.Temperature = DefaultTemperature
	}
	g.Temperature = clamp(g.Temperature, 0.1, 2.0)
	if g.TopP <= 0 {
		g.TopP = DefaultTopP
	}
	g.TopP = clamp(g.TopP, 0.1, 1.0)
	if g.TopK <= 0 {
		g.TopK = DefaultTopK
	}
	if g.TopK > 100 {
		g.TopK = 100
	}
	if g.Model == "" {
		g.Model = DefaultModel
	}
	if c.Storage.Path == "" {
		c.Storage.Path = DefaultStoragePath
	}

	for _, p := range c.Providers {
		if !p.Valid() {
			return fmt.Errorf("unknown provider %q", p)
		}
	}
	if c.Provider == "" {
		c.Provider = TargetOllama
	}
	if !c.Provider.Valid() {
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if !c.IsEnabled(c.Provider) {
		return fmt.Errorf("provider %q is not enabled", c.Provider)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
