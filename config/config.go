package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"lovelore/provider"
)

// Defaults applied when the file leaves a value out.
const (
	DefaultServerAddr            = ":8080"
	DefaultStoriesPath           = "stories.yaml"
	DefaultModel                 = "deepseek-chat"
	DefaultTemperature           = 0.8
	DefaultMaxTokens             = 600
	DefaultContinuityLimit       = 4
	DefaultClassifierTemperature = 0.1
	DefaultClassifierMaxTokens   = 10
	DefaultGuardTTLSeconds       = 600
)

// Config is the whole service configuration.
type Config struct {
	ServerAddr  string   `json:"server_addr,omitempty" yaml:"server_addr,omitempty"`
	StoriesPath string   `json:"stories_path,omitempty" yaml:"stories_path,omitempty" validate:"required"`
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`

	LLM        LLMConfig        `json:"llm" yaml:"llm"`
	Classifier ClassifierConfig `json:"classifier,omitempty" yaml:"classifier,omitempty"`
	Supabase   SupabaseConfig   `json:"supabase,omitempty" yaml:"supabase,omitempty"`

	// ContinuityLimit is how many messages of the previous chapter are carried over.
	ContinuityLimit int `json:"continuity_limit,omitempty" yaml:"continuity_limit,omitempty" validate:"gte=1,lte=50"`
	// HistoryWindow keeps the newest K in-chapter messages per turn; 0 keeps all.
	HistoryWindow   int `json:"history_window,omitempty" yaml:"history_window,omitempty" validate:"gte=0"`
	GuardTTLSeconds int `json:"guard_ttl_seconds,omitempty" yaml:"guard_ttl_seconds,omitempty" validate:"gte=0"`
}

// LLMConfig 描述主叙事模型（流式）。
type LLMConfig struct {
	Provider    string  `json:"provider,omitempty" yaml:"provider,omitempty" validate:"omitempty,oneof=deepseek openai"`
	Model       string  `json:"model,omitempty" yaml:"model,omitempty" validate:"required"`
	APIKey      string  `json:"api_key,omitempty" yaml:"api_key,omitempty" validate:"required"`
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" validate:"gte=0,lte=2"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" validate:"gte=0"`
	// TimeoutSeconds bounds one upstream request; 0 means no timeout.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty" validate:"gte=0"`
}

// ClassifierConfig 目标判定模型，未填写的字段沿用 llm 的配置。
type ClassifierConfig struct {
	Model       string  `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" validate:"gte=0,lte=2"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" validate:"gte=0"`
	Disabled    bool    `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// SupabaseConfig selects the Supabase store and authenticator. Empty means in-memory.
type SupabaseConfig struct {
	URL            string `json:"url,omitempty" yaml:"url,omitempty" validate:"omitempty,url"`
	ServiceRoleKey string `json:"service_role_key,omitempty" yaml:"service_role_key,omitempty" validate:"required_with=URL"`
}

// Enabled reports whether a Supabase project is configured.
func (s SupabaseConfig) Enabled() bool { return s.URL != "" }

// Timeout returns the upstream timeout as a duration.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GuardTTL returns how long finished request ids are remembered.
func (c Config) GuardTTL() time.Duration {
	return time.Duration(c.GuardTTLSeconds) * time.Second
}

// Load reads the config file (JSON, or YAML by extension), applies the
// environment and defaults, and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg.Finish(os.LookupEnv)
}

// Parse decodes a config document. ext selects the format: ".yaml" or ".yml" is YAML, anything else JSON.
func Parse(data []byte, ext string) (Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// Finish applies environment overrides and defaults, then validates.
func (c Config) Finish(lookup func(string) (string, bool)) (Config, error) {
	c.applyEnv(lookup)
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		return
	}
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				*dst = strings.TrimSpace(v)
				return
			}
		}
	}
	set(&c.LLM.APIKey, "DEEPSEEK_API_KEY", "LLM_API_KEY")
	set(&c.Supabase.URL, "SUPABASE_URL")
	set(&c.Supabase.ServiceRoleKey, "SUPABASE_SERVICE_ROLE_KEY")
	set(&c.ServerAddr, "LOVELORE_ADDR")
}

func (c *Config) applyDefaults() {
	if c.ServerAddr == "" {
		c.ServerAddr = DefaultServerAddr
	}
	if c.StoriesPath == "" {
		c.StoriesPath = DefaultStoriesPath
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "deepseek"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = DefaultModel
	}
	if c.LLM.BaseURL == "" && c.LLM.Provider == "deepseek" {
		c.LLM.BaseURL = provider.DefaultBaseURL
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = DefaultTemperature
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = DefaultMaxTokens
	}
	if c.Classifier.Model == "" {
		c.Classifier.Model = c.LLM.Model
	}
	if c.Classifier.Temperature == 0 {
		c.Classifier.Temperature = DefaultClassifierTemperature
	}
	if c.Classifier.MaxTokens == 0 {
		c.Classifier.MaxTokens = DefaultClassifierMaxTokens
	}
	if c.ContinuityLimit == 0 {
		c.ContinuityLimit = DefaultContinuityLimit
	}
	if c.GuardTTLSeconds == 0 {
		c.GuardTTLSeconds = DefaultGuardTTLSeconds
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the config against its field rules.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}

func formatFieldError(fe validator.FieldError) string {
	// Namespace looks like "Config.llm.api_key".
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required", "required_with":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "url":
		return field + " must be a valid URL"
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return field + " is invalid"
	}
}
