// Package config loads kotoba's settings from an optional config.yaml, a
// .env file and KOTOBA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kotoba-app/kotoba/internal/llm"
)

// EnvPrefix namespaces environment overrides: api.base_url is read from
// KOTOBA_API_BASE_URL.
const EnvPrefix = "KOTOBA"

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds application configuration loaded from files and environment variables.
type Config struct {
	Env     string `mapstructure:"env"`      // local, development or production
	DataDir string `mapstructure:"data_dir"` // directory for kotoba.db; empty uses the XDG default

	API    API        `mapstructure:"api"`
	Sync   Sync       `mapstructure:"sync"`
	Chat   Chat       `mapstructure:"chat"`
	Quiz   Quiz       `mapstructure:"quiz"`
	Audio  Audio      `mapstructure:"audio"`
	Server Server     `mapstructure:"server"`
	LLM    llm.Config `mapstructure:"llm"`
	TTS    TTS        `mapstructure:"tts"`
}

// API configures the backend client.
type API struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"` // per request, streams excluded
}

// Sync configures the background progress pusher.
type Sync struct {
	QueueSize int `mapstructure:"queue_size"`
}

// Chat configures conversation sessions.
type Chat struct {
	RedirectDelay time.Duration `mapstructure:"redirect_delay"`
}

// Quiz configures the per-sentence quiz tracker.
type Quiz struct {
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// Audio selects how clips are played. An empty Player discards audio.
type Audio struct {
	Player string `mapstructure:"player"` // e.g. "mpv --no-video" or "afplay"
}

// Server configures the development backend started by `kotoba serve`.
type Server struct {
	Addr           string        `mapstructure:"addr"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	MaxTurn        int           `mapstructure:"max_turn"`
}

// TTS configures Google Cloud text-to-speech for tutor replies.
type TTS struct {
	Enabled         bool   `mapstructure:"enabled"`
	Voice           string `mapstructure:"voice"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// Strict reports whether programming errors such as unknown step names
// should panic instead of being logged. Only the development env is strict;
// local and production log and carry on.
func (c *Config) Strict() bool { return c.Env == "development" }

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "local")
	v.SetDefault("data_dir", "")

	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.timeout", "15s")

	v.SetDefault("sync.queue_size", 64)
	v.SetDefault("chat.redirect_delay", "2s")
	v.SetDefault("quiz.retry_delay", "1s")
	v.SetDefault("audio.player", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.jwt_secret", "kotoba-dev-secret")
	v.SetDefault("server.token_ttl", "720h")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.max_turn", 5)

	d := llm.DefaultConfig()
	v.SetDefault("llm.provider", d.Provider)
	v.SetDefault("llm.timeout", d.Timeout)
	v.SetDefault("llm.anthropic.api_key", "")
	v.SetDefault("llm.anthropic.model", d.Anthropic.Model)
	v.SetDefault("llm.openai.api_key", "")
	v.SetDefault("llm.openai.model", d.OpenAI.Model)
	v.SetDefault("llm.openai.base_url", "")
	v.SetDefault("llm.gemini.api_key", "")
	v.SetDefault("llm.gemini.model", d.Gemini.Model)
	v.SetDefault("llm.retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("llm.retry.initial_wait", d.Retry.InitialWait)
	v.SetDefault("llm.retry.max_wait", d.Retry.MaxWait)
	v.SetDefault("llm.retry.multiplier", d.Retry.Multiplier)

	v.SetDefault("tts.enabled", false)
	v.SetDefault("tts.voice", "ja-JP-Neural2-B")
	v.SetDefault("tts.credentials_file", "")
}

// Load reads configuration from config files and environment variables.
// file names an explicit config file; when empty, config.yaml is looked up
// in the working directory and ./config.
func Load(file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("env", "KOTOBA_ENV", "APP_ENV")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error loading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	cfg.LLM.Discover()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later and far from here.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: api.base_url %q is not an absolute URL", ErrInvalidConfig, c.API.BaseURL)
	}
	if c.Sync.QueueSize < 1 {
		return fmt.Errorf("%w: sync.queue_size must be positive", ErrInvalidConfig)
	}
	if c.Server.MaxTurn < 1 {
		return fmt.Errorf("%w: server.max_turn must be positive", ErrInvalidConfig)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
