// Package config loads the relay's settings from flags, environment, an
// optional YAML file and a .env file, in that order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/go-go-golems/docsrelay/pkg/eventbus"
	"github.com/go-go-golems/docsrelay/pkg/generation"
	"github.com/go-go-golems/docsrelay/pkg/history"
	"github.com/go-go-golems/docsrelay/pkg/platform/discord"
	"github.com/go-go-golems/docsrelay/pkg/platform/slack"
	"github.com/go-go-golems/docsrelay/pkg/prompt"
	"github.com/go-go-golems/docsrelay/pkg/relay"
	"github.com/go-go-golems/docsrelay/pkg/staticctx"
)

const EnvPrefix = "DOCSRELAY"

const (
	RoleAll    = "all"
	RoleIngest = "ingest"
	RoleWorker = "worker"
)

type RelaySettings struct {
	CommandPrefix     string        `mapstructure:"command-prefix"`
	TypingInterval    time.Duration `mapstructure:"typing-interval"`
	SerializeSessions bool          `mapstructure:"serialize-sessions"`
	Apology           string        `mapstructure:"apology"`
}

type Config struct {
	Role       string              `mapstructure:"role"`
	Generation generation.Settings `mapstructure:"generation"`
	History    history.Settings    `mapstructure:"history"`
	Prompt     prompt.Settings     `mapstructure:"prompt"`
	Context    staticctx.Settings  `mapstructure:"context"`
	Relay      RelaySettings       `mapstructure:"relay"`
	Discord    discord.Settings    `mapstructure:"discord"`
	Slack      slack.Settings      `mapstructure:"slack"`
	EventBus   eventbus.Settings   `mapstructure:"eventbus"`
}

// legacyEnv maps config keys to the bare environment names the bots have
// always been deployed with.
var legacyEnv = map[string]string{
	"history.redis-url":         "REDIS_URL",
	"generation.gemini-api-key": "GEMINI_API_KEY",
	"generation.openai-api-key": "OPENAI_API_KEY",
	"discord.token":             "DISCORD_TOKEN",
	"slack.app-token":           "SLACK_APP_TOKEN",
	"slack.bot-token":           "SLACK_BOT_TOKEN",
	"slack.signing-secret":      "SLACK_SIGNING_SECRET",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("role", RoleAll)

	v.SetDefault("generation.backend", "gemini")
	v.SetDefault("generation.model", "")
	v.SetDefault("generation.temperature", generation.DefaultTemperature)
	v.SetDefault("generation.max-output-tokens", generation.DefaultMaxOutputTokens)
	v.SetDefault("generation.timeout", generation.DefaultTimeout)
	v.SetDefault("generation.max-concurrent", 8)
	v.SetDefault("generation.gemini-api-key", "")
	v.SetDefault("generation.openai-api-key", "")
	v.SetDefault("generation.openai-base-url", "")

	v.SetDefault("history.backend", history.BackendRedis)
	v.SetDefault("history.redis-url", "")
	v.SetDefault("history.key-prefix", "")
	v.SetDefault("history.timeout", 5*time.Second)
	v.SetDefault("history.ping-attempts", 5)
	v.SetDefault("history.sqlite-path", "")
	v.SetDefault("history.window", history.DefaultWindow)
	v.SetDefault("history.window-unit", string(history.UnitPairs))

	v.SetDefault("prompt.product-name", "")
	v.SetDefault("prompt.product-description", "")
	v.SetDefault("prompt.base-url", "")
	v.SetDefault("prompt.template-file", "")

	v.SetDefault("context.documents", []string{})
	v.SetDefault("context.sitemap", "")

	v.SetDefault("relay.command-prefix", relay.DefaultCommandPrefix)
	v.SetDefault("relay.typing-interval", 8*time.Second)
	v.SetDefault("relay.serialize-sessions", false)
	v.SetDefault("relay.apology", relay.DefaultApology)

	v.SetDefault("discord.token", "")
	v.SetDefault("discord.max-message-length", discord.DefaultMaxMessageLength)
	v.SetDefault("discord.history-in-guilds", false)

	v.SetDefault("slack.app-token", "")
	v.SetDefault("slack.bot-token", "")
	v.SetDefault("slack.signing-secret", "")
	v.SetDefault("slack.max-message-length", slack.DefaultMaxMessageLength)
	v.SetDefault("slack.typing-text", slack.DefaultTypingText)

	v.SetDefault("eventbus.transport", eventbus.TransportMemory)
	v.SetDefault("eventbus.redis-url", "")
	v.SetDefault("eventbus.topic", eventbus.DefaultTopic)
	v.SetDefault("eventbus.group", eventbus.DefaultGroup)
	v.SetDefault("eventbus.consumer", "")
	v.SetDefault("eventbus.buffer", 64)
}

// NewViper returns a viper instance with defaults and environment bindings.
// Flags are bound by the caller.
func NewViper() (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.NewReplacer(".", "_", "-", "_").Replace(strings.ToUpper(key))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, errors.Wrapf(err, "bind %s", env)
		}
	}
	return v, nil
}

// LoadDotEnv loads the given .env files (default ".env") into the process
// environment. Missing files are not an error; set variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrapf(err, "load %s", f)
		}
	}
	return nil
}

// ReadFile merges a YAML config file into v.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "read config file %s", path)
	}
	return nil
}

func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if c.EventBus.RedisURL == "" {
		c.EventBus.RedisURL = c.History.Redis.URL
	}
	return &c, nil
}

func (c *Config) RelayConfig() (relay.Config, error) {
	w, err := c.History.ParseWindow()
	if err != nil {
		return relay.Config{}, err
	}
	return relay.Config{
		Window:            w,
		TypingInterval:    c.Relay.TypingInterval,
		SerializeSessions: c.Relay.SerializeSessions,
		Apology:           c.Relay.Apology,
	}, nil
}

// NeedsGeneration reports whether the role runs orchestrator flows.
func (c *Config) NeedsGeneration() bool { return c.Role != RoleIngest }

// NeedsGateways reports whether the role connects to chat platforms.
func (c *Config) NeedsGateways() bool { return c.Role != RoleWorker }

// Validate checks what serving with c.Role requires.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleAll, RoleIngest, RoleWorker:
	default:
		return errors.Errorf("unknown role %q (want all, ingest or worker)", c.Role)
	}
	if err := c.EventBus.Validate(); err != nil {
		return err
	}
	if c.Role != RoleAll && c.EventBus.Transport != eventbus.TransportRedis {
		return errors.Errorf("role %s needs the redis event bus transport", c.Role)
	}
	if !c.Discord.Enabled() && !c.Slack.Enabled() {
		return errors.New("no platform configured: set DISCORD_TOKEN and/or SLACK_BOT_TOKEN")
	}
	if err := c.Slack.Validate(); err != nil {
		return err
	}
	return c.ValidateLocal()
}

// ValidateLocal checks what the console commands need: history and, for
// roles that generate, a usable generation backend.
func (c *Config) ValidateLocal() error {
	if err := c.History.Validate(); err != nil {
		return err
	}
	if !c.NeedsGeneration() {
		return nil
	}
	switch strings.ToLower(c.Generation.Backend) {
	case "gemini", "":
		if c.Generation.GeminiAPIKey == "" {
			return errors.New("gemini backend requires GEMINI_API_KEY")
		}
	case "openai":
		if c.Generation.OpenAIAPIKey == "" {
			return errors.New("openai backend requires OPENAI_API_KEY")
		}
	case "mock":
	default:
		return errors.Errorf("unknown generation backend %q", c.Generation.Backend)
	}
	return nil
}
