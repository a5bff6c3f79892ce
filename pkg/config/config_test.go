package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/docsrelay/pkg/eventbus"
	"github.com/go-go-golems/docsrelay/pkg/history"
)

func load(t *testing.T) *Config {
	t.Helper()
	v, err := NewViper()
	require.NoError(t, err)
	c, err := Load(v)
	require.NoError(t, err)
	return c
}

func TestLoad_Defaults(t *testing.T) {
	c := load(t)
	require.Equal(t, RoleAll, c.Role)
	require.Equal(t, "gemini", c.Generation.Backend)
	require.Equal(t, float32(1.0), c.Generation.Temperature)
	require.Equal(t, int32(8192), c.Generation.MaxOutputTokens)
	require.Equal(t, 60*time.Second, c.Generation.Timeout)
	require.Equal(t, history.DefaultWindow, c.History.Window)
	require.Equal(t, 2000, c.Discord.MaxMessageLength)
	require.Equal(t, 4000, c.Slack.MaxMessageLength)
	require.Equal(t, "!", c.Relay.CommandPrefix)
	require.Equal(t, 8*time.Second, c.Relay.TypingInterval)
	require.Equal(t, eventbus.TransportMemory, c.EventBus.Transport)

	rc, err := c.RelayConfig()
	require.NoError(t, err)
	require.Equal(t, 10, rc.Window.Entries())
}

func TestLoad_LegacyAndPrefixedEnv(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("GEMINI_API_KEY", "legacy-key")
	t.Setenv("DISCORD_TOKEN", "discord-token")
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-1")
	t.Setenv("SLACK_APP_TOKEN", "xapp-1")
	t.Setenv("DOCSRELAY_GENERATION_GEMINI_API_KEY", "prefixed-key")
	t.Setenv("DOCSRELAY_HISTORY_WINDOW_UNIT", "entries")
	t.Setenv("DOCSRELAY_RELAY_SERIALIZE_SESSIONS", "true")
	t.Setenv("DOCSRELAY_CONTEXT_SITEMAP", "/srv/sitemap.xml")

	c := load(t)
	require.Equal(t, "redis://cache:6379/1", c.History.Redis.URL)
	require.Equal(t, "redis://cache:6379/1", c.EventBus.RedisURL)
	require.Equal(t, "prefixed-key", c.Generation.GeminiAPIKey)
	require.Equal(t, "discord-token", c.Discord.Token)
	require.Equal(t, "xapp-1", c.Slack.AppToken)
	require.Equal(t, "entries", c.History.WindowUnit)
	require.True(t, c.Relay.SerializeSessions)
	require.Equal(t, "/srv/sitemap.xml", c.Context.Sitemap)
	require.NoError(t, c.Validate())
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docsrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
role: worker
history:
  backend: sqlite
  sqlite-path: /var/lib/docsrelay/history.db
  window: 3
context:
  documents:
    - docs/
    - faq.md
eventbus:
  transport: redis
  redis-url: redis://bus:6379/0
generation:
  backend: mock
  timeout: 15s
`), 0o644))

	v, err := NewViper()
	require.NoError(t, err)
	require.NoError(t, ReadFile(v, path))
	c, err := Load(v)
	require.NoError(t, err)

	require.Equal(t, RoleWorker, c.Role)
	require.Equal(t, history.BackendSQLite, c.History.Backend)
	require.Equal(t, 3, c.History.Window)
	require.Equal(t, []string{"docs/", "faq.md"}, c.Context.Documents)
	require.Equal(t, "redis://bus:6379/0", c.EventBus.RedisURL)
	require.Equal(t, 15*time.Second, c.Generation.Timeout)
	require.False(t, c.NeedsGateways())
	require.True(t, c.NeedsGeneration())

	c.Discord.Token = "t"
	require.NoError(t, c.Validate())

	require.Error(t, ReadFile(v, filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := load(t)
		c.History.Backend = history.BackendMemory
		c.Generation.Backend = "mock"
		c.Discord.Token = "t"
		return c
	}
	require.NoError(t, base().Validate())

	c := base()
	c.Role = "gateway"
	require.Error(t, c.Validate())

	c = base()
	c.Role = RoleIngest
	require.ErrorContains(t, c.Validate(), "redis event bus")

	c = base()
	c.Discord.Token = ""
	require.ErrorContains(t, c.Validate(), "no platform configured")

	c = base()
	c.Slack.BotToken = "xoxb-1"
	c.Slack.AppToken = "bad"
	require.Error(t, c.Validate())

	c = base()
	c.Generation.Backend = "gemini"
	require.ErrorContains(t, c.ValidateLocal(), "GEMINI_API_KEY")
	c.Role = RoleIngest
	require.NoError(t, c.ValidateLocal())

	c = base()
	c.Generation.Backend = "openai"
	require.ErrorContains(t, c.ValidateLocal(), "OPENAI_API_KEY")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("DOCSRELAY_DOTENV_MARKER=from-file\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("DOCSRELAY_DOTENV_MARKER") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env"), path))
	require.Equal(t, "from-file", os.Getenv("DOCSRELAY_DOTENV_MARKER"))
}
