package cmds

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/docsrelay/pkg/config"
)

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "refunds.md"), []byte("Refunds are issued within 14 days."), 0o644))
	sitemap := filepath.Join(dir, "sitemap.xml")
	require.NoError(t, os.WriteFile(sitemap, []byte(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://xyz.com/docs/refunds</loc></url>
</urlset>`), 0o644))

	t.Setenv("DOCSRELAY_GENERATION_BACKEND", "mock")
	t.Setenv("DOCSRELAY_HISTORY_BACKEND", "sqlite")
	t.Setenv("DOCSRELAY_HISTORY_SQLITE_PATH", filepath.Join(dir, "history.db"))
	t.Setenv("DOCSRELAY_CONTEXT_DOCUMENTS", docs)
	t.Setenv("DOCSRELAY_CONTEXT_SITEMAP", sitemap)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, err := NewRootCommand()
	require.NoError(t, err)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env"), "--log-level", "error"}, args...))
	err = root.Execute()
	return out.String(), err
}

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	v, err := config.NewViper()
	require.NoError(t, err)
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func collect(rows *[]types.Row) func(types.Row) error {
	return func(row types.Row) error {
		*rows = append(*rows, row)
		return nil
	}
}

func field(t *testing.T, row types.Row, name string) interface{} {
	t.Helper()
	v, ok := row.Get(name)
	require.True(t, ok, "missing column %s", name)
	return v
}

func TestAskAndHistory(t *testing.T) {
	setupEnv(t)
	ctx := context.Background()

	out, err := run(t, "ask", "--session", "u1", "how", "do", "refunds", "work?")
	require.NoError(t, err)
	require.Equal(t, "You asked: how do refunds work?\n", out)

	_, err = run(t, "history", "show", "u1", "--output", "json")
	require.NoError(t, err)

	var rows []types.Row
	require.NoError(t, historyRows(ctx, loadConfig(t), "u1", 0, collect(&rows)))
	require.Len(t, rows, 2)
	require.Equal(t, "User", field(t, rows[0], "role"))
	require.Equal(t, "how do refunds work?", field(t, rows[0], "text"))
	require.Equal(t, int64(0), field(t, rows[0], "sequence"))
	require.Equal(t, "You asked: how do refunds work?", field(t, rows[1], "text"))
	require.Equal(t, int64(1), field(t, rows[1], "sequence"))

	out, err = run(t, "ask", "--session", "u1", "!clearhistory")
	require.NoError(t, err)
	require.Equal(t, "Your message history has been cleared.\n", out)

	rows = nil
	require.NoError(t, historyRows(ctx, loadConfig(t), "u1", 0, collect(&rows)))
	require.Empty(t, rows)
}

func TestHistoryLimitAndClear(t *testing.T) {
	setupEnv(t)
	ctx := context.Background()

	_, err := run(t, "ask", "--session", "u2", "hello")
	require.NoError(t, err)

	var rows []types.Row
	require.NoError(t, historyRows(ctx, loadConfig(t), "u2", 1, collect(&rows)))
	require.Len(t, rows, 1)
	require.Equal(t, "Bot", field(t, rows[0], "role"))
	require.Equal(t, "You asked: hello", field(t, rows[0], "text"))
	require.Equal(t, "u2", field(t, rows[0], "session_key"))

	out, err := run(t, "history", "clear", "u2")
	require.NoError(t, err)
	require.Equal(t, "cleared history of u2\n", out)

	rows = nil
	require.NoError(t, historyRows(ctx, loadConfig(t), "u2", 1, collect(&rows)))
	require.Empty(t, rows)
}

func TestContextInspect(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "context", "inspect")
	require.NoError(t, err)

	var rows []types.Row
	s := &ContextInspectSettings{Question: "How do refunds work?", PrintPrompt: true}
	require.NoError(t, contextRows(loadConfig(t), s, collect(&rows)))
	require.Len(t, rows, 3)

	require.Equal(t, "page", field(t, rows[0], "kind"))
	require.Contains(t, field(t, rows[0], "source"), "refunds.md")
	require.Equal(t, "link", field(t, rows[1], "kind"))
	require.Equal(t, "https://xyz.com/docs/refunds", field(t, rows[1], "source"))

	last := rows[2]
	require.Equal(t, "prompt", field(t, last, "kind"))
	require.Equal(t, 1, field(t, last, "pages"))
	require.Equal(t, 1, field(t, last, "links"))
	require.Greater(t, field(t, last, "tokens_est"), 0)
	require.Contains(t, field(t, last, "prompt"), "How do refunds work?")
}

func TestServe_RequiresPlatform(t *testing.T) {
	setupEnv(t)
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("DOCSRELAY_DISCORD_TOKEN", "")
	t.Setenv("DOCSRELAY_SLACK_BOT_TOKEN", "")
	_, err := run(t, "serve")
	require.ErrorContains(t, err, "no platform configured")
}
