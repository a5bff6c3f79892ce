package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/docsrelay/pkg/history"
	"github.com/go-go-golems/docsrelay/pkg/staticctx"
)

func testContext() *staticctx.Context {
	return &staticctx.Context{
		Documents: []staticctx.Document{
			{Page: 1, Text: "Refunds are issued through POST /refunds."},
			{Page: 2, Text: "Webhooks are signed."},
		},
		Links: []string{"https://xyz.com/docs/refunds"},
	}
}

func newComposer(t *testing.T) *Composer {
	t.Helper()
	c, err := NewComposer(Settings{ProductName: "XYZ", BaseURL: "https://xyz.com"})
	require.NoError(t, err)
	return c
}

func TestBuild_OrderOfSections(t *testing.T) {
	c := newComposer(t)
	turns := []history.Turn{
		{Role: history.RoleUser, Text: "hello", Sequence: 0},
		{Role: history.RoleBot, Text: "hi there", Sequence: 1},
	}
	req, err := c.Build(testContext(), turns, "how do refunds work?")
	require.NoError(t, err)

	require.Equal(t, "User: hello\nBot: hi there", req.HistoryText)
	require.Equal(t, "how do refunds work?", req.NewInput)

	p := req.Prompt
	order := []string{
		"Below are documents from XYZ",
		"Base link for the documentation: https://xyz.com.",
		"Page 1:\nRefunds are issued through POST /refunds.",
		"Page 2:\nWebhooks are signed.",
		"Link: https://xyz.com/docs/refunds",
		"customer support representative bot on Discord and Slack for XYZ",
		"do not provide any information that is not present in the documentation",
		"User: hello\nBot: hi there\nUser: how do refunds work?",
	}
	last := -1
	for _, s := range order {
		idx := strings.Index(p, s)
		require.Greater(t, idx, last, "section %q out of order", s)
		last = idx
	}
	require.True(t, strings.HasSuffix(strings.TrimSpace(p), "User: how do refunds work?"))
}

func TestBuild_IsDeterministic(t *testing.T) {
	c := newComposer(t)
	a, err := c.Build(testContext(), nil, "hi")
	require.NoError(t, err)
	b, err := c.Build(testContext(), nil, "hi")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.NotContains(t, a.Prompt, "<no value>")
}

func TestBuild_ContextNotLoaded(t *testing.T) {
	c := newComposer(t)

	_, err := c.Build(&staticctx.Context{Links: []string{"https://xyz.com"}}, []history.Turn{}, "hi")
	require.ErrorIs(t, err, ErrContextNotLoaded)

	_, err = c.Build(&staticctx.Context{Documents: []staticctx.Document{{Page: 1, Text: "doc"}}}, []history.Turn{}, "hi")
	require.ErrorIs(t, err, ErrContextNotLoaded)

	_, err = c.Build(nil, nil, "hi")
	require.ErrorIs(t, err, ErrContextNotLoaded)
}

func TestNewComposer_TemplateFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "prompt.tmpl")
	require.NoError(t, os.WriteFile(p, []byte(`{{ .Links }}|{{ .Input | upper }}`), 0o644))

	c, err := NewComposer(Settings{TemplateFile: p})
	require.NoError(t, err)
	req, err := c.Build(testContext(), nil, "hi")
	require.NoError(t, err)
	require.Equal(t, "Link: https://xyz.com/docs/refunds|HI", req.Prompt)

	_, err = NewComposer(Settings{TemplateFile: filepath.Join(t.TempDir(), "missing.tmpl")})
	require.Error(t, err)
}
