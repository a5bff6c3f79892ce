package prompt

import (
	_ "embed"
	"os"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/pkg/errors"

	"github.com/go-go-golems/docsrelay/pkg/history"
	"github.com/go-go-golems/docsrelay/pkg/staticctx"
)

// ErrContextNotLoaded is returned when the static documents or the link index
// are empty at composition time.
var ErrContextNotLoaded = errors.New("static context not loaded")

//go:embed prompt.tmpl
var defaultTemplate string

// Settings configures the instructional blocks around the reference material.
type Settings struct {
	ProductName        string `mapstructure:"product-name"`
	ProductDescription string `mapstructure:"product-description"`
	BaseURL            string `mapstructure:"base-url"`
	// TemplateFile replaces the embedded template when set.
	TemplateFile string `mapstructure:"template-file"`
}

// Request is the value handed to the generation backend.
type Request struct {
	StaticContext string
	LinkIndex     string
	HistoryText   string
	NewInput      string

	// Prompt is the fully rendered text sent to the backend.
	Prompt string
}

type templateData struct {
	ProductName        string
	ProductDescription string
	BaseURL            string
	Documents          string
	Links              string
	History            string
	Input              string
}

// Composer renders requests from a parsed template. It holds no mutable
// state, so one Composer serves all sessions.
type Composer struct {
	settings Settings
	tmpl     *template.Template
}

func NewComposer(s Settings) (*Composer, error) {
	text := defaultTemplate
	if s.TemplateFile != "" {
		b, err := os.ReadFile(s.TemplateFile)
		if err != nil {
			return nil, errors.Wrapf(err, "read prompt template %s", s.TemplateFile)
		}
		text = string(b)
	}
	tmpl, err := template.New("prompt").Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, errors.Wrap(err, "parse prompt template")
	}
	return &Composer{settings: s, tmpl: tmpl}, nil
}

// Build composes preamble, documents, links, persona instructions, history and
// the new input, in that order.
func (c *Composer) Build(sc *staticctx.Context, turns []history.Turn, input string) (Request, error) {
	if !sc.Loaded() {
		return Request{}, ErrContextNotLoaded
	}
	req := Request{
		StaticContext: sc.DocumentText(),
		LinkIndex:     sc.LinkText(),
		HistoryText:   history.Render(turns),
		NewInput:      input,
	}

	var sb strings.Builder
	err := c.tmpl.Execute(&sb, templateData{
		ProductName:        c.settings.ProductName,
		ProductDescription: c.settings.ProductDescription,
		BaseURL:            c.settings.BaseURL,
		Documents:          req.StaticContext,
		Links:              req.LinkIndex,
		History:            req.HistoryText,
		Input:              req.NewInput,
	})
	if err != nil {
		return Request{}, errors.Wrap(err, "render prompt")
	}
	req.Prompt = sb.String()
	return req, nil
}
