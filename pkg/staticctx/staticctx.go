// Package staticctx loads the reference material every conversation is
// grounded on: a set of documents and the link index from a sitemap. It is
// loaded once at startup and read concurrently afterwards without locking.
package staticctx

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Document is one page of reference text.
type Document struct {
	Page   int    `json:"page" yaml:"page"`
	Source string `json:"source" yaml:"source"`
	Text   string `json:"text" yaml:"text"`
}

// Context is the immutable reference blob shared by all sessions.
type Context struct {
	Documents []Document
	Links     []string
}

// Loaded reports whether both halves of the context are present.
func (c *Context) Loaded() bool {
	return c != nil && len(c.Documents) > 0 && len(c.Links) > 0
}

// DocumentText renders all pages in order.
func (c *Context) DocumentText() string {
	if c == nil {
		return ""
	}
	var sb strings.Builder
	for i, d := range c.Documents {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Page %d:\n%s", d.Page, d.Text)
	}
	return sb.String()
}

// LinkText renders the link index, one "Link: <url>" per line.
func (c *Context) LinkText() string {
	if c == nil {
		return ""
	}
	lines := make([]string, 0, len(c.Links))
	for _, l := range c.Links {
		lines = append(lines, "Link: "+l)
	}
	return strings.Join(lines, "\n")
}

// Settings lists where to load the context from. Each entry of Documents may
// be a file or a directory; directories are read non-recursively in name order.
type Settings struct {
	Documents []string `mapstructure:"documents"`
	Sitemap   string   `mapstructure:"sitemap"`
}

var documentExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".html": true,
	".htm":  true,
}

// Load reads documents and the sitemap. Any read or parse failure is returned:
// a relay without its reference material should not start.
func Load(s Settings, logger zerolog.Logger) (*Context, error) {
	log := logger.With().Str("component", "staticctx").Logger()

	files, err := expandDocumentPaths(s.Documents)
	if err != nil {
		return nil, err
	}
	ctx := &Context{}
	for _, f := range files {
		log.Info().Str("path", f).Msg("loading document")
		text, err := readDocument(f)
		if err != nil {
			log.Error().Err(err).Str("path", f).Msg("failed to load document")
			return nil, err
		}
		ctx.Documents = append(ctx.Documents, Document{
			Page:   len(ctx.Documents) + 1,
			Source: f,
			Text:   text,
		})
	}
	log.Info().Int("pages", len(ctx.Documents)).Msg("loaded documents")

	if s.Sitemap != "" {
		log.Info().Str("path", s.Sitemap).Msg("loading sitemap links")
		links, err := LoadSitemap(s.Sitemap)
		if err != nil {
			log.Error().Err(err).Str("path", s.Sitemap).Msg("error parsing sitemap")
			return nil, err
		}
		ctx.Links = links
		log.Info().Int("links", len(links)).Msg("loaded sitemap links")
	}
	return ctx, nil
}

func expandDocumentPaths(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		fi, err := os.Stat(p)
		if err != nil {
			return nil, errors.Wrapf(err, "stat document path %s", p)
		}
		if !fi.IsDir() {
			out = append(out, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, errors.Wrapf(err, "read document directory %s", p)
		}
		var names []string
		for _, e := range entries {
			if e.IsDir() || !documentExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, n := range names {
			out = append(out, filepath.Join(p, n))
		}
	}
	return out, nil
}

func readDocument(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "read document %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		md, err := htmltomarkdown.ConvertString(string(b))
		if err != nil {
			return "", errors.Wrapf(err, "convert html document %s", path)
		}
		return strings.TrimSpace(md), nil
	default:
		return strings.TrimSpace(string(b)), nil
	}
}

type urlSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// LoadSitemap returns the <loc> entries of a sitemaps.org urlset file.
func LoadSitemap(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sitemap %s", path)
	}
	defer func() { _ = f.Close() }()

	var set urlSet
	if err := xml.NewDecoder(f).Decode(&set); err != nil {
		return nil, errors.Wrapf(err, "parse sitemap %s", path)
	}
	links := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		if loc := strings.TrimSpace(u.Loc); loc != "" {
			links = append(links, loc)
		}
	}
	return links, nil
}
