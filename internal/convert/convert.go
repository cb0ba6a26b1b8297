// Package convert turns dataset files into plain text the model can read.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antchfx/xpath"
	"go.uber.org/zap"
)

// ErrUnsupported is returned for file types that have no converter.
var ErrUnsupported = errors.New("unsupported file type")

// Config configures a Converter.
type Config struct {
	// CacheDir holds converted text; empty disables the cache.
	CacheDir string
	// HTMLContentXPath selects the part of HTML documents to extract. Empty
	// means the whole body.
	HTMLContentXPath string
}

// Converter converts documents to text, caching expensive conversions.
type Converter struct {
	cacheDir  string
	htmlXPath *xpath.Expr
	log       *zap.Logger
}

// New validates cfg and builds a Converter.
func New(cfg Config, log *zap.Logger) (*Converter, error) {
	c := &Converter{cacheDir: cfg.CacheDir, log: log}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if cfg.HTMLContentXPath != "" {
		expr, err := xpath.Compile(cfg.HTMLContentXPath)
		if err != nil {
			return nil, fmt.Errorf("compile html content xpath %q: %w", cfg.HTMLContentXPath, err)
		}
		c.htmlXPath = expr
	}
	return c, nil
}

// Supported reports whether name has a converter.
func Supported(name string) bool {
	return kindOf(name) != kindUnknown
}

type kind int

const (
	kindUnknown kind = iota
	kindText
	kindHTML
	kindPDF
	kindArchive
)

func kindOf(name string) kind {
	lower := strings.ToLower(name)
	for _, ext := range []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tar.zst"} {
		if strings.HasSuffix(lower, ext) {
			return kindArchive
		}
	}
	switch filepath.Ext(lower) {
	case ".txt", ".md", ".markdown", ".csv", ".tsv", ".json", ".xml", ".log":
		return kindText
	case ".html", ".htm", ".xhtml":
		return kindHTML
	case ".pdf":
		return kindPDF
	case ".zip", ".tar", ".tgz", ".7z", ".rar", ".cbz":
		return kindArchive
	}
	return kindUnknown
}

// ToText converts content. Conversions other than plain text are cached under
// CacheDir/<source>/<dataset>-md/<name>.md.
func (c *Converter) ToText(ctx context.Context, source, dataset, name string, content []byte) (string, error) {
	k := kindOf(name)
	if k == kindText {
		return decodeText(content), nil
	}
	if k == kindUnknown {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(name))
	}

	cachePath := c.cachePath(source, dataset, name)
	if cachePath != "" {
		if b, err := os.ReadFile(cachePath); err == nil {
			c.log.Debug("Converted text cache hit", zap.String("file", name))
			return string(b), nil
		}
	}

	text, err := c.convert(ctx, k, name, content)
	if err != nil {
		return "", err
	}

	if cachePath != "" {
		if err := writeCache(cachePath, text); err != nil {
			c.log.Warn("Failed to cache converted text", zap.String("file", name), zap.Error(err))
		}
	}
	return text, nil
}

func (c *Converter) convert(ctx context.Context, k kind, name string, content []byte) (string, error) {
	switch k {
	case kindText:
		return decodeText(content), nil
	case kindHTML:
		return c.htmlToText(content)
	case kindPDF:
		return pdfToText(content)
	case kindArchive:
		return c.archiveToText(ctx, name, content)
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(name))
}

func (c *Converter) cachePath(source, dataset, name string) string {
	if c.cacheDir == "" {
		return ""
	}
	return filepath.Join(c.cacheDir, source, dataset+"-md", filepath.FromSlash(name)+".md")
}

func writeCache(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// normalizeBlankLines collapses runs of blank lines to one.
func normalizeBlankLines(s string) string {
	var b bytes.Buffer
	blank := 0
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}
