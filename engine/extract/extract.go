// Package extract turns uploaded files into plain text, one parser per
// file extension.
package extract

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/satyawork/nlp-ui/engine/domain"
)

// Func extracts plain text from a file's raw bytes.
type Func func(data []byte) (string, error)

// Registry maps lower-case extensions (with the dot) to extractors.
type Registry struct {
	byExt map[string]Func
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{byExt: make(map[string]Func)}
}

// Default returns a registry with every supported format registered.
func Default() *Registry {
	r := New()
	r.Register(".pdf", PDF)
	r.Register(".docx", DOCX)
	r.Register(".xlsx", XLSX)
	r.Register(".csv", CSV)
	r.Register(".txt", PlainText)
	r.Register(".rtf", PlainText)
	r.Register(".md", Markdown)
	return r
}

// Register adds or replaces the extractor for ext.
func (r *Registry) Register(ext string, f Func) {
	r.byExt[strings.ToLower(ext)] = f
}

// Extensions lists the registered extensions in lexical order.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract picks the extractor by the filename's extension. Unknown
// extensions fail with domain.ErrUnsupportedFormat and unreadable content
// with domain.ErrDecoding. Extractors that panic on malformed input are
// reported as decoding failures.
func (r *Registry) Extract(filename string, data []byte) (text string, err error) {
	ext := strings.ToLower(filepath.Ext(filename))
	f, ok := r.byExt[ext]
	if !ok {
		return "", fmt.Errorf("extract: %q: %w", filename, domain.ErrUnsupportedFormat)
	}

	defer func() {
		if p := recover(); p != nil {
			text, err = "", fmt.Errorf("extract: %q: %v: %w", filename, p, domain.ErrDecoding)
		}
	}()

	text, err = f(data)
	if err != nil {
		return "", fmt.Errorf("extract: %q: %w", filename, err)
	}
	return text, nil
}

// decodeErr marks err as a decoding failure.
func decodeErr(format string, err error) error {
	return fmt.Errorf("%s: %v: %w", format, err, domain.ErrDecoding)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// PlainText requires valid UTF-8 and returns the content unchanged.
func PlainText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", fmt.Errorf("text: invalid utf-8: %w", domain.ErrDecoding)
	}
	return string(data), nil
}
