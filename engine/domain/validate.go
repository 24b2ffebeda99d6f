package domain

import (
	"path/filepath"
	"regexp"
	"strings"
)

// fromCollection matches prompts like "what is X from collection notes".
var fromCollection = regexp.MustCompile(`(?is)^(.*)\bfrom collection\b\s*(.+)$`)

// SupportedExtensions lists the upload formats accepted by the extractor.
var SupportedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".txt":  true,
	".csv":  true,
	".xlsx": true,
	".md":   true,
	".rtf":  true,
}

// ValidateUpload checks an upload before it is stored or parsed.
func ValidateUpload(u Upload) error {
	name := strings.TrimSpace(u.Filename)
	if name == "" {
		return NewValidationError("file", u.Filename, ErrInvalidRequest)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !SupportedExtensions[ext] {
		return NewValidationError("file", u.Filename, ErrUnsupportedFormat)
	}
	return nil
}

// ResolveQuestion validates q. When no collection is given, a trailing
// "from collection <name>" phrase in the question selects it.
func ResolveQuestion(q Question) (Question, error) {
	q.Text = strings.TrimSpace(q.Text)
	q.Collection = strings.TrimSpace(q.Collection)

	if q.Collection == "" {
		if m := fromCollection.FindStringSubmatch(q.Text); m != nil {
			q.Text = strings.TrimSpace(m[1])
			q.Collection = strings.TrimSpace(m[2])
		}
	}

	if q.Text == "" {
		return q, NewValidationError("question", q.Text, ErrInvalidRequest)
	}
	if q.Collection == "" {
		return q, NewValidationError("collection", q.Collection, ErrInvalidRequest)
	}
	return q, nil
}
