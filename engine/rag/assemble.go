package rag

import (
	"strings"

	"github.com/satyawork/nlp-ui/engine/semantic"
)

// Assemble concatenates hit texts in order while their combined word count
// stays within maxWords. It stops at the first hit that would overflow, even
// if a later, shorter hit would fit.
func Assemble(hits []semantic.Hit, maxWords int) string {
	parts := make([]string, 0, len(hits))
	total := 0
	for _, h := range hits {
		n := len(strings.Fields(h.Payload.Text))
		if total+n > maxWords {
			break
		}
		total += n
		parts = append(parts, h.Payload.Text)
	}
	return strings.Join(parts, "\n")
}
