package semantic

import (
	"fmt"
	"path"
	"strings"
)

// NamingPolicy derives a collection name from an uploaded filename.
type NamingPolicy string

const (
	// NamingStripExtension drops the final extension: "report.v2.pdf" -> "report.v2".
	NamingStripExtension NamingPolicy = "strip-extension"
	// NamingFirstPeriod keeps the prefix before the first period: "report.v2.pdf" -> "report".
	NamingFirstPeriod NamingPolicy = "first-period"
)

// fallbackName is used when a filename has no usable characters.
const fallbackName = "document"

// ParseNamingPolicy accepts the policy names used in configuration.
func ParseNamingPolicy(s string) (NamingPolicy, error) {
	switch NamingPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", NamingStripExtension:
		return NamingStripExtension, nil
	case NamingFirstPeriod:
		return NamingFirstPeriod, nil
	default:
		return "", fmt.Errorf("semantic: unknown naming policy %q", s)
	}
}

// CollectionName maps filename to a collection name. It never returns an
// empty or dots-only name: directory components are dropped first, and names
// that reduce to nothing fall back to the dot-trimmed base or "document".
func CollectionName(filename string, policy NamingPolicy) string {
	base := baseName(filename)

	var name string
	switch policy {
	case NamingFirstPeriod:
		name, _, _ = strings.Cut(base, ".")
	default:
		name = strings.TrimSuffix(base, path.Ext(base))
	}
	name = strings.TrimSpace(name)
	if strings.Trim(name, ". ") != "" {
		return name
	}

	if trimmed := strings.Trim(base, ". "); trimmed != "" {
		return trimmed
	}
	return fallbackName
}

// baseName strips both slash and backslash separated directories, since
// browsers on Windows may send full client paths.
func baseName(filename string) string {
	p := strings.ReplaceAll(filename, `\`, "/")
	b := path.Base(p)
	if b == "." || b == "/" {
		return ""
	}
	return b
}
