package vectorstore

import (
	"fmt"
	"regexp"
	"strings"
)

// indexNamePattern validates index names: lowercase letters, numbers,
// underscores, 1-64 characters.
var indexNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// IndexName derives the index name for a session identifier. The transform is
// pure and deterministic so repeated lookups always match the original
// creation: lowercase, every character outside [a-z0-9_] replaced with an
// underscore, truncated to 64 characters.
func IndexName(sessionID string) string {
	lowered := strings.ToLower(strings.TrimSpace(sessionID))
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if len(name) > 64 {
		name = name[:64]
	}
	if name == "" {
		name = "default"
	}
	return name
}

// ValidateIndexName validates an index name against the store naming rules.
func ValidateIndexName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: index name cannot be empty", ErrInvalidIndexName)
	}
	if !indexNamePattern.MatchString(name) {
		return fmt.Errorf("%w: index name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidIndexName, name)
	}
	return nil
}
