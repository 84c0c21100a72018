package utils

import (
	"path/filepath"
	"strings"
)

// ResolveSecurePath resolves relative against base and returns the absolute
// result only when it stays lexically inside base. Returns "" for any path
// that escapes, is absolute, or carries null bytes. Used before copying a
// build's output directory to defend against path traversal.
func ResolveSecurePath(base, relative string) string {
	base = strings.ReplaceAll(base, "\x00", "")
	relative = strings.ReplaceAll(relative, "\x00", "")

	if base == "" {
		return ""
	}
	if filepath.IsAbs(relative) {
		return ""
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return ""
	}

	resolved := filepath.Clean(filepath.Join(absBase, relative))

	if resolved != absBase && !strings.HasPrefix(resolved, absBase+string(filepath.Separator)) {
		return ""
	}
	return resolved
}

// SanitizeEnvValue strips characters that are significant to a shell from an
// environment variable value. Values are passed to container invocations as
// discrete env entries, never interpolated into a shell string, but stripping
// keeps a hostile value inert even inside a container entrypoint script.
func SanitizeEnvValue(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch r {
		case ';', '&', '|', '<', '>', '`', '$', '(', ')', '{', '}', '\\', '"', '\'', '\n', '\r', 0:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
