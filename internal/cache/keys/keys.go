// Package keys builds the Redis keys saved query files are stored under.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Prefix starts every saved query key.
const Prefix = "qy"

// Key returns "qy:<map>:<name>:f=<hash>". The readable parts are
// sanitized and truncated; the hash is taken over the raw inputs so two
// names that sanitize alike still get distinct keys.
func Key(mapName, fileName string) string {
	mapSafe := sanitize(strings.TrimSpace(mapName))
	nameSafe := sanitize(strings.TrimSpace(fileName))

	const maxNameLen = 120
	if len(nameSafe) > maxNameLen {
		nameSafe = nameSafe[:maxNameLen]
	}

	sum := xxhash.Sum64String(mapName + "\x00" + fileName)
	return fmt.Sprintf("%s:%s:%s:f=%016x", Prefix, mapSafe, nameSafe, sum)
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// Any other rune (including ':' and non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
