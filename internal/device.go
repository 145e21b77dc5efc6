package internal

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ClientValue trims a client-supplied value (device id, user agent) to at
// most max bytes and drops control characters so it can be stored and logged
// safely.
func ClientValue(v string, max int) string {
	v = strings.TrimSpace(v)
	v = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, v)
	if len(v) <= max {
		return v
	}
	v = v[:max]
	for !utf8.ValidString(v) {
		v = v[:len(v)-1]
	}
	return v
}
