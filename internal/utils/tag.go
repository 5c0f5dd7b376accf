package utils

import (
	"net/url"
	"strings"
)

// FormatTag upper-cases a player tag and makes sure it starts with '#'.
// "p990v0" and " #p990v0 " both become "#P990V0".
func FormatTag(raw string) string {
	tag := strings.ToUpper(strings.TrimSpace(raw))
	tag = strings.TrimLeft(tag, "#")
	if tag == "" {
		return ""
	}
	return "#" + tag
}

// EscapeTag formats a tag for use as a URL path segment ('#' -> "%23").
func EscapeTag(raw string) string {
	return url.PathEscape(FormatTag(raw))
}
