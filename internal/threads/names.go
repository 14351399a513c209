package threads

import (
	"fmt"
	"strings"

	"github.com/gridzer0/threadbot/internal/media"
)

// MaxNameLen is the platform limit for thread names.
const MaxNameLen = 100

// Ellipsis marks truncated text.
const Ellipsis = "..."

// Truncate shortens s to at most limit runes, replacing the tail with an
// ellipsis when cut.
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= len(Ellipsis) {
		return string(r[:limit])
	}
	return string(r[:limit-len(Ellipsis)]) + Ellipsis
}

// SanitizeName collapses whitespace and caps the name at MaxNameLen.
func SanitizeName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		name = "thread"
	}
	return Truncate(name, MaxNameLen)
}

// BatchThreadName derives a name from the items in posting order:
// "<first base name> and K more", or "N images" when the first name is blank.
func BatchThreadName(items []media.Item) string {
	if len(items) == 0 {
		return SanitizeName("")
	}
	ordered := media.Sort(items)
	var base string
	if name := strings.TrimSpace(ordered[0].Name); name != "" {
		base = strings.TrimSpace(media.BaseName(name))
	}
	switch {
	case base == "":
		return SanitizeName(fmt.Sprintf("%d images", len(items)))
	case len(items) > 1:
		// Truncate the label first so the count always survives.
		suffix := fmt.Sprintf(" and %d more", len(items)-1)
		return SanitizeName(Truncate(base, MaxNameLen-len(suffix)) + suffix)
	}
	return SanitizeName(base)
}

// VideoThreadName prefixes a video title, e.g. "Watch: <title>".
func VideoThreadName(prefix, title string) string {
	return SanitizeName(prefix + title)
}
