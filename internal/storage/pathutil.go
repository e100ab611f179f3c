package storage

import "strings"

// ShortTabID returns the first 8 chars of a CDP target ID.
func ShortTabID(targetID string) string {
	if len(targetID) >= 8 {
		return targetID[:8]
	}
	return targetID
}

// ArchiveSegment maps a tab ID onto a filesystem-safe directory name.
func ArchiveSegment(tabID string) string {
	short := ShortTabID(strings.TrimSpace(tabID))
	if short == "" {
		return "tab_unknown"
	}
	var b strings.Builder
	b.WriteString("tab_")
	for _, r := range short {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
