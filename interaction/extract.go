package interaction

import (
	"strings"
)

// Extract scans semi-structured CLI output line by line. A line containing
// a marker yields that marker's field, taking the value after the first
// "=", inside the first quoted segment, or after the first ":" — in that
// order — with surrounding quotes and whitespace trimmed. Missing markers
// yield absent fields, not errors; this is a best-effort scraper, not a
// parser. The first matching line per field wins.
func Extract(text string, markers map[string]string) map[string]string {
	fields := make(map[string]string, len(markers))
	for _, line := range strings.Split(text, "\n") {
		for field, marker := range markers {
			if marker == "" {
				continue
			}
			if _, done := fields[field]; done {
				continue
			}
			if !strings.Contains(line, marker) {
				continue
			}
			if v, ok := valueOf(line, marker); ok {
				fields[field] = v
			}
		}
	}
	return fields
}

func valueOf(line, marker string) (string, bool) {
	// Only look to the right of the marker, so a ":" inside the marker's
	// own key (wireless.i5g.ssid) doesn't shadow the separator.
	rest := line
	if i := strings.Index(line, marker); i >= 0 {
		rest = line[i+len(marker):]
	}
	if i := strings.Index(rest, "="); i >= 0 {
		return trimValue(rest[i+1:]), true
	}
	if v, ok := quotedSegment(rest); ok {
		return v, true
	}
	if i := strings.Index(rest, ":"); i >= 0 {
		return trimValue(rest[i+1:]), true
	}
	return "", false
}

func quotedSegment(s string) (string, bool) {
	for _, q := range []byte{'\'', '"'} {
		start := strings.IndexByte(s, q)
		if start < 0 {
			continue
		}
		end := strings.IndexByte(s[start+1:], q)
		if end < 0 {
			continue
		}
		return s[start+1 : start+1+end], true
	}
	return "", false
}

func trimValue(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `'"`)
	return strings.TrimSpace(s)
}
