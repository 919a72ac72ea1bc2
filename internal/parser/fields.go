package parser

import (
	"regexp"
	"strings"
)

// Rendered Security log messages carry "Label:  value" lines.
var fieldPatterns = []struct {
	key string
	re  *regexp.Regexp
}{
	{"account", regexp.MustCompile(`(?im)Account Name:[ \t]*(.+)$`)},
	{"domain", regexp.MustCompile(`(?im)Account Domain:[ \t]*(.+)$`)},
	{"logon_type", regexp.MustCompile(`(?i)Logon Type:\s*(\d+)`)},
	{"source_ip", regexp.MustCompile(`(?i)Source Network Address:\s*(\S+)`)},
	{"process", regexp.MustCompile(`(?im)Process Name:[ \t]*(.+)$`)},
	{"workstation", regexp.MustCompile(`(?im)Workstation Name:[ \t]*(.+)$`)},
}

// ExtractFields pulls well-known key/value pairs out of a rendered event message.
// Missing fields are absent from the result.
func ExtractFields(message string) map[string]string {
	out := make(map[string]string)
	for _, p := range fieldPatterns {
		if m := p.re.FindStringSubmatch(message); len(m) > 1 {
			if v := strings.TrimSpace(m[1]); v != "" {
				out[p.key] = v
			}
		}
	}
	return out
}
