package action

import (
	"regexp"
	"strconv"
	"strings"

	"headless-sentinel/internal/types"
)

// $NAME or ${NAME}, upper case only so PowerShell's own $vars pass through.
var reTemplateVar = regexp.MustCompile(`\$\{([A-Z_]+)\}|\$([A-Z_]+)\b`)

// psQuote renders s as a PowerShell single-quoted literal. Nothing inside
// single quotes is expanded; an embedded quote is doubled.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ExpandTemplate substitutes HOST, USER/USERNAME, EVENT_ID, MESSAGE and RULE
// from the firing's trigger event. Unknown names are left untouched.
func ExpandTemplate(tmpl string, f *types.Firing) string {
	vars := map[string]string{
		"HOST":     f.Trigger.Host,
		"USER":     f.Trigger.User,
		"USERNAME": f.Trigger.User,
		"EVENT_ID": strconv.Itoa(f.Trigger.EventCode),
		"MESSAGE":  f.Trigger.Message,
		"RULE":     f.Rule,
	}
	return reTemplateVar.ReplaceAllStringFunc(tmpl, func(m string) string {
		sub := reTemplateVar.FindStringSubmatch(m)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		v, ok := vars[name]
		if !ok {
			return m
		}
		return psQuote(v)
	})
}
