package flow

import "strings"

// Substitute replaces {{key}} tokens in template with values from vars. Key
// matching is case-sensitive and flat: no nesting, no escaping. Unknown
// tokens are left in place.
func Substitute(template string, vars map[string]string) string {
	if template == "" || len(vars) == 0 {
		return template
	}
	out := template
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}
