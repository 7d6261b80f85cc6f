package prompts

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Render substitutes {{ key }} placeholders. Missing or nil values render as
// the empty string.
func Render(tmpl string, vars map[string]any) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		v, ok := vars[key]
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}

// Placeholders lists the distinct keys a template references, in order of
// first appearance.
func Placeholders(tmpl string) []string {
	seen := map[string]bool{}
	var keys []string
	for _, m := range placeholder.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			keys = append(keys, m[1])
		}
	}
	return keys
}

// ToChatFormat joins a system and a user message into the plain layout
// operators paste into a chat UI.
func ToChatFormat(system, user string) string {
	return "system\n" + strings.TrimSpace(system) + "\n\nuser\n" + strings.TrimSpace(user) + "\n"
}
