// Package renderer implements deterministic {{key}} template expansion
// for notification bodies.
package renderer

import (
	"fmt"
	"regexp"
)

// Renderer holds the in-process template map; storage beyond this map is
// out of scope.
type Renderer struct {
	templates map[string]string
	fallback  string
}

var placeholder = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

const defaultFallbackTemplate = "{{body}}"

// New builds a Renderer from a static template map. Callers typically
// construct this once at startup from a small, hand-maintained set of
// template codes (welcome_v1, reset_password_v1, ...).
func New(templates map[string]string) *Renderer {
	if templates == nil {
		templates = map[string]string{}
	}
	return &Renderer{templates: templates, fallback: defaultFallbackTemplate}
}

// Render expands templateCode's body against variables. An unknown
// template code falls back to a generic template; unknown placeholder
// keys expand to the empty string. Render never fails on malformed
// variables — only a malformed template (an internal authoring error)
// would be a failure mode, which cannot happen with the fixed regex
// substitution used here.
func (r *Renderer) Render(templateCode string, variables map[string]interface{}) string {
	tmpl, ok := r.templates[templateCode]
	if !ok {
		tmpl = r.fallback
	}

	return placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := placeholder.FindStringSubmatch(match)[1]
		val, ok := variables[key]
		if !ok || val == nil {
			return ""
		}
		return toDisplayString(val)
	})
}

func toDisplayString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
