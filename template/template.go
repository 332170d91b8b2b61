// Package template substitutes {name} and {state.name} placeholders in node
// prompts and input maps. Placeholders are simple single-segment names; the
// resolver is a single pass over the template.
package template

import (
	"fmt"
	"sort"
	"strings"
)

// MissingVarError reports an unresolvable placeholder together with the
// names that were available.
type MissingVarError struct {
	Name      string
	Available []string
}

func (e *MissingVarError) Error() string {
	msg := fmt.Sprintf("missing template variable %q", e.Name)
	if len(e.Available) > 0 {
		msg += fmt.Sprintf(" (available: %s)", strings.Join(e.Available, ", "))
	}
	return msg
}

// Resolve substitutes placeholders from vars. The "state." prefix on a
// placeholder is stripped, so {topic} and {state.topic} resolve identically.
func Resolve(tmpl string, vars map[string]any) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))

	i := 0
	for i < len(tmpl) {
		c := tmpl[i]
		if c != '{' {
			b.WriteByte(c)
			i++
			continue
		}
		end := strings.IndexByte(tmpl[i+1:], '}')
		if end < 0 {
			return "", fmt.Errorf("unclosed placeholder at offset %d", i)
		}
		name := strings.TrimSpace(tmpl[i+1 : i+1+end])
		name = strings.TrimPrefix(name, "state.")
		if name == "" {
			return "", fmt.Errorf("empty placeholder at offset %d", i)
		}
		val, ok := vars[name]
		// a nil value means the optional field was never written; resolving
		// it to "" would hide the gap from the prompt
		if !ok || val == nil {
			return "", &MissingVarError{Name: name, Available: sortedKeys(vars)}
		}
		b.WriteString(format(val))
		i += end + 2
	}
	return b.String(), nil
}

// Placeholders returns the distinct placeholder names in declaration order,
// with any "state." prefix stripped. Used by the semantic validator.
func Placeholders(tmpl string) []string {
	var names []string
	seen := map[string]bool{}
	i := 0
	for i < len(tmpl) {
		if tmpl[i] != '{' {
			i++
			continue
		}
		end := strings.IndexByte(tmpl[i+1:], '}')
		if end < 0 {
			break
		}
		name := strings.TrimSpace(tmpl[i+1 : i+1+end])
		name = strings.TrimPrefix(name, "state.")
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		i += end + 2
	}
	return names
}

func format(v any) string {
	switch val := v.(type) {
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
