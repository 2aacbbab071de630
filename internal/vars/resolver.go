// ABOUTME: Variable substitution for templated server configuration values
// ABOUTME: Resolves ${NAME} and $NAME tokens against saved variables then the environment

package vars

import (
	"fmt"
	"os"
	"regexp"
)

// tokenPattern matches both ${NAME} and bare $NAME forms. Variable names
// are uppercase with underscores, matching the saved-variable key rules.
var tokenPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}|\$([A-Z_][A-Z0-9_]*)`)

// KeyPattern is the set of valid saved-variable keys.
var KeyPattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// Resolve expands every variable token in template. Lookup order is the
// saved-variable map first, then the process environment. Tokens that
// resolve to nothing are replaced with the empty string rather than left
// literal; callers rely on that to blank out unset credentials instead of
// leaking "$API_KEY" into an outbound request.
func Resolve(template string, savedVars map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(template, func(match string) string {
		groups := tokenPattern.FindStringSubmatch(match)
		name := groups[1]
		if name == "" {
			name = groups[2]
		}
		if v, ok := savedVars[name]; ok {
			return v
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return ""
	})
}

// ResolveValue applies Resolve recursively to every string leaf of a
// map/slice structure. Map keys are never resolved, only values. Non-string
// leaves are stringified so downstream consumers always see strings.
func ResolveValue(value any, savedVars map[string]string) any {
	switch v := value.(type) {
	case string:
		return Resolve(v, savedVars)
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = Resolve(s, savedVars)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = ResolveValue(e, savedVars)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, s := range v {
			out[k] = Resolve(s, savedVars)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = ResolveValue(e, savedVars)
		}
		return out
	case nil:
		return nil
	default:
		return Resolve(fmt.Sprintf("%v", v), savedVars)
	}
}

// ResolveStrings expands tokens in each element of values.
func ResolveStrings(values []string, savedVars map[string]string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	for i, s := range values {
		out[i] = Resolve(s, savedVars)
	}
	return out
}

// ResolveStringMap expands tokens in each value of m, leaving keys untouched.
func ResolveStringMap(m map[string]string, savedVars map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Resolve(v, savedVars)
	}
	return out
}
