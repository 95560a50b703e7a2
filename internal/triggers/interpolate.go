package triggers

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Interpolate replaces {{path.with.dots}} placeholders with values
// resolved from the context. A missing path passes through literally.
func Interpolate(s string, ctx map[string]interface{}) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-2])
		value, ok := resolvePath(ctx, path)
		if !ok {
			return match
		}
		return stringify(value)
	})
}

// resolvePath walks dotted keys through nested maps
func resolvePath(ctx map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = ctx
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return "null"
	case float64:
		// JSON round-trips put every number here; render integers plain
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
