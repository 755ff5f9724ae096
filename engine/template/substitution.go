// Package template implements the engine's `${path.to.value}` context
// substitution, the input-mapping expansion mechanism for step inputs.
package template

import (
	"regexp"
	"strconv"
	"strings"
)

// TokenPattern matches a single ${path} reference. path is a dotted chain of
// identifiers and array indices rooted at the execution context. Exported so
// callers that need their own substitution semantics (e.g. engine/condition,
// which must render resolved values as CEL literals rather than spliced
// text) can walk the same token grammar without duplicating it.
var TokenPattern = tokenPattern

var tokenPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_.\[\]]*)\}`)

// Expand walks value (a JSON-shaped tree of maps, slices, and scalars) and
// substitutes every `${path}` reference found in string leaves against ctx.
//
// A string leaf that is exactly one `${...}` token is replaced by the raw
// resolved value, preserving its type. Any other string has each token
// resolved, coerced to its string form, and spliced in place.
func Expand(value any, ctx map[string]any) any {
	switch v := value.(type) {
	case string:
		return expandString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Expand(item, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Expand(item, ctx)
		}
		return out
	default:
		return v
	}
}

func expandString(s string, ctx map[string]any) any {
	if sole, ok := soleToken(s); ok {
		return resolvePath(ctx, sole)
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := match[2 : len(match)-1]
		resolved := resolvePath(ctx, path)
		return stringify(resolved)
	})
}

// soleToken reports whether s is exactly one `${path}` token with nothing
// else around it, returning the enclosed path.
func soleToken(s string) (string, bool) {
	matches := tokenPattern.FindStringSubmatch(s)
	if matches == nil {
		return "", false
	}
	if matches[0] != s {
		return "", false
	}
	return matches[1], true
}

// ResolvePath walks ctx following path's dotted/indexed segments and returns
// the raw resolved value (nil if the path is missing). Exported for callers
// that need the raw value rather than the string-splicing form Expand
// produces for a non-sole-token string.
func ResolvePath(ctx map[string]any, path string) any {
	return resolvePath(ctx, path)
}

// resolvePath walks ctx following path's dotted/indexed segments. A missing
// path yields nil (raw mode); callers splicing text treat nil as "".
func resolvePath(ctx map[string]any, path string) any {
	segments := splitPath(path)
	var current any = ctx
	for _, seg := range segments {
		if idx, isIndex := seg.index(); isIndex {
			arr, ok := current.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil
			}
			current = arr[idx]
			continue
		}
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		v, exists := m[seg.key]
		if !exists {
			return nil
		}
		current = v
	}
	return current
}

type pathSegment struct {
	key      string
	arrIndex int
	isArr    bool
}

func (s pathSegment) index() (int, bool) {
	return s.arrIndex, s.isArr
}

// splitPath turns "a.b[2].c" into [{a} {b} {idx:2} {c}].
func splitPath(path string) []pathSegment {
	var segments []pathSegment
	for _, dotPart := range strings.Split(path, ".") {
		part := dotPart
		for {
			start := strings.IndexByte(part, '[')
			if start < 0 {
				if part != "" {
					segments = append(segments, pathSegment{key: part})
				}
				break
			}
			if start > 0 {
				segments = append(segments, pathSegment{key: part[:start]})
			}
			end := strings.IndexByte(part[start:], ']')
			if end < 0 {
				break
			}
			end += start
			if idx, err := strconv.Atoi(part[start+1 : end]); err == nil {
				segments = append(segments, pathSegment{arrIndex: idx, isArr: true})
			}
			part = part[end+1:]
			if part == "" {
				break
			}
		}
	}
	return segments
}

// stringify coerces a resolved value to its text-splicing representation. A
// missing path (nil) becomes "".
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return toStringFallback(val)
	}
}
