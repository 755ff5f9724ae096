package template

import "fmt"

// HasTemplate reports whether s contains at least one `${...}` token.
func HasTemplate(s string) bool {
	return tokenPattern.MatchString(s)
}

func toStringFallback(v any) string {
	return fmt.Sprintf("%v", v)
}
