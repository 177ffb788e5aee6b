package prompt

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// Substitute replaces every {key} occurrence for keys present in vars.
// Keys in the template with no supplied value stay as literal text; the
// caller is expected to have surfaced missing values to the user already.
func Substitute(content string, vars map[string]string) string {
	out := content
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{"+key+"}", value)
	}
	return out
}

// ExtractVariables returns the deduplicated set of placeholder names in a
// template. Order tracks first appearance but nothing depends on it.
func ExtractVariables(content string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool)
	var vars []string
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		vars = append(vars, name)
	}
	return vars
}
