package matching

import (
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// A definition path is one of four shapes, tried in this order:
//
//	/orders/42          literal, compared as is
//	/orders/{id}/items  variable segments ({name} or :name), a "*" segment
//	                    matches any one segment
//	/files/**/raw       doublestar glob, "**" spans segments
//	/files/*.json       character wildcard, "*" spans anything
//
// A pattern ending in "/*" also matches its bare prefix.

// MatchPath scores path against a definition path. Zero means no match.
func MatchPath(pattern, path string) int {
	if pattern == path {
		return ScorePathExact
	}

	segs := segments(pattern)
	if hasVariable(segs) {
		if matchSegments(segs, segments(path)) {
			return ScorePathNamedParams
		}
		return 0
	}

	if strings.Contains(pattern, "**") {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return ScorePathGlob
		}
		return 0
	}

	if !strings.Contains(pattern, "*") {
		return 0
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok && (path == prefix || strings.HasPrefix(path, prefix+"/")) {
		return ScorePathWildcard
	}
	if wildcard(pattern, path) {
		return ScorePathWildcard
	}
	return 0
}

// MatchPathVariable returns the values a path binds to the pattern's
// variables. Named segments bind by name. Each "*" segment binds to its
// ordinal ("0", "1", ...); a final "*" takes the rest of the path.
func MatchPathVariable(pattern, path string) map[string]string {
	vars := make(map[string]string)
	segs, parts := segments(pattern), segments(path)

	star := 0
	for i := 0; i < len(segs) && i < len(parts); i++ {
		if name := variable(segs[i]); name != "" {
			vars[name] = parts[i]
			continue
		}
		if segs[i] != "*" {
			continue
		}
		value := parts[i]
		if i == len(segs)-1 {
			value = strings.Join(parts[i:], "/")
		}
		vars[strconv.Itoa(star)] = value
		star++
	}
	return vars
}

func segments(p string) []string {
	return strings.Split(strings.Trim(p, "/"), "/")
}

// variable returns the name of a {name} or :name segment, or "".
func variable(seg string) string {
	if name, ok := strings.CutPrefix(seg, ":"); ok {
		return name
	}
	if len(seg) > 2 && seg[0] == '{' && seg[len(seg)-1] == '}' {
		return seg[1 : len(seg)-1]
	}
	return ""
}

func hasVariable(segs []string) bool {
	for _, s := range segs {
		if variable(s) != "" {
			return true
		}
	}
	return false
}

// matchSegments compares a variable pattern segment by segment. Variables
// never bind to an empty segment.
func matchSegments(segs, parts []string) bool {
	if len(segs) != len(parts) {
		return false
	}
	for i, s := range segs {
		switch {
		case variable(s) != "":
			if parts[i] == "" {
				return false
			}
		case s == "*":
		case s != parts[i]:
			return false
		}
	}
	return true
}

// wildcard reports whether s matches pattern, where each "*" matches any run
// of characters, separators included.
func wildcard(pattern, s string) bool {
	p, i := 0, 0
	starP, starI := -1, 0
	for i < len(s) {
		switch {
		case p < len(pattern) && pattern[p] == '*':
			starP, starI = p, i
			p++
		case p < len(pattern) && pattern[p] == s[i]:
			p++
			i++
		case starP >= 0:
			starI++
			p, i = starP+1, starI
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
