package matching

import (
	"strings"

	"github.com/mockstage/mockstage/pkg/mock"
)

// MatchValue applies a comparison operator to an actual value.
// present and absent only look at whether the value exists.
// Comparisons fold case unless caseSensitive is set; regex patterns are
// applied as written.
func MatchValue(op mock.Operator, expected, actual string, found, caseSensitive bool) bool {
	switch op {
	case mock.OpPresent:
		return found
	case mock.OpAbsent:
		return !found
	}
	if !found {
		return false
	}

	switch op {
	case mock.OpEquals:
		if caseSensitive {
			return actual == expected
		}
		return strings.EqualFold(actual, expected)
	case mock.OpContains:
		if caseSensitive {
			return strings.Contains(actual, expected)
		}
		return strings.Contains(strings.ToLower(actual), strings.ToLower(expected))
	case mock.OpRegex:
		re, err := compileRegex(expected)
		if err != nil {
			// Invalid regex pattern - gracefully return no match
			return false
		}
		return re.MatchString(actual)
	default:
		return false
	}
}
