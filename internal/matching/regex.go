package matching

import (
	"regexp"
	"sync"
)

// regexCache holds compiled condition patterns keyed by source text.
var regexCache sync.Map

// compileRegex returns the cached compiled form of pattern.
func compileRegex(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	actual, _ := regexCache.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp), nil
}

// ValidatePattern checks if a regex pattern is valid.
// Returns an error if the pattern cannot be compiled.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return nil
	}
	_, err := compileRegex(pattern)
	return err
}
