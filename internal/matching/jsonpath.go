package matching

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"

	"github.com/mockstage/mockstage/pkg/mock"
)

// MatchJSONPath evaluates a JSONPath condition against a JSON body.
// The condition key is the JSONPath expression. Returns false if the body is
// not valid JSON or the expression does not parse.
//
// equals compares typed values when Value parses as JSON ("42", "true",
// "null") and strings otherwise. For wildcard paths that select several
// values, any match is enough.
func MatchJSONPath(c mock.Condition, body []byte) bool {
	data, ok := parseJSONBody(body)
	if !ok {
		return c.Operator == mock.OpAbsent
	}
	return matchJSONPathData(c, data)
}

func matchJSONPathData(c mock.Condition, data interface{}) bool {
	expr, err := jp.ParseString(c.Key)
	if err != nil {
		// Invalid JSONPath expression - treat as no match
		return false
	}

	results := expr.Get(data)

	switch c.Operator {
	case mock.OpPresent:
		return len(results) > 0
	case mock.OpAbsent:
		return len(results) == 0
	case mock.OpEquals:
		expected := parseExpected(c.Value)
		for _, result := range results {
			if valuesEqual(result, expected, c.CaseSensitive) {
				return true
			}
		}
		return false
	}

	for _, result := range results {
		if MatchValue(c.Operator, c.Value, stringify(result), true, c.CaseSensitive) {
			return true
		}
	}
	return false
}

func parseJSONBody(body []byte) (interface{}, bool) {
	if len(body) == 0 {
		return nil, false
	}
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, false
	}
	return data, true
}

// parseExpected decodes a condition value as a JSON literal when possible.
func parseExpected(value string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(value), &v); err == nil {
		switch v.(type) {
		case map[string]interface{}, []interface{}:
		default:
			return v
		}
	}
	return value
}

// valuesEqual compares two values for equality, handling type coercion.
// Supports comparing:
//   - strings
//   - numbers (float64, int, etc.)
//   - booleans
//   - null
func valuesEqual(actual, expected interface{}, caseSensitive bool) bool {
	if actual == nil && expected == nil {
		return true
	}
	if actual == nil || expected == nil {
		return false
	}

	if reflect.DeepEqual(actual, expected) {
		return true
	}

	actualNum, actualIsNum := toFloat64(actual)
	expectedNum, expectedIsNum := toFloat64(expected)
	if actualIsNum && expectedIsNum {
		return actualNum == expectedNum
	}

	// Fall back to comparing string forms so "42" in a condition still
	// matches a string field holding "42".
	a, e := stringify(actual), stringify(expected)
	if caseSensitive {
		return a == e
	}
	return strings.EqualFold(a, e)
}

// toFloat64 attempts to convert a value to float64.
func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// ValidateJSONPathExpression validates a JSONPath expression at load time.
// Returns an error if the expression is invalid.
func ValidateJSONPathExpression(path string) error {
	_, err := jp.ParseString(path)
	if err != nil {
		return fmt.Errorf("invalid JSONPath expression %q: %w", path, err)
	}
	return nil
}
