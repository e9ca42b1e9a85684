package matching

import (
	"github.com/mockstage/mockstage/pkg/mock"
)

// MatchHeader checks a header condition.
// Header names are case-insensitive (per HTTP spec).
func MatchHeader(c mock.Condition, req *mock.Request) bool {
	actual, found := req.Header(c.Key)
	return MatchValue(c.Operator, c.Value, actual, found, c.CaseSensitive)
}

// MatchQueryParam checks a query parameter condition.
// Parameter names are case-insensitive.
func MatchQueryParam(c mock.Condition, req *mock.Request) bool {
	actual, found := req.QueryParam(c.Key)
	return MatchValue(c.Operator, c.Value, actual, found, c.CaseSensitive)
}

// MatchPathVar checks a path variable condition.
func MatchPathVar(c mock.Condition, req *mock.Request) bool {
	actual, found := req.PathVar(c.Key)
	return MatchValue(c.Operator, c.Value, actual, found, c.CaseSensitive)
}
