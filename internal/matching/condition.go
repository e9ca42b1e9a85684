package matching

import (
	"github.com/mockstage/mockstage/pkg/mock"
)

// Evaluate reports whether every condition holds for req.
// An empty condition list matches unconditionally.
func Evaluate(conditions []mock.Condition, req *mock.Request) bool {
	for _, c := range conditions {
		if !EvaluateCondition(c, req) {
			return false
		}
	}
	return true
}

// EvaluateCondition reports whether a single condition holds for req.
func EvaluateCondition(c mock.Condition, req *mock.Request) bool {
	if c.Operator == mock.OpExpr {
		return MatchExpr(c.Value, req)
	}

	switch c.Source {
	case mock.SourceHeader:
		return MatchHeader(c, req)
	case mock.SourceQuery:
		return MatchQueryParam(c, req)
	case mock.SourcePath:
		return MatchPathVar(c, req)
	case mock.SourceBody:
		return MatchBody(c, req.Body)
	case mock.SourceJSONPath:
		return MatchJSONPath(c, req.Body)
	default:
		return false
	}
}
