package matching

import (
	"github.com/mockstage/mockstage/pkg/mock"
)

// MatchBody checks a body condition. An empty body counts as absent.
func MatchBody(c mock.Condition, body []byte) bool {
	return MatchValue(c.Operator, c.Value, string(body), len(body) > 0, c.CaseSensitive)
}
