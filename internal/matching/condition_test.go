package matching

import (
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockstage/mockstage/pkg/mock"
)

func testRequest() *mock.Request {
	return &mock.Request{
		Method:   http.MethodPost,
		Path:     "/orders/42",
		Headers:  http.Header{"Content-Type": {"application/json"}, "X-Tenant": {"Acme"}},
		Query:    url.Values{"Filter": {"open"}},
		PathVars: map[string]string{"orderId": "42"},
		Body:     []byte(`{"user":{"name":"Ada","age":36,"admin":true},"items":[{"sku":"a1"},{"sku":"b2"}],"note":null}`),
	}
}

func TestEvaluateCondition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cond mock.Condition
		want bool
	}{
		{name: "header equals ignores name case", cond: mock.Condition{Source: mock.SourceHeader, Key: "x-tenant", Operator: mock.OpEquals, Value: "Acme"}, want: true},
		{name: "header equals folds value case", cond: mock.Condition{Source: mock.SourceHeader, Key: "X-Tenant", Operator: mock.OpEquals, Value: "acme"}, want: true},
		{name: "header equals case sensitive", cond: mock.Condition{Source: mock.SourceHeader, Key: "X-Tenant", Operator: mock.OpEquals, Value: "acme", CaseSensitive: true}, want: false},
		{name: "header present", cond: mock.Condition{Source: mock.SourceHeader, Key: "Content-Type", Operator: mock.OpPresent}, want: true},
		{name: "header absent", cond: mock.Condition{Source: mock.SourceHeader, Key: "Authorization", Operator: mock.OpAbsent}, want: true},
		{name: "header missing fails equals", cond: mock.Condition{Source: mock.SourceHeader, Key: "Authorization", Operator: mock.OpEquals, Value: ""}, want: false},
		{name: "query equals ignores name case", cond: mock.Condition{Source: mock.SourceQuery, Key: "filter", Operator: mock.OpEquals, Value: "open"}, want: true},
		{name: "query regex", cond: mock.Condition{Source: mock.SourceQuery, Key: "filter", Operator: mock.OpRegex, Value: "^op"}, want: true},
		{name: "path var equals", cond: mock.Condition{Source: mock.SourcePath, Key: ":orderid", Operator: mock.OpEquals, Value: "42"}, want: true},
		{name: "body contains", cond: mock.Condition{Source: mock.SourceBody, Operator: mock.OpContains, Value: "ADA"}, want: true},
		{name: "body contains case sensitive", cond: mock.Condition{Source: mock.SourceBody, Operator: mock.OpContains, Value: "ADA", CaseSensitive: true}, want: false},
		{name: "body invalid regex", cond: mock.Condition{Source: mock.SourceBody, Operator: mock.OpRegex, Value: "[invalid"}, want: false},
		{name: "jsonpath string equals", cond: mock.Condition{Source: mock.SourceJSONPath, Key: "$.user.name", Operator: mock.OpEquals, Value: "Ada"}, want: true},
		{name: "jsonpath number equals", cond: mock.Condition{Source: mock.SourceJSONPath, Key: "$.user.age", Operator: mock.OpEquals, Value: "36"}, want: true},
		{name: "jsonpath bool equals", cond: mock.Condition{Source: mock.SourceJSONPath, Key: "$.user.admin", Operator: mock.OpEquals, Value: "true"}, want: true},
		{name: "jsonpath null equals", cond: mock.Condition{Source: mock.SourceJSONPath, Key: "$.note", Operator: mock.OpEquals, Value: "null"}, want: true},
		{name: "jsonpath wildcard any", cond: mock.Condition{Source: mock.SourceJSONPath, Key: "$.items[*].sku", Operator: mock.OpEquals, Value: "b2"}, want: true},
		{name: "jsonpath present", cond: mock.Condition{Source: mock.SourceJSONPath, Key: "$.user", Operator: mock.OpPresent}, want: true},
		{name: "jsonpath absent", cond: mock.Condition{Source: mock.SourceJSONPath, Key: "$.missing", Operator: mock.OpAbsent}, want: true},
		{name: "jsonpath regex", cond: mock.Condition{Source: mock.SourceJSONPath, Key: "$.user.name", Operator: mock.OpRegex, Value: "^A"}, want: true},
		{name: "jsonpath invalid expression", cond: mock.Condition{Source: mock.SourceJSONPath, Key: "$[[", Operator: mock.OpPresent}, want: false},
		{name: "expr over request", cond: mock.Condition{Source: mock.SourceRequest, Operator: mock.OpExpr, Value: `method == "POST" && headers["x-tenant"] == "Acme"`}, want: true},
		{name: "expr over json body", cond: mock.Condition{Source: mock.SourceRequest, Operator: mock.OpExpr, Value: `json.user.age > 30`}, want: true},
		{name: "expr non bool result", cond: mock.Condition{Source: mock.SourceRequest, Operator: mock.OpExpr, Value: `path`}, want: false},
		{name: "expr compile error", cond: mock.Condition{Source: mock.SourceRequest, Operator: mock.OpExpr, Value: `method ==`}, want: false},
		{name: "unknown source", cond: mock.Condition{Source: "cookie", Key: "a", Operator: mock.OpPresent}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, EvaluateCondition(tt.cond, testRequest()))
		})
	}
}

func TestEvaluate_Conjunction(t *testing.T) {
	t.Parallel()

	req := testRequest()
	hold := mock.Condition{Source: mock.SourceHeader, Key: "X-Tenant", Operator: mock.OpPresent}
	fail := mock.Condition{Source: mock.SourceHeader, Key: "X-Missing", Operator: mock.OpPresent}

	assert.True(t, Evaluate(nil, req), "empty condition list matches")
	assert.True(t, Evaluate([]mock.Condition{hold, hold}, req))
	assert.False(t, Evaluate([]mock.Condition{hold, fail}, req))
}

func TestMatchJSONPath_InvalidBody(t *testing.T) {
	t.Parallel()

	present := mock.Condition{Source: mock.SourceJSONPath, Key: "$.a", Operator: mock.OpPresent}
	absent := mock.Condition{Source: mock.SourceJSONPath, Key: "$.a", Operator: mock.OpAbsent}

	assert.False(t, MatchJSONPath(present, []byte("not json")))
	assert.True(t, MatchJSONPath(absent, []byte("not json")))
	assert.False(t, MatchJSONPath(present, nil))
}

func TestMatchExpr_ConcurrentCompile(t *testing.T) {
	t.Parallel()

	req := testRequest()
	var wg sync.WaitGroup
	results := make([]bool, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = MatchExpr(`pathVars.orderId == "42"`, req)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.True(t, r)
	}
}

func TestValidators(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidatePattern(`^/api/\d+$`))
	require.Error(t, ValidatePattern(`[invalid`))
	require.NoError(t, ValidateJSONPathExpression("$.a.b"))
	require.Error(t, ValidateJSONPathExpression("$[["))
	require.NoError(t, ValidateExpr(`method == "GET"`))
	require.Error(t, ValidateExpr(`method ==`))
}
