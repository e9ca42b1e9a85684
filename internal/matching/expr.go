package matching

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/mockstage/mockstage/pkg/mock"
)

var (
	programMu    sync.RWMutex
	programCache = make(map[string]*vm.Program)
)

// ExprEnv builds the environment an expr condition is evaluated against.
//
//	method, path, body  string
//	headers, query      map[string]string (lower-cased keys)
//	pathVars            map[string]string
//	json                decoded body, or nil when the body is not JSON
func ExprEnv(req *mock.Request) map[string]interface{} {
	headers := make(map[string]string, len(req.Headers))
	for k, v := range req.Headers {
		if len(v) > 0 {
			headers[strings.ToLower(k)] = v[0]
		}
	}
	query := make(map[string]string, len(req.Query))
	for k, v := range req.Query {
		if len(v) > 0 {
			query[strings.ToLower(k)] = v[0]
		}
	}
	pathVars := make(map[string]string, len(req.PathVars))
	for k, v := range req.PathVars {
		pathVars[k] = v
	}
	data, _ := parseJSONBody(req.Body)

	return map[string]interface{}{
		"method":   req.Method,
		"path":     req.Path,
		"headers":  headers,
		"query":    query,
		"pathVars": pathVars,
		"body":     string(req.Body),
		"json":     data,
	}
}

// MatchExpr evaluates a boolean expr-lang expression against the request.
// Compile and runtime errors, and non-boolean results, count as no match.
func MatchExpr(expression string, req *mock.Request) bool {
	ok, err := EvalExpr(expression, ExprEnv(req))
	return err == nil && ok
}

// EvalExpr evaluates expression against env using a compile cache.
func EvalExpr(expression string, env map[string]interface{}) (bool, error) {
	program, err := compileExpr(expression, env)
	if err != nil {
		return false, fmt.Errorf("compile %q: %w", expression, err)
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", expression, err)
	}

	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("eval %q: result is %T, not bool", expression, result)
	}
	return b, nil
}

// ValidateExpr checks that expression compiles against a request environment.
func ValidateExpr(expression string) error {
	_, err := compileExpr(expression, ExprEnv(&mock.Request{}))
	return err
}

func compileExpr(expression string, env map[string]interface{}) (*vm.Program, error) {
	programMu.RLock()
	if program, ok := programCache[expression]; ok {
		programMu.RUnlock()
		return program, nil
	}
	programMu.RUnlock()

	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, err
	}

	programMu.Lock()
	// Double-check in case another goroutine compiled the same expression.
	if existing, ok := programCache[expression]; ok {
		programMu.Unlock()
		return existing, nil
	}
	programCache[expression] = program
	programMu.Unlock()

	return program, nil
}
