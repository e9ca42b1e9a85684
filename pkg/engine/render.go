package engine

import (
	"regexp"

	"github.com/mockstage/mockstage/pkg/mock"
)

var tokenPattern = regexp.MustCompile(`\$\{\s*([A-Za-z0-9_.\-]+)\s*\}`)

// Render returns a copy of resp with ${name} tokens in the body and header
// values replaced by the request's path variable, query parameter or header
// of that name, looked up in that order and case-insensitively. Unknown
// tokens are left as written.
func Render(resp *mock.Response, req *Request) *mock.Response {
	if resp == nil {
		return nil
	}
	out := *resp
	out.Body = SubstituteTokens(resp.Body, req)
	if resp.Headers != nil {
		out.Headers = make(map[string]string, len(resp.Headers))
		for k, v := range resp.Headers {
			out.Headers[k] = SubstituteTokens(v, req)
		}
	}
	return &out
}

// SubstituteTokens replaces ${name} tokens in s with request values.
func SubstituteTokens(s string, req *Request) string {
	if req == nil || len(s) < 4 {
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		name := tokenPattern.FindStringSubmatch(token)[1]
		if v, ok := req.PathVar(name); ok {
			return v
		}
		if v, ok := req.QueryParam(name); ok {
			return v
		}
		if v, ok := req.Header(name); ok {
			return v
		}
		return token
	})
}
