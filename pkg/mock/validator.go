package mock

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// ValidationError describes a definition or request that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

var validMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
	http.MethodConnect: true,
}

// Validate checks that the definition is internally consistent.
func (d *Definition) Validate() error {
	if d == nil {
		return &ValidationError{Message: "definition is nil"}
	}

	switch d.Protocol {
	case ProtocolHTTP:
		if d.Path == "" || !strings.HasPrefix(d.Path, "/") {
			return &ValidationError{Field: "path", Message: "must start with /"}
		}
		if d.Method != "" && !validMethods[strings.ToUpper(d.Method)] {
			return &ValidationError{Field: "method", Message: fmt.Sprintf("unsupported method %q", d.Method)}
		}
	case ProtocolMQTT:
		if d.Topic == "" {
			return &ValidationError{Field: "topic", Message: "is required"}
		}
	case ProtocolFTP:
		if d.Name == "" {
			return &ValidationError{Field: "name", Message: "is required"}
		}
		if strings.ContainsAny(d.Name, `/\`) || d.Name == "." || d.Name == ".." {
			return &ValidationError{Field: "name", Message: "must be a single directory name"}
		}
	default:
		return &ValidationError{Field: "protocol", Message: fmt.Sprintf("unknown protocol %q", d.Protocol)}
	}

	switch d.Status {
	case "", StatusActive, StatusDisabled:
	default:
		return &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", d.Status)}
	}

	switch d.Type {
	case TypeSingle, "":
		if d.Protocol != ProtocolFTP && d.Response == nil {
			return &ValidationError{Field: "response", Message: "is required for single definitions"}
		}
	case TypeSequenced:
		if len(d.Sequence) == 0 {
			return &ValidationError{Field: "sequence", Message: "must contain at least one response"}
		}
	case TypeRule:
		for i := range d.Rules {
			if err := d.Rules[i].validate(i); err != nil {
				return err
			}
		}
	case TypeProxy:
		if d.ProxyURL == "" {
			return &ValidationError{Field: "proxyUrl", Message: "is required for proxy definitions"}
		}
	case TypePushWebSocket, TypePushSSE:
		if d.Protocol != ProtocolHTTP {
			return &ValidationError{Field: "type", Message: "push definitions require the http protocol"}
		}
		for i := range d.Rules {
			if err := d.Rules[i].validate(i); err != nil {
				return err
			}
		}
	default:
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown type %q", d.Type)}
	}

	if (d.ForwardWhenNoRuleMatch || d.ProxyPriority) && d.ProxyURL == "" {
		return &ValidationError{Field: "proxyUrl", Message: "is required when forwarding is enabled"}
	}
	if d.ResponseTimeout < 0 || d.WebSocketTimeout < 0 || d.SSEHeartbeat < 0 {
		return &ValidationError{Field: "timeout", Message: "durations must not be negative"}
	}
	return nil
}

func (r *Rule) validate(idx int) error {
	for j, c := range r.Conditions {
		field := fmt.Sprintf("rules[%d].conditions[%d]", idx, j)
		switch c.Source {
		case SourceHeader, SourceQuery, SourcePath, SourceJSONPath:
			if c.Key == "" && c.Operator != OpExpr {
				return &ValidationError{Field: field, Message: "key is required"}
			}
		case SourceBody, SourceRequest:
		default:
			return &ValidationError{Field: field, Message: fmt.Sprintf("unknown source %q", c.Source)}
		}
		switch c.Operator {
		case OpEquals, OpContains, OpPresent, OpAbsent:
		case OpRegex:
			if _, err := regexp.Compile(c.Value); err != nil {
				return &ValidationError{Field: field, Message: "invalid regex: " + err.Error()}
			}
		case OpExpr:
			if c.Value == "" {
				return &ValidationError{Field: field, Message: "expression is required"}
			}
		default:
			return &ValidationError{Field: field, Message: fmt.Sprintf("unknown operator %q", c.Operator)}
		}
	}
	return nil
}
