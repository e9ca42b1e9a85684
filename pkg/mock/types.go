// Package mock defines the mock definitions served by the engine: the routing
// key each definition answers on, its behavior type, its policy flags and the
// canned responses it replays.
package mock

import (
	"sort"
	"strings"
	"time"
)

// Protocol identifies the listener family a definition belongs to.
type Protocol string

const (
	ProtocolHTTP Protocol = "http"
	ProtocolFTP  Protocol = "ftp"
	ProtocolMQTT Protocol = "mqtt"
)

// Protocols lists every protocol the engine can run a listener for.
var Protocols = []Protocol{ProtocolHTTP, ProtocolFTP, ProtocolMQTT}

// Status is the record status of a definition.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusDisabled Status = "DISABLED"
)

// Type is the behavior variant of a definition.
type Type string

const (
	// TypeSingle always replays Response.
	TypeSingle Type = "single"
	// TypeSequenced cycles through Sequence, one entry per request.
	TypeSequenced Type = "sequenced"
	// TypeRule evaluates Rules in order.
	TypeRule Type = "rule"
	// TypeProxy relays every request to ProxyURL.
	TypeProxy Type = "proxy"
	// TypePushWebSocket upgrades to a WebSocket and matches frames.
	TypePushWebSocket Type = "push-ws"
	// TypePushSSE holds an event stream open.
	TypePushSSE Type = "push-sse"
)

// Definition is a stored fake endpoint.
type Definition struct {
	// ID is the opaque external identifier. Immutable once created.
	ID string `json:"id" yaml:"id"`

	Protocol Protocol `json:"protocol" yaml:"protocol"`

	// Name is the display name. For file-transfer definitions it is also the
	// directory the definition's files live in.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method and Path form the HTTP routing key.
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`

	// Topic is the messaging routing key.
	Topic string `json:"topic,omitempty" yaml:"topic,omitempty"`

	Status Status `json:"status" yaml:"status"`
	Type   Type   `json:"type" yaml:"type"`

	Owner     string    `json:"owner,omitempty" yaml:"owner,omitempty"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`

	// ResponseTimeout bounds upstream calls made on behalf of this definition.
	ResponseTimeout Duration `json:"responseTimeout,omitempty" yaml:"responseTimeout,omitempty"`
	// WebSocketTimeout closes a WebSocket after this much inactivity.
	WebSocketTimeout Duration `json:"webSocketTimeout,omitempty" yaml:"webSocketTimeout,omitempty"`
	// SSEHeartbeat is the interval between heartbeat events.
	SSEHeartbeat Duration `json:"sseHeartbeat,omitempty" yaml:"sseHeartbeat,omitempty"`

	PushIDOnConnect        bool `json:"pushIdOnConnect,omitempty" yaml:"pushIdOnConnect,omitempty"`
	Randomise              bool `json:"randomise,omitempty" yaml:"randomise,omitempty"`
	ForwardWhenNoRuleMatch bool `json:"forwardWhenNoRuleMatch,omitempty" yaml:"forwardWhenNoRuleMatch,omitempty"`
	ProxyPriority          bool `json:"proxyPriority,omitempty" yaml:"proxyPriority,omitempty"`

	// ProxyURL is the origin requests are forwarded to.
	ProxyURL string `json:"proxyUrl,omitempty" yaml:"proxyUrl,omitempty"`

	Response *Response  `json:"response,omitempty" yaml:"response,omitempty"`
	Sequence []Response `json:"sequence,omitempty" yaml:"sequence,omitempty"`
	Rules    []Rule     `json:"rules,omitempty" yaml:"rules,omitempty"`

	// Events are pushed on SSE streams (and to WebSocket clients on connect).
	Events []Response `json:"events,omitempty" yaml:"events,omitempty"`
}

// Active reports whether the definition should receive traffic.
func (d *Definition) Active() bool {
	return d != nil && (d.Status == StatusActive || d.Status == "")
}

// RoutingKey returns the protocol specific key the definition answers on.
func (d *Definition) RoutingKey() string {
	switch d.Protocol {
	case ProtocolMQTT:
		return d.Topic
	case ProtocolFTP:
		return d.Name
	default:
		return strings.ToUpper(d.Method) + " " + d.Path
	}
}

// Streaming reports whether the definition keeps the connection open.
func (d *Definition) Streaming() bool {
	return d.Type == TypePushWebSocket || d.Type == TypePushSSE
}

// OrderedRules returns the rules with unconditional rules moved to the end,
// keeping the relative order of everything else.
func (d *Definition) OrderedRules() []Rule {
	rules := make([]Rule, len(d.Rules))
	copy(rules, d.Rules)
	sort.SliceStable(rules, func(i, j int) bool {
		return len(rules[i].Conditions) > 0 && len(rules[j].Conditions) == 0
	})
	return rules
}

// Rule is a conjunction of conditions plus the response to emit when all of
// them hold.
type Rule struct {
	ID         string      `json:"id,omitempty" yaml:"id,omitempty"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Response   Response    `json:"response" yaml:"response"`
}

// Unconditional reports whether the rule matches every request.
func (r *Rule) Unconditional() bool {
	return len(r.Conditions) == 0
}

// Source is the part of the request a condition inspects.
type Source string

const (
	SourceHeader   Source = "header"
	SourceQuery    Source = "query"
	SourcePath     Source = "path"
	SourceBody     Source = "body"
	SourceJSONPath Source = "jsonpath"
	// SourceRequest exposes the whole request to an expr condition.
	SourceRequest Source = "request"
)

// Operator is the comparison a condition applies.
type Operator string

const (
	OpEquals   Operator = "equals"
	OpContains Operator = "contains"
	OpRegex    Operator = "regex"
	OpPresent  Operator = "present"
	OpAbsent   Operator = "absent"
	OpExpr     Operator = "expr"
)

// Condition is a single predicate over a request.
type Condition struct {
	Source Source `json:"source" yaml:"source"`
	// Key names the header, query param or path variable; for jsonpath it is
	// the JSONPath expression. Unused for body and request sources.
	Key      string   `json:"key,omitempty" yaml:"key,omitempty"`
	Operator Operator `json:"operator" yaml:"operator"`
	// Value is the expected value, regex or expr-lang expression.
	Value         string `json:"value,omitempty" yaml:"value,omitempty"`
	CaseSensitive bool   `json:"caseSensitive,omitempty" yaml:"caseSensitive,omitempty"`
}

// Response is a canned reply. Body and Headers are replayed verbatim.
type Response struct {
	Status      int               `json:"status,omitempty" yaml:"status,omitempty"`
	ContentType string            `json:"contentType,omitempty" yaml:"contentType,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body        string            `json:"body,omitempty" yaml:"body,omitempty"`
	// Delay is injected before the response is written.
	Delay Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// StatusCode returns Status, defaulting to 200.
func (r *Response) StatusCode() int {
	if r.Status == 0 {
		return 200
	}
	return r.Status
}
