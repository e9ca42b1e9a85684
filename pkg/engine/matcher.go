package engine

import (
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/mockstage/mockstage/internal/matching"
	"github.com/mockstage/mockstage/pkg/logging"
	"github.com/mockstage/mockstage/pkg/mock"
)

// Request is the decoded request the matcher evaluates.
type Request = mock.Request

// Reason explains why an Outcome was chosen.
type Reason string

// Match reasons.
const (
	ReasonRule     Reason = "rule"
	ReasonPriority Reason = "priority"
	ReasonRandom   Reason = "random"
	ReasonSequence Reason = "sequence"
	ReasonSingle   Reason = "single"
	ReasonProxy    Reason = "proxy"
	ReasonPush     Reason = "push"
	ReasonNoMatch  Reason = "no-match"
)

// Outcome is the matcher's decision for one request.
type Outcome struct {
	// Definition is the definition the request was routed to, if any.
	Definition *mock.Definition
	// Rule is the rule that fired for rule-driven definitions.
	Rule *mock.Rule
	// Response is the rendered response to emit. Nil when forwarding,
	// pushing or not found.
	Response *mock.Response
	Reason   Reason

	// Forward asks the listener to relay the request to ForwardURL.
	Forward    bool
	ForwardURL string

	// NotFound means nothing answers and nothing forwards.
	NotFound bool
}

type dispatchFunc func(m *Matcher, req *Request, def *mock.Definition, applicable []*mock.Definition) Outcome

var dispatch = map[mock.Type]dispatchFunc{
	mock.TypeSingle:        (*Matcher).matchSingle,
	mock.TypeSequenced:     (*Matcher).matchSequenced,
	mock.TypeRule:          (*Matcher).matchRuleDriven,
	mock.TypeProxy:         (*Matcher).matchProxy,
	mock.TypePushWebSocket: (*Matcher).matchPush,
	mock.TypePushSSE:       (*Matcher).matchPush,
}

// Matcher resolves requests to outcomes. It holds the sequence positions of
// sequenced definitions, so one Matcher serves exactly one listener run.
type Matcher struct {
	protocol   mock.Protocol
	forwardURL string
	log        *slog.Logger

	randMu sync.Mutex
	rng    *rand.Rand

	seqMu sync.Mutex
	seqs  map[string]*sequence
}

type sequence struct {
	mu   sync.Mutex
	next int
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithRandSource sets the source used for randomised tie-breaks.
func WithRandSource(src rand.Source) MatcherOption {
	return func(m *Matcher) {
		if src != nil {
			m.rng = rand.New(src)
		}
	}
}

// WithForwardURL forwards every unmatched request to url.
func WithForwardURL(url string) MatcherOption {
	return func(m *Matcher) {
		m.forwardURL = url
	}
}

// WithMatcherLogger sets the logger.
func WithMatcherLogger(log *slog.Logger) MatcherOption {
	return func(m *Matcher) {
		if log != nil {
			m.log = log
		}
	}
}

// NewMatcher creates a Matcher for protocol.
func NewMatcher(protocol mock.Protocol, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		protocol: protocol,
		log:      logging.Nop(),
		//nolint:gosec // G404: tie-breaks do not need a cryptographic source
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		seqs: make(map[string]*sequence),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Protocol returns the protocol this matcher routes.
func (m *Matcher) Protocol() mock.Protocol {
	return m.protocol
}

// Match routes req to one of candidates and decides the outcome. For HTTP
// definitions with path variables, req.PathVars is filled in.
func (m *Matcher) Match(req *Request, candidates []*mock.Definition) Outcome {
	def, applicable := m.Resolve(req, candidates)
	if def == nil {
		return m.noMatch(req, nil, nil)
	}

	fn, ok := dispatch[def.Type]
	if !ok {
		fn = (*Matcher).matchSingle
	}
	out := fn(m, req, def, applicable)

	m.log.Debug("request matched",
		"protocol", m.protocol,
		"key", def.RoutingKey(),
		"definition", def.ID,
		"reason", out.Reason,
		"forward", out.Forward,
	)
	return out
}

// Resolve returns the definition req is routed to and every applicable
// definition. The most specific routing match wins; among equally specific
// matches the most recently created definition wins.
func (m *Matcher) Resolve(req *Request, candidates []*mock.Definition) (*mock.Definition, []*mock.Definition) {
	var (
		best       *mock.Definition
		bestScore  int
		applicable []*mock.Definition
	)
	for _, def := range candidates {
		if !def.Active() {
			continue
		}
		if m.protocol != "" && def.Protocol != m.protocol {
			continue
		}
		score := routeScore(def, req)
		if score == 0 {
			continue
		}
		applicable = append(applicable, def)

		switch {
		case best == nil, score > bestScore:
			best, bestScore = def, score
		case score == bestScore && !def.CreatedAt.Before(best.CreatedAt):
			best = def
		}
	}

	if best != nil && best.Protocol == mock.ProtocolHTTP {
		vars := matching.MatchPathVariable(best.Path, req.Path)
		if len(vars) > 0 {
			if req.PathVars == nil {
				req.PathVars = make(map[string]string, len(vars))
			}
			for k, v := range vars {
				req.PathVars[k] = v
			}
		}
	}
	return best, applicable
}

func routeScore(def *mock.Definition, req *Request) int {
	switch def.Protocol {
	case mock.ProtocolMQTT:
		return matching.MatchTopic(def.Topic, req.Path)
	case mock.ProtocolFTP:
		return matching.MatchName(def.Name, req.Path)
	default:
		if def.Method != "" && !strings.EqualFold(def.Method, req.Method) {
			return 0
		}
		return matching.MatchPath(def.Path, req.Path)
	}
}

// MatchRules evaluates the rules of def alone, ignoring proxy priority. The
// HTTP listener calls it after a proxy-priority forward fails, and for each
// WebSocket frame.
func (m *Matcher) MatchRules(req *Request, def *mock.Definition) Outcome {
	rules := def.OrderedRules()
	if len(rules) == 0 {
		return m.noMatch(req, def, []*mock.Definition{def})
	}

	var conditional, unconditional []int
	for i := range rules {
		if !matching.Evaluate(rules[i].Conditions, req) {
			continue
		}
		if rules[i].Unconditional() {
			unconditional = append(unconditional, i)
		} else {
			conditional = append(conditional, i)
		}
	}

	// Unconditional rules only fire when no conditional rule does.
	matched := conditional
	if len(matched) == 0 {
		matched = unconditional
	}
	if len(matched) == 0 {
		return m.noMatch(req, def, []*mock.Definition{def})
	}

	pick, reason := matched[0], ReasonRule
	switch {
	case len(matched) > 1 && def.Randomise:
		pick, reason = matched[m.intn(len(matched))], ReasonRandom
	case len(matched) > 1:
		reason = ReasonPriority
	}

	rule := rules[pick]
	return Outcome{
		Definition: def,
		Rule:       &rule,
		Response:   Render(&rule.Response, req),
		Reason:     reason,
	}
}

func (m *Matcher) matchSingle(req *Request, def *mock.Definition, applicable []*mock.Definition) Outcome {
	if def.Response == nil {
		return m.noMatch(req, def, applicable)
	}
	return Outcome{Definition: def, Response: Render(def.Response, req), Reason: ReasonSingle}
}

func (m *Matcher) matchSequenced(req *Request, def *mock.Definition, applicable []*mock.Definition) Outcome {
	n := len(def.Sequence)
	if n == 0 {
		return m.noMatch(req, def, applicable)
	}

	seq := m.sequenceFor(def)
	seq.mu.Lock()
	idx := seq.next % n
	seq.next = (idx + 1) % n
	seq.mu.Unlock()

	return Outcome{Definition: def, Response: Render(&def.Sequence[idx], req), Reason: ReasonSequence}
}

func (m *Matcher) matchRuleDriven(req *Request, def *mock.Definition, applicable []*mock.Definition) Outcome {
	if def.ProxyPriority && def.ProxyURL != "" {
		return Outcome{Definition: def, Reason: ReasonProxy, Forward: true, ForwardURL: def.ProxyURL}
	}
	out := m.MatchRules(req, def)
	if out.Reason == ReasonNoMatch {
		return m.noMatch(req, def, applicable)
	}
	return out
}

func (m *Matcher) matchProxy(req *Request, def *mock.Definition, applicable []*mock.Definition) Outcome {
	return Outcome{Definition: def, Reason: ReasonProxy, Forward: true, ForwardURL: def.ProxyURL}
}

func (m *Matcher) matchPush(req *Request, def *mock.Definition, applicable []*mock.Definition) Outcome {
	return Outcome{Definition: def, Reason: ReasonPush}
}

// noMatch forwards when def, any other applicable definition or the
// listener asks for it, and reports not found otherwise.
func (m *Matcher) noMatch(req *Request, def *mock.Definition, applicable []*mock.Definition) Outcome {
	out := Outcome{Definition: def, Reason: ReasonNoMatch}

	if def != nil && def.ForwardWhenNoRuleMatch && def.ProxyURL != "" {
		out.Forward, out.ForwardURL = true, def.ProxyURL
		return out
	}
	for _, d := range applicable {
		if d.ForwardWhenNoRuleMatch && d.ProxyURL != "" {
			out.Forward, out.ForwardURL = true, d.ProxyURL
			return out
		}
	}
	if m.forwardURL != "" {
		out.Forward, out.ForwardURL = true, m.forwardURL
		return out
	}

	out.NotFound = true
	return out
}

func (m *Matcher) sequenceFor(def *mock.Definition) *sequence {
	key := def.ID
	if key == "" {
		key = string(def.Protocol) + " " + def.RoutingKey()
	}

	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	seq, ok := m.seqs[key]
	if !ok {
		seq = &sequence{}
		m.seqs[key] = seq
	}
	return seq
}

func (m *Matcher) intn(n int) int {
	m.randMu.Lock()
	defer m.randMu.Unlock()
	return m.rng.Intn(n)
}
