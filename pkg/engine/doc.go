// Package engine is the core of mockstage: the supervisor that runs one
// listener per protocol and the rule matcher those listeners consult.
//
// # Supervisor
//
// A Supervisor owns at most one listener per protocol (http, ftp, mqtt). Each
// listener moves through
//
//	STOPPED -> STARTING -> RUNNING -> STOPPING -> STOPPED
//
// with FAILED reachable from STARTING when the configuration is invalid or
// the port cannot be bound. The RuntimeState of a listener (running, port,
// secure) is published together with the RUNNING state, only after the
// socket accepts connections. Start and Stop on the same protocol are
// serialized; different protocols start and stop independently.
//
// Listeners are built by a ListenerFactory registered per protocol, which
// keeps this package free of protocol code.
//
// # Matcher
//
// A Matcher is created for every listener run. It resolves the definition a
// request is routed to, then dispatches on the definition type:
//
//	single     replay the response
//	sequenced  replay the next response of a cyclic per-definition sequence
//	rule       evaluate rules in order, tie-break, fall back to forward/404
//	proxy      forward to the definition's origin
//	push-ws    upgrade; each frame is matched with MatchRules
//	push-sse   hold an event stream open
//
// Sequence positions live in the Matcher, so they restart when the listener
// restarts.
package engine
