// Package matching provides the request predicates used by the rule matcher.
//
// It covers the routing side (does a definition answer on this path, topic or
// file name) and the rule side (does a condition hold for this request):
//
//   - Path matching: exact paths, named parameters ({id} and :id) and
//     wildcards, including ** globs
//   - Topic matching: MQTT filters with + and # wildcards, plus globs
//   - Header, query and path variable conditions, case-insensitive by default
//   - Body conditions: equals, contains and regex
//   - JSONPath conditions over JSON bodies
//   - expr-lang expressions over the whole request
//
// Routing matches are scored so more specific patterns win. Score constants
// are defined in scores.go.
package matching
