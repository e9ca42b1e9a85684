package matching

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchTopic checks if an MQTT topic matches a topic filter.
// Returns a score > 0 if matched, 0 if not matched.
// Supports the MQTT wildcards:
//   - "+" matches exactly one level: "sensors/+/temp" matches "sensors/1/temp"
//   - "#" matches any remaining levels: "sensors/#" matches "sensors/1/temp"
func MatchTopic(filter, topic string) int {
	if filter == topic {
		return ScoreTopicExact
	}
	if !strings.ContainsAny(filter, "+#") {
		return 0
	}

	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	for i, fp := range filterParts {
		if fp == "#" {
			// # must be last and also matches the parent level.
			if i != len(filterParts)-1 {
				return 0
			}
			return ScoreTopicWildcard
		}
		if i >= len(topicParts) {
			return 0
		}
		if fp == "+" {
			continue
		}
		if fp != topicParts[i] {
			return 0
		}
	}

	if len(filterParts) != len(topicParts) {
		return 0
	}
	return ScoreTopicWildcard
}

// MatchName checks if a file-transfer definition name pattern matches name.
// Patterns use glob syntax ("reports-*", "in/**").
func MatchName(pattern, name string) int {
	if pattern == name {
		return ScoreTopicExact
	}
	if ok, err := doublestar.Match(pattern, name); err == nil && ok {
		return ScoreTopicWildcard
	}
	return 0
}
