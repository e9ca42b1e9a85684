package matching

// Match score constants for path matching.
// Higher scores indicate more specific matches.
const (
	// ScorePathExact is the score for an exact path match.
	ScorePathExact = 15

	// ScorePathNamedParams is the score for a path with named parameters match.
	ScorePathNamedParams = 12

	// ScorePathWildcard is the score for a wildcard path match.
	ScorePathWildcard = 10

	// ScorePathGlob is the score for a ** glob match.
	ScorePathGlob = 8
)

// Match score constants for topic and name matching.
const (
	// ScoreTopicExact is the score for an exact topic match.
	ScoreTopicExact = 15

	// ScoreTopicWildcard is the score for a topic filter with + or #.
	ScoreTopicWildcard = 10
)
