package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchTopic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		filter    string
		topic     string
		wantScore int
	}{
		{name: "exact", filter: "sensors/temp", topic: "sensors/temp", wantScore: 15},
		{name: "single level", filter: "sensors/+/temp", topic: "sensors/1/temp", wantScore: 10},
		{name: "single level is one level only", filter: "sensors/+/temp", topic: "sensors/1/2/temp", wantScore: 0},
		{name: "multi level", filter: "sensors/#", topic: "sensors/1/temp", wantScore: 10},
		{name: "multi level matches parent", filter: "sensors/#", topic: "sensors", wantScore: 10},
		{name: "hash not last", filter: "sensors/#/temp", topic: "sensors/1/temp", wantScore: 0},
		{name: "filter shorter than topic", filter: "sensors/+", topic: "sensors/1/temp", wantScore: 0},
		{name: "different literal", filter: "sensors/temp", topic: "sensors/humidity", wantScore: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.wantScore, MatchTopic(tt.filter, tt.topic))
		})
	}
}

func TestMatchName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ScoreTopicExact, MatchName("reports", "reports"))
	assert.Equal(t, ScoreTopicWildcard, MatchName("reports-*", "reports-2024"))
	assert.Equal(t, 0, MatchName("reports-*", "invoices"))
}
