package metrics

import (
	"reflect"
	"testing"
)

func TestFlattenFailures(t *testing.T) {
	tests := []struct {
		name  string
		stats []TargetStats
		want  []FailureRow
	}{
		{
			name:  "no stats",
			stats: nil,
			want:  nil,
		},
		{
			name:  "no failures",
			stats: []TargetStats{{Target: "openai/gpt-4o", Successes: 3}},
			want:  nil,
		},
		{
			name: "sorted by count desc then target",
			stats: []TargetStats{
				{Target: "groq/llama", Errors: map[string]int{"HTTP 429": 2}},
				{Target: "anthropic/claude", Errors: map[string]int{"Stream error (overloaded_error)": 2, "Network error": 5}},
			},
			want: []FailureRow{
				{Target: "anthropic/claude", Kind: "Network error", Count: 5},
				{Target: "anthropic/claude", Kind: "Stream error (overloaded_error)", Count: 2},
				{Target: "groq/llama", Kind: "HTTP 429", Count: 2},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlattenFailures(tt.stats)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FlattenFailures() = %v, want %v", got, tt.want)
			}
		})
	}
}
