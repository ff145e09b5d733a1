package retrieval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLexicalScore(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		content string
		query   string
		want    float32
	}{
		{
			name:    "title match only",
			title:   "coffee brewing guide",
			content: "water temperature matters",
			query:   "coffee",
			want:    0.8,
		},
		{
			name:    "content match only",
			title:   "morning routine",
			content: "start with a cup of coffee",
			query:   "coffee",
			want:    0.5,
		},
		{
			name:    "title and content capped at one",
			title:   "coffee notes",
			content: "coffee beans from the market",
			query:   "coffee",
			want:    1.0,
		},
		{
			name:    "exact title match adds bonus",
			title:   "coffee",
			content: "unrelated body",
			query:   "coffee",
			want:    1.0, // 0.8 + 0.3 capped
		},
		{
			name:    "exact content match",
			title:   "",
			content: "coffee",
			query:   "coffee",
			want:    0.8, // 0.5 + 0.3
		},
		{
			name:    "case insensitive",
			title:   "Coffee Brewing",
			content: "none",
			query:   "COFFEE",
			want:    0.8,
		},
		{
			name:    "no match",
			title:   "tea ceremony",
			content: "green tea leaves",
			query:   "coffee",
			want:    0,
		},
		{
			name:    "empty query",
			title:   "anything",
			content: "anything",
			query:   "  ",
			want:    0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, lexicalScore(tt.title, tt.content, tt.query), 0.0001)
		})
	}
}
