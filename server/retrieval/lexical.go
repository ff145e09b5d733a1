package retrieval

import "strings"

// Lexical relevance weights. A hit in the title outweighs a hit in the
// body, and an exact match adds a bonus on top.
const (
	titleMatchWeight   = 0.8
	contentMatchWeight = 0.5
	exactMatchBonus    = 0.3
)

// lexicalScore rates how well a memory's text matches the query.
// Matching is case-insensitive and the score is capped at 1.0.
func lexicalScore(title, content, query string) float32 {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	t := strings.ToLower(title)
	c := strings.ToLower(content)

	var score float32
	if strings.Contains(t, q) {
		score += titleMatchWeight
	}
	if strings.Contains(c, q) {
		score += contentMatchWeight
	}
	if t == q || c == q {
		score += exactMatchBonus
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
