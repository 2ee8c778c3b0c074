package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSearchTerms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "drops stopwords and short words", query: "How do I feel about my work at the office?", want: []string{"work", "office"}},
		{name: "dedupes case-insensitively", query: "Sleep, sleep and SLEEP again", want: []string{"sleep"}},
		{name: "splits on punctuation", query: "running/swimming;yoga", want: []string{"running", "swimming", "yoga"}},
		{name: "keeps unicode letters", query: "café à Paris", want: []string{"café", "paris"}},
		{name: "caps the number of terms", query: "alpha bravo charlie delta echo foxtrot golf hotel india juliet", want: []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel"}},
		{name: "empty", query: "  ", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SearchTerms(tt.query))
		})
	}
}
