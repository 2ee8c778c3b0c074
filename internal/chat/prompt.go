package chat

import (
	"fmt"
	"sort"
	"strings"

	"github.com/edgard/mindjournal/internal/database"
	"github.com/edgard/mindjournal/internal/gemini"
)

const (
	maxEntryChars      = 600
	dominantMoodCount  = 3
	recommendationSize = 3
)

// PromptInput holds the formatted blocks and turns a prompt is built from.
type PromptInput struct {
	JournalContext  string
	ActivityContext string
	FactContext     string
	MoodAnalysis    string
	Recommendations string
	History         []gemini.Message
	Message         string
}

// BuildPrompt returns the ordered messages for the model: one system block
// with every non-empty context section, then the history, then the new user
// message. It has no side effects and is deterministic.
func BuildPrompt(in PromptInput) []gemini.Message {
	var sb strings.Builder
	sb.WriteString("Use the context below about the user when it is relevant. If it is not relevant, do not mention it.")

	sections := []struct {
		title string
		body  string
	}{
		{"Relevant journal entries", in.JournalContext},
		{"Known facts about the user", in.FactContext},
		{"Mood analysis", in.MoodAnalysis},
		{"Suggested activities", in.Recommendations},
		{"Activity catalog", in.ActivityContext},
	}
	for _, s := range sections {
		body := strings.TrimSpace(s.body)
		if body == "" {
			continue
		}
		sb.WriteString("\n\n## ")
		sb.WriteString(s.title)
		sb.WriteString("\n")
		sb.WriteString(body)
	}

	messages := make([]gemini.Message, 0, len(in.History)+2)
	messages = append(messages, gemini.Message{Role: gemini.RoleSystem, Content: sb.String()})
	for _, m := range in.History {
		if m.Role == gemini.RoleSystem || strings.TrimSpace(m.Content) == "" {
			continue
		}
		messages = append(messages, m)
	}
	messages = append(messages, gemini.Message{Role: gemini.RoleUser, Content: in.Message})
	return messages
}

// BuildPromptInput formats an assembled context into prompt blocks.
func BuildPromptInput(c Context, history []gemini.Message, message string) PromptInput {
	moods := AnalyzeMood(c.Entries)
	return PromptInput{
		JournalContext:  FormatJournalContext(c.Entries),
		ActivityContext: FormatActivities(c.Activities),
		FactContext:     FormatFacts(c.Facts),
		MoodAnalysis:    FormatMoodAnalysis(moods),
		Recommendations: FormatActivities(Recommend(c.Activities, moods, recommendationSize)),
		History:         history,
		Message:         message,
	}
}

// FormatJournalContext renders entries as dated bullet blocks, preferring the
// enrichment summary over the raw content.
func FormatJournalContext(entries []*database.JournalEntry) string {
	var sb strings.Builder
	for _, e := range entries {
		if e == nil {
			continue
		}
		fmt.Fprintf(&sb, "- [%s] %s", e.CreatedAt.UTC().Format("2006-01-02"), strings.TrimSpace(e.Title))
		if len(e.MoodTags) > 0 {
			fmt.Fprintf(&sb, " (mood: %s)", strings.Join(e.MoodTags, ", "))
		}
		sb.WriteString("\n  ")
		if e.Summary != nil && strings.TrimSpace(*e.Summary) != "" {
			sb.WriteString(strings.TrimSpace(*e.Summary))
		} else {
			sb.WriteString(truncateRunes(strings.Join(strings.Fields(e.Content), " "), maxEntryChars))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatActivities renders activities as "name (category): description" lines.
func FormatActivities(activities []*database.Activity) string {
	lines := make([]string, 0, len(activities))
	for _, a := range activities {
		if a == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s (%s): %s", a.Name, a.Category, a.Description))
	}
	return strings.Join(lines, "\n")
}

// FormatFacts renders facts as "kind: value" lines.
func FormatFacts(facts []*database.UserFact) string {
	lines := make([]string, 0, len(facts))
	for _, f := range facts {
		if f == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", f.Kind, f.Value))
	}
	return strings.Join(lines, "\n")
}

// MoodCount is how many entries carried a mood tag.
type MoodCount struct {
	Mood  string
	Count int
}

// AnalyzeMood counts mood tags across entries, most frequent first and ties
// broken alphabetically. Tags are compared case-insensitively.
func AnalyzeMood(entries []*database.JournalEntry) []MoodCount {
	counts := map[string]int{}
	for _, e := range entries {
		if e == nil {
			continue
		}
		for _, tag := range e.MoodTags {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag != "" {
				counts[tag]++
			}
		}
	}

	out := make([]MoodCount, 0, len(counts))
	for mood, n := range counts {
		out = append(out, MoodCount{Mood: mood, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Mood < out[j].Mood
	})
	return out
}

// FormatMoodAnalysis summarizes the dominant moods.
func FormatMoodAnalysis(moods []MoodCount) string {
	if len(moods) == 0 {
		return ""
	}
	parts := make([]string, 0, dominantMoodCount)
	for _, m := range dominantMoods(moods) {
		parts = append(parts, fmt.Sprintf("%s (%d)", m.Mood, m.Count))
	}
	return "Most frequent moods in recent entries: " + strings.Join(parts, ", ")
}

func dominantMoods(moods []MoodCount) []MoodCount {
	if len(moods) > dominantMoodCount {
		return moods[:dominantMoodCount]
	}
	return moods
}

// Recommend returns up to limit activities whose mood tags match the dominant
// moods, ranked by the summed frequency of the matched moods, then by name.
func Recommend(activities []*database.Activity, moods []MoodCount, limit int) []*database.Activity {
	weights := map[string]int{}
	for _, m := range dominantMoods(moods) {
		weights[m.Mood] = m.Count
	}
	if len(weights) == 0 || limit <= 0 {
		return nil
	}

	type scored struct {
		activity *database.Activity
		score    int
	}
	var ranked []scored
	for _, a := range activities {
		if a == nil {
			continue
		}
		score := 0
		for _, tag := range a.MoodTags {
			score += weights[strings.ToLower(tag)]
		}
		if score > 0 {
			ranked = append(ranked, scored{activity: a, score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].activity.Name < ranked[j].activity.Name
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]*database.Activity, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.activity)
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
