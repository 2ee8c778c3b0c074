package telegram

import (
	"strings"
	"unicode"
)

const (
	// MaxMessageRunes is the longest text sent in one message.
	MaxMessageRunes = 4000
	ellipsis        = "..."
)

// Truncate shortens text longer than MaxMessageRunes to its first
// MaxMessageRunes-3 runes followed by "...".
func Truncate(text string) string {
	r := []rune(text)
	if len(r) <= MaxMessageRunes {
		return text
	}
	return string(r[:MaxMessageRunes-len(ellipsis)]) + ellipsis
}

// parseCommand splits "/cmd@bot args" into a lowercase command name and the
// trimmed argument string. ok is false for text that is not a command.
func parseCommand(text string) (cmd, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}

	head, rest := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		head, rest = text[:i], text[i:]
	}
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(strings.TrimPrefix(head, "/")), strings.TrimSpace(rest), true
}
