// Package journal implements journal entry ingestion: synchronous tagging,
// persistence in the processing state, dispatch to the external enrichment
// service and finalization by its webhook callback.
package journal

import (
	"encoding/json"
	"strings"

	"github.com/edgard/mindjournal/internal/gemini"
)

// TagResult is the outcome of parsing the tag generator output. OK is false
// when the output could not be used, in which case Tags is empty.
type TagResult struct {
	Tags []string
	OK   bool
}

// fallbackTags is the result used whenever tagging fails.
func fallbackTags() TagResult {
	return TagResult{Tags: []string{}, OK: false}
}

// ParseTags decodes the model output as a JSON array of strings after
// stripping any markdown code fence. Values are trimmed and blanks dropped.
func ParseTags(raw string) TagResult {
	cleaned := gemini.StripCodeFences(raw)
	if cleaned == "" {
		return fallbackTags()
	}

	var parsed []string
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return fallbackTags()
	}

	tags := make([]string, 0, len(parsed))
	for _, t := range parsed {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return TagResult{Tags: tags, OK: true}
}
