// Package geminitest provides an in-memory gemini.Client for tests.
package geminitest

import (
	"context"
	"sync"

	"github.com/edgard/mindjournal/internal/gemini"
)

// Fake is a scripted gemini.Client that records every call.
type Fake struct {
	mu sync.Mutex

	TagsOutput string
	TagsErr    error

	Reply    string
	ReplyErr error

	// Chunks are streamed in order by StreamReply; StreamErr is returned after them.
	Chunks    []string
	StreamErr error

	Facts    []gemini.Fact
	FactsErr error

	TagCalls    int
	ReplyCalls  int
	StreamCalls int
	FactCalls   int

	LastMessages []gemini.Message
	FactInputs   [][]string
}

var _ gemini.Client = (*Fake)(nil)

// GenerateTags returns TagsOutput or TagsErr.
func (f *Fake) GenerateTags(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TagCalls++
	return f.TagsOutput, f.TagsErr
}

// GenerateReply returns Reply or ReplyErr.
func (f *Fake) GenerateReply(_ context.Context, messages []gemini.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ReplyCalls++
	f.LastMessages = messages
	if f.ReplyErr != nil {
		return "", f.ReplyErr
	}
	return f.Reply, nil
}

// StreamReply forwards Chunks to onChunk and returns their concatenation.
func (f *Fake) StreamReply(ctx context.Context, messages []gemini.Message, onChunk func(string) error) (string, error) {
	f.mu.Lock()
	f.StreamCalls++
	f.LastMessages = messages
	chunks := append([]string(nil), f.Chunks...)
	streamErr := f.StreamErr
	f.mu.Unlock()

	full := ""
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return full, err
		}
		full += c
		if err := onChunk(c); err != nil {
			return full, err
		}
	}
	return full, streamErr
}

// ExtractFacts returns Facts or FactsErr and records the messages it was given.
func (f *Fake) ExtractFacts(_ context.Context, messages []string, _ []string) ([]gemini.Fact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FactCalls++
	f.FactInputs = append(f.FactInputs, messages)
	return f.Facts, f.FactsErr
}

// Calls returns the total number of calls made to the fake.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.TagCalls + f.ReplyCalls + f.StreamCalls + f.FactCalls
}
