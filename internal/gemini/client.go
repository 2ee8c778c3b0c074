// Package gemini implements integration with Google's Gemini AI API.
// It provides tag generation, chat replies (single-shot and streamed) and
// fact extraction for the journal service.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/edgard/mindjournal/internal/config"
)

// Message roles understood by the client.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a prompt. System messages are merged into the
// request's system instruction; the rest become conversation contents.
type Message struct {
	Role    string
	Content string
}

// Fact kinds returned by ExtractFacts.
var FactKinds = []string{"person", "place", "preference", "goal", "other"}

// Fact is a durable personal fact extracted from a user's messages.
type Fact struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// Client defines the AI operations used throughout the application.
type Client interface {
	// GenerateTags returns the raw model output for the tag instruction.
	// Parsing is left to the caller.
	GenerateTags(ctx context.Context, content string) (string, error)

	// GenerateReply returns the complete reply for the given prompt.
	GenerateReply(ctx context.Context, messages []Message) (string, error)

	// StreamReply streams the reply, calling onChunk for every non-empty text
	// chunk, and returns the concatenated text. An error from onChunk stops the stream.
	StreamReply(ctx context.Context, messages []Message, onChunk func(chunk string) error) (string, error)

	// ExtractFacts extracts new durable facts from the user's messages.
	ExtractFacts(ctx context.Context, messages []string, known []string) ([]Fact, error)
}

type sdkClient struct {
	genaiClient      *genai.Client
	log              *slog.Logger
	contentConfig    *genai.GenerateContentConfig
	defaultModelName string
	maxRetries       int
	retryDelay       time.Duration
}

// NewClient creates a new Gemini AI client with the provided configuration.
func NewClient(
	ctx context.Context,
	cfg config.GeminiConfig,
	log *slog.Logger,
) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	temperature := cfg.Temperature
	baseCfg := &genai.GenerateContentConfig{
		Temperature: &temperature,
	}
	if cfg.SystemInstruction != "" {
		baseCfg.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}

	logger := log.With("component", "gemini_client")
	logger.Info("Gemini client initialized successfully", "model", cfg.ModelName)
	return &sdkClient{
		genaiClient:      gi,
		log:              logger,
		contentConfig:    baseCfg,
		defaultModelName: cfg.ModelName,
		maxRetries:       cfg.MaxRetries,
		retryDelay:       time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}, nil
}

func (c *sdkClient) generateContentWithRetries(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var err error
	for i := 0; i <= c.maxRetries; i++ {
		var resp *genai.GenerateContentResponse
		resp, err = c.genaiClient.Models.GenerateContent(ctx, c.defaultModelName, contents, cfg)
		if err == nil {
			return resp, nil
		}

		c.log.WarnContext(ctx, "Gemini API call failed, checking for retry", "attempt", i+1, "max_retries", c.maxRetries, "error", err)

		if !isRetriable(err) {
			return nil, fmt.Errorf("gemini API call failed: %w", err)
		}
		if i == c.maxRetries {
			break
		}

		c.log.InfoContext(ctx, "Retrying Gemini API call", "delay", c.retryDelay)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gemini API call cancelled while waiting to retry: %w", ctx.Err())
		case <-time.After(c.retryDelay):
		}
	}
	return nil, fmt.Errorf("gemini API call failed after %d retries: %w", c.maxRetries, err)
}

func isRetriable(err error) bool {
	var apiErr *genai.APIError
	return errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503)
}

// GenerateTags asks the model for 3 to 5 tags describing the entry.
func (c *sdkClient) GenerateTags(ctx context.Context, content string) (string, error) {
	c.log.DebugContext(ctx, "Generating tags", "content_length", len(content))

	cfg := *c.contentConfig
	cfg.SystemInstruction = genai.NewContentFromText(TagSystemInstruction, genai.RoleUser)
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseSchema = tagListSchema

	contents := []*genai.Content{genai.NewContentFromText(content, genai.RoleUser)}
	resp, err := c.generateContentWithRetries(ctx, contents, &cfg)
	if err != nil {
		return "", fmt.Errorf("failed to generate tags: %w", err)
	}
	return c.extractTextFromResponse(ctx, "generate_tags", resp)
}

var tagListSchema = &genai.Schema{
	Type:        genai.TypeArray,
	Description: "Between 3 and 5 short lowercase tags.",
	Items:       &genai.Schema{Type: genai.TypeString},
}

// GenerateReply returns the full assistant reply for messages.
func (c *sdkClient) GenerateReply(ctx context.Context, messages []Message) (string, error) {
	c.log.DebugContext(ctx, "Generating reply", "message_count", len(messages))

	system, contents := splitMessages(messages)
	if len(contents) == 0 {
		return "", fmt.Errorf("no conversation contents to reply to")
	}

	resp, err := c.generateContentWithRetries(ctx, contents, c.withSystem(system))
	if err != nil {
		c.log.ErrorContext(ctx, "Gemini reply generation failed", "error", err)
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}
	return c.extractTextFromResponse(ctx, "generate_reply", resp)
}

// StreamReply streams the assistant reply chunk by chunk.
func (c *sdkClient) StreamReply(ctx context.Context, messages []Message, onChunk func(chunk string) error) (string, error) {
	c.log.DebugContext(ctx, "Streaming reply", "message_count", len(messages))

	system, contents := splitMessages(messages)
	if len(contents) == 0 {
		return "", fmt.Errorf("no conversation contents to reply to")
	}

	var sb strings.Builder
	chunks := 0
	for resp, err := range c.genaiClient.Models.GenerateContentStream(ctx, c.defaultModelName, contents, c.withSystem(system)) {
		if err != nil {
			c.log.ErrorContext(ctx, "Gemini stream failed", "chunks_received", chunks, "error", err)
			return sb.String(), fmt.Errorf("gemini stream failed: %w", err)
		}
		if resp == nil {
			continue
		}
		if isBlocked(resp.PromptFeedback) {
			return sb.String(), fmt.Errorf("stream blocked by safety filter: %v", resp.PromptFeedback.BlockReason)
		}

		text := resp.Text()
		if text == "" {
			continue
		}
		chunks++
		sb.WriteString(text)
		if err := onChunk(text); err != nil {
			return sb.String(), fmt.Errorf("failed to forward stream chunk: %w", err)
		}
	}

	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini stream returned empty content")
	}
	c.log.DebugContext(ctx, "Gemini stream finished", "chunks", chunks, "length", sb.Len())
	return sb.String(), nil
}

var factListSchema = &genai.Schema{
	Type:        genai.TypeArray,
	Description: "New durable facts about the user. Empty when there is nothing new.",
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"kind":  {Type: genai.TypeString, Enum: FactKinds, Description: "Category of the fact."},
			"value": {Type: genai.TypeString, Description: "Short third-person statement of the fact."},
		},
		Required: []string{"kind", "value"},
	},
}

// ExtractFacts runs fact extraction in JSON schema mode.
func (c *sdkClient) ExtractFacts(ctx context.Context, messages []string, known []string) ([]Fact, error) {
	c.log.DebugContext(ctx, "Extracting facts using JSON schema mode", "message_count", len(messages), "known_count", len(known))
	if len(messages) == 0 {
		return nil, nil
	}

	knownText := "(none)"
	if len(known) > 0 {
		knownText = "- " + strings.Join(known, "\n- ")
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(FactExtractionSystemInstruction, knownText))
	for _, m := range messages {
		sb.WriteString(m)
		sb.WriteString("\n")
	}

	cfg := *c.contentConfig
	cfg.SystemInstruction = nil
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseSchema = factListSchema

	contents := []*genai.Content{genai.NewContentFromText(sb.String(), genai.RoleUser)}
	resp, err := c.generateContentWithRetries(ctx, contents, &cfg)
	if err != nil {
		c.log.ErrorContext(ctx, "Gemini fact extraction API call failed", "error", err)
		return nil, fmt.Errorf("failed to extract facts: %w", err)
	}

	jsonText, err := c.extractTextFromResponse(ctx, "extract_facts", resp)
	if err != nil {
		return nil, fmt.Errorf("failed to extract facts response: %w", err)
	}

	facts, err := ParseFacts(jsonText)
	if err != nil {
		c.log.ErrorContext(ctx, "Failed to parse facts JSON from Gemini response", "error", err, "response_text", jsonText)
		return nil, err
	}
	return facts, nil
}

// ParseFacts decodes a JSON array of facts, dropping blank values and unknown
// kinds and normalizing whitespace.
func ParseFacts(raw string) ([]Fact, error) {
	var parsed []Fact
	if err := json.Unmarshal([]byte(StripCodeFences(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("invalid facts JSON array received: %w", err)
	}

	facts := make([]Fact, 0, len(parsed))
	for _, f := range parsed {
		kind := strings.ToLower(strings.TrimSpace(f.Kind))
		value := strings.Join(strings.Fields(f.Value), " ")
		if value == "" {
			continue
		}
		if !isFactKind(kind) {
			kind = "other"
		}
		facts = append(facts, Fact{Kind: kind, Value: value})
	}
	return facts, nil
}

func isFactKind(kind string) bool {
	for _, k := range FactKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// StripCodeFences removes a surrounding markdown code fence from model output.
func StripCodeFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	cleaned = strings.TrimPrefix(cleaned, "```")
	if nl := strings.IndexByte(cleaned, '\n'); nl >= 0 && !strings.ContainsAny(cleaned[:nl], "[{\"") {
		cleaned = cleaned[nl+1:]
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	return strings.TrimSpace(cleaned)
}

// splitMessages merges system messages into one instruction and converts the
// remaining turns into genai contents, preserving their order.
func splitMessages(messages []Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}

// withSystem returns a copy of the base config whose system instruction is the
// configured persona followed by extra.
func (c *sdkClient) withSystem(extra string) *genai.GenerateContentConfig {
	cfg := *c.contentConfig
	if extra == "" {
		return &cfg
	}

	var base string
	if c.contentConfig.SystemInstruction != nil && len(c.contentConfig.SystemInstruction.Parts) > 0 {
		base = c.contentConfig.SystemInstruction.Parts[0].Text
	}
	text := extra
	if base != "" {
		text = base + "\n\n" + extra
	}
	cfg.SystemInstruction = genai.NewContentFromText(text, genai.RoleUser)
	return &cfg
}

func isBlocked(fb *genai.GenerateContentResponsePromptFeedback) bool {
	return fb != nil && fb.BlockReason != "" && fb.BlockReason != genai.BlockedReasonUnspecified
}

func (c *sdkClient) extractTextFromResponse(ctx context.Context, op string, resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%s returned no response", op)
	}

	if isBlocked(resp.PromptFeedback) {
		reasonMsg := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reasonMsg = resp.PromptFeedback.BlockReasonMessage
		}
		c.log.ErrorContext(ctx, "Gemini request blocked", "operation", op, "reason", reasonMsg)
		return "", fmt.Errorf("%s blocked by safety filter: %s", op, reasonMsg)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		c.log.WarnContext(ctx, "Gemini response missing candidates or content", "operation", op, "finish_reason", finishReason)
		return "", fmt.Errorf("%s returned no content, finish reason: %s", op, finishReason)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%s returned empty text", op)
	}
	return text, nil
}
