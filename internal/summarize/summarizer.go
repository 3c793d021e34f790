// Package summarize produces episode summaries and multi-episode digests
// through the OpenAI chat completion API.
package summarize

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// MaxTranscriptChars caps how much transcript is sent to the model. Longer
// transcripts are truncated with an explicit marker, never silently dropped.
const MaxTranscriptChars = 100000

const truncationMarker = "\n\n[Transcript truncated due to length...]"

const summaryPrompt = `Summarize an audio transcript of a podcast or video in an easily digestible format.
The summary has four sections: 1) Overall Summary (1-2 sentences, under 250 characters),
2) Main Topics Discussed (at most 5 topics), 3) Notable Quotes (at most 3, attributed to
speakers), 4) Action Items (at most 2).
Use informal, conversational language. No emojis or hashtags.
Use single asterisks for bold like *this*, and underscores for italics like _this_.
Identify the host and guests from context clues and attribute quotes to specific people.`

const synthesisPrompt = `You are creating a knowledge briefing for a user.
Here are summaries from content they follow. Write a 2-3 sentence executive summary
connecting any themes across the content, then list each individual summary below,
separated by horizontal rules. Keep it scannable and useful. Use Markdown formatting.`

// Item is one {title, summary} pair fed into digest synthesis.
type Item struct {
	Title   string
	Summary string
}

type OpenAISummarizer struct {
	client *openai.Client
	model  string
}

func NewOpenAISummarizer(client *openai.Client, model string) *OpenAISummarizer {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAISummarizer{client: client, model: model}
}

// Summarize generates a summary for a single transcript.
func (s *OpenAISummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	transcript = CapTranscript(transcript)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: 2000,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summaryPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch summary: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summary response contained no choices")
	}
	return resp.Choices[len(resp.Choices)-1].Message.Content, nil
}

// Synthesize combines multiple episode summaries into one digest. Callers
// with a single item should deliver its summary directly instead.
func (s *OpenAISummarizer) Synthesize(ctx context.Context, items []Item) (string, error) {
	formatted := make([]string, 0, len(items))
	for _, item := range items {
		formatted = append(formatted, fmt.Sprintf("**%s**\n\n%s", item.Title, item.Summary))
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: 3000,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: synthesisPrompt},
			{Role: openai.ChatMessageRoleUser, Content: strings.Join(formatted, "\n\n---\n\n")},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to synthesize digest: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("digest response contained no choices")
	}
	return resp.Choices[len(resp.Choices)-1].Message.Content, nil
}

// CapTranscript truncates a transcript to MaxTranscriptChars, appending a
// marker so the truncation is visible to the model and the reader.
func CapTranscript(transcript string) string {
	if len(transcript) <= MaxTranscriptChars {
		return transcript
	}
	return transcript[:MaxTranscriptChars] + truncationMarker
}
