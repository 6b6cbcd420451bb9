package compress

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"
)

const summarizePrompt = "Summarize the following conversation transcript in a few sentences, preserving any decisions, file paths, and open questions. Be concise."

// AnthropicSummarizer performs the auxiliary summarization call against
// Claude using anthropic-sdk-go's non-streaming Messages.New; a one-shot
// summarization request needs none of the streaming accumulation the
// provider adapter does.
type AnthropicSummarizer struct {
	client anthropic.Client
	model  string
}

func NewAnthropicSummarizer(apiKey, model string) *AnthropicSummarizer {
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	return &AnthropicSummarizer{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (s *AnthropicSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	message, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(summarizePrompt + "\n\n" + transcript)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("compress: anthropic summarize: %w", err)
	}
	var out string
	for _, block := range message.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}

// OpenAISummarizer is the go-openai equivalent, used when the run's
// provider kind is OpenAI-style.
type OpenAISummarizer struct {
	client *openai.Client
	model  string
}

func NewOpenAISummarizer(apiKey, model string) *OpenAISummarizer {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAISummarizer{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: summarizePrompt + "\n\n" + transcript},
		},
		MaxTokens: 512,
	})
	if err != nil {
		return "", fmt.Errorf("compress: openai summarize: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("compress: openai summarize: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
