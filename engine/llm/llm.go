// Package llm streams coach answers from a chat-completion model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Message is one turn of the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Roles accepted in conversation history.
const (
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
	RoleSystem    = openai.ChatMessageRoleSystem
)

// Generator streams a completion. onChunk is called for every delta in order;
// the full text is returned only after the stream ends cleanly. A cancelled
// context or a failing onChunk aborts the stream with an error.
type Generator interface {
	Stream(ctx context.Context, system string, history []Message, onChunk func(string) error) (string, error)
}

// Config configures the OpenAI chat backend.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string  // default gpt-4o-mini
	MaxTokens   int     // default 500
	Temperature float32 // default 0.7
}

// OpenAI is a Generator backed by the OpenAI chat completions API.
type OpenAI struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAI creates an OpenAI Generator.
func NewOpenAI(cfg Config) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// Stream implements Generator.
func (o *OpenAI) Stream(ctx context.Context, system string, history []Message, onChunk func(string) error) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: RoleSystem, Content: system})
	}
	for _, m := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
		Messages:    msgs,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("llm: create stream: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("llm: stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if err := onChunk(delta); err != nil {
			return "", fmt.Errorf("llm: deliver chunk: %w", err)
		}
	}
	// A stream cut short by cancellation can surface as EOF.
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("llm: stream: %w", err)
	}
	return full.String(), nil
}

const coachPrompt = `You are an AI wellness coach. Your role is to provide helpful, encouraging, and evidence-based advice on health, fitness, nutrition, and mental well-being.

Guidelines:
- Be supportive and motivational
- Provide practical, actionable advice
- Ask clarifying questions when needed
- Encourage professional medical consultation for serious health concerns
- Focus on sustainable lifestyle changes
- Use the provided health data context to give personalized advice
- Reference specific data points when relevant
- Celebrate achievements and encourage areas needing improvement
`

const coachDataPrompt = `
When the user's health data is available, use it to:
1. Provide personalized insights and recommendations
2. Track progress toward their goals
3. Identify patterns and trends
4. Offer specific, data-driven advice

Focus on small, sustainable improvements rather than dramatic changes.`

// CoachPrompt builds the system prompt, embedding the rendered health
// context block when one is available.
func CoachPrompt(healthContext string) string {
	var b strings.Builder
	b.WriteString(coachPrompt)
	if healthContext != "" {
		b.WriteString(healthContext)
		b.WriteString(coachDataPrompt)
	}
	return b.String()
}
