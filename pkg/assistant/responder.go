// Package assistant answers documentation questions with session
// continuity: every exchange is appended to the project's session,
// notable events are recorded as key moments, and prior context is
// assembled into the prompt within a token budget.
package assistant

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = `You are a documentation assistant. Answer questions using the provided project context. Be concise and cite file names when relevant. If the context does not contain the answer, say so.`

// Responder produces an answer for a question given assembled session
// context.
type Responder interface {
	Respond(ctx context.Context, sessionContext, question string) (string, error)
}

// OpenAIResponder answers questions through the OpenAI chat completion API.
type OpenAIResponder struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIResponder creates a responder for the given API key and model.
func NewOpenAIResponder(apiKey, model string, temperature float64) (*OpenAIResponder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIResponder{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: float32(temperature),
	}, nil
}

// Respond sends the question with the session context prepended and
// returns the model's answer.
func (r *OpenAIResponder) Respond(ctx context.Context, sessionContext, question string) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if sessionContext != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Session context:\n" + sessionContext,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: question,
	})

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    messages,
		Temperature: r.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Healthcheck verifies the API is reachable with the configured key.
func (r *OpenAIResponder) Healthcheck(ctx context.Context) error {
	if _, err := r.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}
