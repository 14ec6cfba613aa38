package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"knowledge-assistant-be/pkg/llm"

	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	client *goopenai.Client
	model  string
}

var _ llm.StreamingProvider = &OpenAIProvider{}

func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client: goopenai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (p *OpenAIProvider) buildRequest(history []llm.Message, opts ...llm.Option) goopenai.ChatCompletionRequest {
	options := llm.ApplyOptions(llm.Options{Model: p.model, Temperature: 0.7}, opts...)

	req := goopenai.ChatCompletionRequest{
		Model:       options.Model,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
		Messages:    make([]goopenai.ChatCompletionMessage, len(history)),
	}
	for i, msg := range history {
		req.Messages[i] = goopenai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}
	return req
}

func (p *OpenAIProvider) Chat(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(history, opts...))
	if err != nil {
		return "", fmt.Errorf("create openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	return p.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, opts...)
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, history []llm.Message, opts ...llm.Option) (<-chan llm.StreamChunk, error) {
	req := p.buildRequest(history, opts...)
	req.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create openai chat stream: %w", err)
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				llm.SendChunk(ctx, out, llm.StreamChunk{Err: fmt.Errorf("receive openai stream: %w", err)})
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if !llm.SendChunk(ctx, out, llm.StreamChunk{Content: resp.Choices[0].Delta.Content}) {
				return
			}
		}
	}()
	return out, nil
}
