package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIClient struct {
	client *openai.Client
	apiKey string
	model  string
}

// NewOpenAIClient не падает без ключа: без ключа бот уходит в офлайн-режим,
// это решает монитор доступности через Bootstrap.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = openai.GPT4oMini
	}

	c := &OpenAIClient{
		apiKey: apiKey,
		model:  model,
	}
	if apiKey != "" {
		c.client = openai.NewClient(apiKey)
	}
	return c
}

// NewOpenAIClientWithBaseURL is used when requests must go to a compatible
// gateway instead of api.openai.com.
func NewOpenAIClientWithBaseURL(apiKey, baseURL, model string) *OpenAIClient {
	if baseURL == "" {
		return NewOpenAIClient(apiKey, model)
	}
	if model == "" {
		model = openai.GPT4oMini
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL

	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		apiKey: apiKey,
		model:  model,
	}
}

func (c *OpenAIClient) Name() string { return "OpenAI" }

func (c *OpenAIClient) Bootstrap(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("%w: OPENAI_API_KEY not set", ErrBootstrap)
	}
	if _, err := c.client.ListModels(ctx); err != nil {
		log.Println("[ai] OpenAI bootstrap error:", err)
		return fmt.Errorf("%w: %v", ErrBootstrap, err)
	}
	return nil
}

func (c *OpenAIClient) Ready() bool {
	return c.client != nil && c.model != ""
}

func (c *OpenAIClient) Chat(ctx context.Context, prompt string, opts Options) (any, error) {
	if c.client == nil {
		return nil, ErrUnavailable
	}

	model := opts.Model
	if model == "" {
		model = c.model
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	if opts.Stream {
		req.Stream = true
		stream, err := c.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			log.Println("[ai] OpenAI stream error:", err)
			return nil, fmt.Errorf("%w: %v", ErrStreamTransport, err)
		}
		return &openAIStream{stream: stream}, nil
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		log.Println("[ai] OpenAI error:", err)
		return nil, fmt.Errorf("%w: %v", ErrNonStream, err)
	}

	if len(resp.Choices) == 0 {
		log.Println("[ai] empty choices")
		return Message{}, nil
	}

	return Message{Text: resp.Choices[0].Message.Content}, nil
}

// openAIStream — pull-обёртка над SSE-стримом OpenAI.
type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Next(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := s.stream.Recv()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamTransport, err)
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}
