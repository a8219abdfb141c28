package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// OutboundClient ходит в произвольный HTTP-эндпоинт чата.
// Не-стрим: JSON {"message":{"content":"..."}}.
// Стрим: тело ответа отдаётся как есть, байтами.
type OutboundClient struct {
	url    string
	token  string
	client *http.Client
}

func NewOutboundClient(url, token string) *OutboundClient {
	return &OutboundClient{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		// без общего таймаута: стрим может идти долго, его держит ctx
		client: &http.Client{},
	}
}

func (c *OutboundClient) Name() string { return "FinBot Gateway" }

func (c *OutboundClient) Bootstrap(ctx context.Context) error {
	if c.url == "" {
		return fmt.Errorf("%w: AI_HTTP_URL not set", ErrBootstrap)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBootstrap, err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBootstrap, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s", ErrBootstrap, resp.Status)
	}
	return nil
}

func (c *OutboundClient) Ready() bool {
	return c.url != ""
}

func (c *OutboundClient) Chat(ctx context.Context, prompt string, opts Options) (any, error) {
	if c.url == "" {
		return nil, ErrUnavailable
	}

	tier := ErrNonStream
	if opts.Stream {
		tier = ErrStreamTransport
	}

	b, err := json.Marshal(map[string]any{
		"prompt":      prompt,
		"model":       opts.Model,
		"max_tokens":  opts.MaxTokens,
		"temperature": opts.Temperature,
		"stream":      opts.Stream,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tier, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tier, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tier, err)
	}

	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Printf("[ai] outbound error: %s body=%s", resp.Status, respBody)
		return nil, fmt.Errorf("%w: %s", tier, resp.Status)
	}

	if opts.Stream {
		return &bodyStream{body: resp.Body}, nil
	}

	defer resp.Body.Close()

	var payload struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrNonStream, err)
	}

	return Message{Text: payload.Message.Content}, nil
}

func (c *OutboundClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

type bodyStream struct {
	body io.ReadCloser
}

func (s *bodyStream) Reader() io.Reader { return s.body }

func (s *bodyStream) Close() error {
	err := s.body.Close()
	if errors.Is(err, http.ErrBodyReadAfterClose) {
		return nil
	}
	return err
}
