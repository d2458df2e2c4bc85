// Package llm клиент OpenAI-совместимого API chat completions.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Роли сообщений.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

var (
	// ErrEmptyAnswer модель вернула ответ без вариантов.
	ErrEmptyAnswer = errors.New("llm returned no choices")
	// ErrUnexpectedStatus сервер ответил ошибкой.
	ErrUnexpectedStatus = errors.New("unexpected llm status")
)

// Message одно сообщение диалога.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client ходит в POST {baseURL}/chat/completions.
type Client struct {
	api   *openai.Client
	model string
}

// NewClient создаёт клиент модели.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &Client{
		api:   openai.NewClientWithConfig(cfg),
		model: model,
	}
}

// Ask отправляет диалог и возвращает текст первого варианта ответа.
func (c *Client) Ask(ctx context.Context, messages []Message) (string, error) {
	const op = "llm.Ask"

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		var (
			apiErr *openai.APIError
			reqErr *openai.RequestError
		)
		if errors.As(err, &apiErr) || errors.As(err, &reqErr) {
			return "", fmt.Errorf("%s: %w: %w", op, ErrUnexpectedStatus, err)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: %w", op, ErrEmptyAnswer)
	}
	return resp.Choices[0].Message.Content, nil
}
