// Package genai provides GenAI-enhanced replies using the OpenAI API.
//
// Its single job in Conversia is rephrasing the "didn't understand"
// clarification for question blocks, listing the options the tenant's
// flow actually accepts. The conversation engine treats it as strictly
// optional: any error falls back to the static prompt text.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const systemPrompt = "Você é um assistente de atendimento via WhatsApp. " +
	"O usuário respondeu algo fora das opções esperadas de uma pergunta. " +
	"Reformule a pergunta educadamente em uma frase curta, listando as opções válidas. " +
	"Responda no mesmo idioma da pergunta. Não invente opções novas."

// chatService defines the minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat  chatService
	model openai.ChatModel
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
	Model  openai.ChatModel
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// NewClient initializes a GenAI client, falling back to the
// OPENAI_API_KEY environment variable when no key option is given.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("GenAI client created", "model", cfg.Model)
	return &Client{chat: &cli.Chat.Completions, model: cfg.Model}, nil
}

// ClarifyQuestion asks the model to rephrase a question whose answer
// was not one of the expected options.
func (c *Client) ClarifyQuestion(ctx context.Context, question string, options []string, input string) (string, error) {
	user := fmt.Sprintf("Pergunta: %s\nOpções válidas: %s\nResposta do usuário: %s",
		question, strings.Join(options, ", "), input)

	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		slog.Error("GenAI ClarifyQuestion failed", "error", err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
