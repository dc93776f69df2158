package genai

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type stubChat struct {
	content string
	err     error
	lastMsg int
}

func (s *stubChat) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	s.lastMsg = len(params.Messages)
	if s.err != nil {
		return nil, s.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.content}},
		},
	}, nil
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without an API key")
	}
	if _, err := NewClient(WithAPIKey("sk-test")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestClarifyQuestion(t *testing.T) {
	chat := &stubChat{content: "  Por favor escolha Red ou Blue.  "}
	c := &Client{chat: chat, model: openai.ChatModelGPT4oMini}

	text, err := c.ClarifyQuestion(context.Background(), "Pick one", []string{"Red", "Blue"}, "green")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Por favor escolha Red ou Blue." {
		t.Errorf("unexpected clarification %q", text)
	}
	if chat.lastMsg != 2 {
		t.Errorf("expected system + user messages, got %d", chat.lastMsg)
	}
}

func TestClarifyQuestionErrors(t *testing.T) {
	c := &Client{chat: &stubChat{err: errors.New("api down")}, model: openai.ChatModelGPT4oMini}
	if _, err := c.ClarifyQuestion(context.Background(), "q", nil, "x"); err == nil {
		t.Error("expected transport error to surface")
	}

	empty := &stubChat{}
	c = &Client{chat: empty, model: openai.ChatModelGPT4oMini}
	text, err := c.ClarifyQuestion(context.Background(), "q", nil, "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "" {
		t.Errorf("expected empty text, got %q", text)
	}
}
