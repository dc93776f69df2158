package messaging

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/conversia/conversia/internal/models"
)

// stubService feeds a fixed message channel into the dispatcher.
type stubService struct {
	messages chan models.Message
}

func (s *stubService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return recipient, nil
}
func (s *stubService) SendMessage(ctx context.Context, tenantID, to, body string) error { return nil }
func (s *stubService) Start(ctx context.Context) error                                  { return nil }
func (s *stubService) Stop() error                                                      { return nil }
func (s *stubService) Messages() <-chan models.Message                                  { return s.messages }

func TestDispatcherPreservesPerPartyOrder(t *testing.T) {
	const perParty = 10
	svc := &stubService{messages: make(chan models.Message, 64)}

	var mu sync.Mutex
	seen := make(map[string][]string)
	done := make(chan struct{})
	var remaining = perParty * 2

	d := NewDispatcher(func(ctx context.Context, msg models.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen[msg.From] = append(seen[msg.From], msg.Body)
		remaining--
		if remaining == 0 {
			close(done)
		}
		return nil
	})
	d.Run(context.Background(), svc)
	defer d.Stop()

	for i := 0; i < perParty; i++ {
		svc.messages <- models.Message{TenantID: "acme", From: "alice", Body: fmt.Sprintf("a%d", i)}
		svc.messages <- models.Message{TenantID: "acme", From: "bob", Body: fmt.Sprintf("b%d", i)}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not process all messages")
	}

	mu.Lock()
	defer mu.Unlock()
	for party, bodies := range seen {
		if len(bodies) != perParty {
			t.Fatalf("party %s: expected %d messages, got %d", party, perParty, len(bodies))
		}
		for i, body := range bodies {
			want := fmt.Sprintf("%c%d", party[0], i)
			if body != want {
				t.Errorf("party %s: message %d = %q, want %q (order violated)", party, i, body, want)
			}
		}
	}
}

func TestDispatcherSerializesOneParty(t *testing.T) {
	svc := &stubService{messages: make(chan models.Message, 8)}

	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0
	done := make(chan struct{})
	remaining := 5

	d := NewDispatcher(func(ctx context.Context, msg models.Message) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		remaining--
		if remaining == 0 {
			close(done)
		}
		mu.Unlock()
		return nil
	})
	d.Run(context.Background(), svc)
	defer d.Stop()

	for i := 0; i < 5; i++ {
		svc.messages <- models.Message{TenantID: "acme", From: "alice", Body: "x"}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not process all messages")
	}

	mu.Lock()
	defer mu.Unlock()
	if maxInFlight != 1 {
		t.Errorf("expected at most one in-flight handler per party, saw %d", maxInFlight)
	}
}

func TestDispatcherStopsOnChannelClose(t *testing.T) {
	svc := &stubService{messages: make(chan models.Message)}
	d := NewDispatcher(func(ctx context.Context, msg models.Message) error { return nil })
	d.Run(context.Background(), svc)
	close(svc.messages)
	d.Stop()
}
