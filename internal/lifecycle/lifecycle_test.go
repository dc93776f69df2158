package lifecycle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/conversia/conversia/internal/models"
	"github.com/conversia/conversia/internal/store"
)

func TestNotifyConversationStarted(t *testing.T) {
	type received struct {
		path    string
		payload startedPayload
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p startedPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		got <- received{path: r.URL.Path, payload: p}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := store.NewInMemoryStore()
	if _, err := s.UpsertTenant(models.TenantConfig{TenantID: "acme", SiteURL: srv.URL + "/"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h := NewHook(s)
	h.NotifyConversationStarted(context.Background(), "acme", "5511999")

	select {
	case r := <-got:
		if r.path != "/wp-json/convers-ia/v1/start-conversation" {
			t.Errorf("unexpected callback path %q", r.path)
		}
		if r.payload.PartyID != "5511999" {
			t.Errorf("unexpected party id %q", r.payload.PartyID)
		}
		if _, err := time.Parse(time.RFC3339, r.payload.Timestamp); err != nil {
			t.Errorf("timestamp not RFC3339: %q", r.payload.Timestamp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback was never posted")
	}
}

func TestNotifySkipsTenantsWithoutSiteURL(t *testing.T) {
	called := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called <- struct{}{}
	}))
	defer srv.Close()

	s := store.NewInMemoryStore()
	if _, err := s.UpsertTenant(models.TenantConfig{TenantID: "acme"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h := NewHook(s)
	h.NotifyConversationStarted(context.Background(), "acme", "5511999")
	// Unregistered tenants are also a silent no-op.
	h.NotifyConversationStarted(context.Background(), "nobody", "5511999")

	select {
	case <-called:
		t.Fatal("no callback should be posted without a site URL")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNotifyFailureNeverSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := store.NewInMemoryStore()
	if _, err := s.UpsertTenant(models.TenantConfig{TenantID: "acme", SiteURL: srv.URL}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The call returns immediately; a rejected POST is logged only.
	h := NewHook(s, WithHTTPClient(&http.Client{Timeout: time.Second}))
	h.NotifyConversationStarted(context.Background(), "acme", "5511999")
	time.Sleep(100 * time.Millisecond)
}
