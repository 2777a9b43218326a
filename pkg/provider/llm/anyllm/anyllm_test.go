package anyllm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parleybot/parley/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		providerName string
		model        string
	}{
		{"empty provider", "", "llama3.1"},
		{"empty model", "ollama", ""},
		{"unknown provider", "frobnicator", "llama3.1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tc.providerName, tc.model); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestNewOllama(t *testing.T) {
	t.Parallel()
	p, err := NewOllama("llama3.1")
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}
	if p.model != "llama3.1" {
		t.Errorf("model: got %q, want llama3.1", p.model)
	}
}

func TestComplete_NoMessages(t *testing.T) {
	t.Parallel()
	p, err := NewOllama("llama3.1")
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.Request{}); err == nil {
		t.Error("expected error for empty request, got nil")
	}
}

func TestPingOllama(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/version" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"version":"0.5.0"}`))
	}))
	defer srv.Close()

	if err := PingOllama(context.Background(), srv.URL); err != nil {
		t.Errorf("PingOllama against healthy server: %v", err)
	}

	srv.Close()
	if err := PingOllama(context.Background(), srv.URL); err == nil {
		t.Error("PingOllama against closed server: expected error, got nil")
	}
}
