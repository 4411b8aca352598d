package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/thobiasn/statpipe/internal/config"
)

func TestSendNoWebhooks(t *testing.T) {
	n := New(config.NotifyConfig{})
	// Should not panic with no webhooks enabled.
	n.Send("test", "body")
	n.Stop()
}

func TestWebhookPayload(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(config.NotifyConfig{
		Webhooks: []config.WebhookConfig{{Enabled: true, URL: srv.URL}},
	})
	n.Send("statstore: listener failed", "accept: connection refused")
	n.Stop()

	if got["text"] == "" {
		t.Fatal("webhook payload text is empty")
	}
	if got["text"] != "*statstore: listener failed*\naccept: connection refused" {
		t.Errorf("webhook text = %q", got["text"])
	}
}

func TestWebhookErrorStatusDoesNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(config.NotifyConfig{
		Webhooks: []config.WebhookConfig{{Enabled: true, URL: srv.URL}},
	})
	n.Send("test", "body")
	n.Stop()
}

func TestWebhookDisabledIsNotSent(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(config.NotifyConfig{
		Webhooks: []config.WebhookConfig{{Enabled: false, URL: srv.URL}},
	})
	n.Send("test", "body")
	n.Stop()

	if called {
		t.Error("disabled webhook received a request")
	}
}

func TestWebhookCustomHeaders(t *testing.T) {
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(config.NotifyConfig{
		Webhooks: []config.WebhookConfig{{
			Enabled: true,
			URL:     srv.URL,
			Headers: map[string]string{"Authorization": "Bearer secret"},
		}},
	})
	n.Send("test", "body")
	n.Stop()

	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization header = %q, want %q", gotAuth, "Bearer secret")
	}
}
