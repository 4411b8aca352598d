// Package notify sends operational events (listener failure, write
// failures) to configured webhook sinks. Adapted from the teacher's
// internal/agent/notify.go, trimmed to webhook delivery only — this
// pipeline's config has no email channel to wire.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/thobiasn/statpipe/internal/config"
)

// webhookClient is a dedicated HTTP client for webhook notifications.
// Separate from http.DefaultClient to avoid shared state and configure timeouts.
var webhookClient = &http.Client{
	Timeout: 10 * time.Second,
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		if len(via) >= 3 {
			return fmt.Errorf("too many redirects")
		}
		return nil
	},
}

type notification struct {
	subject string
	body    string
}

// Notifier sends operational notifications to configured webhook channels.
// Notifications are queued and sent asynchronously so a slow or unreachable
// webhook never blocks the caller.
type Notifier struct {
	webhooks []config.WebhookConfig
	queue    chan notification
	wg       sync.WaitGroup
	pending  sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Notifier from config. Safe to call with a zero-value
// NotifyConfig or no enabled webhooks; Send becomes a no-op in that case.
func New(cfg config.NotifyConfig) *Notifier {
	var enabled []config.WebhookConfig
	for _, wh := range cfg.Webhooks {
		if wh.Enabled {
			enabled = append(enabled, wh)
		}
	}
	n := &Notifier{
		webhooks: enabled,
		queue:    make(chan notification, 64),
	}
	if len(enabled) > 0 {
		n.wg.Add(1)
		go n.run()
	}
	return n
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for msg := range n.queue {
		for _, wh := range n.webhooks {
			sendWithRetry(context.Background(), wh, msg)
		}
		n.pending.Done()
	}
}

// Send queues a notification for async delivery. If the queue is full, the
// notification is dropped with a warning. This never blocks the caller.
func (n *Notifier) Send(subject, body string) {
	if len(n.webhooks) == 0 {
		return
	}
	n.pending.Add(1)
	select {
	case n.queue <- notification{subject: subject, body: body}:
	default:
		n.pending.Done()
		slog.Warn("notify: queue full, dropping notification", "subject", subject)
	}
}

// Stop closes the notification queue and waits for remaining items to drain.
// Safe to call multiple times.
func (n *Notifier) Stop() {
	if len(n.webhooks) == 0 {
		return
	}
	n.stopOnce.Do(func() { close(n.queue) })
	n.wg.Wait()
}

// sendWithRetry attempts delivery up to 3 times with backoff (1s, 3s).
func sendWithRetry(ctx context.Context, wh config.WebhookConfig, msg notification) {
	backoffs := []time.Duration{1 * time.Second, 3 * time.Second}
	var err error
	for attempt := range 3 {
		err = sendWebhook(ctx, wh, msg)
		if err == nil {
			return
		}
		if attempt < len(backoffs) {
			slog.Warn("notify: webhook failed, retrying", "error", err, "attempt", attempt+1)
			select {
			case <-ctx.Done():
				slog.Error("notify: retry aborted", "error", ctx.Err())
				return
			case <-time.After(backoffs[attempt]):
			}
		}
	}
	slog.Error("notify: webhook failed after 3 attempts", "error", err)
}

func sendWebhook(ctx context.Context, wh config.WebhookConfig, msg notification) error {
	payload, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s*\n%s", msg.subject, msg.body),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	for k, v := range wh.Headers {
		req.Header.Set(sanitizeHeader(k), sanitizeHeader(v))
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := webhookClient.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// sanitizeHeader strips CR and LF characters to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}
