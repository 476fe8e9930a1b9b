package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/obsidianstack/sortline/internal/config"
)

const webhookTimeout = 10 * time.Second

// Webhook posts notifications to one configured target.
type Webhook struct {
	cfg    config.WebhookConfig
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhook resolves the target URL from the environment. It returns nil
// when the URL is unset so callers can skip the target.
func NewWebhook(cfg config.WebhookConfig) *Webhook {
	url := cfg.URL()
	if url == "" {
		slog.Warn("notify: webhook url not set, skipping target",
			"type", cfg.Type, "url_env", cfg.URLEnv)
		return nil
	}
	return &Webhook{
		cfg:    cfg,
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
		now:    time.Now,
	}
}

// Notify delivers in the background; failures are logged.
func (w *Webhook) Notify(message string, sev Severity) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		if err := w.Send(ctx, message, sev); err != nil {
			slog.Error("notify: webhook delivery failed", "type", w.cfg.Type, "err", err)
			return
		}
		slog.Debug("notify: webhook delivered", "type", w.cfg.Type, "severity", sev)
	}()
}

// Send delivers one notification synchronously.
func (w *Webhook) Send(ctx context.Context, message string, sev Severity) error {
	var body []byte
	switch w.cfg.Type {
	case "slack":
		body, _ = json.Marshal(map[string]string{
			"text": fmt.Sprintf("*%s* %s", severityLabel(sev), message),
		})
	case "teams":
		body, _ = json.Marshal(map[string]interface{}{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": severityColor(sev),
			"summary":    message,
			"title":      "Sortline: " + string(sev),
			"text":       message,
		})
	case "http":
		body, _ = json.Marshal(map[string]interface{}{
			"notification": Notification{Message: message, Severity: sev, Time: w.now().UTC()},
		})
	default:
		return fmt.Errorf("unknown webhook type %q", w.cfg.Type)
	}
	return w.post(ctx, body)
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s Severity) string {
	switch s {
	case SeverityError:
		return "[ERROR]"
	case SeveritySuccess:
		return "[OK]"
	default:
		return "[INFO]"
	}
}

func severityColor(s Severity) string {
	switch s {
	case SeverityError:
		return "FF4F6A"
	case SeveritySuccess:
		return "22C55E"
	default:
		return "00D4FF"
	}
}
