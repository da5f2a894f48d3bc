package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// PushNotification is one message to one device.
type PushNotification struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// PushSender delivers push notifications to beneficiary devices.
type PushSender interface {
	Send(ctx context.Context, notification PushNotification) error
}

// HTTPPushSender posts notifications to the push gateway.
type HTTPPushSender struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPPushSender(url, apiKey string) *HTTPPushSender {
	return &HTTPPushSender{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPPushSender) Send(ctx context.Context, notification PushNotification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encoding push notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending push notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// LogPushSender logs notifications instead of sending them. Development
// fallback when no push gateway is configured.
type LogPushSender struct{}

func NewLogPushSender() *LogPushSender {
	return &LogPushSender{}
}

func (s *LogPushSender) Send(ctx context.Context, notification PushNotification) error {
	slog.DebugContext(ctx, "push notification suppressed, no gateway configured",
		"event", "notify.push_suppressed",
		"title", notification.Title,
	)
	return nil
}
