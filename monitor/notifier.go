package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Notification is an outbound security notice for a user or operator.
type Notification struct {
	Identity  string            `json:"identity"`
	EventType EventType         `json:"event_type"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// LogNotifier writes notifications to a zap logger.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Info("security notification",
		zap.String("event_type", string(note.EventType)),
		zap.String("identity", note.Identity),
		zap.Any("details", note.Details),
		zap.Time("timestamp", note.Timestamp),
	)
	return nil
}

// WebhookNotifier POSTs notifications as JSON.
type WebhookNotifier struct {
	url    string
	client *http.Client
	header http.Header
}

// NewWebhookNotifier creates a notifier posting to url. A nil client uses a
// client with a 10s timeout.
func NewWebhookNotifier(url string, client *http.Client, header http.Header) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{url: url, client: client, header: header.Clone()}
}

func (w *WebhookNotifier) Notify(ctx context.Context, note Notification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, vals := range w.header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// NATSNotifier publishes notifications to <subject>.<event_type>.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
	owned   bool
}

// NewNATSNotifier connects to url and publishes under subject.
func NewNATSNotifier(url, subject string, opts ...nats.Option) (*NATSNotifier, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	n := NewNATSNotifierFromConn(nc, subject)
	n.owned = true
	return n, nil
}

// NewNATSNotifierFromConn publishes on an existing connection it does not own.
func NewNATSNotifierFromConn(nc *nats.Conn, subject string) *NATSNotifier {
	if subject == "" {
		subject = "storeauth.security"
	}
	return &NATSNotifier{conn: nc, subject: subject}
}

func (n *NATSNotifier) Notify(_ context.Context, note Notification) error {
	if n == nil || n.conn == nil {
		return errors.New("nil nats connection")
	}
	data, err := json.Marshal(note)
	if err != nil {
		return err
	}
	return n.conn.Publish(n.subject+"."+string(note.EventType), data)
}

// Close drains the connection when the notifier opened it.
func (n *NATSNotifier) Close() {
	if n == nil || !n.owned {
		return
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}

// MultiNotifier fans a notification out to every notifier.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
