// Package notify delivers alert notifications to the terminal and webhooks.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	json "github.com/goccy/go-json"

	"kyoto-terminal/pkg/utils"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Notification is one triggered alert.
type Notification struct {
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	TileID    int       `json:"tile_id"`
	NetCost   float64   `json:"net_cost"`
	Level     float64   `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// TerminalNotifier prints notifications, optionally ringing the terminal bell.
type TerminalNotifier struct {
	mu    sync.Mutex
	w     io.Writer
	bell  bool
	color *color.Color
}

// NewTerminalNotifier creates a notifier writing to w.
func NewTerminalNotifier(w io.Writer, bell, colorEnabled bool) *TerminalNotifier {
	c := color.New(color.FgYellow, color.Bold)
	if colorEnabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return &TerminalNotifier{w: w, bell: bell, color: c}
}

// Notify writes one line per notification.
func (tn *TerminalNotifier) Notify(_ context.Context, n Notification) error {
	tn.mu.Lock()
	defer tn.mu.Unlock()

	if tn.bell {
		fmt.Fprint(tn.w, "\a")
	}
	_, err := fmt.Fprintln(tn.w, tn.color.Sprint(FormatNotification(n)))
	return err
}

// FormatNotification renders a notification as a single line.
func FormatNotification(n Notification) string {
	var sb strings.Builder
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	sb.WriteString(fmt.Sprintf("[%s] ALERT", ts.In(utils.IndiaLocation).Format("15:04:05")))
	if n.TileID > 0 {
		sb.WriteString(fmt.Sprintf(" | tile #%d", n.TileID))
	}
	sb.WriteString(" | " + n.Message)
	sb.WriteString(fmt.Sprintf(" | net %s, level %s", utils.FormatPremium(n.NetCost), utils.FormatPremium(n.Level)))
	return sb.String()
}

// WebhookNotifier posts notifications as JSON.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Notify sends a notification via webhook.
func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Kyoto/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// MultiNotifier sends every notification to all of its notifiers.
type MultiNotifier []Notifier

// Notify fans out and joins the errors.
func (m MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoOpNotifier discards notifications.
type NoOpNotifier struct{}

// Notify does nothing.
func (NoOpNotifier) Notify(context.Context, Notification) error { return nil }

var (
	_ Notifier = (*TerminalNotifier)(nil)
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = MultiNotifier(nil)
	_ Notifier = NoOpNotifier{}
)
