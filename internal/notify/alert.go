package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Sounder plays the audible cue. It must not block for long.
type Sounder interface {
	Play()
}

type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Notifier raises a platform-level alert outside the operator's page.
type Notifier interface {
	Permission() Permission
	RequestPermission(ctx context.Context) Permission
	Notify(ctx context.Context, order domain.Order) error
}

// BellSounder writes the terminal bell to w.
type BellSounder struct {
	mu sync.Mutex
	w  io.Writer
}

func NewBellSounder(w io.Writer) *BellSounder {
	return &BellSounder{w: w}
}

func (b *BellSounder) Play() {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, _ = b.w.Write([]byte{'\a'})
}

type nopSounder struct{}

func (nopSounder) Play() {}

type nopNotifier struct{}

func (nopNotifier) Permission() Permission { return PermissionDenied }

func (nopNotifier) RequestPermission(context.Context) Permission { return PermissionDenied }

func (nopNotifier) Notify(context.Context, domain.Order) error { return nil }

type webhookPayload struct {
	Type        string    `json:"type"`
	OrderID     string    `json:"order_id,omitempty"`
	OrderNumber string    `json:"order_number,omitempty"`
	Customer    string    `json:"customer,omitempty"`
	Total       string    `json:"total,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// WebhookNotifier posts alerts as JSON to an operator webhook (chat bot,
// desktop bridge). Permission is asked for once with a permission_request
// post: a 2xx answer grants it, 401/403 denies it, anything else leaves it
// undecided.
type WebhookNotifier struct {
	url    string
	client *http.Client

	mu         sync.Mutex
	permission Permission
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		permission: PermissionDefault,
	}
}

func (n *WebhookNotifier) Permission() Permission {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.permission
}

func (n *WebhookNotifier) RequestPermission(ctx context.Context) Permission {
	status, err := n.post(ctx, webhookPayload{Type: "permission_request"})

	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case err != nil:
	case status >= 200 && status < 300:
		n.permission = PermissionGranted
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		n.permission = PermissionDenied
	}
	return n.permission
}

func (n *WebhookNotifier) Notify(ctx context.Context, order domain.Order) error {
	status, err := n.post(ctx, webhookPayload{
		Type:        "order_created",
		OrderID:     order.ID,
		OrderNumber: order.DisplayNumber(),
		Customer:    order.Customer.Name,
		Total:       order.TotalAmount.String(),
		CreatedAt:   order.CreatedAt,
	})
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("webhook returned %d", status)
	}
	return nil
}

func (n *WebhookNotifier) post(ctx context.Context, payload webhookPayload) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
