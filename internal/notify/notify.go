// Package notify sends transactional email through an HTTP mail provider.
// Delivery is best-effort: failures are logged and never surfaced to the
// request path that triggered them.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers a single message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// NopMailer discards all messages. Used when no mail provider is configured.
type NopMailer struct{}

func (NopMailer) Send(context.Context, Message) error { return nil }

// Config holds the HTTP mail provider settings.
type Config struct {
	URL    string
	APIKey string
	From   string
}

// HTTPMailer posts messages to a JSON transactional-mail endpoint.
type HTTPMailer struct {
	cfg    Config
	client *http.Client
}

// NewHTTPMailer creates a mailer against the configured provider endpoint.
func NewHTTPMailer(cfg Config) *HTTPMailer {
	return &HTTPMailer{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts one message. A non-2xx provider response is an error.
func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("from", func(e *jx.Encoder) { e.Str(m.cfg.From) })
		e.Field("to", func(e *jx.Encoder) { e.Str(msg.To) })
		e.Field("subject", func(e *jx.Encoder) { e.Str(msg.Subject) })
		e.Field("text", func(e *jx.Encoder) { e.Str(msg.Body) })
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.URL, bytes.NewReader(e.Bytes()))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send mail")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("mail provider returned %d", resp.StatusCode)
	}
	return nil
}

var _ Mailer = (*HTTPMailer)(nil)

// statusSubjects maps order statuses worth emailing the customer about.
var statusSubjects = map[string]string{
	"PAID":      "Your order %s is paid",
	"COMPLETED": "Your order %s is on its way",
	"CANCELLED": "Your order %s was cancelled",
	"FAILED":    "Payment for order %s failed",
}

// notifiableStatus reports whether a status transition warrants a customer
// email and returns the subject template for it.
func notifiableStatus(status string) (string, bool) {
	tmpl, ok := statusSubjects[status]
	return tmpl, ok
}

// subjectFor renders the customer-email subject for a reference and status.
func subjectFor(tmpl, reference string) string {
	return fmt.Sprintf(tmpl, reference)
}
