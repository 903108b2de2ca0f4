package notify

import (
	"context"
	"fmt"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/ovenlab/bakeshop/internal/domain/order"
)

// Notifier turns order events into customer and back-office email. All
// sends are best-effort: errors are logged through the context logger and
// swallowed.
type Notifier struct {
	mailer     Mailer
	adminEmail string
}

// NewNotifier creates a Notifier. adminEmail may be empty to disable
// back-office alerts.
func NewNotifier(mailer Mailer, adminEmail string) *Notifier {
	if mailer == nil {
		mailer = NopMailer{}
	}
	return &Notifier{mailer: mailer, adminEmail: adminEmail}
}

// StatusChanged emails the customer about a status transition they care
// about. Statuses without a customer-facing meaning are skipped.
func (n *Notifier) StatusChanged(ctx context.Context, o *order.Order, status order.Status) {
	if o.CustomerEmail == "" {
		return
	}
	tmpl, ok := notifiableStatus(string(status))
	if !ok {
		return
	}

	msg := Message{
		To:      o.CustomerEmail,
		Subject: subjectFor(tmpl, o.Reference),
		Body: fmt.Sprintf("Hi %s,\n\nYour order %s is now %s. Total: %s.\n\nThank you for baking with us!",
			o.CustomerName, o.Reference, status, o.TotalAmount.StringFixed(2)),
	}
	if err := n.mailer.Send(ctx, msg); err != nil {
		zctx.From(ctx).Error("Customer notification failed",
			zap.String("reference", o.Reference),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

// AdminAlert emails the back office about an event needing attention, such
// as a paid order or a failed payment callback.
func (n *Notifier) AdminAlert(ctx context.Context, subject, body string) {
	if n.adminEmail == "" {
		return
	}
	if err := n.mailer.Send(ctx, Message{To: n.adminEmail, Subject: subject, Body: body}); err != nil {
		zctx.From(ctx).Error("Admin alert failed",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
