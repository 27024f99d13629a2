// Package notify turns domain events into queued client emails. Every
// notification is best effort: a full queue or a dead broker is logged
// and swallowed, never surfaced to the caller.
package notify

import (
	"context"
	"log/slog"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/douma-dental/manager/jobs"
)

// EnqueuePort abstracts the job queue.
type EnqueuePort interface {
	EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) error
}

// Notifier composes the French client emails and hands them to the queue.
type Notifier struct {
	queue   EnqueuePort
	printer *message.Printer
	logger  *slog.Logger
}

// New constructs a Notifier.
func New(queue EnqueuePort, logger *slog.Logger) *Notifier {
	return &Notifier{
		queue:   queue,
		printer: message.NewPrinter(language.French),
		logger:  logger,
	}
}

var statusLabels = map[string]string{
	"CONFIRMED": "confirmée",
	"PREPARED":  "préparée",
	"SHIPPED":   "expédiée",
	"DELIVERED": "livrée",
	"CANCELLED": "annulée",
}

// OrderStatusChanged notifies the client of a workflow transition.
func (n *Notifier) OrderStatusChanged(ctx context.Context, email, orderNumber string, status string) {
	label, ok := statusLabels[status]
	if !ok {
		label = status
	}
	n.send(ctx, email,
		n.printer.Sprintf("Commande %s : %s", orderNumber, label),
		n.printer.Sprintf("Bonjour,\n\nVotre commande %s est maintenant %s.\n\nDOUMA Dental", orderNumber, label))
}

// InvoiceIssued notifies the client that an invoice was created.
func (n *Notifier) InvoiceIssued(ctx context.Context, email, invoiceNumber string, amountTTC float64) {
	n.send(ctx, email,
		n.printer.Sprintf("Facture %s", invoiceNumber),
		n.printer.Sprintf("Bonjour,\n\nVotre facture %s d'un montant de %.2f MAD TTC est disponible.\n\nDOUMA Dental", invoiceNumber, amountTTC))
}

// PaymentRecorded confirms a received payment.
func (n *Notifier) PaymentRecorded(ctx context.Context, email, invoiceNumber string, amountTTC float64) {
	n.send(ctx, email,
		n.printer.Sprintf("Paiement reçu sur la facture %s", invoiceNumber),
		n.printer.Sprintf("Bonjour,\n\nNous avons bien reçu votre versement de %.2f MAD sur la facture %s.\n\nDOUMA Dental", amountTTC, invoiceNumber))
}

func (n *Notifier) send(ctx context.Context, email, subject, body string) {
	if email == "" {
		return
	}
	err := n.queue.EnqueueSendEmail(ctx, jobs.SendEmailPayload{
		To:      email,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		n.logger.Warn("enqueue notification", slog.String("to", email), slog.Any("error", err))
	}
}
