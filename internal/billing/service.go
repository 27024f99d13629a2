package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/douma-dental/manager/internal/ledger"
	"github.com/douma-dental/manager/internal/orders"
	"github.com/douma-dental/manager/internal/settings"
	"github.com/douma-dental/manager/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the mutations available inside one transaction.
// The invoice row is locked first so two concurrent payments against the
// same invoice serialise instead of both passing the overpayment guard.
type TxRepository interface {
	LockInvoice(ctx context.Context, id int64) (*Invoice, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	GetPayment(ctx context.Context, id int64) (*Payment, error)
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	UpdatePayment(ctx context.Context, p Payment) error
	DeletePayment(ctx context.Context, id int64) error
	DeletePaymentsByInvoice(ctx context.Context, invoiceID int64) error
	UpdateInvoice(ctx context.Context, id int64, status InvoiceStatus, balanceHT float64, paidAt *time.Time, paidBy *int64) error
	DeleteInvoice(ctx context.Context, id int64) error
	AdjustClientBalance(ctx context.Context, clientID int64, delta float64) error
	GetOrderDelivery(ctx context.Context, orderID int64) (*time.Time, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status orders.Status, updates map[string]any) error
}

// SettingsPort supplies company settings.
type SettingsPort interface {
	Get(ctx context.Context) settings.Company
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// NotifierPort sends best-effort client notifications after commit.
type NotifierPort interface {
	PaymentRecorded(ctx context.Context, email, invoiceNumber string, amountTTC float64)
}

// CachePort invalidates cached views after commit.
type CachePort interface {
	Invalidate(ctx context.Context, keys ...string)
}

// Service is the reconciliation engine. Every payment create, update and
// delete runs through it and recomputes the owning invoice and the
// client balance in one transaction.
type Service struct {
	repo     RepositoryPort
	settings SettingsPort
	audit    AuditPort
	notifier NotifierPort
	cache    CachePort
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, settings SettingsPort, audit AuditPort, notifier NotifierPort, cache CachePort, logger *slog.Logger) *Service {
	return &Service{repo: repo, settings: settings, audit: audit, notifier: notifier, cache: cache, logger: logger}
}

// CreatePaymentInput describes a new payment.
type CreatePaymentInput struct {
	InvoiceID int64   `json:"invoice_id" validate:"required,gt=0"`
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	Method    string  `json:"method" validate:"required"`
	Reference string  `json:"reference,omitempty" validate:"max=100"`
}

// UpdatePaymentInput carries partial payment edits.
type UpdatePaymentInput struct {
	Amount    *float64 `json:"amount,omitempty" validate:"omitempty,gt=0"`
	Method    *string  `json:"method,omitempty"`
	Reference *string  `json:"reference,omitempty" validate:"omitempty,max=100"`
}

// ListInvoicesRequest filters the invoice list.
type ListInvoicesRequest struct {
	ClientID int64
	Status   InvoiceStatus
	Limit    int
	Offset   int
}

// RecordPayment applies a new TTC payment to an invoice and reconciles.
func (s *Service) RecordPayment(ctx context.Context, input CreatePaymentInput, actor shared.Identity) (*Payment, error) {
	if !shared.CanManagePayments(actor) {
		return nil, shared.ErrUnauthorized
	}
	if input.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	method := Method(input.Method)
	if !method.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMethod, input.Method)
	}

	vatRate := s.settings.Get(ctx).VATRate

	var payment Payment
	var inv *Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.LockInvoice(ctx, input.InvoiceID)
		if err != nil {
			return err
		}

		existing, err := tx.ListPayments(ctx, inv.ID)
		if err != nil {
			return err
		}

		remaining := ledger.RemainingTTC(inv.AmountHT, vatRate, totalOf(existing))
		if input.Amount > remaining+ledger.PaidTolerance {
			return fmt.Errorf("%w: versement %.2f, solde %.2f", ErrExceedsBalance, input.Amount, remaining)
		}

		payment = Payment{
			InvoiceID: inv.ID,
			AmountTTC: input.Amount,
			Method:    method,
			Reference: input.Reference,
		}
		payment.ID, err = tx.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}

		rec := Reconcile(inv.AmountHT, vatRate, append(existing, payment))
		if err := s.applyReconciliation(ctx, tx, inv, rec, false, actor); err != nil {
			return err
		}

		// Debt paid down; the client balance floor is zero.
		return tx.AdjustClientBalance(ctx, inv.ClientID, -input.Amount)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, inv, actor, "payment:create", map[string]any{"amount": input.Amount})
	return &payment, nil
}

// UpdatePayment edits a payment's amount, method or reference and
// reconciles. Rejected while the owning invoice is PAID, except for an
// administrator performing a correction, which re-opens the invoice.
func (s *Service) UpdatePayment(ctx context.Context, paymentID int64, input UpdatePaymentInput, actor shared.Identity) (*Payment, error) {
	if !shared.CanManagePayments(actor) {
		return nil, shared.ErrUnauthorized
	}
	if input.Amount != nil && *input.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if input.Method != nil && !Method(*input.Method).IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMethod, *input.Method)
	}

	vatRate := s.settings.Get(ctx).VATRate

	var updated Payment
	var inv *Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		inv, err = tx.LockInvoice(ctx, p.InvoiceID)
		if err != nil {
			return err
		}
		wasPaid := inv.Status == InvoicePaid
		if wasPaid && !shared.IsAdmin(actor) {
			return ErrInvoiceLocked
		}

		oldAmount := p.AmountTTC
		updated = *p
		if input.Amount != nil {
			updated.AmountTTC = *input.Amount
		}
		if input.Method != nil {
			updated.Method = Method(*input.Method)
		}
		if input.Reference != nil {
			updated.Reference = *input.Reference
		}

		all, err := tx.ListPayments(ctx, inv.ID)
		if err != nil {
			return err
		}
		// The overpayment guard excludes the payment being edited.
		others := withoutPayment(all, p.ID)
		remaining := ledger.RemainingTTC(inv.AmountHT, vatRate, totalOf(others))
		if updated.AmountTTC > remaining+ledger.PaidTolerance {
			return fmt.Errorf("%w: versement %.2f, solde %.2f", ErrExceedsBalance, updated.AmountTTC, remaining)
		}

		if err := tx.UpdatePayment(ctx, updated); err != nil {
			return err
		}

		rec := Reconcile(inv.AmountHT, vatRate, append(others, updated))
		if err := s.applyReconciliation(ctx, tx, inv, rec, wasPaid, actor); err != nil {
			return err
		}

		return tx.AdjustClientBalance(ctx, inv.ClientID, -(updated.AmountTTC - oldAmount))
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, inv, actor, "payment:update", map[string]any{"payment_id": paymentID})
	return &updated, nil
}

// DeletePayment removes a payment and reconciles, restoring the client's
// debt. Same lock rule as UpdatePayment.
func (s *Service) DeletePayment(ctx context.Context, paymentID int64, actor shared.Identity) error {
	if !shared.CanManagePayments(actor) {
		return shared.ErrUnauthorized
	}

	vatRate := s.settings.Get(ctx).VATRate

	var inv *Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		inv, err = tx.LockInvoice(ctx, p.InvoiceID)
		if err != nil {
			return err
		}
		wasPaid := inv.Status == InvoicePaid
		if wasPaid && !shared.IsAdmin(actor) {
			return ErrInvoiceLocked
		}

		if err := tx.DeletePayment(ctx, p.ID); err != nil {
			return err
		}

		all, err := tx.ListPayments(ctx, inv.ID)
		if err != nil {
			return err
		}
		rec := Reconcile(inv.AmountHT, vatRate, all)
		if err := s.applyReconciliation(ctx, tx, inv, rec, wasPaid, actor); err != nil {
			return err
		}

		// Debt restored.
		return tx.AdjustClientBalance(ctx, inv.ClientID, p.AmountTTC)
	})
	if err != nil {
		return err
	}

	s.afterCommit(ctx, inv, actor, "payment:delete", map[string]any{"payment_id": paymentID})
	return nil
}

// DeleteInvoice removes an invoice and all its payments regardless of
// lock. This is the destructive correction path for erroneous invoices
// and requires ADMIN specifically.
func (s *Service) DeleteInvoice(ctx context.Context, invoiceID int64, actor shared.Identity) error {
	if !shared.IsAdmin(actor) {
		return shared.ErrUnauthorized
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		payments, err := tx.ListPayments(ctx, invoiceID)
		if err != nil {
			return err
		}

		// Deleting the payments restores the debt they had settled.
		if total := totalOf(payments); total > 0 {
			if err := tx.AdjustClientBalance(ctx, inv.ClientID, total); err != nil {
				return err
			}
		}
		if err := tx.DeletePaymentsByInvoice(ctx, invoiceID); err != nil {
			return err
		}
		return tx.DeleteInvoice(ctx, invoiceID)
	})
	if err != nil {
		return err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "invoice:delete",
			Entity:   "invoice",
			EntityID: fmt.Sprintf("%d", invoiceID),
		})
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, "invoices:list", fmt.Sprintf("invoices:%d", invoiceID))
	}
	return nil
}

// GetInvoice retrieves an invoice.
func (s *Service) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices returns invoices matching the filter.
func (s *Service) ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, error) {
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 50
	}
	return s.repo.ListInvoices(ctx, req)
}

// ListPayments returns the payments applied to an invoice.
func (s *Service) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	return s.repo.ListPayments(ctx, invoiceID)
}

// applyReconciliation writes the recomputed invoice state and moves the
// coupled order: to DELIVERED when the invoice becomes PAID, back to
// SHIPPED when an edit or deletion drops it out of PAID. There is no
// status history, so SHIPPED is the fixed fallback.
func (s *Service) applyReconciliation(ctx context.Context, tx TxRepository, inv *Invoice, rec Reconciliation, wasPaid bool, actor shared.Identity) error {
	var paidAt *time.Time
	var paidBy *int64
	if rec.Status == InvoicePaid {
		now := time.Now()
		paidAt = inv.PaidAt
		paidBy = inv.PaidBy
		if paidAt == nil {
			paidAt = &now
			paidBy = &actor.ID
		}
	}

	if err := tx.UpdateInvoice(ctx, inv.ID, rec.Status, rec.BalanceHT, paidAt, paidBy); err != nil {
		return err
	}

	switch {
	case rec.Status == InvoicePaid && !wasPaid:
		deliveredAt, err := tx.GetOrderDelivery(ctx, inv.OrderID)
		if err != nil {
			return err
		}
		updates := map[string]any{}
		if deliveredAt == nil {
			updates["delivered_at"] = time.Now()
		}
		return tx.UpdateOrderStatus(ctx, inv.OrderID, orders.StatusDelivered, updates)
	case rec.Status != InvoicePaid && wasPaid:
		return tx.UpdateOrderStatus(ctx, inv.OrderID, orders.StatusShipped, nil)
	}
	return nil
}

func (s *Service) afterCommit(ctx context.Context, inv *Invoice, actor shared.Identity, action string, meta map[string]any) {
	if inv == nil {
		return
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx,
			"invoices:list",
			fmt.Sprintf("invoices:%d", inv.ID),
			"orders:list",
			fmt.Sprintf("orders:%d", inv.OrderID))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   action,
			Entity:   "invoice",
			EntityID: fmt.Sprintf("%d", inv.ID),
			Meta:     meta,
		})
	}
	if action == "payment:create" && s.notifier != nil && inv.ClientEmail != "" {
		if amount, ok := meta["amount"].(float64); ok {
			s.notifier.PaymentRecorded(ctx, inv.ClientEmail, inv.Number, amount)
		}
	}
}

func totalOf(payments []Payment) float64 {
	var total float64
	for _, p := range payments {
		total += p.AmountTTC
	}
	return total
}

func withoutPayment(payments []Payment, id int64) []Payment {
	out := make([]Payment, 0, len(payments))
	for _, p := range payments {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}
