package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/douma-dental/manager/internal/orders"
)

type txRepository struct {
	tx pgx.Tx
}

// LockInvoice reads the invoice FOR UPDATE so concurrent reconciliations
// against it serialise.
func (t *txRepository) LockInvoice(ctx context.Context, id int64) (*Invoice, error) {
	query := `SELECT` + invoiceColumns + `
		FROM invoices i JOIN users u ON u.id = i.client_id
		WHERE i.id = $1
		FOR UPDATE OF i`
	return scanInvoice(t.tx.QueryRow(ctx, query, id))
}

// ListPayments returns the invoice's payments inside the transaction.
func (t *txRepository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	return listPayments(ctx, t.tx, invoiceID)
}

// GetPayment retrieves one payment.
func (t *txRepository) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	var p Payment
	var method string
	err := t.tx.QueryRow(ctx, `
		SELECT id, invoice_id, amount_ttc, method, reference, created_at
		FROM payments WHERE id = $1`, id,
	).Scan(&p.ID, &p.InvoiceID, &p.AmountTTC, &method, &p.Reference, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Method = Method(method)
	return &p, nil
}

// InsertPayment creates a payment row.
func (t *txRepository) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO payments (invoice_id, amount_ttc, method, reference)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		p.InvoiceID, p.AmountTTC, string(p.Method), p.Reference,
	).Scan(&id)
	return id, err
}

// UpdatePayment writes amount, method and reference.
func (t *txRepository) UpdatePayment(ctx context.Context, p Payment) error {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE payments SET amount_ttc = $1, method = $2, reference = $3
		WHERE id = $4`,
		p.AmountTTC, string(p.Method), p.Reference, p.ID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// DeletePayment removes one payment.
func (t *txRepository) DeletePayment(ctx context.Context, id int64) error {
	cmd, err := t.tx.Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// DeletePaymentsByInvoice removes every payment of an invoice.
func (t *txRepository) DeletePaymentsByInvoice(ctx context.Context, invoiceID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM payments WHERE invoice_id = $1`, invoiceID)
	return err
}

// UpdateInvoice writes the reconciled status, HT balance and paid marks.
func (t *txRepository) UpdateInvoice(ctx context.Context, id int64, status InvoiceStatus, balanceHT float64, paidAt *time.Time, paidBy *int64) error {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE invoices
		SET status = $1, balance_ht = $2, paid_at = $3, paid_by = $4, updated_at = NOW()
		WHERE id = $5`,
		string(status), balanceHT, paidAt, paidBy, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// DeleteInvoice removes the invoice row.
func (t *txRepository) DeleteInvoice(ctx context.Context, id int64) error {
	cmd, err := t.tx.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// AdjustClientBalance applies a delta to the client's TTC debt, clamped
// at zero in the database so a reduction can never drive it negative.
func (t *txRepository) AdjustClientBalance(ctx context.Context, clientID int64, delta float64) error {
	cmd, err := t.tx.Exec(ctx,
		`UPDATE users SET balance = GREATEST(0, balance + $1) WHERE id = $2`,
		delta, clientID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("billing: client %d not found", clientID)
	}
	return nil
}

// GetOrderDelivery reads the coupled order's delivered_at stamp.
func (t *txRepository) GetOrderDelivery(ctx context.Context, orderID int64) (*time.Time, error) {
	var deliveredAt *time.Time
	err := t.tx.QueryRow(ctx, `SELECT delivered_at FROM orders WHERE id = $1`, orderID).Scan(&deliveredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	return deliveredAt, err
}

// UpdateOrderStatus moves the coupled order inside the reconciliation
// transaction.
func (t *txRepository) UpdateOrderStatus(ctx context.Context, orderID int64, status orders.Status, updates map[string]any) error {
	setClauses := []string{"status = $1", "updated_at = NOW()"}
	args := []any{string(status)}
	argPos := 2
	for field, value := range updates {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", field, argPos))
		args = append(args, value)
		argPos++
	}
	args = append(args, orderID)

	query := fmt.Sprintf(`UPDATE orders SET %s WHERE id = $%d`, strings.Join(setClauses, ", "), argPos)
	cmd, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return orders.ErrNotFound
	}
	return nil
}
