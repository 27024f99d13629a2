package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for billing.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const invoiceColumns = `
	i.id, i.number, i.order_id, i.client_id, u.email, i.amount_ht, i.balance_ht,
	i.status, i.paid_at, i.paid_by, i.created_at, i.updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var status string
	err := row.Scan(
		&inv.ID, &inv.Number, &inv.OrderID, &inv.ClientID, &inv.ClientEmail,
		&inv.AmountHT, &inv.BalanceHT, &status, &inv.PaidAt, &inv.PaidBy,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	inv.Status = InvoiceStatus(status)
	return &inv, nil
}

// GetInvoice retrieves an invoice by ID.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	query := `SELECT` + invoiceColumns + `
		FROM invoices i JOIN users u ON u.id = i.client_id
		WHERE i.id = $1`
	return scanInvoice(r.pool.QueryRow(ctx, query, id))
}

// ListInvoices returns invoices with optional filtering, newest first.
func (r *Repository) ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, error) {
	query := `SELECT` + invoiceColumns + `
		FROM invoices i JOIN users u ON u.id = i.client_id
		WHERE 1=1`

	args := []any{}
	argNum := 1
	if req.ClientID > 0 {
		query += fmt.Sprintf(" AND i.client_id = $%d", argNum)
		args = append(args, req.ClientID)
		argNum++
	}
	if req.Status != "" {
		query += fmt.Sprintf(" AND i.status = $%d", argNum)
		args = append(args, string(req.Status))
		argNum++
	}
	query += " ORDER BY i.created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argNum)
	args = append(args, req.Limit)
	argNum++
	if req.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, req.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		var inv Invoice
		var status string
		if err := rows.Scan(
			&inv.ID, &inv.Number, &inv.OrderID, &inv.ClientID, &inv.ClientEmail,
			&inv.AmountHT, &inv.BalanceHT, &status, &inv.PaidAt, &inv.PaidBy,
			&inv.CreatedAt, &inv.UpdatedAt,
		); err != nil {
			return nil, err
		}
		inv.Status = InvoiceStatus(status)
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

type paymentQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listPayments(ctx context.Context, q paymentQuerier, invoiceID int64) ([]Payment, error) {
	rows, err := q.Query(ctx, `
		SELECT id, invoice_id, amount_ttc, method, reference, created_at
		FROM payments
		WHERE invoice_id = $1
		ORDER BY created_at, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		var method string
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.AmountTTC, &method, &p.Reference, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Method = Method(method)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ListPayments returns the payments applied to an invoice.
func (r *Repository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	return listPayments(ctx, r.pool, invoiceID)
}

// WithTx wraps fn in a RepeatableRead transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
