package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID retrieves an order with its items and invoice reference.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Order, error) {
	const orderSQL = `
		SELECT o.id, o.number, o.client_id, u.name, u.email, o.status, o.total_ht,
			o.requires_admin_approval, o.delivery_address, o.delivery_city,
			o.delivery_phone, o.delivery_agent, o.confirmation_code,
			o.shipped_at, o.delivered_at, o.created_at, o.updated_at
		FROM orders o
		JOIN users u ON u.id = o.client_id
		WHERE o.id = $1`

	var o Order
	var status string
	err := r.pool.QueryRow(ctx, orderSQL, id).Scan(
		&o.ID, &o.Number, &o.ClientID, &o.ClientName, &o.ClientEmail, &status, &o.TotalHT,
		&o.RequiresAdminApproval, &o.DeliveryAddress, &o.DeliveryCity,
		&o.DeliveryPhone, &o.DeliveryAgent, &o.ConfirmationCode,
		&o.ShippedAt, &o.DeliveredAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)

	const itemSQL = `
		SELECT id, order_id, product_id, variant_id, quantity, price_at_time, cost_at_time
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`

	rows, err := r.pool.Query(ctx, itemSQL, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.VariantID,
			&item.Quantity, &item.PriceAtTime, &item.CostAtTime); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var ref InvoiceRef
	err = r.pool.QueryRow(ctx,
		`SELECT id, number, status FROM invoices WHERE order_id = $1`, id,
	).Scan(&ref.ID, &ref.Number, &ref.Status)
	if err == nil {
		o.Invoice = &ref
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	return &o, nil
}

// List returns orders matching the filter, newest first.
func (r *Repository) List(ctx context.Context, req ListRequest) ([]Order, error) {
	query := `
		SELECT o.id, o.number, o.client_id, u.name, u.email, o.status, o.total_ht,
			o.requires_admin_approval, o.delivery_address, o.delivery_city,
			o.delivery_phone, o.delivery_agent, o.confirmation_code,
			o.shipped_at, o.delivered_at, o.created_at, o.updated_at
		FROM orders o
		JOIN users u ON u.id = o.client_id
		WHERE 1=1`

	args := []any{}
	argNum := 1
	if req.ClientID > 0 {
		query += fmt.Sprintf(" AND o.client_id = $%d", argNum)
		args = append(args, req.ClientID)
		argNum++
	}
	if req.Status != "" {
		query += fmt.Sprintf(" AND o.status = $%d", argNum)
		args = append(args, string(req.Status))
		argNum++
	}
	query += " ORDER BY o.created_at DESC"
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

	var out []Order
	for rows.Next() {
		var o Order
		var status string
		if err := rows.Scan(
			&o.ID, &o.Number, &o.ClientID, &o.ClientName, &o.ClientEmail, &status, &o.TotalHT,
			&o.RequiresAdminApproval, &o.DeliveryAddress, &o.DeliveryCity,
			&o.DeliveryPhone, &o.DeliveryAgent, &o.ConfirmationCode,
			&o.ShippedAt, &o.DeliveredAt, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, err
		}
		o.Status = Status(status)
		out = append(out, o)
	}
	return out, rows.Err()
}

// SetApproval updates the admin-approval flag.
func (r *Repository) SetApproval(ctx context.Context, orderID int64, required bool) error {
	cmd, err := r.pool.Exec(ctx,
		`UPDATE orders SET requires_admin_approval = $1, updated_at = NOW() WHERE id = $2`,
		required, orderID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
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
