package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/douma-dental/manager/internal/shared"
	"github.com/douma-dental/manager/internal/stock"
)

type txRepository struct {
	tx pgx.Tx
}

// NextNumber draws the next document number inside the transaction.
func (t *txRepository) NextNumber(ctx context.Context, prefix string) (string, error) {
	return shared.NextNumber(ctx, t.tx, prefix, time.Now())
}

// InsertOrder creates the order header.
func (t *txRepository) InsertOrder(ctx context.Context, o Order) (int64, error) {
	const query = `
		INSERT INTO orders (
			number, client_id, status, total_ht, requires_admin_approval,
			delivery_address, delivery_city, delivery_phone
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	var id int64
	err := t.tx.QueryRow(ctx, query,
		o.Number, o.ClientID, string(o.Status), o.TotalHT, o.RequiresAdminApproval,
		o.DeliveryAddress, o.DeliveryCity, o.DeliveryPhone,
	).Scan(&id)
	return id, err
}

// InsertItem creates one order line with its snapshots.
func (t *txRepository) InsertItem(ctx context.Context, item Item) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_items (order_id, product_id, variant_id, quantity, price_at_time, cost_at_time)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		item.OrderID, item.ProductID, item.VariantID, item.Quantity, item.PriceAtTime, item.CostAtTime)
	return err
}

// UpdateStatus updates status with additional stamped fields.
func (t *txRepository) UpdateStatus(ctx context.Context, id int64, status Status, updates map[string]any) error {
	setClauses := []string{"status = $1", "updated_at = NOW()"}
	args := []any{string(status)}
	argPos := 2

	for field, value := range updates {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", field, argPos))
		args = append(args, value)
		argPos++
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE orders SET %s WHERE id = $%d`, strings.Join(setClauses, ", "), argPos)
	cmd, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetProductForUpdate locks a catalog row and returns its snapshot values.
func (t *txRepository) GetProductForUpdate(ctx context.Context, productID int64, variantID *int64) (ProductSnapshot, error) {
	snap := ProductSnapshot{ProductID: productID, VariantID: variantID}

	var query string
	var args []any
	if variantID != nil {
		query = `SELECT p.name, v.price_ht, v.cost_ht, v.stock
			FROM product_variants v
			JOIN products p ON p.id = v.product_id
			WHERE v.id = $1 AND v.product_id = $2
			FOR UPDATE OF v`
		args = []any{*variantID, productID}
	} else {
		query = `SELECT name, price_ht, cost_ht, stock FROM products WHERE id = $1 FOR UPDATE`
		args = []any{productID}
	}

	err := t.tx.QueryRow(ctx, query, args...).Scan(&snap.Name, &snap.PriceHT, &snap.CostHT, &snap.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProductSnapshot{}, stock.ErrProductNotFound
	}
	if err != nil {
		return ProductSnapshot{}, err
	}
	return snap, nil
}

// AdjustStock mutates stock and appends the movement inside this
// transaction, reusing the stock ledger's SQL so the movement trail has
// one shape everywhere.
func (t *txRepository) AdjustStock(ctx context.Context, productID int64, variantID *int64, delta int, reference string, release bool) error {
	level, err := stock.GetLevelForUpdateTx(ctx, t.tx, productID, variantID)
	if err != nil {
		return err
	}

	next := level.Stock + delta
	if next < 0 && !release {
		return stock.ErrInsufficientStock
	}
	if next < 0 {
		next = 0
	}

	if err := stock.SetStockTx(ctx, t.tx, productID, variantID, next); err != nil {
		return err
	}

	mv := stock.Movement{
		ProductID: productID,
		VariantID: variantID,
		Direction: stock.DirectionIn,
		Quantity:  delta,
		Reference: reference,
	}
	if delta < 0 {
		mv.Direction = stock.DirectionOut
		mv.Quantity = -delta
	}
	return stock.InsertMovementTx(ctx, t.tx, mv)
}

// CreateInvoice inserts the UNPAID invoice issued on delivery. The stored
// balance starts at the HT amount.
func (t *txRepository) CreateInvoice(ctx context.Context, draft InvoiceDraft) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO invoices (number, order_id, client_id, amount_ht, balance_ht, status)
		VALUES ($1, $2, $3, $4, $4, 'UNPAID')
		RETURNING id`,
		draft.Number, draft.OrderID, draft.ClientID, draft.AmountHT,
	).Scan(&id)
	return id, err
}
