package stock

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for stock.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetLevel reads the current stock position without locking.
func (r *Repository) GetLevel(ctx context.Context, productID int64, variantID *int64) (Level, error) {
	return getLevel(ctx, r.pool, productID, variantID, false)
}

// ListMovements returns the most recent movements for a product.
func (r *Repository) ListMovements(ctx context.Context, productID int64, limit int) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, product_id, variant_id, direction, quantity, reference, created_at
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var mv Movement
		var direction string
		if err := rows.Scan(&mv.ID, &mv.ProductID, &mv.VariantID, &direction, &mv.Quantity, &mv.Reference, &mv.CreatedAt); err != nil {
			return nil, err
		}
		mv.Direction = Direction(direction)
		movements = append(movements, mv)
	}
	return movements, rows.Err()
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

type txRepository struct {
	tx pgx.Tx
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getLevel(ctx context.Context, q querier, productID int64, variantID *int64, forUpdate bool) (Level, error) {
	level := Level{ProductID: productID, VariantID: variantID}

	var query string
	var args []any
	if variantID != nil {
		query = `SELECT v.stock, p.min_stock FROM product_variants v
			JOIN products p ON p.id = v.product_id
			WHERE v.id = $1 AND v.product_id = $2`
		args = []any{*variantID, productID}
	} else {
		query = `SELECT stock, min_stock FROM products WHERE id = $1`
		args = []any{productID}
	}
	if forUpdate {
		query += " FOR UPDATE"
	}

	err := q.QueryRow(ctx, query, args...).Scan(&level.Stock, &level.MinStock)
	if errors.Is(err, pgx.ErrNoRows) {
		return Level{}, ErrProductNotFound
	}
	if err != nil {
		return Level{}, err
	}
	return level, nil
}

// GetLevelForUpdate locks the stock row for the remainder of the transaction.
func (t *txRepository) GetLevelForUpdate(ctx context.Context, productID int64, variantID *int64) (Level, error) {
	return getLevel(ctx, t.tx, productID, variantID, true)
}

// SetStock writes the new stock value.
func (t *txRepository) SetStock(ctx context.Context, productID int64, variantID *int64, stock int) error {
	return SetStockTx(ctx, t.tx, productID, variantID, stock)
}

// InsertMovement appends a movement row.
func (t *txRepository) InsertMovement(ctx context.Context, mv Movement) error {
	return InsertMovementTx(ctx, t.tx, mv)
}

// SetStockTx writes a stock value inside an arbitrary transaction. The
// orders module reuses it so cancellation releases stock inside the same
// transaction that flips the order status.
func SetStockTx(ctx context.Context, tx pgx.Tx, productID int64, variantID *int64, stock int) error {
	var tag string
	var args []any
	if variantID != nil {
		tag = `UPDATE product_variants SET stock = $1, updated_at = NOW() WHERE id = $2 AND product_id = $3`
		args = []any{stock, *variantID, productID}
	} else {
		tag = `UPDATE products SET stock = $1, updated_at = NOW() WHERE id = $2`
		args = []any{stock, productID}
	}
	cmd, err := tx.Exec(ctx, tag, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// InsertMovementTx appends a movement row inside an arbitrary transaction.
func InsertMovementTx(ctx context.Context, tx pgx.Tx, mv Movement) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO stock_movements (product_id, variant_id, direction, quantity, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		mv.ProductID, mv.VariantID, string(mv.Direction), mv.Quantity, mv.Reference)
	return err
}

// GetLevelForUpdateTx locks and reads a stock row inside an arbitrary
// transaction.
func GetLevelForUpdateTx(ctx context.Context, tx pgx.Tx, productID int64, variantID *int64) (Level, error) {
	return getLevel(ctx, tx, productID, variantID, true)
}
