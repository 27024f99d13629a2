package settings

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/douma-dental/manager/internal/ledger"
)

// Repository provides PostgreSQL backed persistence for company settings.
// Settings are stored as key/value rows so admin screens can edit them
// individually.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Load reads all known settings, falling back to defaults per key.
func (r *Repository) Load(ctx context.Context) (Company, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value FROM company_settings`)
	if err != nil {
		return Company{}, err
	}
	defer rows.Close()

	c := Company{VATRate: ledger.DefaultVATRate}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Company{}, err
		}
		switch key {
		case "vat_rate":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				c.VATRate = f
			}
		case "approval_any_negative_line_margin":
			c.Approval.AnyNegativeLineMargin = value == "true"
		case "approval_margin_below_percent":
			c.Approval.MarginBelowPercent = value == "true"
		case "approval_margin_percent_threshold":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				c.Approval.MarginPercentThreshold = f
			}
		case "approval_order_total_margin_negative":
			c.Approval.OrderTotalMarginNegative = value == "true"
		case "approval_block_workflow":
			c.Approval.BlockWorkflowUntilCleared = value == "true"
		}
	}
	if err := rows.Err(); err != nil {
		return Company{}, err
	}
	return c, nil
}
