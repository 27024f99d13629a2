package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Document number prefixes.
const (
	SeqOrder   = "CMD"
	SeqInvoice = "FAC"
)

// NextNumber returns the next document number for a prefix, e.g.
// CMD-2026-00042. The counter row is updated inside the caller's
// transaction so numbering stays gap-free and collision-free under
// concurrent requests.
func NextNumber(ctx context.Context, tx pgx.Tx, prefix string, at time.Time) (string, error) {
	year := at.Year()
	var value int64
	err := tx.QueryRow(ctx, `
		INSERT INTO sequences (name, year, value)
		VALUES ($1, $2, 1)
		ON CONFLICT (name, year)
		DO UPDATE SET value = sequences.value + 1
		RETURNING value`, prefix, year).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("shared: next number %s: %w", prefix, err)
	}
	return fmt.Sprintf("%s-%d-%05d", prefix, year, value), nil
}
