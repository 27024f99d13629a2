package stock

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/douma-dental/manager/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetLevel(ctx context.Context, productID int64, variantID *int64) (Level, error)
	ListMovements(ctx context.Context, productID int64, limit int) ([]Movement, error)
}

// TxRepository exposes the mutations available inside one transaction.
type TxRepository interface {
	GetLevelForUpdate(ctx context.Context, productID int64, variantID *int64) (Level, error)
	SetStock(ctx context.Context, productID int64, variantID *int64, stock int) error
	InsertMovement(ctx context.Context, mv Movement) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates stock adjustments.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger}
}

// AdjustInput describes one stock adjustment.
type AdjustInput struct {
	ProductID int64
	VariantID *int64
	Delta     int
	Reference string
	ActorID   int64
	// Release marks give-backs (cancellation, return). Releases restore
	// what was previously removed and are never validated against the
	// zero floor.
	Release bool
}

// Adjust applies stock += delta and appends the matching movement row in
// one transaction. Negative deltas that would drive stock below zero are
// rejected unless the adjustment is a release.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (Level, error) {
	if input.Delta == 0 {
		return Level{}, ErrInvalidQuantity
	}

	var level Level
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetLevelForUpdate(ctx, input.ProductID, input.VariantID)
		if err != nil {
			return err
		}

		next := current.Stock + input.Delta
		if next < 0 && !input.Release {
			return ErrInsufficientStock
		}
		if next < 0 {
			next = 0
		}

		if err := tx.SetStock(ctx, input.ProductID, input.VariantID, next); err != nil {
			return err
		}

		mv := Movement{
			ProductID: input.ProductID,
			VariantID: input.VariantID,
			Direction: DirectionIn,
			Quantity:  input.Delta,
			Reference: input.Reference,
		}
		if input.Delta < 0 {
			mv.Direction = DirectionOut
			mv.Quantity = -input.Delta
		}
		if err := tx.InsertMovement(ctx, mv); err != nil {
			return err
		}

		current.Stock = next
		level = current
		return nil
	})
	if err != nil {
		return Level{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "stock:adjust",
			Entity:   "product",
			EntityID: fmt.Sprintf("%d", input.ProductID),
			Meta: map[string]any{
				"delta":     input.Delta,
				"reference": input.Reference,
			},
		})
	}

	if level.Below() {
		s.logger.Warn("stock below minimum",
			slog.Int64("product_id", level.ProductID),
			slog.Int("stock", level.Stock),
			slog.Int("min_stock", level.MinStock))
	}

	return level, nil
}

// GetLevel returns the current stock position.
func (s *Service) GetLevel(ctx context.Context, productID int64, variantID *int64) (Level, error) {
	return s.repo.GetLevel(ctx, productID, variantID)
}

// ListMovements returns the most recent movements for a product.
func (s *Service) ListMovements(ctx context.Context, productID int64, limit int) ([]Movement, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListMovements(ctx, productID, limit)
}
