package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/douma-dental/manager/internal/approval"
	"github.com/douma-dental/manager/internal/settings"
	"github.com/douma-dental/manager/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	GetByID(ctx context.Context, id int64) (*Order, error)
	List(ctx context.Context, req ListRequest) ([]Order, error)
	SetApproval(ctx context.Context, orderID int64, required bool) error
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the mutations available inside one transaction.
// Stock release and invoice creation run here so a cancellation or a
// delivery commits whole or not at all.
type TxRepository interface {
	NextNumber(ctx context.Context, prefix string) (string, error)
	InsertOrder(ctx context.Context, o Order) (int64, error)
	InsertItem(ctx context.Context, item Item) error
	UpdateStatus(ctx context.Context, id int64, status Status, updates map[string]any) error
	GetProductForUpdate(ctx context.Context, productID int64, variantID *int64) (ProductSnapshot, error)
	AdjustStock(ctx context.Context, productID int64, variantID *int64, delta int, reference string, release bool) error
	CreateInvoice(ctx context.Context, draft InvoiceDraft) (int64, error)
}

// InvoiceDraft is the invoice created when an order reaches DELIVERED.
type InvoiceDraft struct {
	OrderID  int64
	ClientID int64
	Number   string
	AmountHT float64
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
	OrderStatusChanged(ctx context.Context, email, orderNumber string, status string)
	InvoiceIssued(ctx context.Context, email, invoiceNumber string, amountTTC float64)
}

// CachePort invalidates cached order views after commit.
type CachePort interface {
	Invalidate(ctx context.Context, keys ...string)
}

// Service coordinates order lifecycle operations.
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

// Create places a new order in CONFIRMED: snapshots prices and costs,
// decrements stock with a movement per line, evaluates the approval gate
// and assigns a sequential number, all in one transaction.
func (s *Service) Create(ctx context.Context, req CreateRequest, actor shared.Identity) (*Order, error) {
	if len(req.Lines) == 0 {
		return nil, ErrEmptyLines
	}
	for i, line := range req.Lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("ligne %d: %w", i+1, ErrInvalidQuantity)
		}
	}

	clientID := req.ClientID
	if actor.Role == shared.RoleClient {
		clientID = actor.ID
	}
	if clientID == 0 {
		return nil, fmt.Errorf("%w: client manquant", ErrInvalidQuantity)
	}

	cfg := s.settings.Get(ctx)

	var orderID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, shared.SeqOrder)
		if err != nil {
			return err
		}

		var total float64
		items := make([]Item, 0, len(req.Lines))
		marginLines := make([]approval.Line, 0, len(req.Lines))
		for _, line := range req.Lines {
			snap, err := tx.GetProductForUpdate(ctx, line.ProductID, line.VariantID)
			if err != nil {
				return err
			}
			items = append(items, Item{
				ProductID:   line.ProductID,
				VariantID:   line.VariantID,
				Quantity:    line.Quantity,
				PriceAtTime: snap.PriceHT,
				CostAtTime:  snap.CostHT,
			})
			marginLines = append(marginLines, approval.Line{
				Quantity:    line.Quantity,
				PriceAtTime: snap.PriceHT,
				CostAtTime:  snap.CostHT,
			})
			total += snap.PriceHT * float64(line.Quantity)
		}

		o := Order{
			Number:                number,
			ClientID:              clientID,
			Status:                StatusConfirmed,
			TotalHT:               total,
			RequiresAdminApproval: approval.Requires(marginLines, cfg.Approval),
			DeliveryAddress:       req.DeliveryAddress,
			DeliveryCity:          req.DeliveryCity,
			DeliveryPhone:         req.DeliveryPhone,
		}
		orderID, err = tx.InsertOrder(ctx, o)
		if err != nil {
			return err
		}

		for _, item := range items {
			item.OrderID = orderID
			if err := tx.InsertItem(ctx, item); err != nil {
				return err
			}
			ref := fmt.Sprintf("commande %s", number)
			if err := tx.AdjustStock(ctx, item.ProductID, item.VariantID, -item.Quantity, ref, false); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, orderID, actor, "order:create", nil)
	return s.repo.GetByID(ctx, orderID)
}

// RequestStatusChange validates and applies one workflow transition.
func (s *Service) RequestStatusChange(ctx context.Context, orderID int64, target Status, actor shared.Identity) (*Order, error) {
	if !shared.CanManageOrders(actor) {
		return nil, shared.ErrUnauthorized
	}
	if !target.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, target)
	}

	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if o.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminalState, o.Status)
	}

	// A same-status request is an idempotent no-op for non-terminal states.
	if o.Status == target {
		return o, nil
	}

	if !o.Status.CanTransitionTo(target) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, o.Status, target)
	}

	cfg := s.settings.Get(ctx)
	if cfg.Approval.BlockWorkflowUntilCleared && o.RequiresAdminApproval && target != StatusCancelled {
		return nil, ErrApprovalRequired
	}

	if target == StatusCancelled {
		return s.cancel(ctx, o, actor)
	}
	return s.progress(ctx, o, target, actor)
}

// cancel releases every item's stock and flips the order in one
// transaction. Cancellation after full payment is forbidden.
func (s *Service) cancel(ctx context.Context, o *Order, actor shared.Identity) (*Order, error) {
	if o.Invoice != nil && o.Invoice.Status == "PAID" {
		return nil, ErrCannotCancelPaid
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ref := fmt.Sprintf("annulation commande %s", o.Number)
		for _, item := range o.Items {
			if err := tx.AdjustStock(ctx, item.ProductID, item.VariantID, item.Quantity, ref, true); err != nil {
				return err
			}
		}
		return tx.UpdateStatus(ctx, o.ID, StatusCancelled, nil)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, o.ID, actor, "order:cancel", map[string]any{"from": string(o.Status)})
	s.notifyStatus(ctx, o, StatusCancelled)
	return s.repo.GetByID(ctx, o.ID)
}

// progress applies a forward transition, stamping shipped/delivered
// timestamps and creating the invoice on delivery inside the same
// transaction as the status flip.
func (s *Service) progress(ctx context.Context, o *Order, target Status, actor shared.Identity) (*Order, error) {
	now := time.Now()
	updates := map[string]any{}
	if target == StatusShipped && o.ShippedAt == nil {
		updates["shipped_at"] = now
	}
	if target == StatusDelivered && o.DeliveredAt == nil {
		updates["delivered_at"] = now
	}

	var invoiceNumber string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, o.ID, target, updates); err != nil {
			return err
		}

		if target == StatusDelivered && o.Invoice == nil {
			number, err := tx.NextNumber(ctx, shared.SeqInvoice)
			if err != nil {
				return err
			}
			if _, err := tx.CreateInvoice(ctx, InvoiceDraft{
				OrderID:  o.ID,
				ClientID: o.ClientID,
				Number:   number,
				AmountHT: o.TotalHT,
			}); err != nil {
				return err
			}
			invoiceNumber = number
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, o.ID, actor, "order:status", map[string]any{
		"from": string(o.Status),
		"to":   string(target),
	})
	s.notifyStatus(ctx, o, target)
	if invoiceNumber != "" && s.notifier != nil {
		cfg := s.settings.Get(ctx)
		s.notifier.InvoiceIssued(ctx, o.ClientEmail, invoiceNumber, o.TotalHT*(1+cfg.VATRate))
	}
	return s.repo.GetByID(ctx, o.ID)
}

// ClearApproval removes the admin-approval flag. ADMIN only.
func (s *Service) ClearApproval(ctx context.Context, orderID int64, actor shared.Identity) (*Order, error) {
	if !shared.IsAdmin(actor) {
		return nil, shared.ErrUnauthorized
	}

	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.RequiresAdminApproval {
		return o, nil
	}

	if err := s.repo.SetApproval(ctx, orderID, false); err != nil {
		return nil, err
	}

	s.afterCommit(ctx, orderID, actor, "order:approve", nil)
	return s.repo.GetByID(ctx, orderID)
}

// GetByID retrieves an order with items and invoice reference.
func (s *Service) GetByID(ctx context.Context, id int64) (*Order, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns orders matching the filter.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Order, error) {
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 50
	}
	return s.repo.List(ctx, req)
}

func (s *Service) afterCommit(ctx context.Context, orderID int64, actor shared.Identity, action string, meta map[string]any) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, "orders:list", fmt.Sprintf("orders:%d", orderID))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   action,
			Entity:   "order",
			EntityID: fmt.Sprintf("%d", orderID),
			Meta:     meta,
		})
	}
}

func (s *Service) notifyStatus(ctx context.Context, o *Order, status Status) {
	if s.notifier == nil || o.ClientEmail == "" {
		return
	}
	s.notifier.OrderStatusChanged(ctx, o.ClientEmail, o.Number, string(status))
}
