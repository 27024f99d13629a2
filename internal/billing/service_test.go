package billing

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/douma-dental/manager/internal/orders"
	"github.com/douma-dental/manager/internal/settings"
	"github.com/douma-dental/manager/internal/shared"
)

type orderRow struct {
	status      orders.Status
	deliveredAt *time.Time
}

// memoryBillingRepo keeps invoices, payments, coupled orders and client
// balances in maps. WithTx snapshots the whole state and restores it when
// the callback fails, so a rejected mutation leaves nothing behind.
type memoryBillingRepo struct {
	invoices  map[int64]*Invoice
	payments  map[int64]Payment
	orders    map[int64]*orderRow
	balances  map[int64]float64
	nextPayID int64
}

func newMemoryBillingRepo() *memoryBillingRepo {
	return &memoryBillingRepo{
		invoices:  map[int64]*Invoice{},
		payments:  map[int64]Payment{},
		orders:    map[int64]*orderRow{},
		balances:  map[int64]float64{},
		nextPayID: 1,
	}
}

func (m *memoryBillingRepo) GetInvoice(_ context.Context, id int64) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *memoryBillingRepo) ListInvoices(_ context.Context, req ListInvoicesRequest) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range m.invoices {
		if req.ClientID > 0 && inv.ClientID != req.ClientID {
			continue
		}
		if req.Status != "" && inv.Status != req.Status {
			continue
		}
		out = append(out, *inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryBillingRepo) ListPayments(_ context.Context, invoiceID int64) ([]Payment, error) {
	var out []Payment
	for _, p := range m.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryBillingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snap := m.snapshot()
	if err := fn(ctx, &memoryBillingTx{repo: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memoryBillingRepo) snapshot() *memoryBillingRepo {
	snap := newMemoryBillingRepo()
	snap.nextPayID = m.nextPayID
	for id, inv := range m.invoices {
		cp := *inv
		snap.invoices[id] = &cp
	}
	for id, p := range m.payments {
		snap.payments[id] = p
	}
	for id, o := range m.orders {
		cp := *o
		snap.orders[id] = &cp
	}
	for id, b := range m.balances {
		snap.balances[id] = b
	}
	return snap
}

func (m *memoryBillingRepo) restore(snap *memoryBillingRepo) {
	m.invoices = snap.invoices
	m.payments = snap.payments
	m.orders = snap.orders
	m.balances = snap.balances
	m.nextPayID = snap.nextPayID
}

type memoryBillingTx struct {
	repo *memoryBillingRepo
}

func (t *memoryBillingTx) LockInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return t.repo.GetInvoice(ctx, id)
}

func (t *memoryBillingTx) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	return t.repo.ListPayments(ctx, invoiceID)
}

func (t *memoryBillingTx) GetPayment(_ context.Context, id int64) (*Payment, error) {
	p, ok := t.repo.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &p, nil
}

func (t *memoryBillingTx) InsertPayment(_ context.Context, p Payment) (int64, error) {
	p.ID = t.repo.nextPayID
	p.CreatedAt = time.Now()
	t.repo.nextPayID++
	t.repo.payments[p.ID] = p
	return p.ID, nil
}

func (t *memoryBillingTx) UpdatePayment(_ context.Context, p Payment) error {
	if _, ok := t.repo.payments[p.ID]; !ok {
		return ErrPaymentNotFound
	}
	t.repo.payments[p.ID] = p
	return nil
}

func (t *memoryBillingTx) DeletePayment(_ context.Context, id int64) error {
	if _, ok := t.repo.payments[id]; !ok {
		return ErrPaymentNotFound
	}
	delete(t.repo.payments, id)
	return nil
}

func (t *memoryBillingTx) DeletePaymentsByInvoice(_ context.Context, invoiceID int64) error {
	for id, p := range t.repo.payments {
		if p.InvoiceID == invoiceID {
			delete(t.repo.payments, id)
		}
	}
	return nil
}

func (t *memoryBillingTx) UpdateInvoice(_ context.Context, id int64, status InvoiceStatus, balanceHT float64, paidAt *time.Time, paidBy *int64) error {
	inv, ok := t.repo.invoices[id]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.Status = status
	inv.BalanceHT = balanceHT
	inv.PaidAt = paidAt
	inv.PaidBy = paidBy
	inv.UpdatedAt = time.Now()
	return nil
}

func (t *memoryBillingTx) DeleteInvoice(_ context.Context, id int64) error {
	if _, ok := t.repo.invoices[id]; !ok {
		return ErrInvoiceNotFound
	}
	delete(t.repo.invoices, id)
	return nil
}

func (t *memoryBillingTx) AdjustClientBalance(_ context.Context, clientID int64, delta float64) error {
	next := t.repo.balances[clientID] + delta
	if next < 0 {
		next = 0
	}
	t.repo.balances[clientID] = next
	return nil
}

func (t *memoryBillingTx) GetOrderDelivery(_ context.Context, orderID int64) (*time.Time, error) {
	o, ok := t.repo.orders[orderID]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return o.deliveredAt, nil
}

func (t *memoryBillingTx) UpdateOrderStatus(_ context.Context, orderID int64, status orders.Status, updates map[string]any) error {
	o, ok := t.repo.orders[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	o.status = status
	if v, ok := updates["delivered_at"]; ok {
		at := v.(time.Time)
		o.deliveredAt = &at
	}
	return nil
}

type fixedSettings struct {
	company settings.Company
}

func (f fixedSettings) Get(context.Context) settings.Company { return f.company }

func newBillingService(repo *memoryBillingRepo) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, fixedSettings{company: settings.Default()}, nil, nil, nil, logger)
}

// seedInvoice installs one delivered order with an unpaid invoice of the
// given HT face value and the matching outstanding client balance (TTC).
func seedInvoice(repo *memoryBillingRepo, amountHT float64) *Invoice {
	deliveredAt := time.Now().Add(-24 * time.Hour)
	repo.orders[10] = &orderRow{status: orders.StatusDelivered, deliveredAt: &deliveredAt}
	inv := &Invoice{
		ID:          1,
		Number:      "FAC-2026-00001",
		OrderID:     10,
		ClientID:    7,
		ClientEmail: "cabinet.durand@example.fr",
		AmountHT:    amountHT,
		BalanceHT:   amountHT,
		Status:      InvoiceUnpaid,
		CreatedAt:   time.Now().Add(-24 * time.Hour),
	}
	repo.invoices[inv.ID] = inv
	repo.balances[inv.ClientID] = amountHT * 1.20
	return inv
}

var (
	comptable = shared.Identity{ID: 2, Role: shared.RoleComptable, Name: "Nadia"}
	admin     = shared.Identity{ID: 1, Role: shared.RoleAdmin, Name: "Karim"}
	livreur   = shared.Identity{ID: 3, Role: shared.RoleLivreur, Name: "Sofiane"}
)

func TestRecordPaymentPartialThenPaid(t *testing.T) {
	repo := newMemoryBillingRepo()
	seedInvoice(repo, 100) // 120 TTC
	svc := newBillingService(repo)

	_, err := svc.RecordPayment(context.Background(), CreatePaymentInput{
		InvoiceID: 1, Amount: 50, Method: "CHECK",
	}, comptable)
	require.NoError(t, err)

	inv := repo.invoices[1]
	require.Equal(t, InvoicePartial, inv.Status)
	require.InDelta(t, 100-50/1.20, inv.BalanceHT, 0.001)
	require.Nil(t, inv.PaidAt)
	require.InDelta(t, 70, repo.balances[7], 0.001)

	_, err = svc.RecordPayment(context.Background(), CreatePaymentInput{
		InvoiceID: 1, Amount: 70, Method: "TRANSFER", Reference: "VIR-4411",
	}, comptable)
	require.NoError(t, err)

	inv = repo.invoices[1]
	require.Equal(t, InvoicePaid, inv.Status)
	require.InDelta(t, 0, inv.BalanceHT, 0.001)
	require.NotNil(t, inv.PaidAt)
	require.NotNil(t, inv.PaidBy)
	require.Equal(t, comptable.ID, *inv.PaidBy)
	require.InDelta(t, 0, repo.balances[7], 0.001)
	require.Equal(t, orders.StatusDelivered, repo.orders[10].status)
}

func TestRecordPaymentOverpaymentRejected(t *testing.T) {
	repo := newMemoryBillingRepo()
	seedInvoice(repo, 100)
	svc := newBillingService(repo)

	_, err := svc.RecordPayment(context.Background(), CreatePaymentInput{
		InvoiceID: 1, Amount: 121, Method: "CASH",
	}, comptable)
	require.ErrorIs(t, err, ErrExceedsBalance)

	inv := repo.invoices[1]
	require.Equal(t, InvoiceUnpaid, inv.Status)
	require.InDelta(t, 100, inv.BalanceHT, 0.001)
	require.Empty(t, repo.payments)
	require.InDelta(t, 120, repo.balances[7], 0.001)
}

func TestRecordPaymentExactSettlement(t *testing.T) {
	repo := newMemoryBillingRepo()
	seedInvoice(repo, 100)
	svc := newBillingService(repo)

	_, err := svc.RecordPayment(context.Background(), CreatePaymentInput{
		InvoiceID: 1, Amount: 120, Method: "CARD",
	}, comptable)
	require.NoError(t, err)
	require.Equal(t, InvoicePaid, repo.invoices[1].Status)
}

func TestRecordPaymentValidation(t *testing.T) {
	repo := newMemoryBillingRepo()
	seedInvoice(repo, 100)
	svc := newBillingService(repo)

	_, err := svc.RecordPayment(context.Background(), CreatePaymentInput{
		InvoiceID: 1, Amount: -5, Method: "CASH",
	}, comptable)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.RecordPayment(context.Background(), CreatePaymentInput{
		InvoiceID: 1, Amount: 10, Method: "BITCOIN",
	}, comptable)
	require.ErrorIs(t, err, ErrInvalidMethod)

	_, err = svc.RecordPayment(context.Background(), CreatePaymentInput{
		InvoiceID: 1, Amount: 10, Method: "CASH",
	}, livreur)
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	_, err = svc.RecordPayment(context.Background(), CreatePaymentInput{
		InvoiceID: 99, Amount: 10, Method: "CASH",
	}, comptable)
	require.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestUpdatePaymentLockedForComptable(t *testing.T) {
	repo := newMemoryBillingRepo()
	seedInvoice(repo, 100)
	svc := newBillingService(repo)

	p, err := svc.RecordPayment(context.Background(), CreatePaymentInput{
		InvoiceID: 1, Amount: 120, Method: "TRANSFER",
	}, comptable)
	require.NoError(t, err)
	require.Equal(t, InvoicePaid, repo.invoices[1].Status)

	amount := 60.0
	_, err = svc.UpdatePayment(context.Background(), p.ID, UpdatePaymentInput{Amount: &amount}, comptable)
	require.ErrorIs(t, err, ErrInvoiceLocked)
	require.InDelta(t, 120, repo.payments[p.ID].AmountTTC, 0.001)
	require.Equal(t, InvoicePaid, repo.invoices[1].Status)
}

func TestUpdatePaymentAdminReopensInvoice(t *testing.T) {
	repo := newMemoryBillingRepo()
	seedInvoice(repo, 100)
	svc := newBillingService(repo)

	p, err := svc.RecordPayment(context.Background(), CreatePaymentInput{
		InvoiceID: 1, Amount: 120, Method: "TRANSFER",
	}, comptable)
	require.NoError(t, err)

	amount := 60.0
	_, err = svc.UpdatePayment(context.Background(), p.ID, UpdatePaymentInput{Amount: &amount}, admin)
	require.NoError(t, err)

	inv := repo.invoices[1]
	require.Equal(t, InvoicePartial, inv.Status)
	require.Nil(t, inv.PaidAt)
	require.Nil(t, inv.PaidBy)
	require.InDelta(t, 100-60/1.20, inv.BalanceHT, 0.001)
	// Lowering the payment restores the debt difference.
	require.InDelta(t, 60, repo.balances[7], 0.001)
	require.Equal(t, orders.StatusShipped, repo.orders[10].status)
}

func TestUpdatePaymentOverpaymentExcludesEditedPayment(t *testing.T) {
	repo := newMemoryBillingRepo()
	seedInvoice(repo, 100)
	svc := newBillingService(repo)

	p, err := svc.RecordPayment(context.Background(), CreatePaymentInput{
		InvoiceID: 1, Amount: 50, Method: "CHECK",
	}, comptable)
	require.NoError(t, err)

	// Raising 50 to 120 is fine: the guard measures against the other
	// payments only, and nothing else was paid.
	amount := 120.0
	_, err = svc.UpdatePayment(context.Background(), p.ID, UpdatePaymentInput{Amount: &amount}, comptable)
	require.NoError(t, err)
	require.Equal(t, InvoicePaid, repo.invoices[1].Status)

	_, err = svc.RecordPayment(context.Background(), CreatePaymentInput{
		InvoiceID: 1, Amount: 1, Method: "CASH",
	}, comptable)
	require.ErrorIs(t, err, ErrExceedsBalance)
}

func TestDeletePaymentRestoresDebt(t *testing.T) {
	repo := newMemoryBillingRepo()
	seedInvoice(repo, 100)
	svc := newBillingService(repo)

	p, err := svc.RecordPayment(context.Background(), CreatePaymentInput{
		InvoiceID: 1, Amount: 50, Method: "CASH",
	}, comptable)
	require.NoError(t, err)
	require.InDelta(t, 70, repo.balances[7], 0.001)

	require.NoError(t, svc.DeletePayment(context.Background(), p.ID, comptable))

	inv := repo.invoices[1]
	require.Equal(t, InvoiceUnpaid, inv.Status)
	require.InDelta(t, 100, inv.BalanceHT, 0.001)
	require.InDelta(t, 120, repo.balances[7], 0.001)
	require.Empty(t, repo.payments)
}

func TestDeleteInvoiceAdminOnly(t *testing.T) {
	repo := newMemoryBillingRepo()
	seedInvoice(repo, 100)
	svc := newBillingService(repo)

	_, err := svc.RecordPayment(context.Background(), CreatePaymentInput{
		InvoiceID: 1, Amount: 50, Method: "CASH",
	}, comptable)
	require.NoError(t, err)

	require.ErrorIs(t, svc.DeleteInvoice(context.Background(), 1, comptable), shared.ErrUnauthorized)

	require.NoError(t, svc.DeleteInvoice(context.Background(), 1, admin))
	require.Empty(t, repo.invoices)
	require.Empty(t, repo.payments)
	// The deleted payments give the debt back.
	require.InDelta(t, 120, repo.balances[7], 0.001)
}

// Two partial payments settle a 200 HT invoice; an administrator then
// removes the second one. The invoice drops back to PARTIAL, the paid
// marks clear, the order returns to SHIPPED and the client owes the
// removed amount again.
func TestPaymentCorrectionScenario(t *testing.T) {
	repo := newMemoryBillingRepo()
	seedInvoice(repo, 200) // 240 TTC
	svc := newBillingService(repo)

	_, err := svc.RecordPayment(context.Background(), CreatePaymentInput{
		InvoiceID: 1, Amount: 120, Method: "CHECK", Reference: "CHQ-100",
	}, comptable)
	require.NoError(t, err)
	require.Equal(t, InvoicePartial, repo.invoices[1].Status)

	second, err := svc.RecordPayment(context.Background(), CreatePaymentInput{
		InvoiceID: 1, Amount: 120, Method: "CHECK", Reference: "CHQ-101",
	}, comptable)
	require.NoError(t, err)
	require.Equal(t, InvoicePaid, repo.invoices[1].Status)
	require.InDelta(t, 0, repo.balances[7], 0.001)

	require.NoError(t, svc.DeletePayment(context.Background(), second.ID, admin))

	inv := repo.invoices[1]
	require.Equal(t, InvoicePartial, inv.Status)
	require.Nil(t, inv.PaidAt)
	require.Nil(t, inv.PaidBy)
	require.InDelta(t, 100, inv.BalanceHT, 0.001)
	require.InDelta(t, 120, repo.balances[7], 0.001)
	require.Equal(t, orders.StatusShipped, repo.orders[10].status)
}

func TestReconcileIsIdempotent(t *testing.T) {
	payments := []Payment{
		{ID: 1, AmountTTC: 60},
		{ID: 2, AmountTTC: 30},
	}
	first := Reconcile(100, 0.20, payments)
	second := Reconcile(100, 0.20, payments)
	require.Equal(t, first, second)
	require.Equal(t, InvoicePartial, first.Status)
	require.InDelta(t, 90, first.TotalPaidTTC, 0.001)
	require.InDelta(t, 30, first.RemainingTTC, 0.001)
	require.InDelta(t, 25, first.BalanceHT, 0.001)
}
