package orders

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/douma-dental/manager/internal/approval"
	"github.com/douma-dental/manager/internal/settings"
	"github.com/douma-dental/manager/internal/shared"
	"github.com/douma-dental/manager/internal/stock"
)

type stockKey struct {
	productID int64
	variantID int64
}

func keyOf(productID int64, variantID *int64) stockKey {
	k := stockKey{productID: productID}
	if variantID != nil {
		k.variantID = *variantID
	}
	return k
}

type movementRec struct {
	key       stockKey
	direction stock.Direction
	quantity  int
	reference string
}

// memoryOrdersRepo backs the service with maps. WithTx snapshots the
// state and restores it when the callback fails, mirroring a rollback.
type memoryOrdersRepo struct {
	orders    map[int64]*Order
	products  map[stockKey]ProductSnapshot
	stocks    map[stockKey]int
	movements []movementRec
	invoices  map[int64]*InvoiceRef
	seq       map[string]int
	nextID    int64
	nextInvID int64
}

func newMemoryOrdersRepo() *memoryOrdersRepo {
	return &memoryOrdersRepo{
		orders:    map[int64]*Order{},
		products:  map[stockKey]ProductSnapshot{},
		stocks:    map[stockKey]int{},
		invoices:  map[int64]*InvoiceRef{},
		seq:       map[string]int{},
		nextID:    1,
		nextInvID: 1,
	}
}

func (m *memoryOrdersRepo) addProduct(productID int64, priceHT, costHT float64, stockLevel int) {
	k := stockKey{productID: productID}
	m.products[k] = ProductSnapshot{
		ProductID: productID,
		Name:      fmt.Sprintf("produit %d", productID),
		PriceHT:   priceHT,
		CostHT:    costHT,
	}
	m.stocks[k] = stockLevel
}

func (m *memoryOrdersRepo) GetByID(_ context.Context, id int64) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	cp.Items = append([]Item(nil), o.Items...)
	if ref, ok := m.invoices[id]; ok {
		refCp := *ref
		cp.Invoice = &refCp
	}
	return &cp, nil
}

func (m *memoryOrdersRepo) List(_ context.Context, req ListRequest) ([]Order, error) {
	var out []Order
	for _, o := range m.orders {
		if req.ClientID > 0 && o.ClientID != req.ClientID {
			continue
		}
		if req.Status != "" && o.Status != req.Status {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (m *memoryOrdersRepo) SetApproval(_ context.Context, orderID int64, required bool) error {
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.RequiresAdminApproval = required
	return nil
}

func (m *memoryOrdersRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snap := m.snapshot()
	if err := fn(ctx, &memoryOrdersTx{repo: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memoryOrdersRepo) snapshot() *memoryOrdersRepo {
	snap := newMemoryOrdersRepo()
	snap.nextID = m.nextID
	snap.nextInvID = m.nextInvID
	for id, o := range m.orders {
		cp := *o
		cp.Items = append([]Item(nil), o.Items...)
		snap.orders[id] = &cp
	}
	for k, p := range m.products {
		snap.products[k] = p
	}
	for k, s := range m.stocks {
		snap.stocks[k] = s
	}
	snap.movements = append([]movementRec(nil), m.movements...)
	for id, ref := range m.invoices {
		cp := *ref
		snap.invoices[id] = &cp
	}
	for p, n := range m.seq {
		snap.seq[p] = n
	}
	return snap
}

func (m *memoryOrdersRepo) restore(snap *memoryOrdersRepo) {
	m.orders = snap.orders
	m.products = snap.products
	m.stocks = snap.stocks
	m.movements = snap.movements
	m.invoices = snap.invoices
	m.seq = snap.seq
	m.nextID = snap.nextID
	m.nextInvID = snap.nextInvID
}

type memoryOrdersTx struct {
	repo *memoryOrdersRepo
}

func (t *memoryOrdersTx) NextNumber(_ context.Context, prefix string) (string, error) {
	t.repo.seq[prefix]++
	return fmt.Sprintf("%s-2026-%05d", prefix, t.repo.seq[prefix]), nil
}

func (t *memoryOrdersTx) InsertOrder(_ context.Context, o Order) (int64, error) {
	o.ID = t.repo.nextID
	o.CreatedAt = time.Now()
	t.repo.nextID++
	t.repo.orders[o.ID] = &o
	return o.ID, nil
}

func (t *memoryOrdersTx) InsertItem(_ context.Context, item Item) error {
	o, ok := t.repo.orders[item.OrderID]
	if !ok {
		return ErrNotFound
	}
	item.ID = int64(len(o.Items) + 1)
	o.Items = append(o.Items, item)
	return nil
}

func (t *memoryOrdersTx) UpdateStatus(_ context.Context, id int64, status Status, updates map[string]any) error {
	o, ok := t.repo.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	if v, ok := updates["shipped_at"]; ok {
		at := v.(time.Time)
		o.ShippedAt = &at
	}
	if v, ok := updates["delivered_at"]; ok {
		at := v.(time.Time)
		o.DeliveredAt = &at
	}
	return nil
}

func (t *memoryOrdersTx) GetProductForUpdate(_ context.Context, productID int64, variantID *int64) (ProductSnapshot, error) {
	snap, ok := t.repo.products[keyOf(productID, variantID)]
	if !ok {
		return ProductSnapshot{}, stock.ErrProductNotFound
	}
	snap.Stock = t.repo.stocks[keyOf(productID, variantID)]
	return snap, nil
}

func (t *memoryOrdersTx) AdjustStock(_ context.Context, productID int64, variantID *int64, delta int, reference string, release bool) error {
	k := keyOf(productID, variantID)
	if _, ok := t.repo.products[k]; !ok {
		return stock.ErrProductNotFound
	}
	next := t.repo.stocks[k] + delta
	if next < 0 && !release {
		return stock.ErrInsufficientStock
	}
	if next < 0 {
		next = 0
	}
	t.repo.stocks[k] = next

	mv := movementRec{key: k, direction: stock.DirectionIn, quantity: delta, reference: reference}
	if delta < 0 {
		mv.direction = stock.DirectionOut
		mv.quantity = -delta
	}
	t.repo.movements = append(t.repo.movements, mv)
	return nil
}

func (t *memoryOrdersTx) CreateInvoice(_ context.Context, draft InvoiceDraft) (int64, error) {
	id := t.repo.nextInvID
	t.repo.nextInvID++
	t.repo.invoices[draft.OrderID] = &InvoiceRef{ID: id, Number: draft.Number, Status: "UNPAID"}
	return id, nil
}

type fixedSettings struct {
	company settings.Company
}

func (f fixedSettings) Get(context.Context) settings.Company { return f.company }

func newOrdersService(repo *memoryOrdersRepo, company settings.Company) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, fixedSettings{company: company}, nil, nil, nil, logger)
}

var (
	admin      = shared.Identity{ID: 1, Role: shared.RoleAdmin, Name: "Karim"}
	magasinier = shared.Identity{ID: 4, Role: shared.RoleMagasinier, Name: "Yacine"}
	client     = shared.Identity{ID: 7, Role: shared.RoleClient, Name: "Cabinet Durand"}
)

func seedOrder(repo *memoryOrdersRepo, status Status, approvalRequired bool) *Order {
	o := &Order{
		ID:       repo.nextID,
		Number:   fmt.Sprintf("CMD-2026-%05d", repo.nextID),
		ClientID: 7,
		Status:   status,
		TotalHT:  200,
		Items: []Item{
			{ID: 1, OrderID: repo.nextID, ProductID: 1, Quantity: 4, PriceAtTime: 50, CostAtTime: 30},
		},
		RequiresAdminApproval: approvalRequired,
	}
	repo.nextID++
	repo.orders[o.ID] = o
	repo.addProduct(1, 50, 30, 10)
	return o
}

func TestCreateOrderSnapshotsAndDecrementsStock(t *testing.T) {
	repo := newMemoryOrdersRepo()
	repo.addProduct(1, 50, 30, 10)
	repo.addProduct(2, 12.5, 8, 40)
	svc := newOrdersService(repo, settings.Default())

	o, err := svc.Create(context.Background(), CreateRequest{
		ClientID:        7,
		DeliveryAddress: "12 rue des Lilas",
		DeliveryCity:    "Casablanca",
		DeliveryPhone:   "0522000000",
		Lines: []CreateLineReq{
			{ProductID: 1, Quantity: 3},
			{ProductID: 2, Quantity: 4},
		},
	}, admin)
	require.NoError(t, err)

	require.Equal(t, StatusConfirmed, o.Status)
	require.Equal(t, "CMD-2026-00001", o.Number)
	require.InDelta(t, 3*50+4*12.5, o.TotalHT, 0.001)
	require.Len(t, o.Items, 2)
	require.InDelta(t, 50, o.Items[0].PriceAtTime, 0.001)
	require.InDelta(t, 30, o.Items[0].CostAtTime, 0.001)
	require.False(t, o.RequiresAdminApproval)

	require.Equal(t, 7, repo.stocks[stockKey{productID: 1}])
	require.Equal(t, 36, repo.stocks[stockKey{productID: 2}])
	require.Len(t, repo.movements, 2)
	require.Equal(t, stock.DirectionOut, repo.movements[0].direction)
	require.Equal(t, "commande CMD-2026-00001", repo.movements[0].reference)
}

func TestCreateOrderInsufficientStockRollsBack(t *testing.T) {
	repo := newMemoryOrdersRepo()
	repo.addProduct(1, 50, 30, 10)
	repo.addProduct(2, 12.5, 8, 2)
	svc := newOrdersService(repo, settings.Default())

	_, err := svc.Create(context.Background(), CreateRequest{
		ClientID:        7,
		DeliveryAddress: "12 rue des Lilas",
		DeliveryCity:    "Casablanca",
		DeliveryPhone:   "0522000000",
		Lines: []CreateLineReq{
			{ProductID: 1, Quantity: 3},
			{ProductID: 2, Quantity: 5},
		},
	}, admin)
	require.ErrorIs(t, err, stock.ErrInsufficientStock)

	// The first line's decrement must not survive the failed second line.
	require.Equal(t, 10, repo.stocks[stockKey{productID: 1}])
	require.Equal(t, 2, repo.stocks[stockKey{productID: 2}])
	require.Empty(t, repo.orders)
	require.Empty(t, repo.movements)
}

func TestCreateOrderValidation(t *testing.T) {
	repo := newMemoryOrdersRepo()
	svc := newOrdersService(repo, settings.Default())

	_, err := svc.Create(context.Background(), CreateRequest{ClientID: 7}, admin)
	require.ErrorIs(t, err, ErrEmptyLines)

	_, err = svc.Create(context.Background(), CreateRequest{
		ClientID: 7,
		Lines:    []CreateLineReq{{ProductID: 1, Quantity: 0}},
	}, admin)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestCreateOrderClientOrdersForSelf(t *testing.T) {
	repo := newMemoryOrdersRepo()
	repo.addProduct(1, 50, 30, 10)
	svc := newOrdersService(repo, settings.Default())

	// A client's own ID wins over whatever the request carries.
	o, err := svc.Create(context.Background(), CreateRequest{
		ClientID:        999,
		DeliveryAddress: "12 rue des Lilas",
		DeliveryCity:    "Casablanca",
		DeliveryPhone:   "0522000000",
		Lines:           []CreateLineReq{{ProductID: 1, Quantity: 1}},
	}, client)
	require.NoError(t, err)
	require.Equal(t, client.ID, o.ClientID)
}

func TestCreateOrderFlagsLowMargin(t *testing.T) {
	repo := newMemoryOrdersRepo()
	repo.addProduct(1, 50, 60, 10) // sold below cost
	company := settings.Default()
	company.Approval = approval.Settings{AnyNegativeLineMargin: true}
	svc := newOrdersService(repo, company)

	o, err := svc.Create(context.Background(), CreateRequest{
		ClientID:        7,
		DeliveryAddress: "12 rue des Lilas",
		DeliveryCity:    "Casablanca",
		DeliveryPhone:   "0522000000",
		Lines:           []CreateLineReq{{ProductID: 1, Quantity: 2}},
	}, admin)
	require.NoError(t, err)
	require.True(t, o.RequiresAdminApproval)
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusConfirmed, StatusPrepared, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusShipped, false},
		{StatusConfirmed, StatusDelivered, false},
		{StatusPrepared, StatusShipped, true},
		{StatusPrepared, StatusCancelled, true},
		{StatusPrepared, StatusDelivered, false},
		{StatusPrepared, StatusConfirmed, false},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusCancelled, false},
		{StatusShipped, StatusConfirmed, false},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s_to_%s", tc.from, tc.to), func(t *testing.T) {
			repo := newMemoryOrdersRepo()
			seedOrder(repo, tc.from, false)
			svc := newOrdersService(repo, settings.Default())

			o, err := svc.RequestStatusChange(context.Background(), 1, tc.to, magasinier)
			if tc.allowed {
				require.NoError(t, err)
				require.Equal(t, tc.to, o.Status)
			} else {
				require.ErrorIs(t, err, ErrInvalidTransition)
				require.Equal(t, tc.from, repo.orders[1].Status)
			}
		})
	}
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	for _, terminal := range []Status{StatusDelivered, StatusCancelled} {
		repo := newMemoryOrdersRepo()
		seedOrder(repo, terminal, false)
		svc := newOrdersService(repo, settings.Default())

		_, err := svc.RequestStatusChange(context.Background(), 1, StatusPrepared, admin)
		require.ErrorIs(t, err, ErrTerminalState)
	}
}

func TestSameStatusIsNoop(t *testing.T) {
	repo := newMemoryOrdersRepo()
	seedOrder(repo, StatusPrepared, false)
	svc := newOrdersService(repo, settings.Default())

	o, err := svc.RequestStatusChange(context.Background(), 1, StatusPrepared, magasinier)
	require.NoError(t, err)
	require.Equal(t, StatusPrepared, o.Status)
}

func TestStatusChangeRejectsUnknownAndUnauthorized(t *testing.T) {
	repo := newMemoryOrdersRepo()
	seedOrder(repo, StatusConfirmed, false)
	svc := newOrdersService(repo, settings.Default())

	_, err := svc.RequestStatusChange(context.Background(), 1, Status("ARCHIVED"), admin)
	require.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.RequestStatusChange(context.Background(), 1, StatusPrepared, client)
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	_, err = svc.RequestStatusChange(context.Background(), 42, StatusPrepared, admin)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCancelReleasesStock(t *testing.T) {
	repo := newMemoryOrdersRepo()
	o := seedOrder(repo, StatusConfirmed, false)
	repo.stocks[stockKey{productID: 1}] = 6 // 4 already consumed by the order
	svc := newOrdersService(repo, settings.Default())

	got, err := svc.RequestStatusChange(context.Background(), o.ID, StatusCancelled, magasinier)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)

	require.Equal(t, 10, repo.stocks[stockKey{productID: 1}])
	require.Len(t, repo.movements, 1)
	require.Equal(t, stock.DirectionIn, repo.movements[0].direction)
	require.Equal(t, 4, repo.movements[0].quantity)
	require.Equal(t, fmt.Sprintf("annulation commande %s", o.Number), repo.movements[0].reference)
}

func TestCancelPaidOrderForbidden(t *testing.T) {
	repo := newMemoryOrdersRepo()
	o := seedOrder(repo, StatusPrepared, false)
	repo.invoices[o.ID] = &InvoiceRef{ID: 1, Number: "FAC-2026-00001", Status: "PAID"}
	svc := newOrdersService(repo, settings.Default())

	_, err := svc.RequestStatusChange(context.Background(), o.ID, StatusCancelled, admin)
	require.ErrorIs(t, err, ErrCannotCancelPaid)
	require.Equal(t, StatusPrepared, repo.orders[o.ID].Status)
}

func TestDeliveryCreatesInvoiceOnce(t *testing.T) {
	repo := newMemoryOrdersRepo()
	o := seedOrder(repo, StatusShipped, false)
	svc := newOrdersService(repo, settings.Default())

	got, err := svc.RequestStatusChange(context.Background(), o.ID, StatusDelivered, admin)
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)
	require.NotNil(t, got.Invoice)
	require.Equal(t, "FAC-2026-00001", got.Invoice.Number)
	require.Equal(t, "UNPAID", got.Invoice.Status)
	require.Len(t, repo.invoices, 1)
}

func TestDeliveryKeepsExistingInvoice(t *testing.T) {
	repo := newMemoryOrdersRepo()
	o := seedOrder(repo, StatusShipped, false)
	repo.invoices[o.ID] = &InvoiceRef{ID: 5, Number: "FAC-2026-00009", Status: "PARTIAL"}
	svc := newOrdersService(repo, settings.Default())

	got, err := svc.RequestStatusChange(context.Background(), o.ID, StatusDelivered, admin)
	require.NoError(t, err)
	require.Equal(t, int64(5), got.Invoice.ID)
	require.Zero(t, repo.seq[shared.SeqInvoice])
}

func TestApprovalGateBlocksProgress(t *testing.T) {
	repo := newMemoryOrdersRepo()
	seedOrder(repo, StatusConfirmed, true)
	company := settings.Default()
	company.Approval = approval.Settings{BlockWorkflowUntilCleared: true}
	svc := newOrdersService(repo, company)

	_, err := svc.RequestStatusChange(context.Background(), 1, StatusPrepared, magasinier)
	require.ErrorIs(t, err, ErrApprovalRequired)

	// Cancellation stays open even while the order awaits approval.
	o, err := svc.RequestStatusChange(context.Background(), 1, StatusCancelled, magasinier)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, o.Status)
}

func TestClearApproval(t *testing.T) {
	repo := newMemoryOrdersRepo()
	seedOrder(repo, StatusConfirmed, true)
	company := settings.Default()
	company.Approval = approval.Settings{BlockWorkflowUntilCleared: true}
	svc := newOrdersService(repo, company)

	_, err := svc.ClearApproval(context.Background(), 1, magasinier)
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	o, err := svc.ClearApproval(context.Background(), 1, admin)
	require.NoError(t, err)
	require.False(t, o.RequiresAdminApproval)

	o, err = svc.RequestStatusChange(context.Background(), 1, StatusPrepared, magasinier)
	require.NoError(t, err)
	require.Equal(t, StatusPrepared, o.Status)
}

func TestShippedStampsOnce(t *testing.T) {
	repo := newMemoryOrdersRepo()
	o := seedOrder(repo, StatusPrepared, false)
	earlier := time.Now().Add(-time.Hour)
	repo.orders[o.ID].ShippedAt = &earlier
	svc := newOrdersService(repo, settings.Default())

	got, err := svc.RequestStatusChange(context.Background(), o.ID, StatusShipped, magasinier)
	require.NoError(t, err)
	require.Equal(t, earlier.Unix(), got.ShippedAt.Unix())
}
