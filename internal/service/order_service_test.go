package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"medsupply/internal/apperr"
	"medsupply/internal/inventory"
	"medsupply/internal/metrics"
	"medsupply/internal/model"
	"medsupply/internal/notify"
	"medsupply/internal/pricing"
	"medsupply/internal/repository"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(_ context.Context, ev notify.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind())
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type env struct {
	svc      *OrderService
	orders   *repository.OrderStore
	products *repository.ProductStore
	users    *repository.UserStore
	pub      *recorder

	admin    model.User
	hospital model.User
	other    model.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := repository.Open(repository.MemoryDSN())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	log := logrus.New()
	log.SetOutput(io.Discard)
	m := metrics.NewRegistry()

	e := &env{
		orders:   repository.NewOrderStore(db),
		products: repository.NewProductStore(db),
		users:    repository.NewUserStore(db),
		pub:      &recorder{},
	}
	adj := inventory.NewAdjuster(e.products, e.orders, e.pub, log, m)
	e.svc = NewOrderService(e.orders, e.products, e.users, adj, e.pub, log, m)

	ctx := context.Background()
	e.admin = model.User{Name: "Admin", Email: "admin@example.com", Role: model.RoleAdmin}
	e.hospital = model.User{Name: "City Hospital", Email: "city@example.com", Role: model.RoleHospital}
	e.other = model.User{Name: "Rural Clinic", Email: "rural@example.com", Role: model.RoleHospital}
	require.NoError(t, e.users.Create(ctx, &e.admin))
	require.NoError(t, e.users.Create(ctx, &e.hospital))
	require.NoError(t, e.users.Create(ctx, &e.other))
	return e
}

func (e *env) product(t *testing.T, name string, qty, price int64) *model.Product {
	t.Helper()
	p := &model.Product{Name: name, Quantity: qty, Price: price}
	require.NoError(t, e.products.Create(context.Background(), p))
	return p
}

func placeInput(lines ...pricing.Line) PlaceInput {
	return PlaceInput{
		Items:        lines,
		Address:      "1 Ward Rd",
		Phone:        "555-0100",
		ContactEmail: "desk@example.com",
	}
}

func assertHistoryInvariant(t *testing.T, o *model.Order) {
	t.Helper()
	require.NotEmpty(t, o.StatusHistory)
	assert.Equal(t, o.Status, o.StatusHistory[len(o.StatusHistory)-1].Status)
}

func TestPlaceOrder_Discount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gloves := e.product(t, "Gloves", 100, 700)
	masks := e.product(t, "Masks", 100, 500)

	o, err := e.svc.PlaceOrder(ctx, e.hospital, placeInput(pricing.Line{ProductID: gloves.ID, Quantity: 5}))
	require.NoError(t, err)
	assert.Equal(t, int64(3500), o.TotalPrice)
	assert.Equal(t, int64(10), o.DiscountPercentage)
	assert.Equal(t, int64(350), o.DiscountAmount)
	assert.Equal(t, int64(3150), o.FinalAmount)
	assert.Equal(t, model.StatusPending, o.Status)
	assert.Equal(t, model.PaymentCOD, o.PaymentMode)
	assert.Len(t, o.StatusHistory, 1)
	assert.Equal(t, e.hospital.ID, o.StatusHistory[0].ChangedBy)
	assertHistoryInvariant(t, o)

	o2, err := e.svc.PlaceOrder(ctx, e.hospital, placeInput(pricing.Line{ProductID: masks.ID, Quantity: 2}))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), o2.TotalPrice)
	assert.Zero(t, o2.DiscountAmount)
	assert.Equal(t, int64(1000), o2.FinalAmount)

	assert.Equal(t, []string{"order_placed", "order_placed"}, e.pub.kinds())

	// 下单不预占库存
	p, err := e.products.FindByID(ctx, gloves.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), p.Quantity)
}

func TestPlaceOrder_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gloves := e.product(t, "Gloves", 100, 700)

	_, err := e.svc.PlaceOrder(ctx, e.hospital, placeInput())
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = e.svc.PlaceOrder(ctx, e.hospital, placeInput(pricing.Line{ProductID: "ghost", Quantity: 1}))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	in := placeInput(pricing.Line{ProductID: gloves.ID, Quantity: 1})
	in.Address = " "
	_, err = e.svc.PlaceOrder(ctx, e.hospital, in)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	assert.Empty(t, e.pub.kinds())
}

func TestPlaceOrder_ConcurrentUniqueOrderNo(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gloves := e.product(t, "Gloves", 100, 10)

	const n = 100
	var wg sync.WaitGroup
	nos := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			o, err := e.svc.PlaceOrder(ctx, e.hospital, placeInput(pricing.Line{ProductID: gloves.ID, Quantity: 1}))
			errs[idx] = err
			if err == nil {
				nos[idx] = o.OrderNo
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[nos[i]], "duplicate order number %s", nos[i])
		seen[nos[i]] = true
	}
}

func TestEditOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gloves := e.product(t, "Gloves", 100, 700)
	masks := e.product(t, "Masks", 100, 500)

	o, err := e.svc.PlaceOrder(ctx, e.hospital, placeInput(pricing.Line{ProductID: masks.ID, Quantity: 2}))
	require.NoError(t, err)
	e.pub.reset()

	_, err = e.svc.EditOrder(ctx, o.ID, e.other, EditPatch{})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	addr := "2 Annex Rd"
	notes := "leave at dock"
	edited, err := e.svc.EditOrder(ctx, o.ID, e.hospital, EditPatch{
		Items:   []pricing.Line{{ProductID: gloves.ID, Quantity: 5}},
		Address: &addr,
		Notes:   &notes,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, edited.Status)
	assert.Equal(t, int64(3150), edited.FinalAmount)
	assert.Equal(t, addr, edited.Address)
	assert.Equal(t, notes, edited.Notes)
	require.Len(t, edited.StatusHistory, 2)
	assert.Equal(t, "Order edited by user", edited.StatusHistory[1].Note)
	assertHistoryInvariant(t, edited)
	assert.Equal(t, []string{"order_edited"}, e.pub.kinds())

	_, err = e.svc.UpdateStatus(ctx, o.ID, e.admin, model.StatusAccepted)
	require.NoError(t, err)

	_, err = e.svc.EditOrder(ctx, o.ID, e.hospital, EditPatch{Address: &addr})
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	assert.Contains(t, apperr.Message(err), "editing is disabled after acceptance")

	_, err = e.svc.EditOrder(ctx, "missing", e.hospital, EditPatch{})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUpdateStatus_Transitions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gloves := e.product(t, "Gloves", 100, 10)

	o, err := e.svc.PlaceOrder(ctx, e.hospital, placeInput(pricing.Line{ProductID: gloves.ID, Quantity: 1}))
	require.NoError(t, err)

	for _, st := range []model.OrderStatus{model.StatusPending, model.StatusCancelled, "Lost"} {
		_, err = e.svc.UpdateStatus(ctx, o.ID, e.admin, st)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "status %s", st)
	}

	got, err := e.svc.UpdateStatus(ctx, o.ID, e.admin, model.StatusPacked)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPacked, got.Status)

	// Packed 退回 Accepted：追加历史并重新触发确认通知
	e.pub.reset()
	got, err = e.svc.UpdateStatus(ctx, o.ID, e.admin, model.StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, got.Status)
	require.Len(t, got.StatusHistory, 3)
	assert.Equal(t, model.StatusAccepted, got.StatusHistory[2].Status)
	assert.Equal(t, e.admin.ID, got.StatusHistory[2].ChangedBy)
	assertHistoryInvariant(t, got)

	require.Equal(t, []string{"order_status_changed"}, e.pub.kinds())
	changed, ok := e.pub.events[0].(notify.OrderStatusChanged)
	require.True(t, ok)
	assert.Equal(t, model.StatusPacked, changed.From)
	assert.Equal(t, model.StatusAccepted, changed.Order.Status)
	assert.Equal(t, e.hospital.ID, changed.Owner.ID)

	stored, err := e.orders.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, stored.Status)
	assert.Len(t, stored.StatusHistory, 3)

	got, err = e.svc.UpdateStatus(ctx, o.ID, e.admin, model.StatusShipped)
	require.NoError(t, err)
	require.Len(t, got.StatusHistory, 4)
	assertHistoryInvariant(t, got)

	// 终结后不再允许
	_, err = e.svc.UpdateStatus(ctx, o.ID, e.admin, model.StatusDelivered)
	require.NoError(t, err)
	_, err = e.svc.UpdateStatus(ctx, o.ID, e.admin, model.StatusAccepted)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestUpdateStatus_DeliveryDecrementsStock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gloves := e.product(t, "Gloves", 12, 10)
	masks := e.product(t, "Masks", 3, 10)
	gowns := e.product(t, "Gowns", 100, 10)

	o, err := e.svc.PlaceOrder(ctx, e.hospital, placeInput(
		pricing.Line{ProductID: gloves.ID, Quantity: 5},
		pricing.Line{ProductID: masks.ID, Quantity: 10},
		pricing.Line{ProductID: gowns.ID, Quantity: 1},
	))
	require.NoError(t, err)
	e.pub.reset()

	got, err := e.svc.UpdateStatus(ctx, o.ID, e.admin, model.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, got.Status)

	for id, want := range map[string]int64{gloves.ID: 7, masks.ID: 0, gowns.ID: 99} {
		p, err := e.products.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, p.Quantity)
	}

	var low []string
	var suggestions []notify.ReorderSuggestion
	for _, ev := range e.pub.events {
		switch v := ev.(type) {
		case notify.LowStock:
			low = append(low, v.Product.ID)
		case notify.ReorderSuggestion:
			suggestions = append(suggestions, v)
		}
	}
	assert.ElementsMatch(t, []string{gloves.ID, masks.ID}, low)
	require.Len(t, suggestions, 2)
	for _, s := range suggestions {
		assert.Equal(t, int64(50), s.Suggested)
	}
	kinds := e.pub.kinds()
	assert.Equal(t, "order_status_changed", kinds[len(kinds)-1])

	_, err = e.svc.UpdateStatus(ctx, o.ID, e.admin, model.StatusDelivered)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	_, err = e.svc.CancelOrder(ctx, o.ID, e.admin, "late")
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	p, err := e.products.FindByID(ctx, gowns.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(99), p.Quantity)
}

func TestCancelOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gloves := e.product(t, "Gloves", 40, 10)

	o, err := e.svc.PlaceOrder(ctx, e.hospital, placeInput(pricing.Line{ProductID: gloves.ID, Quantity: 5}))
	require.NoError(t, err)

	_, err = e.svc.CancelOrder(ctx, o.ID, e.admin, "  ")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	got, err := e.svc.CancelOrder(ctx, o.ID, e.admin, "duplicate order")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Equal(t, "duplicate order", got.CancelReason)
	last := got.StatusHistory[len(got.StatusHistory)-1]
	assert.Equal(t, "duplicate order", last.Note)
	assertHistoryInvariant(t, got)

	p, err := e.products.FindByID(ctx, gloves.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(35), p.Quantity)

	_, err = e.svc.CancelOrder(ctx, o.ID, e.admin, "again")
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	p, err = e.products.FindByID(ctx, gloves.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(35), p.Quantity)

	_, err = e.svc.UpdateStatus(ctx, o.ID, e.admin, model.StatusAccepted)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestCancelOrder_BelowThresholdRaisesNoLowStock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gloves := e.product(t, "Gloves", 12, 10)

	o, err := e.svc.PlaceOrder(ctx, e.hospital, placeInput(pricing.Line{ProductID: gloves.ID, Quantity: 5}))
	require.NoError(t, err)
	e.pub.reset()

	_, err = e.svc.CancelOrder(ctx, o.ID, e.admin, "ordered by mistake")
	require.NoError(t, err)

	p, err := e.products.FindByID(ctx, gloves.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.Quantity)
	assert.Equal(t, []string{"order_cancelled"}, e.pub.kinds())
}

func TestReorder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gloves := e.product(t, "Gloves", 100, 700)

	src, err := e.svc.PlaceOrder(ctx, e.hospital, placeInput(pricing.Line{ProductID: gloves.ID, Quantity: 5}))
	require.NoError(t, err)

	_, err = e.svc.Reorder(ctx, src.ID, e.hospital, ReorderOverrides{})
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	_, err = e.svc.UpdateStatus(ctx, src.ID, e.admin, model.StatusDelivered)
	require.NoError(t, err)

	_, err = e.svc.Reorder(ctx, src.ID, e.other, ReorderOverrides{})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	gloves.Price = 800
	require.NoError(t, e.products.Update(ctx, gloves))
	e.pub.reset()

	re, err := e.svc.Reorder(ctx, src.ID, e.hospital, ReorderOverrides{Phone: "555-0199"})
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, re.ID)
	assert.NotEqual(t, src.OrderNo, re.OrderNo)
	assert.Equal(t, model.StatusPending, re.Status)
	assert.Equal(t, src.Address, re.Address)
	assert.Equal(t, "555-0199", re.Phone)
	assert.Equal(t, int64(800), re.Items[0].Price)
	assert.Equal(t, int64(4000), re.TotalPrice)
	assert.Equal(t, int64(3600), re.FinalAmount)
	assertHistoryInvariant(t, re)

	require.Len(t, e.pub.events, 1)
	placed, ok := e.pub.events[0].(notify.OrderPlaced)
	require.True(t, ok)
	assert.True(t, placed.Reorder)

	unchanged, err := e.orders.FindByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, unchanged.Status)
}

func TestDeleteAndList(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gloves := e.product(t, "Surgical Gloves", 100, 10)
	masks := e.product(t, "Face Masks", 100, 10)

	a, err := e.svc.PlaceOrder(ctx, e.hospital, placeInput(pricing.Line{ProductID: gloves.ID, Quantity: 1}))
	require.NoError(t, err)
	b, err := e.svc.PlaceOrder(ctx, e.hospital, placeInput(pricing.Line{ProductID: masks.ID, Quantity: 1}))
	require.NoError(t, err)
	_, err = e.svc.PlaceOrder(ctx, e.other, placeInput(pricing.Line{ProductID: masks.ID, Quantity: 1}))
	require.NoError(t, err)

	mine, err := e.svc.ListMyOrders(ctx, e.hospital.ID, repository.OrderFilter{Search: "mask"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, b.ID, mine[0].ID)

	_, err = e.svc.ListMyOrders(ctx, e.hospital.ID, repository.OrderFilter{Status: "Lost"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	all, err := e.svc.ListAllOrders(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, o := range all {
		assert.NotEmpty(t, o.Owner.Name)
		assert.NotEmpty(t, o.Owner.Email)
	}

	id, err := e.svc.DeleteOrder(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)
	_, err = e.svc.GetOrder(ctx, a.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = e.svc.DeleteOrder(ctx, a.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	kinds := e.pub.kinds()
	assert.Equal(t, "order_deleted", kinds[len(kinds)-1])
}

func TestSuggestedProducts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ref := e.product(t, "Gloves", 10, 100)
	e.product(t, "Nitrile Gloves", 10, 110)
	e.product(t, "Latex Gloves", 0, 100)
	e.product(t, "Ventilator", 10, 100000)

	list, err := e.svc.SuggestedProducts(ctx, ref.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Nitrile Gloves", list[0].Name)

	_, err = e.svc.SuggestedProducts(ctx, "ghost")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestEscalate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gloves := e.product(t, "Gloves", 100, 10)

	o, err := e.svc.PlaceOrder(ctx, e.hospital, placeInput(pricing.Line{ProductID: gloves.ID, Quantity: 1}))
	require.NoError(t, err)
	e.pub.reset()

	fired, err := e.svc.Escalate(ctx, o.ID, model.EscalationHighPriority)
	require.NoError(t, err)
	assert.Equal(t, []model.Escalation{model.EscalationNotified2Min, model.EscalationHighPriority}, fired)

	fired, err = e.svc.Escalate(ctx, o.ID, model.EscalationHighPriority)
	require.NoError(t, err)
	assert.Empty(t, fired)
	assert.Len(t, e.pub.events, 2)

	got, err := e.orders.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.HighPriority())
	assert.False(t, got.Notified10Min())
	assert.Len(t, got.StatusHistory, 1)

	_, err = e.svc.UpdateStatus(ctx, o.ID, e.admin, model.StatusAccepted)
	require.NoError(t, err)
	fired, err = e.svc.Escalate(ctx, o.ID, model.EscalationNotified10Min)
	require.NoError(t, err)
	assert.Empty(t, fired)
}

func TestKeyedMutexSerializesAndReleases(t *testing.T) {
	k := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("o1")
			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, k.size())
}
