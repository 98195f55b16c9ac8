package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lasweety/sweetyshop/internal/catalog"
	"github.com/lasweety/sweetyshop/internal/events"
	"github.com/lasweety/sweetyshop/internal/notify"
	ordersvc "github.com/lasweety/sweetyshop/internal/order"
	"github.com/lasweety/sweetyshop/internal/storage/memory"
	"github.com/lasweety/sweetyshop/internal/types/order"
	"github.com/lasweety/sweetyshop/internal/types/product"
)

// flakyOrders fails CreateOrder while createErr is set or ctx is done.
type flakyOrders struct {
	*memory.Storage
	mu        sync.Mutex
	createErr error
}

func (f *flakyOrders) CreateOrder(ctx context.Context, o *order.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	err := f.createErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Storage.CreateOrder(ctx, o)
}

// flakyProducts fails DecrementStock once ctx is done, and while
// decrementErr is set for failID or, when failID is empty, any product.
type flakyProducts struct {
	*memory.Storage
	mu           sync.Mutex
	decrementErr error
	failID       string
}

func (f *flakyProducts) DecrementStock(ctx context.Context, id string, qty int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	err, failID := f.decrementErr, f.failID
	f.mu.Unlock()
	if err != nil && (failID == "" || failID == id) {
		return false, err
	}
	return f.Storage.DecrementStock(ctx, id, qty)
}

func (f *flakyProducts) fail(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failID, f.decrementErr = id, err
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []string
}

func (p *recordingPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, topic+"/"+key)
	return nil
}

type finalizerFixture struct {
	f        *Finalizer
	store    *memory.Storage
	products *flakyProducts
	orders   *flakyOrders
	outbox   *notify.OutboxMailer
	pub      *recordingPublisher
}

func newFinalizerFixture(t *testing.T, stock int) *finalizerFixture {
	t.Helper()
	store := memory.New()
	var seed []product.Product
	for _, e := range catalog.Default().All() {
		seed = append(seed, product.Product{ID: e.ID, Name: e.Name, Stock: stock})
	}
	require.NoError(t, store.SeedProducts(context.Background(), seed))

	outbox := notify.NewOutboxMailer()
	confirmer := ordersvc.NewConfirmer(store, outbox,
		notify.NewRenderer(notify.Branding{}, notify.Company{}),
		notify.NewInvoiceRenderer(notify.Company{Name: "La Sweety"}),
	)
	products := &flakyProducts{Storage: store}
	orders := &flakyOrders{Storage: store}
	pub := &recordingPublisher{}
	f := NewFinalizer(catalog.Default(), Gabarits{Small: catalog.Small, Large: catalog.Large},
		testShipping, products, orders, store, confirmer, pub)
	return &finalizerFixture{f: f, store: store, products: products, orders: orders, outbox: outbox, pub: pub}
}

func paidSession(id string) order.PaidSession {
	return order.PaidSession{
		SessionID:     id,
		AmountTotal:   7488,
		Currency:      "eur",
		CustomerEmail: "jeanne@example.com",
		CustomerName:  "Jeanne Martin",
		ShippingAddress: order.Address{
			Line1: "1 rue des Lilas", PostalCode: "69001", City: "Lyon", Country: "FR",
		},
		Cart:         `[{"id":101,"quantity":1},{"id":"102","quantity":1}]`,
		DeliveryMode: order.DeliveryHome,
	}
}

func (fx *finalizerFixture) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := fx.store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func TestFinalizeCreatesOrder(t *testing.T) {
	fx := newFinalizerFixture(t, 5)

	out, err := fx.f.Finalize(context.Background(), paidSession("cs_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out.Status)
	assert.False(t, out.TotalMismatch)
	assert.Empty(t, out.Shortfalls)
	assert.Empty(t, out.EmailError)

	o, err := fx.store.FindOrderBySession(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, o.Status)
	assert.Equal(t, 74.88, o.Total)
	assert.Regexp(t, `^#SWEETY-\d{5}$`, o.OrderNumber)
	assert.Len(t, o.Products, 2)
	assert.Equal(t, order.Parcel{WeightKg: 0.39, LengthCm: 30, WidthCm: 25, HeightCm: 8, PackageType: "SMALL"}, o.Parcel)
	assert.True(t, o.EmailSent)
	assert.NotNil(t, o.EmailSentAt)

	assert.Equal(t, 4, fx.stock(t, "101"))
	assert.Equal(t, 4, fx.stock(t, "102"))

	sent := fx.outbox.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "jeanne@example.com", sent[0].To)
	assert.Equal(t, []string{events.TopicOrdersPaid + "/cs_1"}, fx.pub.messages)
}

func TestFinalizeSameSessionTwice(t *testing.T) {
	fx := newFinalizerFixture(t, 5)
	ps := paidSession("cs_dup")

	first, err := fx.f.Finalize(context.Background(), ps)
	require.NoError(t, err)
	second, err := fx.f.Finalize(context.Background(), ps)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, first.Status)
	assert.Equal(t, OutcomeDuplicate, second.Status)
	assert.Equal(t, first.OrderNumber, second.OrderNumber)

	orders, _ := fx.store.ListOrders(context.Background())
	assert.Len(t, orders, 1)
	assert.Len(t, fx.outbox.Sent(), 1)
	assert.Equal(t, 4, fx.stock(t, "101"))
}

func TestFinalizeConcurrentDeliveries(t *testing.T) {
	fx := newFinalizerFixture(t, 50)
	ps := paidSession("cs_race")

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := fx.f.Finalize(context.Background(), ps)
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	orders, _ := fx.store.ListOrders(context.Background())
	assert.Len(t, orders, 1)
	assert.Len(t, fx.outbox.Sent(), 1)
}

func TestFinalizeStockShortfallDoesNotBlock(t *testing.T) {
	fx := newFinalizerFixture(t, 1)
	ps := paidSession("cs_short")
	ps.Cart = `[{"id":"101","quantity":2}]`
	ps.AmountTotal = 7488

	out, err := fx.f.Finalize(context.Background(), ps)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out.Status)
	assert.Equal(t, []Shortfall{{ProductID: "101", Quantity: 2}}, out.Shortfalls)
	assert.Equal(t, 1, fx.stock(t, "101"))
}

func TestFinalizeTotalMismatchKeepsPaidAmount(t *testing.T) {
	fx := newFinalizerFixture(t, 5)
	ps := paidSession("cs_mismatch")
	ps.AmountTotal = 5000

	out, err := fx.f.Finalize(context.Background(), ps)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out.Status)
	assert.True(t, out.TotalMismatch)

	o, _ := fx.store.FindOrderBySession(context.Background(), "cs_mismatch")
	assert.Equal(t, 50.0, o.Total)
}

func TestFinalizeSkipsUnknownProducts(t *testing.T) {
	fx := newFinalizerFixture(t, 5)
	ps := paidSession("cs_unknown")
	ps.Cart = `[{"id":"999","quantity":1},{"id":"103","quantity":0}]`

	_, err := fx.f.Finalize(context.Background(), ps)
	require.NoError(t, err)

	o, _ := fx.store.FindOrderBySession(context.Background(), "cs_unknown")
	require.Len(t, o.Products, 1)
	assert.Equal(t, "103", o.Products[0].ID)
	assert.Equal(t, 1, o.Products[0].Quantity)
	assert.Equal(t, 4, fx.stock(t, "103"))
}

func TestFinalizePickupKeepsPoint(t *testing.T) {
	fx := newFinalizerFixture(t, 5)
	ps := paidSession("cs_pickup")
	ps.DeliveryMode = order.DeliveryPickup
	ps.AmountTotal = 7388
	ps.PickupPoint = &order.PickupPoint{ID: "10234", Name: "Tabac du Centre", Carrier: "chronopost"}

	out, err := fx.f.Finalize(context.Background(), ps)
	require.NoError(t, err)
	assert.False(t, out.TotalMismatch)

	o, _ := fx.store.FindOrderBySession(context.Background(), "cs_pickup")
	require.NotNil(t, o.PickupPoint)
	assert.Equal(t, "10234", o.PickupPoint.ID)
}

func TestFinalizeUnknownRecipientStillCreatesOrder(t *testing.T) {
	fx := newFinalizerFixture(t, 5)
	ps := paidSession("cs_norecipient")
	ps.CustomerEmail = "unknown"

	out, err := fx.f.Finalize(context.Background(), ps)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out.Status)
	assert.NotEmpty(t, out.EmailError)

	o, _ := fx.store.FindOrderBySession(context.Background(), "cs_norecipient")
	assert.False(t, o.EmailSent)
	assert.Equal(t, 1, o.EmailAttempts)
	assert.Empty(t, fx.outbox.Sent())
}

func TestFinalizeDeadLetterAndReplay(t *testing.T) {
	fx := newFinalizerFixture(t, 5)
	fx.orders.createErr = errors.New("write concern timeout")

	out, err := fx.f.Finalize(context.Background(), paidSession("cs_dl"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLettered, out.Status)
	require.NotEmpty(t, out.DeadLetterID)
	assert.Equal(t, 4, fx.stock(t, "101"))

	dl, err := fx.store.FindDeadLetter(context.Background(), out.DeadLetterID)
	require.NoError(t, err)
	assert.True(t, dl.StockAdjusted)
	assert.Empty(t, dl.PendingStock)
	assert.Equal(t, "cs_dl", dl.StripeSessionID)
	assert.Equal(t, "write concern timeout", dl.Error)

	_, err = fx.f.Replay(context.Background(), dl.ID)
	assert.Error(t, err)
	dl, _ = fx.store.FindDeadLetter(context.Background(), out.DeadLetterID)
	assert.Equal(t, 2, dl.Attempts)
	assert.Nil(t, dl.ResolvedAt)

	fx.orders.mu.Lock()
	fx.orders.createErr = nil
	fx.orders.mu.Unlock()

	replayed, err := fx.f.Replay(context.Background(), dl.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, replayed.Status)
	assert.Equal(t, 4, fx.stock(t, "101"))
	assert.Len(t, fx.outbox.Sent(), 1)

	dl, _ = fx.store.FindDeadLetter(context.Background(), out.DeadLetterID)
	assert.NotNil(t, dl.ResolvedAt)

	_, err = fx.f.Replay(context.Background(), dl.ID)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func (fx *finalizerFixture) setCreateErr(err error) {
	fx.orders.mu.Lock()
	defer fx.orders.mu.Unlock()
	fx.orders.createErr = err
}

func TestFinalizeStockErrorsReplayed(t *testing.T) {
	fx := newFinalizerFixture(t, 5)
	fx.products.fail("", errors.New("connection reset"))
	fx.setCreateErr(errors.New("write concern timeout"))

	out, err := fx.f.Finalize(context.Background(), paidSession("cs_stock"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLettered, out.Status)
	assert.Empty(t, out.Shortfalls)
	assert.Equal(t, 5, fx.stock(t, "101"))
	assert.Equal(t, 5, fx.stock(t, "102"))

	dl, err := fx.store.FindDeadLetter(context.Background(), out.DeadLetterID)
	require.NoError(t, err)
	assert.False(t, dl.StockAdjusted)
	assert.Equal(t, []order.StockLine{{ProductID: "101", Quantity: 1}, {ProductID: "102", Quantity: 1}}, dl.PendingStock)

	// A failed replay leaves stock alone.
	fx.products.fail("", nil)
	_, err = fx.f.Replay(context.Background(), dl.ID)
	require.Error(t, err)
	assert.Equal(t, 5, fx.stock(t, "101"))

	fx.setCreateErr(nil)
	replayed, err := fx.f.Replay(context.Background(), dl.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, replayed.Status)
	assert.Equal(t, 4, fx.stock(t, "101"))
	assert.Equal(t, 4, fx.stock(t, "102"))
}

func TestFinalizePartialStockErrorReplaysOnlyFailedLine(t *testing.T) {
	fx := newFinalizerFixture(t, 5)
	fx.products.fail("102", errors.New("connection reset"))
	fx.setCreateErr(errors.New("write concern timeout"))

	out, err := fx.f.Finalize(context.Background(), paidSession("cs_partial"))
	require.NoError(t, err)
	require.Equal(t, OutcomeDeadLettered, out.Status)
	assert.Equal(t, 4, fx.stock(t, "101"))
	assert.Equal(t, 5, fx.stock(t, "102"))

	dl, err := fx.store.FindDeadLetter(context.Background(), out.DeadLetterID)
	require.NoError(t, err)
	assert.False(t, dl.StockAdjusted)
	assert.Equal(t, []order.StockLine{{ProductID: "102", Quantity: 1}}, dl.PendingStock)

	fx.products.fail("", nil)
	fx.setCreateErr(nil)
	_, err = fx.f.Replay(context.Background(), dl.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, fx.stock(t, "101"))
	assert.Equal(t, 4, fx.stock(t, "102"))
}

func TestReplayAdjustsStockWhenNotDone(t *testing.T) {
	fx := newFinalizerFixture(t, 5)
	dl := &order.DeadLetter{StripeSessionID: "cs_manual", Session: paidSession("cs_manual")}
	require.NoError(t, fx.store.SaveDeadLetter(context.Background(), dl))

	out, err := fx.f.Replay(context.Background(), dl.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out.Status)
	assert.Equal(t, 4, fx.stock(t, "101"))
}

func TestHandleEventIgnoresOtherTypes(t *testing.T) {
	fx := newFinalizerFixture(t, 5)

	out, err := fx.f.HandleEvent(context.Background(), []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out.Status)

	_, err = fx.f.HandleEvent(context.Background(), []byte(`not json`))
	assert.ErrorIs(t, err, ErrUnsupportedEvent)
}
