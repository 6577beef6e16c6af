package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-bizops/internal/apiclient"
	"github.com/noah-isme/backend-bizops/internal/invoice"
	"github.com/noah-isme/backend-bizops/internal/lock"
	"github.com/noah-isme/backend-bizops/internal/payment"
	"github.com/noah-isme/backend-bizops/internal/prefs"
	"github.com/noah-isme/backend-bizops/internal/pricing"
	"github.com/noah-isme/backend-bizops/internal/queue"
)

type fakeOrders struct {
	mu     sync.Mutex
	err    error
	delay  time.Duration
	onCall func()
	calls  []apiclient.OrderRequest
}

func (f *fakeOrders) CreateOrder(_ context.Context, req apiclient.OrderRequest) (apiclient.OrderResponse, error) {
	if f.onCall != nil {
		f.onCall()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return apiclient.OrderResponse{}, f.err
	}
	return apiclient.OrderResponse{ID: "ord-1", Status: "confirmed"}, nil
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePayments struct {
	mu    sync.Mutex
	err   error
	calls []payment.Record
}

func (f *fakePayments) Record(_ context.Context, rec payment.Record) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rec)
	if f.err != nil {
		return "", f.err
	}
	return "pay-1", nil
}

type flakyBook struct {
	*prefs.Store
	failures int
}

func (b *flakyBook) NextInvoiceCount(ctx context.Context) (int64, error) {
	if b.failures > 0 {
		b.failures--
		return 0, errors.New("redis down")
	}
	return b.Store.NextInvoiceCount(ctx)
}

type memInvoices struct {
	mu      sync.Mutex
	saveErr error
	items   map[string]invoice.Invoice
}

func (m *memInvoices) Save(_ context.Context, inv invoice.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.items[inv.Number] = inv
	return nil
}

func (m *memInvoices) Get(_ context.Context, number string) (invoice.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.items[number]
	if !ok {
		return invoice.Invoice{}, invoice.ErrNotFound
	}
	return inv, nil
}

type fixture struct {
	svc      *Service
	orders   *fakeOrders
	payments *fakePayments
	book     *prefs.Store
	invoices *memInvoices
	rdb      *redis.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		orders:   &fakeOrders{},
		payments: &fakePayments{},
		book:     &prefs.Store{R: client},
		invoices: &memInvoices{items: map[string]invoice.Invoice{}},
		rdb:      client,
	}
	f.svc = &Service{
		Sessions:       NewStore(client, time.Hour),
		Orders:         f.orders,
		Payments:       f.payments,
		Book:           f.book,
		Invoices:       f.invoices,
		Orgs:           &invoice.OrgResolver{Defaults: invoice.Organization{Name: "Bizops Wholesale", GSTIN: "29AAACB1234Q1Z9"}},
		Locker:         lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond},
		LockTTL:        5 * time.Second,
		NumberTemplate: "INV-{YYYY}{MM}-{SEQ5}",
		Currency:       "INR",
		Now:            func() time.Time { return time.Date(2024, time.October, 5, 10, 0, 0, 0, time.UTC) },
		Logger:         zerolog.Nop(),
	}
	return f
}

// readySession walks a session to the Payment step.
func (f *fixture) readySession(t *testing.T, method payment.Method) *Session {
	t.Helper()
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, Start{
		Customer: apiclient.Customer{ID: "c1", Name: "Asha Traders"},
		Items: []pricing.LineItem{
			{ProductID: "a", Name: "Widget", SalePrice: decimal.NewFromInt(100), PurchasePrice: decimal.NewFromInt(60), CGST: decimal.NewFromInt(9), SGST: decimal.NewFromInt(9)},
			{ProductID: "b", Name: "Gadget", SalePrice: decimal.NewFromInt(50)},
		},
		Selections: pricing.SelectionMap{"a": {Quantity: 2}},
		Shipping:   decimal.RequireFromString("0.60"),
	})
	require.NoError(t, err)

	_, err = f.svc.Advance(ctx, sess.ID)
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, sess.ID, Patch{Address: &apiclient.Address{Line: "1 Main St", City: "Pune", State: "MH", Pin: "411001"}})
	require.NoError(t, err)
	sess, err = f.svc.Advance(ctx, sess.ID)
	require.NoError(t, err)
	if method != "" {
		sess, err = f.svc.Update(ctx, sess.ID, Patch{Payment: &PaymentInput{Method: method, Reference: "UTR9"}})
		require.NoError(t, err)
	}
	require.Equal(t, StepPayment, sess.Step)
	return sess
}

func TestSubmitSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.readySession(t, payment.MethodUPI)

	res, err := f.svc.Submit(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "ord-1", res.OrderID)
	require.Equal(t, "INV-202410-00001", res.InvoiceNumber)
	require.True(t, res.PaymentRecorded)
	require.True(t, decimal.RequireFromString("200.6").Equal(res.Totals.GrandTotal))
	require.True(t, decimal.NewFromInt(201).Equal(res.Totals.RoundedTotal))

	require.Len(t, f.orders.calls, 1)
	req := f.orders.calls[0]
	require.Len(t, req.Items, 1)
	require.Equal(t, "a", req.Items[0].ProductID)
	require.EqualValues(t, 2, req.Items[0].Quantity)
	require.True(t, decimal.NewFromInt(60).Equal(req.Items[0].PurchasePrice))
	require.Equal(t, pricing.ModeAutomatic, req.DiscountMode)
	require.Equal(t, "upi", req.PaymentMethod)
	require.Equal(t, "INV-202410-00001", req.InvoiceNumber)
	require.Equal(t, "411001", req.Address.Pin)

	require.Len(t, f.payments.calls, 1)
	require.Equal(t, "ord-1", f.payments.calls[0].OrderID)
	require.True(t, decimal.NewFromInt(201).Equal(f.payments.calls[0].Amount))
	require.Equal(t, "UTR9", f.payments.calls[0].Reference)

	inv, err := f.invoices.Get(ctx, "INV-202410-00001")
	require.NoError(t, err)
	require.Equal(t, "ord-1", inv.OrderID)
	require.Equal(t, "Bizops Wholesale", inv.Organization.Name)
	require.True(t, inv.Payment.Recorded)
	require.Len(t, inv.Lines, 1)

	orders, err := f.book.RecentOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, "INV-202410-00001", orders[0].InvoiceNumber)

	_, err = f.svc.Get(ctx, sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.svc.Submit(ctx, sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Len(t, f.orders.calls, 1)
}

func TestSubmitNumbersAreSequential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, f.readySession(t, payment.MethodCash).ID)
	require.NoError(t, err)
	second, err := f.svc.Submit(ctx, f.readySession(t, payment.MethodCash).ID)
	require.NoError(t, err)
	require.Equal(t, "INV-202410-00001", first.InvoiceNumber)
	require.Equal(t, "INV-202410-00002", second.InvoiceNumber)

	orders, err := f.book.RecentOrders(ctx)
	require.NoError(t, err)
	require.Equal(t, "INV-202410-00002", orders[0].InvoiceNumber)
}

func TestSubmitOrderFailureKeepsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orders.err = &apiclient.Error{Op: "create_order", Status: 422, Message: "customer blocked"}
	sess := f.readySession(t, payment.MethodCard)

	_, err := f.svc.Submit(ctx, sess.ID)
	require.ErrorIs(t, err, ErrOrderFailed)
	require.Equal(t, 422, apiclient.StatusOf(err))
	require.Empty(t, f.payments.calls)

	_, err = f.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Empty(t, f.invoices.items)

	f.orders.err = nil
	res, err := f.svc.Submit(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "INV-202410-00002", res.InvoiceNumber, "a rejected order leaves a gap")
}

func TestSubmitCounterFailurePlacesNoOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.Book = &flakyBook{Store: f.book, failures: 1}
	sess := f.readySession(t, payment.MethodCash)

	_, err := f.svc.Submit(ctx, sess.ID)
	require.EqualError(t, err, "next invoice count: redis down")
	require.Zero(t, f.orders.count())
	require.Empty(t, f.payments.calls)

	res, err := f.svc.Submit(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "INV-202410-00001", res.InvoiceNumber)
	require.Equal(t, 1, f.orders.count())
	require.Len(t, f.payments.calls, 1)
}

func TestSubmitPaymentFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.payments.err = errors.New("payment endpoint down")
	sess := f.readySession(t, payment.MethodBankTransfer)

	res, err := f.svc.Submit(ctx, sess.ID)
	require.NoError(t, err)
	require.False(t, res.PaymentRecorded)
	require.Equal(t, "INV-202410-00001", res.InvoiceNumber)

	inv, err := f.invoices.Get(ctx, res.InvoiceNumber)
	require.NoError(t, err)
	require.False(t, inv.Payment.Recorded)

	_, err = f.svc.Get(ctx, sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSubmitDefersFailedArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	retry := queue.Enqueuer{R: f.rdb, Prefix: "test"}
	f.svc.ArchiveRetry = retry
	f.invoices.saveErr = errors.New("archive offline")

	res, err := f.svc.Submit(ctx, f.readySession(t, payment.MethodCash).ID)
	require.NoError(t, err)

	pending, err := f.rdb.ZRange(ctx, "test:queue:"+invoice.ArchiveKind, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	var msg struct {
		Key     string `json:"key"`
		Payload []byte `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(pending[0]), &msg))
	require.Equal(t, "default:"+res.InvoiceNumber, msg.Key)

	f.invoices.saveErr = nil
	handle := invoice.ArchiveHandler(f.invoices, zerolog.Nop())
	require.NoError(t, handle(ctx, queue.Task{Kind: invoice.ArchiveKind, Payload: msg.Payload, Attempt: 1}))

	inv, err := f.invoices.Get(ctx, res.InvoiceNumber)
	require.NoError(t, err)
	require.True(t, inv.Totals.RoundedTotal.Equal(decimal.NewFromInt(201)))
}

func TestSubmitRequiresPaymentStepAndMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Create(ctx, Start{Selections: pricing.SelectionMap{"a": {Quantity: 1}}})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, sess.ID)
	require.ErrorIs(t, err, ErrInvalidStep)

	ready := f.readySession(t, "")
	_, err = f.svc.Submit(ctx, ready.ID)
	require.ErrorIs(t, err, ErrPaymentMethodRequired)
	require.Zero(t, f.orders.count())
}

func TestUpdateRejectsUnknownPaymentMethod(t *testing.T) {
	f := newFixture(t)
	sess := f.readySession(t, "")
	_, err := f.svc.Update(context.Background(), sess.ID, Patch{Payment: &PaymentInput{Method: "cheque"}})
	require.ErrorIs(t, err, payment.ErrUnknownMethod)
}

func TestUnknownDiscountModeIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, Start{Discount: pricing.DiscountConfig{Mode: "bogus"}})
	require.ErrorIs(t, err, pricing.ErrUnknownDiscountMode)

	sess := f.readySession(t, payment.MethodCash)
	_, err = f.svc.Update(ctx, sess.ID, Patch{Discount: &pricing.DiscountConfig{Mode: "bogus"}})
	require.ErrorIs(t, err, pricing.ErrUnknownDiscountMode)

	got, err := f.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Empty(t, got.Discount.Mode)
}

func TestSubmittedLineDiscountsMatchTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, Start{
		Items: []pricing.LineItem{
			{ProductID: "a", Name: "Widget", SalePrice: decimal.NewFromInt(100), DiscountValue: decimal.NewFromInt(10), DiscountType: pricing.DiscountPercentage},
		},
		Selections: pricing.SelectionMap{"a": {Quantity: 2}},
	})
	require.NoError(t, err)
	_, err = f.svc.Advance(ctx, sess.ID)
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, sess.ID, Patch{
		Address: &apiclient.Address{Line: "1 Main St", City: "Pune", State: "MH", Pin: "411001"},
		Payment: &PaymentInput{Method: payment.MethodCash},
	})
	require.NoError(t, err)
	_, err = f.svc.Advance(ctx, sess.ID)
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, sess.ID)
	require.NoError(t, err)
	req := f.orders.calls[0]
	sum := decimal.Zero
	for _, it := range req.Items {
		sum = sum.Add(it.Discount)
	}
	require.True(t, decimal.NewFromInt(20).Equal(req.Totals.Discount))
	require.True(t, sum.Equal(req.Totals.Discount))
}

func TestUpdateDuringSubmitDoesNotRestoreSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.readySession(t, payment.MethodUPI)

	inFlight := make(chan struct{})
	f.orders.onCall = func() { close(inFlight) }
	f.orders.delay = 50 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Submit(ctx, sess.ID)
		done <- err
	}()
	<-inFlight

	note := "late edit"
	_, err := f.svc.Update(ctx, sess.ID, Patch{Notes: &note})
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.NoError(t, <-done)

	_, err = f.svc.Get(ctx, sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.svc.Submit(ctx, sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Equal(t, 1, f.orders.count())
}

func TestUpdateMergesSelections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.readySession(t, "")

	updated, err := f.svc.Update(ctx, sess.ID, Patch{Selections: pricing.SelectionMap{"b": {Quantity: 4}, "a": {Quantity: 0}}})
	require.NoError(t, err)
	require.Equal(t, pricing.SelectionMap{"b": {Quantity: 4}}, updated.Selections)
}

func TestConcurrentSubmitsPlaceOneOrder(t *testing.T) {
	f := newFixture(t)
	f.orders.delay = 50 * time.Millisecond
	sess := f.readySession(t, payment.MethodUPI)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Submit(context.Background(), sess.ID)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, f.orders.count())
	var ok, gone int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSessionNotFound):
			gone++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, gone)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.readySession(t, "")
	require.NoError(t, f.svc.Cancel(ctx, sess.ID))
	require.ErrorIs(t, f.svc.Cancel(ctx, sess.ID), ErrSessionNotFound)
}
