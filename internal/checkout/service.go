package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-bizops/internal/apiclient"
	"github.com/noah-isme/backend-bizops/internal/cache"
	"github.com/noah-isme/backend-bizops/internal/invoice"
	"github.com/noah-isme/backend-bizops/internal/lock"
	"github.com/noah-isme/backend-bizops/internal/obs"
	"github.com/noah-isme/backend-bizops/internal/payment"
	"github.com/noah-isme/backend-bizops/internal/prefs"
	"github.com/noah-isme/backend-bizops/internal/pricing"
	"github.com/noah-isme/backend-bizops/internal/queue"
)

var (
	// ErrPaymentMethodRequired is returned when submitting without a payment method.
	ErrPaymentMethodRequired = errors.New("checkout: payment method required")
	// ErrOrderFailed wraps a rejected or failed order-creation call.
	ErrOrderFailed = errors.New("checkout: order creation failed")
)

// OrderCreator posts assembled orders to the system of record.
type OrderCreator interface {
	CreateOrder(ctx context.Context, order apiclient.OrderRequest) (apiclient.OrderResponse, error)
}

// OrderBook hands out invoice sequence numbers and caches submitted orders.
type OrderBook interface {
	NextInvoiceCount(ctx context.Context) (int64, error)
	AppendOrder(ctx context.Context, summary prefs.OrderSummary) error
}

// ArchiveRetrier defers invoice snapshots whose first save failed.
type ArchiveRetrier interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Service orchestrates the checkout flow.
type Service struct {
	Sessions       *Store
	Orders         OrderCreator
	Payments       payment.Recorder
	Book           OrderBook
	Invoices       invoice.Store
	ArchiveRetry   ArchiveRetrier
	Orgs           *invoice.OrgResolver
	Locker         lock.Locker
	LockTTL        time.Duration
	NumberTemplate string
	Currency       string
	Now            func() time.Time
	Logger         zerolog.Logger
}

// Start is the payload that opens a session.
type Start struct {
	Customer    apiclient.Customer     `json:"customer"`
	WarehouseID string                 `json:"warehouseId"`
	Items       []pricing.LineItem     `json:"items" validate:"dive"`
	Selections  pricing.SelectionMap   `json:"selections"`
	Discount    pricing.DiscountConfig `json:"discount"`
	Shipping    decimal.Decimal        `json:"shipping"`
}

// Patch carries optional session updates. Nil fields are left untouched.
type Patch struct {
	Customer    *apiclient.Customer     `json:"customer,omitempty"`
	WarehouseID *string                 `json:"warehouseId,omitempty"`
	Items       []pricing.LineItem      `json:"items,omitempty" validate:"omitempty,dive"`
	Selections  pricing.SelectionMap    `json:"selections,omitempty"`
	Discount    *pricing.DiscountConfig `json:"discount,omitempty"`
	Shipping    *decimal.Decimal        `json:"shipping,omitempty"`
	Address     *apiclient.Address      `json:"address,omitempty"`
	Payment     *PaymentInput           `json:"payment,omitempty"`
	Notes       *string                 `json:"notes,omitempty"`
}

// Result is returned by a successful submit.
type Result struct {
	OrderID         string              `json:"orderId"`
	InvoiceNumber   string              `json:"invoiceNumber"`
	PaymentRecorded bool                `json:"paymentRecorded"`
	Totals          pricing.OrderTotals `json:"totals"`
}

// Create opens a session at the Cart step.
func (s *Service) Create(ctx context.Context, in Start) (*Session, error) {
	if err := in.Discount.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	sess := &Session{
		ID:          NewID(),
		Step:        StepCart,
		Customer:    in.Customer,
		WarehouseID: in.WarehouseID,
		Items:       in.Items,
		Selections:  in.Selections,
		Discount:    in.Discount,
		Shipping:    in.Shipping,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if sess.Selections == nil {
		sess.Selections = pricing.SelectionMap{}
	}
	if err := s.Sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a session.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.Sessions.Get(ctx, id)
}

// Update applies p to the session.
func (s *Service) Update(ctx context.Context, id string, p Patch) (*Session, error) {
	if p.Payment != nil && p.Payment.Method != "" {
		m, err := payment.ParseMethod(string(p.Payment.Method))
		if err != nil {
			return nil, err
		}
		p.Payment.Method = m
	}
	if p.Discount != nil {
		if err := p.Discount.Validate(); err != nil {
			return nil, err
		}
	}
	return s.mutate(ctx, id, func(sess *Session) error {
		if p.Customer != nil {
			sess.Customer = *p.Customer
		}
		if p.WarehouseID != nil {
			sess.WarehouseID = *p.WarehouseID
		}
		if p.Items != nil {
			sess.Items = p.Items
		}
		if p.Selections != nil {
			if sess.Selections == nil {
				sess.Selections = pricing.SelectionMap{}
			}
			for productID, sel := range p.Selections {
				if sel.Quantity <= 0 && sel.SalePrice == nil {
					delete(sess.Selections, productID)
					continue
				}
				sess.Selections[productID] = sel
			}
		}
		if p.Discount != nil {
			sess.Discount = *p.Discount
		}
		if p.Shipping != nil {
			sess.Shipping = *p.Shipping
		}
		if p.Address != nil {
			sess.Address = *p.Address
		}
		if p.Payment != nil {
			sess.Payment = *p.Payment
		}
		if p.Notes != nil {
			sess.Notes = *p.Notes
		}
		return nil
	})
}

// Advance moves the session forward one step.
func (s *Service) Advance(ctx context.Context, id string) (*Session, error) {
	return s.mutate(ctx, id, (*Session).Advance)
}

// Back moves the session backward one step.
func (s *Service) Back(ctx context.Context, id string) (*Session, error) {
	return s.mutate(ctx, id, (*Session).Back)
}

// Cancel discards a session.
func (s *Service) Cancel(ctx context.Context, id string) error {
	ok, err := s.Sessions.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// mutate holds the same lock as Submit, so an edit racing a submit either
// lands before the order is placed or finds the session gone.
func (s *Service) mutate(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	var sess *Session
	err := s.Locker.WithLock(ctx, cache.KeySession(ctx, id), s.LockTTL, func(ctx context.Context) error {
		var err error
		if sess, err = s.Sessions.Get(ctx, id); err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		sess.UpdatedAt = s.now()
		return s.Sessions.Save(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Submit places the order for a session at the Payment step. Concurrent
// submits of one session are serialised; the loser finds the session gone.
// Once the order is accepted upstream Submit never fails: later steps are
// logged and the session is already deleted.
func (s *Service) Submit(ctx context.Context, id string) (Result, error) {
	ctx, span := otel.Tracer("checkout").Start(ctx, "checkout.submit")
	defer span.End()
	span.SetAttributes(attribute.String("checkout.session_id", id))

	var res Result
	err := s.Locker.WithLock(ctx, cache.KeySession(ctx, id), s.LockTTL, func(ctx context.Context) error {
		var err error
		res, err = s.submit(ctx, id)
		return err
	})
	switch {
	case err == nil && res.PaymentRecorded:
		obs.ObserveCounter(obs.CheckoutSubmitTotal, "ok")
	case err == nil:
		obs.ObserveCounter(obs.CheckoutSubmitTotal, "payment_unrecorded")
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrInvalidStep), errors.Is(err, ErrPaymentMethodRequired):
		obs.ObserveCounter(obs.CheckoutSubmitTotal, "rejected")
	default:
		obs.ObserveCounter(obs.CheckoutSubmitTotal, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if err == nil {
		span.SetAttributes(
			attribute.String("checkout.order_id", res.OrderID),
			attribute.String("checkout.invoice_number", res.InvoiceNumber),
		)
	}
	return res, err
}

func (s *Service) submit(ctx context.Context, id string) (Result, error) {
	sess, err := s.Sessions.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if sess.Step != StepPayment {
		return Result{}, &StepError{From: sess.Step}
	}
	if sess.Payment.Method == "" {
		return Result{}, ErrPaymentMethodRequired
	}
	if !sess.hasSelectedItem() {
		return Result{}, &StepError{From: sess.Step, Missing: []string{"selections"}}
	}

	now := s.now().UTC()
	totals := sess.Totals()
	log := s.Logger.With().Str("session_id", sess.ID).Logger()

	// The number is reserved before anything goes upstream so it can travel
	// with the order. A rejected order leaves a gap in the sequence.
	seq, err := s.Book.NextInvoiceCount(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("next invoice count: %w", err)
	}
	number, err := invoice.FormatNumber(s.NumberTemplate, now, seq)
	if err != nil {
		return Result{}, err
	}
	log = log.With().Str("invoice", number).Logger()

	order, err := s.Orders.CreateOrder(ctx, s.orderRequest(sess, totals, number, now))
	if err != nil {
		log.Error().Err(err).Msg("create order failed")
		return Result{}, fmt.Errorf("%w: %w", ErrOrderFailed, err)
	}
	log = log.With().Str("order_id", order.ID).Logger()
	if _, err := s.Sessions.Delete(ctx, sess.ID); err != nil {
		log.Warn().Err(err).Msg("delete submitted session")
	}

	paymentRecorded := true
	if _, err := s.Payments.Record(ctx, payment.Record{
		OrderID:   order.ID,
		Amount:    totals.RoundedTotal,
		Method:    sess.Payment.Method,
		Reference: sess.Payment.Reference,
		PaidAt:    now,
	}); err != nil {
		paymentRecorded = false
		log.Error().Err(err).Str("method", string(sess.Payment.Method)).Msg("payment record failed after order was created")
	}

	inv := invoice.Freeze(number, now, s.Currency, s.Orgs.Resolve(ctx), invoice.Draft{
		OrderID:    order.ID,
		Customer:   invoice.Customer{Name: sess.Customer.Name, Phone: sess.Customer.Phone, Email: sess.Customer.Email, GSTIN: sess.Customer.GSTIN},
		Address:    invoice.Address(sess.Address),
		Items:      sess.Items,
		Selections: sess.Selections,
		Discount:   sess.Discount,
		Shipping:   sess.Shipping,
		Payment:    invoice.Payment{Method: string(sess.Payment.Method), Reference: sess.Payment.Reference, Recorded: paymentRecorded},
		Notes:      sess.Notes,
	})
	if s.Invoices != nil {
		if err := s.Invoices.Save(ctx, inv); err != nil && !errors.Is(err, invoice.ErrDuplicate) {
			log.Error().Err(err).Msg("archive invoice")
			s.deferArchive(ctx, inv)
		}
	}

	if err := s.Book.AppendOrder(ctx, prefs.OrderSummary{
		OrderID:       order.ID,
		InvoiceNumber: number,
		CustomerName:  sess.Customer.Name,
		GrandTotal:    totals.RoundedTotal,
		PaymentMethod: string(sess.Payment.Method),
		PlacedAt:      now,
	}); err != nil {
		log.Warn().Err(err).Msg("cache recent order")
	}

	log.Info().Bool("payment_recorded", paymentRecorded).Msg("checkout submitted")
	return Result{
		OrderID:         order.ID,
		InvoiceNumber:   number,
		PaymentRecorded: paymentRecorded,
		Totals:          totals,
	}, nil
}

func (s *Service) orderRequest(sess *Session, totals pricing.OrderTotals, number string, now time.Time) apiclient.OrderRequest {
	lines := pricing.Lines(sess.Items, sess.Selections, sess.Discount)
	items := make([]apiclient.OrderItem, 0, len(lines))
	purchase := make(map[string]decimal.Decimal, len(sess.Items))
	for _, it := range sess.Items {
		purchase[it.ProductID] = it.PurchasePrice
	}
	for _, l := range lines {
		items = append(items, apiclient.OrderItem{
			ProductID:     l.ProductID,
			Name:          l.Name,
			Quantity:      l.Quantity,
			SalePrice:     l.UnitPrice,
			PurchasePrice: purchase[l.ProductID],
			CGST:          l.CGSTRate,
			SGST:          l.SGSTRate,
			Cess:          l.CessRate,
			Discount:      l.Discount,
			OfferName:     l.OfferName,
		})
	}
	mode := sess.Discount.Mode
	if mode == "" {
		mode = pricing.ModeAutomatic
	}
	return apiclient.OrderRequest{
		Customer:      sess.Customer,
		Address:       sess.Address,
		WarehouseID:   sess.WarehouseID,
		Items:         items,
		DiscountMode:  mode,
		Totals:        totals,
		PaymentMethod: string(sess.Payment.Method),
		InvoiceNumber: number,
		Notes:         sess.Notes,
		PlacedAt:      now,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) deferArchive(ctx context.Context, inv invoice.Invoice) {
	if s.ArchiveRetry == nil {
		return
	}
	task, err := invoice.NewArchiveTask(ctx, inv)
	if err == nil {
		err = s.ArchiveRetry.Enqueue(context.WithoutCancel(ctx), task)
	}
	if err != nil {
		s.Logger.Error().Err(err).Str("invoice", inv.Number).Msg("queue invoice archive retry")
	}
}
