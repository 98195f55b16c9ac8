package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lasweety/sweetyshop/internal/catalog"
	"github.com/lasweety/sweetyshop/internal/events"
	"github.com/lasweety/sweetyshop/internal/logger"
	"github.com/lasweety/sweetyshop/internal/storage"
	"github.com/lasweety/sweetyshop/internal/types/order"
	"github.com/lasweety/sweetyshop/internal/util/ordernum"
)

var ErrAlreadyResolved = errors.New("dead letter already resolved")

// totalTolerance is the accepted drift between the paid and recomputed totals.
var totalTolerance = decimal.RequireFromString("0.01")

type OutcomeStatus string

const (
	OutcomeIgnored      OutcomeStatus = "ignored"
	OutcomeDuplicate    OutcomeStatus = "duplicate"
	OutcomeCreated      OutcomeStatus = "created"
	OutcomeDeadLettered OutcomeStatus = "dead_lettered"
)

type Shortfall struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Outcome reports what one webhook delivery did.
type Outcome struct {
	Status        OutcomeStatus `json:"status"`
	SessionID     string        `json:"sessionId,omitempty"`
	OrderID       string        `json:"orderId,omitempty"`
	OrderNumber   string        `json:"orderNumber,omitempty"`
	DeadLetterID  string        `json:"deadLetterId,omitempty"`
	Shortfalls    []Shortfall   `json:"shortfalls,omitempty"`
	TotalMismatch bool          `json:"totalMismatch,omitempty"`
	EmailError    string        `json:"emailError,omitempty"`
}

type Gabarits struct {
	Small catalog.Gabarit
	Large catalog.Gabarit
}

// Finalizer turns a paid checkout session into exactly one order.
type Finalizer struct {
	catalog     *catalog.Catalog
	gabarits    Gabarits
	shipping    Shipping
	products    ProductRepository
	orders      OrderRepository
	deadLetters DeadLetterRepository
	confirmer   ConfirmationSender
	publisher   EventPublisher
	now         func() time.Time
}

func NewFinalizer(
	cat *catalog.Catalog,
	gabarits Gabarits,
	shipping Shipping,
	products ProductRepository,
	orders OrderRepository,
	deadLetters DeadLetterRepository,
	confirmer ConfirmationSender,
	publisher EventPublisher,
) *Finalizer {
	return &Finalizer{
		catalog:     cat,
		gabarits:    gabarits,
		shipping:    shipping,
		products:    products,
		orders:      orders,
		deadLetters: deadLetters,
		confirmer:   confirmer,
		publisher:   publisher,
		now:         time.Now,
	}
}

// HandleEvent processes a verified webhook payload.
func (f *Finalizer) HandleEvent(ctx context.Context, payload []byte) (*Outcome, error) {
	ps, eventType, ok, err := DecodeCompletedSession(payload)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Log.Debug("webhook event ignored", zap.String("type", eventType))
		return &Outcome{Status: OutcomeIgnored}, nil
	}
	return f.Finalize(ctx, ps)
}

// Finalize runs the duplicate check, stock adjustment, order creation and
// confirmation for one paid session. The returned error is non-nil only when
// nothing was changed, so the provider can safely redeliver.
func (f *Finalizer) Finalize(ctx context.Context, ps order.PaidSession) (*Outcome, error) {
	log := logger.Log.With(zap.String("session_id", ps.SessionID))
	out := &Outcome{SessionID: ps.SessionID}

	if existing, err := f.orders.FindOrderBySession(ctx, ps.SessionID); err == nil {
		log.Info("webhook ignored, order already recorded", zap.String("order_number", existing.OrderNumber))
		out.Status = OutcomeDuplicate
		out.OrderID = existing.ID
		out.OrderNumber = existing.OrderNumber
		return out, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}

	cart := f.parseCart(ps)
	o := f.buildOrder(ps, cart, out)

	shortfalls, pending := f.adjustStock(ctx, cart)
	out.Shortfalls = shortfalls

	dl := &order.DeadLetter{
		StripeSessionID: ps.SessionID,
		Session:         ps,
		StockAdjusted:   len(pending) == 0,
		PendingStock:    pending,
	}
	f.materialize(ctx, o, dl, out)
	return out, nil
}

// Replay retries a dead-lettered session. Only the decrements that errored
// during the failed attempt are applied, and only once the order exists.
func (f *Finalizer) Replay(ctx context.Context, id string) (*Outcome, error) {
	dl, err := f.deadLetters.FindDeadLetter(ctx, id)
	if err != nil {
		return nil, err
	}
	if dl.ResolvedAt != nil {
		return nil, ErrAlreadyResolved
	}
	out := &Outcome{SessionID: dl.StripeSessionID, DeadLetterID: dl.ID}

	if existing, err := f.orders.FindOrderBySession(ctx, dl.StripeSessionID); err == nil {
		out.Status = OutcomeDuplicate
		out.OrderID = existing.ID
		out.OrderNumber = existing.OrderNumber
		return out, f.deadLetters.ResolveDeadLetter(ctx, dl.ID, f.now().UTC())
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}

	cart := f.parseCart(dl.Session)
	o := f.buildOrder(dl.Session, cart, out)

	if err := f.orders.CreateOrder(ctx, o); err != nil {
		if errors.Is(err, storage.ErrDuplicateOrder) {
			out.Status = OutcomeDuplicate
			return out, f.deadLetters.ResolveDeadLetter(ctx, dl.ID, f.now().UTC())
		}
		if rerr := f.deadLetters.RecordDeadLetterAttempt(ctx, dl.ID, err.Error()); rerr != nil {
			logger.Log.Error("record dead letter attempt", zap.String("dead_letter_id", dl.ID), zap.Error(rerr))
		}
		return nil, fmt.Errorf("replay create order: %w", err)
	}
	if pending := f.pendingLines(dl, cart); len(pending) > 0 {
		var failed []order.StockLine
		out.Shortfalls, failed = f.adjustStock(ctx, pending)
		if len(failed) > 0 {
			logger.Log.Error("stock still not adjusted after replay",
				zap.String("dead_letter_id", dl.ID),
				zap.Int("lines", len(failed)),
			)
		}
	}
	if err := f.deadLetters.ResolveDeadLetter(ctx, dl.ID, f.now().UTC()); err != nil {
		logger.Log.Error("resolve dead letter", zap.String("dead_letter_id", dl.ID), zap.Error(err))
	}
	out.Status = OutcomeCreated
	out.OrderID = o.ID
	out.OrderNumber = o.OrderNumber
	f.afterCreate(ctx, o, out)
	return out, nil
}

func (f *Finalizer) ListDeadLetters(ctx context.Context) ([]order.DeadLetter, error) {
	return f.deadLetters.ListDeadLetters(ctx)
}

// resolvedLine is a metadata cart line re-priced from the catalog.
type resolvedLine struct {
	entry    catalog.Entry
	quantity int
}

func (f *Finalizer) parseCart(ps order.PaidSession) []resolvedLine {
	log := logger.Log.With(zap.String("session_id", ps.SessionID))
	var raw []catalog.CartLine
	if strings.TrimSpace(ps.Cart) != "" {
		if err := json.Unmarshal([]byte(ps.Cart), &raw); err != nil {
			log.Error("cannot parse cart metadata", zap.Error(err))
			return nil
		}
	}
	out := make([]resolvedLine, 0, len(raw))
	for _, l := range raw {
		e, ok := f.catalog.Lookup(string(l.ID))
		if !ok {
			log.Warn("unknown product in cart metadata", zap.String("product_id", string(l.ID)))
			continue
		}
		out = append(out, resolvedLine{entry: e, quantity: max(1, l.Quantity)})
	}
	return out
}

func (f *Finalizer) buildOrder(ps order.PaidSession, cart []resolvedLine, out *Outcome) *order.Order {
	recalculated := decimal.NewFromInt(f.shipping.Fee(ps.DeliveryMode)).Div(decimal.NewFromInt(100))
	products := make([]order.LineItem, 0, len(cart))
	parcelLines := make([]catalog.ParcelLine, 0, len(cart))
	for _, l := range cart {
		price := decimal.NewFromFloat(l.entry.Price)
		recalculated = recalculated.Add(price.Mul(decimal.NewFromInt(int64(l.quantity))))
		products = append(products, order.LineItem{
			ID:       l.entry.ID,
			Name:     l.entry.Name,
			Quantity: l.quantity,
			Price:    l.entry.Price,
		})
		parcelLines = append(parcelLines, catalog.ParcelLine{Quantity: l.quantity, WeightKg: l.entry.WeightKg})
	}

	paid := decimal.NewFromInt(ps.AmountTotal).Div(decimal.NewFromInt(100))
	if paid.Sub(recalculated).Abs().GreaterThan(totalTolerance) {
		out.TotalMismatch = true
		logger.Log.Warn("total mismatch, keeping the paid amount",
			zap.String("session_id", ps.SessionID),
			zap.String("paid", paid.StringFixed(2)),
			zap.String("recalculated", recalculated.StringFixed(2)),
		)
	}

	now := f.now().UTC()
	o := &order.Order{
		OrderNumber:           ordernum.Generate(),
		StripeSessionID:       ps.SessionID,
		StripePaymentIntentID: ps.PaymentIntentID,
		StripeCustomerID:      ps.CustomerID,
		Products:              products,
		Total:                 paid.InexactFloat64(),
		Currency:              ps.Currency,
		CustomerEmail:         ps.CustomerEmail,
		CustomerName:          ps.CustomerName,
		CustomerPhone:         ps.CustomerPhone,
		ShippingAddress:       ps.ShippingAddress,
		BillingAddress:        ps.BillingAddress,
		DeliveryMode:          ps.DeliveryMode,
		Parcel:                catalog.ComputeParcel(parcelLines, f.gabarits.Small, f.gabarits.Large),
		Status:                order.StatusPaid,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if ps.DeliveryMode == order.DeliveryPickup {
		o.PickupPoint = ps.PickupPoint
	}
	return o
}

// pendingLines returns the cart lines whose decrement still has to run.
// Records written before PendingStock existed fall back to StockAdjusted.
func (f *Finalizer) pendingLines(dl *order.DeadLetter, cart []resolvedLine) []resolvedLine {
	if len(dl.PendingStock) == 0 {
		if dl.StockAdjusted {
			return nil
		}
		return cart
	}
	out := make([]resolvedLine, 0, len(dl.PendingStock))
	for _, p := range dl.PendingStock {
		e, ok := f.catalog.Lookup(p.ProductID)
		if !ok {
			logger.Log.Warn("unknown product in pending stock", zap.String("product_id", p.ProductID))
			continue
		}
		out = append(out, resolvedLine{entry: e, quantity: p.Quantity})
	}
	return out
}

// adjustStock decrements every line. A line the guard refuses is a
// shortfall for manual follow-up; the order still goes through. Lines whose
// decrement errored are returned as pending so a replay can retry them.
func (f *Finalizer) adjustStock(ctx context.Context, cart []resolvedLine) ([]Shortfall, []order.StockLine) {
	var (
		shortfalls []Shortfall
		pending    []order.StockLine
	)
	for _, l := range cart {
		ok, err := f.products.DecrementStock(ctx, l.entry.ID, l.quantity)
		if err != nil {
			logger.Log.Error("stock decrement failed",
				zap.String("product_id", l.entry.ID),
				zap.Int("quantity", l.quantity),
				zap.Error(err),
			)
			pending = append(pending, order.StockLine{ProductID: l.entry.ID, Quantity: l.quantity})
			continue
		}
		if !ok {
			logger.Log.Warn("stock shortfall, manual intervention required",
				zap.String("product_id", l.entry.ID),
				zap.String("product", l.entry.Name),
				zap.Int("quantity", l.quantity),
			)
			shortfalls = append(shortfalls, Shortfall{ProductID: l.entry.ID, Quantity: l.quantity})
		}
	}
	return shortfalls, pending
}

func (f *Finalizer) materialize(ctx context.Context, o *order.Order, dl *order.DeadLetter, out *Outcome) {
	log := logger.Log.With(zap.String("session_id", o.StripeSessionID))

	err := f.orders.CreateOrder(ctx, o)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrDuplicateOrder):
		log.Info("concurrent delivery already created the order")
		out.Status = OutcomeDuplicate
		return
	default:
		log.Error("order persistence failed, writing dead letter", zap.Error(err))
		dl.Error = err.Error()
		dl.Attempts = 1
		dl.CreatedAt = f.now().UTC()
		if derr := f.deadLetters.SaveDeadLetter(context.WithoutCancel(ctx), dl); derr != nil {
			log.Error("dead letter write failed, session lost", zap.Error(derr))
		}
		out.Status = OutcomeDeadLettered
		out.DeadLetterID = dl.ID
		return
	}

	log.Info("order recorded",
		zap.String("order_number", o.OrderNumber),
		zap.String("customer_email", o.CustomerEmail),
	)
	out.Status = OutcomeCreated
	out.OrderID = o.ID
	out.OrderNumber = o.OrderNumber
	f.afterCreate(ctx, o, out)
}

func (f *Finalizer) afterCreate(ctx context.Context, o *order.Order, out *Outcome) {
	if f.confirmer != nil {
		if err := f.confirmer.SendConfirmation(ctx, o); err != nil {
			logger.Log.Error("confirmation email failed",
				zap.String("order_number", o.OrderNumber),
				zap.Error(err),
			)
			out.EmailError = err.Error()
		}
	}
	if f.publisher != nil {
		payload, err := json.Marshal(o)
		if err == nil {
			err = f.publisher.Publish(ctx, events.TopicOrdersPaid, o.StripeSessionID, payload)
		}
		if err != nil {
			logger.Log.Error("publish order event", zap.String("order_number", o.OrderNumber), zap.Error(err))
		}
	}
}
