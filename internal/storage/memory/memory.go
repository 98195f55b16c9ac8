// Package memory is a process-local Storage used in dev mode and tests.
// A single mutex makes every method atomic, which gives the same guarantees
// as the conditional updates of the database-backed stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lasweety/sweetyshop/internal/storage"
	"github.com/lasweety/sweetyshop/internal/types/order"
	"github.com/lasweety/sweetyshop/internal/types/product"
)

type Storage struct {
	mu          sync.Mutex
	products    map[string]product.Product
	orders      map[string]order.Order
	bySession   map[string]string
	deadLetters map[string]order.DeadLetter
}

func New() *Storage {
	return &Storage{
		products:    make(map[string]product.Product),
		orders:      make(map[string]order.Order),
		bySession:   make(map[string]string),
		deadLetters: make(map[string]order.DeadLetter),
	}
}

func (s *Storage) Ping(ctx context.Context) error { return nil }
func (s *Storage) Close() error                   { return nil }

func (s *Storage) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (s *Storage) ListProducts(ctx context.Context) ([]product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]product.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Storage) SeedProducts(ctx context.Context, products []product.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		if _, ok := s.products[p.ID]; !ok {
			s.products[p.ID] = p
		}
	}
	return nil
}

func (s *Storage) DecrementStock(ctx context.Context, id string, qty int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	s.products[id] = p
	return true, nil
}

func (s *Storage) CreateOrder(ctx context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bySession[o.StripeSessionID]; ok {
		return storage.ErrDuplicateOrder
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	s.orders[o.ID] = cloneOrder(*o)
	s.bySession[o.StripeSessionID] = o.ID
	return nil
}

func (s *Storage) FindOrderByID(ctx context.Context, id string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	o = cloneOrder(o)
	return &o, nil
}

func (s *Storage) FindOrderBySession(ctx context.Context, sessionID string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bySession[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	o := cloneOrder(s.orders[id])
	return &o, nil
}

func (s *Storage) ListOrders(ctx context.Context) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, cloneOrder(o))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Storage) UpdateOrderStatus(ctx context.Context, id string, status order.OrderStatus) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	s.orders[id] = o
	o = cloneOrder(o)
	return &o, nil
}

func (s *Storage) ClaimEmail(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.EmailSent {
		return false, nil
	}
	o.EmailSent = true
	o.EmailAttempts++
	o.UpdatedAt = time.Now().UTC()
	s.orders[id] = o
	return true, nil
}

func (s *Storage) ReleaseEmail(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return storage.ErrNotFound
	}
	o.EmailSent = false
	o.UpdatedAt = time.Now().UTC()
	s.orders[id] = o
	return nil
}

func (s *Storage) MarkEmailSent(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return storage.ErrNotFound
	}
	o.EmailSentAt = &at
	o.UpdatedAt = time.Now().UTC()
	s.orders[id] = o
	return nil
}

func (s *Storage) ListPendingEmails(ctx context.Context, maxAttempts int, createdBefore time.Time) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []order.Order
	for _, o := range s.orders {
		if !o.EmailSent && o.EmailAttempts < maxAttempts && o.CreatedAt.Before(createdBefore) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Storage) SaveDeadLetter(ctx context.Context, dl *order.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dl.ID == "" {
		dl.ID = uuid.NewString()
	}
	s.deadLetters[dl.ID] = *dl
	return nil
}

func (s *Storage) FindDeadLetter(ctx context.Context, id string) (*order.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dl, ok := s.deadLetters[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &dl, nil
}

func (s *Storage) ListDeadLetters(ctx context.Context) ([]order.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]order.DeadLetter, 0, len(s.deadLetters))
	for _, dl := range s.deadLetters {
		out = append(out, dl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Storage) ResolveDeadLetter(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dl, ok := s.deadLetters[id]
	if !ok {
		return storage.ErrNotFound
	}
	dl.ResolvedAt = &at
	s.deadLetters[id] = dl
	return nil
}

func (s *Storage) RecordDeadLetterAttempt(ctx context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dl, ok := s.deadLetters[id]
	if !ok {
		return storage.ErrNotFound
	}
	dl.Attempts++
	dl.Error = errMsg
	s.deadLetters[id] = dl
	return nil
}

func cloneOrder(o order.Order) order.Order {
	o.Products = append([]order.LineItem(nil), o.Products...)
	if o.PickupPoint != nil {
		p := *o.PickupPoint
		o.PickupPoint = &p
	}
	if o.EmailSentAt != nil {
		t := *o.EmailSentAt
		o.EmailSentAt = &t
	}
	return o
}
