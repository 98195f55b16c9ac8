package storage

import (
	"context"
	"errors"
	"time"

	"github.com/lasweety/sweetyshop/internal/types/order"
	"github.com/lasweety/sweetyshop/internal/types/product"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateOrder = errors.New("order already exists for this session")
)

// ProductRepository holds live stock counters.
type ProductRepository interface {
	GetProduct(ctx context.Context, id string) (*product.Product, error)
	ListProducts(ctx context.Context) ([]product.Product, error)
	// SeedProducts inserts the missing products and never touches existing stock.
	SeedProducts(ctx context.Context, products []product.Product) error
	// DecrementStock atomically removes qty when stock >= qty. It reports
	// false, nil when the guard did not match.
	DecrementStock(ctx context.Context, id string, qty int) (bool, error)
}

// OrderRepository holds paid orders.
type OrderRepository interface {
	// CreateOrder returns ErrDuplicateOrder when the session already has an order.
	CreateOrder(ctx context.Context, o *order.Order) error
	FindOrderByID(ctx context.Context, id string) (*order.Order, error)
	FindOrderBySession(ctx context.Context, sessionID string) (*order.Order, error)
	ListOrders(ctx context.Context) ([]order.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status order.OrderStatus) (*order.Order, error)

	// ClaimEmail flips emailSent false -> true and counts the attempt. Only
	// one caller per order ever gets true while the flag stays set.
	ClaimEmail(ctx context.Context, id string) (bool, error)
	ReleaseEmail(ctx context.Context, id string) error
	MarkEmailSent(ctx context.Context, id string, at time.Time) error
	ListPendingEmails(ctx context.Context, maxAttempts int, createdBefore time.Time) ([]order.Order, error)
}

// DeadLetterRepository keeps paid sessions whose order write failed.
type DeadLetterRepository interface {
	SaveDeadLetter(ctx context.Context, dl *order.DeadLetter) error
	FindDeadLetter(ctx context.Context, id string) (*order.DeadLetter, error)
	ListDeadLetters(ctx context.Context) ([]order.DeadLetter, error)
	ResolveDeadLetter(ctx context.Context, id string, at time.Time) error
	RecordDeadLetterAttempt(ctx context.Context, id string, errMsg string) error
}

// Storage bundles all repositories.
type Storage interface {
	ProductRepository
	OrderRepository
	DeadLetterRepository

	Ping(ctx context.Context) error
	Close() error
}
