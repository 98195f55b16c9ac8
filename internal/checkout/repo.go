package checkout

import (
	"context"
	"time"

	"github.com/lasweety/sweetyshop/internal/types/order"
	"github.com/lasweety/sweetyshop/internal/types/product"
)

type ProductRepository interface {
	GetProduct(ctx context.Context, id string) (*product.Product, error)
	ListProducts(ctx context.Context) ([]product.Product, error)
	DecrementStock(ctx context.Context, id string, qty int) (bool, error)
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, o *order.Order) error
	FindOrderBySession(ctx context.Context, sessionID string) (*order.Order, error)
}

type DeadLetterRepository interface {
	SaveDeadLetter(ctx context.Context, dl *order.DeadLetter) error
	FindDeadLetter(ctx context.Context, id string) (*order.DeadLetter, error)
	ListDeadLetters(ctx context.Context) ([]order.DeadLetter, error)
	ResolveDeadLetter(ctx context.Context, id string, at time.Time) error
	RecordDeadLetterAttempt(ctx context.Context, id string, errMsg string) error
}

// ConfirmationSender sends the at-most-once confirmation email.
type ConfirmationSender interface {
	SendConfirmation(ctx context.Context, o *order.Order) error
}

// EventPublisher receives the orders.paid notification.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}
