package order

import (
	"context"
	"time"

	"github.com/lasweety/sweetyshop/internal/types/order"
)

type OrderRepository interface {
	ListOrders(ctx context.Context) ([]order.Order, error)
	FindOrderByID(ctx context.Context, id string) (*order.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status order.OrderStatus) (*order.Order, error)
	ListPendingEmails(ctx context.Context, maxAttempts int, createdBefore time.Time) ([]order.Order, error)
}

// EmailClaimRepository is the conditional flag used for at-most-once sends.
type EmailClaimRepository interface {
	ClaimEmail(ctx context.Context, id string) (bool, error)
	ReleaseEmail(ctx context.Context, id string) error
	MarkEmailSent(ctx context.Context, id string, at time.Time) error
}
