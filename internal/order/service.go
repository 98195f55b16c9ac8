package order

import (
	"context"
	"errors"
	"time"

	"github.com/lasweety/sweetyshop/internal/types/order"
)

var ErrInvalidStatus = errors.New("invalid status")

type Service struct {
	repo   OrderRepository
	sender EmailSender
}

func NewService(r OrderRepository, sender EmailSender) *Service {
	return &Service{repo: r, sender: sender}
}

// ListOrders returns every order, newest first.
func (s *Service) ListOrders(ctx context.Context) ([]order.Order, error) {
	return s.repo.ListOrders(ctx)
}

func (s *Service) UpdateStatus(ctx context.Context, id string, status string) (*order.Order, error) {
	st := order.OrderStatus(status)
	if !st.Valid() {
		return nil, ErrInvalidStatus
	}
	return s.repo.UpdateOrderStatus(ctx, id, st)
}

// ResendEmail retries the confirmation of one order through the email claim.
func (s *Service) ResendEmail(ctx context.Context, id string) (*order.Order, error) {
	o, err := s.repo.FindOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.sender.SendConfirmation(ctx, o); err != nil {
		return nil, err
	}
	return s.repo.FindOrderByID(ctx, id)
}

func (s *Service) ListPending(ctx context.Context, maxAttempts int, createdBefore time.Time) ([]order.Order, error) {
	return s.repo.ListPendingEmails(ctx, maxAttempts, createdBefore)
}
