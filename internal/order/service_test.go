package order

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/lasweety/sweetyshop/internal/storage"
	"github.com/lasweety/sweetyshop/internal/types/order"
)

type mockRepo struct {
	listOrdersFn        func(ctx context.Context) ([]order.Order, error)
	findOrderByIDFn     func(ctx context.Context, id string) (*order.Order, error)
	updateOrderStatusFn func(ctx context.Context, id string, status order.OrderStatus) (*order.Order, error)
	listPendingFn       func(ctx context.Context, maxAttempts int, before time.Time) ([]order.Order, error)
}

func (m *mockRepo) ListOrders(ctx context.Context) ([]order.Order, error) {
	return m.listOrdersFn(ctx)
}
func (m *mockRepo) FindOrderByID(ctx context.Context, id string) (*order.Order, error) {
	return m.findOrderByIDFn(ctx, id)
}
func (m *mockRepo) UpdateOrderStatus(ctx context.Context, id string, status order.OrderStatus) (*order.Order, error) {
	return m.updateOrderStatusFn(ctx, id, status)
}
func (m *mockRepo) ListPendingEmails(ctx context.Context, maxAttempts int, before time.Time) ([]order.Order, error) {
	return m.listPendingFn(ctx, maxAttempts, before)
}

type senderFunc func(ctx context.Context, o *order.Order) error

func (f senderFunc) SendConfirmation(ctx context.Context, o *order.Order) error { return f(ctx, o) }

func TestUpdateStatusInvalid(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, nil)
	_, err := svc.UpdateStatus(context.Background(), "o1", "shipped")
	assert.Equal(t, ErrInvalidStatus, err)
}

func TestUpdateStatusNotFound(t *testing.T) {
	repo := &mockRepo{
		updateOrderStatusFn: func(ctx context.Context, id string, status order.OrderStatus) (*order.Order, error) {
			return nil, storage.ErrNotFound
		},
	}
	svc := NewService(repo, nil)
	_, err := svc.UpdateStatus(context.Background(), "missing", "refunded")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateStatusOK(t *testing.T) {
	var gotStatus order.OrderStatus
	repo := &mockRepo{
		updateOrderStatusFn: func(ctx context.Context, id string, status order.OrderStatus) (*order.Order, error) {
			gotStatus = status
			return &order.Order{ID: id, Status: status}, nil
		},
	}
	svc := NewService(repo, nil)
	o, err := svc.UpdateStatus(context.Background(), "o1", "canceled")
	assert.NoError(t, err)
	assert.Equal(t, order.StatusCanceled, gotStatus)
	assert.Equal(t, "o1", o.ID)
}

func TestResendEmailPropagatesSenderError(t *testing.T) {
	repo := &mockRepo{
		findOrderByIDFn: func(ctx context.Context, id string) (*order.Order, error) {
			return &order.Order{ID: id}, nil
		},
	}
	svc := NewService(repo, senderFunc(func(ctx context.Context, o *order.Order) error {
		return ErrAlreadySent
	}))
	_, err := svc.ResendEmail(context.Background(), "o1")
	assert.ErrorIs(t, err, ErrAlreadySent)
}

func TestListOrders(t *testing.T) {
	repo := &mockRepo{
		listOrdersFn: func(ctx context.Context) ([]order.Order, error) {
			return []order.Order{{ID: "1"}}, nil
		},
	}
	svc := NewService(repo, nil)
	orders, err := svc.ListOrders(context.Background())
	assert.NoError(t, err)
	assert.Len(t, orders, 1)
}

func newTestRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	NewHandler(svc).Routes(r)
	return r
}

func TestHandlerUpdateStatus(t *testing.T) {
	repo := &mockRepo{
		updateOrderStatusFn: func(ctx context.Context, id string, status order.OrderStatus) (*order.Order, error) {
			if id != "o1" {
				return nil, storage.ErrNotFound
			}
			return &order.Order{ID: id, Status: status}, nil
		},
	}
	h := newTestRouter(NewService(repo, nil))

	tests := []struct {
		name       string
		id         string
		body       string
		wantStatus int
	}{
		{"valid", "o1", `{"status":"processing"}`, http.StatusOK},
		{"bad status", "o1", `{"status":"lost"}`, http.StatusBadRequest},
		{"bad json", "o1", `{status`, http.StatusBadRequest},
		{"unknown id", "o2", `{"status":"paid"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPatch, "/orders/"+tt.id, strings.NewReader(tt.body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tt.wantStatus, rec.Code, tt.name)
	}
}

func TestHandlerResendEmail(t *testing.T) {
	repo := &mockRepo{
		findOrderByIDFn: func(ctx context.Context, id string) (*order.Order, error) {
			if id == "missing" {
				return nil, storage.ErrNotFound
			}
			return &order.Order{ID: id}, nil
		},
	}
	errs := map[string]error{
		"sent":    ErrAlreadySent,
		"norecip": ErrNoRecipient,
		"smtp":    errors.New("smtp down"),
	}
	h := newTestRouter(NewService(repo, senderFunc(func(ctx context.Context, o *order.Order) error {
		return errs[o.ID]
	})))

	tests := map[string]int{
		"ok":      http.StatusOK,
		"missing": http.StatusNotFound,
		"sent":    http.StatusConflict,
		"norecip": http.StatusUnprocessableEntity,
		"smtp":    http.StatusBadGateway,
	}
	for id, want := range tests {
		req := httptest.NewRequest(http.MethodPost, "/orders/"+id+"/resend-email", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, id)
	}
}

func TestHandlerListOrders(t *testing.T) {
	repo := &mockRepo{
		listOrdersFn: func(ctx context.Context) ([]order.Order, error) {
			return []order.Order{{ID: "a"}, {ID: "b"}}, nil
		},
	}
	h := newTestRouter(NewService(repo, nil))
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"_id":"a"`)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
