package order

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lasweety/sweetyshop/internal/notify"
	"github.com/lasweety/sweetyshop/internal/storage/memory"
	"github.com/lasweety/sweetyshop/internal/types/order"
)

func newConfirmer(t *testing.T) (*Confirmer, *memory.Storage, *notify.OutboxMailer, *order.Order) {
	t.Helper()
	store := memory.New()
	o := &order.Order{
		OrderNumber:     "#SWEETY-10001",
		StripeSessionID: "cs_confirm",
		CustomerEmail:   "jeanne@example.com",
		CustomerName:    "Jeanne",
		Products:        []order.LineItem{{ID: "101", Name: "Sweetyx Orange", Quantity: 1, Price: 34.99}},
		Total:           34.99,
		DeliveryMode:    order.DeliveryHome,
		Status:          order.StatusPaid,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.CreateOrder(context.Background(), o))

	mailer := notify.NewOutboxMailer()
	c := NewConfirmer(store, mailer, notify.NewRenderer(notify.Branding{}, notify.Company{}), notify.NewInvoiceRenderer(notify.Company{}))
	return c, store, mailer, o
}

func TestConfirmerSendsOnceWithInvoice(t *testing.T) {
	c, store, mailer, o := newConfirmer(t)
	ctx := context.Background()

	require.NoError(t, c.SendConfirmation(ctx, o))
	assert.ErrorIs(t, c.SendConfirmation(ctx, o), ErrAlreadySent)

	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "jeanne@example.com", sent[0].To)
	assert.Contains(t, sent[0].Subject, "#SWEETY-10001")
	require.Len(t, sent[0].Attachments, 1)
	assert.Equal(t, "application/pdf", sent[0].Attachments[0].ContentType)
	assert.True(t, bytes.HasPrefix(sent[0].Attachments[0].Data, []byte("%PDF")))

	got, _ := store.FindOrderByID(ctx, o.ID)
	assert.True(t, got.EmailSent)
	assert.NotNil(t, got.EmailSentAt)
	assert.Equal(t, 1, got.EmailAttempts)
}

func TestConfirmerFailureReleasesClaim(t *testing.T) {
	c, store, mailer, o := newConfirmer(t)
	ctx := context.Background()
	mailer.Fail = errors.New("smtp down")

	assert.Error(t, c.SendConfirmation(ctx, o))
	got, _ := store.FindOrderByID(ctx, o.ID)
	assert.False(t, got.EmailSent)
	assert.Nil(t, got.EmailSentAt)
	assert.Equal(t, 1, got.EmailAttempts)

	mailer.Fail = nil
	require.NoError(t, c.SendConfirmation(ctx, o))
	got, _ = store.FindOrderByID(ctx, o.ID)
	assert.True(t, got.EmailSent)
	assert.Equal(t, 2, got.EmailAttempts)
}

func TestConfirmerNoRecipient(t *testing.T) {
	c, store, mailer, o := newConfirmer(t)
	o.CustomerEmail = "unknown"

	assert.ErrorIs(t, c.SendConfirmation(context.Background(), o), ErrNoRecipient)
	assert.Empty(t, mailer.Sent())
	got, _ := store.FindOrderByID(context.Background(), o.ID)
	assert.False(t, got.EmailSent)
}

func TestConfirmerConcurrentSingleSend(t *testing.T) {
	c, _, mailer, o := newConfirmer(t)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := *o
			if c.SendConfirmation(context.Background(), &cp) == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Len(t, mailer.Sent(), 1)
}
