package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lasweety/sweetyshop/internal/logger"
	"github.com/lasweety/sweetyshop/internal/notify"
	"github.com/lasweety/sweetyshop/internal/types/order"
)

var (
	ErrAlreadySent = errors.New("confirmation email already sent")
	ErrNoRecipient = errors.New("order has no customer email")
)

// EmailSender sends the confirmation of one order.
type EmailSender interface {
	SendConfirmation(ctx context.Context, o *order.Order) error
}

// Confirmer sends the confirmation email with its PDF invoice. The email
// claim makes the send at-most-once per order across webhook retries,
// manual resends and the retry dispatcher.
type Confirmer struct {
	repo    EmailClaimRepository
	mailer  notify.Mailer
	html    *notify.Renderer
	invoice *notify.InvoiceRenderer
	now     func() time.Time
}

func NewConfirmer(repo EmailClaimRepository, mailer notify.Mailer, html *notify.Renderer, invoice *notify.InvoiceRenderer) *Confirmer {
	return &Confirmer{repo: repo, mailer: mailer, html: html, invoice: invoice, now: time.Now}
}

func (c *Confirmer) SendConfirmation(ctx context.Context, o *order.Order) error {
	claimed, err := c.repo.ClaimEmail(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("claim email: %w", err)
	}
	if !claimed {
		return ErrAlreadySent
	}

	if err := c.send(ctx, o); err != nil {
		if rerr := c.repo.ReleaseEmail(context.WithoutCancel(ctx), o.ID); rerr != nil {
			logger.Log.Error("release email claim",
				zap.String("order_id", o.ID),
				zap.Error(rerr),
			)
		}
		return err
	}

	if err := c.repo.MarkEmailSent(ctx, o.ID, c.now().UTC()); err != nil {
		logger.Log.Error("mark email sent",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
	logger.Log.Info("confirmation email sent",
		zap.String("order_number", o.OrderNumber),
		zap.String("to", o.CustomerEmail),
	)
	return nil
}

func (c *Confirmer) send(ctx context.Context, o *order.Order) error {
	to := strings.TrimSpace(o.CustomerEmail)
	if to == "" || to == "unknown" {
		return ErrNoRecipient
	}

	body, err := c.html.Confirmation(o)
	if err != nil {
		return err
	}
	pdf, err := c.invoice.Render(o)
	if err != nil {
		return err
	}

	err = c.mailer.Send(ctx, notify.Message{
		To:      to,
		Subject: c.html.Subject(o),
		HTML:    body,
		Attachments: []notify.Attachment{{
			Filename:    c.invoice.Filename(o),
			ContentType: "application/pdf",
			Data:        pdf,
		}},
	})
	if err != nil {
		return fmt.Errorf("send confirmation: %w", err)
	}
	return nil
}
