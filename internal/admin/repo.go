package admin

import (
	"context"

	"github.com/lasweety/sweetyshop/internal/notify"
)

// MailSender is the transport used by the test-mail endpoint.
type MailSender interface {
	Send(ctx context.Context, msg notify.Message) error
}
