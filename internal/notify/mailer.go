package notify

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/mail.v2"

	"github.com/lasweety/sweetyshop/internal/logger"
)

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Message struct {
	To          string
	Subject     string
	HTML        string
	Text        string
	ReplyTo     string
	Attachments []Attachment
}

// Mailer delivers one message. Implementations are built once at startup.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	ReplyTo  string
}

type SMTPMailer struct {
	dialer *mail.Dialer
	from   string
	reply  string
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		dialer: mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		reply:  cfg.ReplyTo,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mm := mail.NewMessage()
	mm.SetHeader("From", m.from)
	mm.SetHeader("To", msg.To)
	mm.SetHeader("Subject", msg.Subject)
	if reply := firstNonEmpty(msg.ReplyTo, m.reply); reply != "" {
		mm.SetHeader("Reply-To", reply)
	}
	mm.SetBody("text/plain", firstNonEmpty(msg.Text, PlainText(msg.HTML)))
	mm.AddAlternative("text/html", msg.HTML)
	for _, a := range msg.Attachments {
		data := a.Data
		mm.Attach(a.Filename,
			mail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
			mail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}),
		)
	}
	if err := m.dialer.DialAndSend(mm); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// OutboxMailer keeps messages in memory instead of sending them.
type OutboxMailer struct {
	mu   sync.Mutex
	sent []Message
	// Fail, when set, is returned by Send and the message is not kept.
	Fail error
}

func NewOutboxMailer() *OutboxMailer {
	return &OutboxMailer{}
}

func (m *OutboxMailer) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.sent = append(m.sent, msg)
	logger.Log.Info("outbox mail",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("attachments", len(msg.Attachments)),
	)
	return nil
}

func (m *OutboxMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

var (
	styleBlock = regexp.MustCompile(`(?is)<style.*?</style>`)
	anyTag     = regexp.MustCompile(`<[^>]+>`)
	spaces     = regexp.MustCompile(`\s+`)
)

// PlainText derives a text/plain fallback from an HTML body.
func PlainText(html string) string {
	s := styleBlock.ReplaceAllString(html, "")
	s = anyTag.ReplaceAllString(s, " ")
	s = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&#39;", "'", "&quot;", `"`, "&nbsp;", " ").Replace(s)
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
