package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/lasweety/sweetyshop/internal/middleware"
	"github.com/lasweety/sweetyshop/internal/notify"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRecipient   = errors.New("invalid recipient")
)

type Config struct {
	// Password is either the plain shared secret or a bcrypt hash of it.
	Password  string
	Token     string
	JWTSecret []byte
	JWTTTL    time.Duration
}

type LoginResult struct {
	Token       string    `json:"token"`
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type Service struct {
	cfg    Config
	mailer MailSender
	now    func() time.Time
}

func NewService(cfg Config, mailer MailSender) *Service {
	if cfg.JWTTTL <= 0 {
		cfg.JWTTTL = 12 * time.Hour
	}
	return &Service{cfg: cfg, mailer: mailer, now: time.Now}
}

func (s *Service) Login(password string) (*LoginResult, error) {
	if !s.checkPassword(password) {
		return nil, ErrInvalidCredentials
	}
	now := s.now().UTC()
	exp := now.Add(s.cfg.JWTTTL)
	claims := jwt.RegisteredClaims{
		Subject:   middleware.AdminSubject,
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: s.cfg.Token, AccessToken: signed, ExpiresAt: exp}, nil
}

func (s *Service) checkPassword(password string) bool {
	if s.cfg.Password == "" || password == "" {
		return false
	}
	if isBcryptHash(s.cfg.Password) {
		return bcrypt.CompareHashAndPassword([]byte(s.cfg.Password), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(s.cfg.Password), []byte(password)) == 1
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// SendTestMail checks the mail transport end to end.
func (s *Service) SendTestMail(ctx context.Context, to string) error {
	to = strings.TrimSpace(to)
	if to == "" || !strings.Contains(to, "@") {
		return ErrInvalidRecipient
	}
	return s.mailer.Send(ctx, notify.Message{
		To:      to,
		Subject: "Test Sweetyx",
		HTML:    "<p>Le système d’email fonctionne.</p>",
	})
}
