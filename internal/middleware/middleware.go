package middleware

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/lasweety/sweetyshop/internal/httpx"
	"github.com/lasweety/sweetyshop/internal/logger"
)

// MaxWebhookBody caps the raw webhook payload read for verification.
const MaxWebhookBody = 65536

const AdminSubject = "admin"

var (
	ErrSignatureInvalid = errors.New("invalid webhook signature")
	ErrForbidden        = errors.New("Forbidden")
)

// GunzipRequest transparently decompresses gzip request bodies.
func GunzipRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") == "gzip" {
			gzr, err := gzip.NewReader(r.Body)
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "failed to create gzip reader")
				return
			}
			defer gzr.Close()
			r.Body = io.NopCloser(gzr)
			r.Header.Del("Content-Encoding")
		}
		next.ServeHTTP(w, r)
	})
}

// StripeSignature verifies the Stripe-Signature header against the exact raw
// body and hands the same bytes to next. It must run before anything that
// reads the body.
func StripeSignature(secret string, tolerance time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBody))
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "failed to read request body")
				return
			}
			if err := VerifySignature(body, r.Header.Get("Stripe-Signature"), secret, tolerance); err != nil {
				logger.Log.Warn("webhook signature rejected", zap.Error(err))
				httpx.WriteError(w, http.StatusBadRequest, ErrSignatureInvalid.Error())
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// VerifySignature checks a Stripe signature header. An empty secret rejects
// everything.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration) error {
	if secret == "" || header == "" {
		return ErrSignatureInvalid
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, header, secret, tolerance); err != nil {
		return errors.Join(ErrSignatureInvalid, err)
	}
	return nil
}

type ctxKeyAdminAuth struct{}

// RequireAdmin accepts either the static x-admin-token or a Bearer admin JWT
// signed with jwtSecret. Anything else is 403.
func RequireAdmin(token string, jwtSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method := ""
			switch {
			case token != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("x-admin-token")), []byte(token)) == 1:
				method = "token"
			case validAdminJWT(r.Header.Get("Authorization"), jwtSecret):
				method = "jwt"
			default:
				httpx.WriteError(w, http.StatusForbidden, ErrForbidden.Error())
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyAdminAuth{}, method)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validAdminJWT(auth string, secret []byte) bool {
	if len(secret) == 0 || !strings.HasPrefix(auth, "Bearer ") {
		return false
	}
	tokenStr := strings.TrimPrefix(auth, "Bearer ")

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	return err == nil && parsed.Valid && claims.Subject == AdminSubject
}

// AdminAuthFromContext returns "token" or "jwt" for requests that passed
// RequireAdmin.
func AdminAuthFromContext(ctx context.Context) string {
	m, _ := ctx.Value(ctxKeyAdminAuth{}).(string)
	return m
}
