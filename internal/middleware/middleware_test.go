package middleware

import (
	"bytes"
	"compress/gzip"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func sign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func echoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	})
}

func TestStripeSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	now := time.Now()

	tests := []struct {
		name       string
		body       []byte
		header     string
		wantStatus int
	}{
		{"valid", payload, sign(payload, testSecret, now), http.StatusOK},
		{"missing header", payload, "", http.StatusBadRequest},
		{"wrong secret", payload, sign(payload, "whsec_other", now), http.StatusBadRequest},
		{"tampered body", []byte(`{"id":"evt_1","type":"checkout.session.completed","x":1}`), sign(payload, testSecret, now), http.StatusBadRequest},
		{"tampered non-json body", []byte(`not json`), sign(payload, testSecret, now), http.StatusBadRequest},
		{"expired timestamp", payload, sign(payload, testSecret, now.Add(-time.Hour)), http.StatusBadRequest},
	}

	h := StripeSignature(testSecret, 5*time.Minute)(echoHandler())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(tt.body))
			if tt.header != "" {
				req.Header.Set("Stripe-Signature", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, string(tt.body), rec.Body.String())
			}
		})
	}
}

func TestStripeSignatureEmptySecretRejects(t *testing.T) {
	payload := []byte(`{}`)
	h := StripeSignature("", time.Minute)(echoHandler())
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", sign(payload, "", time.Now()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStripeSignatureBodyTooLarge(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), MaxWebhookBody+1)
	h := StripeSignature(testSecret, time.Minute)(echoHandler())
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", sign(payload, testSecret, time.Now()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func adminJWT(t *testing.T, secret []byte, subject string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	s, err := tok.SignedString(secret)
	require.NoError(t, err)
	return s
}

func TestRequireAdmin(t *testing.T) {
	secret := []byte("jwt-secret")
	var gotMethod string
	h := RequireAdmin("admin-token", secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = AdminAuthFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantMethod string
	}{
		{"static token", map[string]string{"x-admin-token": "admin-token"}, http.StatusOK, "token"},
		{"wrong token", map[string]string{"x-admin-token": "nope"}, http.StatusForbidden, ""},
		{"no credentials", nil, http.StatusForbidden, ""},
		{"valid jwt", map[string]string{"Authorization": "Bearer " + adminJWT(t, secret, AdminSubject, time.Hour)}, http.StatusOK, "jwt"},
		{"expired jwt", map[string]string{"Authorization": "Bearer " + adminJWT(t, secret, AdminSubject, -time.Hour)}, http.StatusForbidden, ""},
		{"foreign subject", map[string]string{"Authorization": "Bearer " + adminJWT(t, secret, "someone", time.Hour)}, http.StatusForbidden, ""},
		{"other secret", map[string]string{"Authorization": "Bearer " + adminJWT(t, []byte("x"), AdminSubject, time.Hour)}, http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotMethod = ""
			req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantMethod, gotMethod)
		})
	}
}

func TestRequireAdminEmptyTokenNeverMatches(t *testing.T) {
	h := RequireAdmin("", nil)(echoHandler())
	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set("x-admin-token", "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGunzipRequest(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte(`{"cart":[]}`))
	gz.Close()

	req := httptest.NewRequest(http.MethodPost, "/checkout/create-session", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	GunzipRequest(echoHandler()).ServeHTTP(rec, req)
	assert.Equal(t, `{"cart":[]}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/checkout/create-session", strings.NewReader("garbage"))
	req.Header.Set("Content-Encoding", "gzip")
	rec = httptest.NewRecorder()
	GunzipRequest(echoHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
