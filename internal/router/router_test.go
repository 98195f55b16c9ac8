package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lasweety/sweetyshop/internal/admin"
	"github.com/lasweety/sweetyshop/internal/carrier"
	"github.com/lasweety/sweetyshop/internal/catalog"
	"github.com/lasweety/sweetyshop/internal/checkout"
	"github.com/lasweety/sweetyshop/internal/notify"
	"github.com/lasweety/sweetyshop/internal/order"
	"github.com/lasweety/sweetyshop/internal/storage/memory"
	types "github.com/lasweety/sweetyshop/internal/types/order"
)

type noopProvider struct{}

func (noopProvider) CreateSession(ctx context.Context, spec checkout.SessionSpec) (*checkout.CreatedSession, error) {
	return &checkout.CreatedSession{ID: "cs_r", URL: "https://checkout.stripe.test/cs_r"}, nil
}

type noopLocator struct{}

func (noopLocator) FindPoints(ctx context.Context, q carrier.Query) ([]types.PickupPoint, error) {
	return []types.PickupPoint{{ID: "1", Name: "Relais"}}, nil
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("down") }

const adminToken = "tok_admin"

func newTestRouter(t *testing.T, pinger Pinger) http.Handler {
	t.Helper()
	store := memory.New()
	cat := catalog.Default()
	outbox := notify.NewOutboxMailer()
	confirmer := order.NewConfirmer(store, outbox,
		notify.NewRenderer(notify.Branding{}, notify.Company{}),
		notify.NewInvoiceRenderer(notify.Company{}),
	)
	shipping := checkout.Shipping{HomeFeeCents: 490, PickupFeeCents: 390}

	svc := checkout.NewService(checkout.Config{Shipping: shipping}, cat, store, store, noopProvider{})
	fin := checkout.NewFinalizer(cat, checkout.Gabarits{Small: catalog.Small, Large: catalog.Large},
		shipping, store, store, store, confirmer, nil)
	secret := []byte("jwt-secret")

	if pinger == nil {
		pinger = store
	}
	return NewRouter(Config{
		CORSOrigins:      []string{"https://lasweety.test"},
		WebhookSecret:    "whsec_router",
		WebhookTolerance: 5 * time.Minute,
		AdminToken:       adminToken,
		JWTSecret:        secret,
	}, Handlers{
		Checkout: checkout.NewHandler(svc, fin),
		Orders:   order.NewHandler(order.NewService(store, confirmer)),
		Admin:    admin.NewHandler(admin.NewService(admin.Config{Password: "pw", Token: adminToken, JWTSecret: secret}, outbox)),
		Carrier:  carrier.NewHandler(noopLocator{}),
	}, pinger)
}

func TestRoutes(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		header     map[string]string
		wantStatus int
	}{
		{name: "health", method: http.MethodGet, path: "/healthz", wantStatus: http.StatusOK},
		{name: "products", method: http.MethodGet, path: "/api/products", wantStatus: http.StatusOK},
		{name: "order lookup miss", method: http.MethodGet, path: "/api/checkout/order/cs_none", wantStatus: http.StatusNotFound},
		{name: "carrier without query", method: http.MethodGet, path: "/api/chronopost/points", wantStatus: http.StatusBadRequest},
		{name: "carrier", method: http.MethodGet, path: "/api/chronopost/points?zip=69002", wantStatus: http.StatusOK},
		{name: "webhook unsigned", method: http.MethodPost, path: "/api/checkout/webhook", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "admin orders without token", method: http.MethodGet, path: "/api/admin/orders", wantStatus: http.StatusForbidden},
		{
			name: "admin orders wrong token", method: http.MethodGet, path: "/api/admin/orders",
			header: map[string]string{"x-admin-token": "nope"}, wantStatus: http.StatusForbidden,
		},
		{
			name: "admin orders", method: http.MethodGet, path: "/api/admin/orders",
			header: map[string]string{"x-admin-token": adminToken}, wantStatus: http.StatusOK,
		},
		{
			name: "admin dead letters", method: http.MethodGet, path: "/api/admin/dead-letters",
			header: map[string]string{"x-admin-token": adminToken}, wantStatus: http.StatusOK,
		},
		{name: "login bad password", method: http.MethodPost, path: "/api/admin/login", body: `{"password":"x"}`, wantStatus: http.StatusUnauthorized},
		{name: "login", method: http.MethodPost, path: "/api/admin/login", body: `{"password":"pw"}`, wantStatus: http.StatusOK},
	}
	h := newTestRouter(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestLoginTokenOpensAdminRoutes(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/admin/login", bytes.NewBufferString(`{"password":"pw"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var login admin.LoginResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	assert.Equal(t, adminToken, login.Token)
	require.NotEmpty(t, login.AccessToken)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzReportsStorageFailure(t *testing.T) {
	h := newTestRouter(t, failingPinger{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/checkout/create-session", nil)
	req.Header.Set("Origin", "https://lasweety.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://lasweety.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}
