package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lasweety/sweetyshop/internal/httpx"
	"github.com/lasweety/sweetyshop/internal/logger"
	"github.com/lasweety/sweetyshop/internal/storage"
)

type Handler struct {
	svc       *Service
	finalizer *Finalizer
}

func NewHandler(svc *Service, finalizer *Finalizer) *Handler {
	return &Handler{svc: svc, finalizer: finalizer}
}

// Routes excludes the webhook, which needs the signature middleware and
// must be mounted on its own.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/create-session", h.CreateSession)
	r.Get("/order/{sessionId}", h.GetOrder)
}

// AdminRoutes are expected to be mounted behind middleware.RequireAdmin.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/dead-letters", h.ListDeadLetters)
	r.Post("/dead-letters/{id}/replay", h.ReplayDeadLetter)
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Requête invalide")
		return
	}
	res, err := h.svc.CreateSession(r.Context(), req)
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, res)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidProduct), errors.Is(err, ErrInsufficientStock):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Log.Error("create checkout session", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// Webhook expects a body already verified by middleware.StripeSignature.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	// Stock and order writes must not stop halfway when the sender hangs up.
	out, err := h.finalizer.HandleEvent(context.WithoutCancel(r.Context()), payload)
	switch {
	case err == nil:
		logger.Log.Debug("webhook handled",
			zap.String("status", string(out.Status)),
			zap.String("session_id", out.SessionID),
		)
		httpx.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, ErrUnsupportedEvent):
		logger.Log.Warn("webhook payload not decodable, acknowledged", zap.Error(err))
		httpx.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
	default:
		logger.Log.Error("webhook processing", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "webhook processing failed")
	}
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionId"))
	o, err := h.svc.FindOrder(r.Context(), sessionID)
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, o)
	case errors.Is(err, storage.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "Commande introuvable")
	default:
		logger.Log.Error("find order", zap.String("session_id", sessionID), zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.Products(r.Context())
	if err != nil {
		logger.Log.Error("list products", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "Erreur serveur")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, products)
}

func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	dls, err := h.finalizer.ListDeadLetters(r.Context())
	if err != nil {
		logger.Log.Error("list dead letters", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "Erreur serveur")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, dls)
}

func (h *Handler) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := h.finalizer.Replay(r.Context(), id)
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, out)
	case errors.Is(err, storage.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "Introuvable")
	case errors.Is(err, ErrAlreadyResolved):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	default:
		logger.Log.Error("replay dead letter", zap.String("dead_letter_id", id), zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
