package order

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lasweety/sweetyshop/internal/httpx"
	"github.com/lasweety/sweetyshop/internal/logger"
	"github.com/lasweety/sweetyshop/internal/middleware"
	"github.com/lasweety/sweetyshop/internal/storage"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes are expected to be mounted behind middleware.RequireAdmin.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/orders", h.ListOrders)
	r.Patch("/orders/{id}", h.UpdateStatus)
	r.Post("/orders/{id}/resend-email", h.ResendEmail)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.ListOrders(r.Context())
	if err != nil {
		logger.Log.Error("list orders", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "Erreur serveur")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orders)
}

type statusReq struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Statut invalide")
		return
	}
	id := chi.URLParam(r, "id")
	o, err := h.svc.UpdateStatus(r.Context(), id, req.Status)
	switch {
	case err == nil:
		logger.Log.Info("order status updated",
			zap.String("order_id", id),
			zap.String("status", req.Status),
			zap.String("auth", middleware.AdminAuthFromContext(r.Context())),
		)
		httpx.WriteJSON(w, http.StatusOK, o)
	case errors.Is(err, ErrInvalidStatus):
		httpx.WriteError(w, http.StatusBadRequest, "Statut invalide")
	case errors.Is(err, storage.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "Commande introuvable")
	default:
		logger.Log.Error("update order status", zap.String("order_id", id), zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "Erreur serveur")
	}
}

func (h *Handler) ResendEmail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	o, err := h.svc.ResendEmail(r.Context(), id)
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, o)
	case errors.Is(err, storage.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "Commande introuvable")
	case errors.Is(err, ErrAlreadySent):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNoRecipient):
		httpx.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		logger.Log.Error("resend confirmation", zap.String("order_id", id), zap.Error(err))
		httpx.WriteError(w, http.StatusBadGateway, "Envoi de l'e-mail impossible")
	}
}
