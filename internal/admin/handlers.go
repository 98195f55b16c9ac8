package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lasweety/sweetyshop/internal/httpx"
	"github.com/lasweety/sweetyshop/internal/logger"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// PublicRoutes need no admin credentials.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Post("/login", h.Login)
}

// Routes are expected to be mounted behind middleware.RequireAdmin.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/test-mail", h.TestMail)
}

type loginReq struct {
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Requête invalide")
		return
	}
	res, err := h.svc.Login(req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			logger.Log.Warn("admin login refused", zap.String("remote", r.RemoteAddr))
			httpx.WriteError(w, http.StatusUnauthorized, "Mot de passe incorrect")
			return
		}
		logger.Log.Error("admin login", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "Erreur serveur")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

type testMailReq struct {
	To string `json:"to"`
}

func (h *Handler) TestMail(w http.ResponseWriter, r *http.Request) {
	var req testMailReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Requête invalide")
		return
	}
	err := h.svc.SendTestMail(r.Context(), req.To)
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
	case errors.Is(err, ErrInvalidRecipient):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Log.Error("test mail", zap.Error(err))
		httpx.WriteError(w, http.StatusBadGateway, err.Error())
	}
}
