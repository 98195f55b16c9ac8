package carrier

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lasweety/sweetyshop/internal/httpx"
	"github.com/lasweety/sweetyshop/internal/logger"
	"github.com/lasweety/sweetyshop/internal/types/order"
)

type Handler struct {
	locator Locator
}

func NewHandler(l Locator) *Handler {
	return &Handler{locator: l}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/points", h.ListPoints)
}

type pointsResponse struct {
	Points []order.PickupPoint `json:"points"`
}

func (h *Handler) ListPoints(w http.ResponseWriter, r *http.Request) {
	q := Query{
		Zip:     r.URL.Query().Get("zip"),
		City:    r.URL.Query().Get("city"),
		Country: r.URL.Query().Get("country"),
	}.normalize()
	if q.Zip == "" && q.City == "" {
		httpx.WriteError(w, http.StatusBadRequest, "Fournir zip ou city")
		return
	}

	points, err := h.locator.FindPoints(r.Context(), q)
	if err != nil {
		logger.Log.Error("carrier lookup", zap.String("zip", q.Zip), zap.String("city", q.City), zap.Error(err))
		httpx.WriteError(w, http.StatusBadGateway, "CarrierLookupFailed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pointsResponse{Points: points})
}
