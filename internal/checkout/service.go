package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lasweety/sweetyshop/internal/catalog"
	"github.com/lasweety/sweetyshop/internal/logger"
	"github.com/lasweety/sweetyshop/internal/storage"
	"github.com/lasweety/sweetyshop/internal/types/order"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidProduct    = errors.New("invalid product")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Shipping holds the flat fee of each delivery mode, in minor units.
type Shipping struct {
	HomeFeeCents   int64
	PickupFeeCents int64
}

func (s Shipping) Fee(mode order.DeliveryMode) int64 {
	if mode == order.DeliveryPickup {
		return s.PickupFeeCents
	}
	return s.HomeFeeCents
}

func (s Shipping) Label(mode order.DeliveryMode) string {
	if mode == order.DeliveryPickup {
		return "Point relais Chronopost"
	}
	return "Livraison à domicile"
}

type Config struct {
	Currency         string
	FrontendURL      string
	AllowedCountries []string
	Shipping         Shipping
}

type CreateSessionRequest struct {
	Cart         []catalog.CartLine `json:"cart" validate:"required,min=1,dive"`
	DeliveryMode string             `json:"deliveryMode" validate:"required,oneof=home pickup"`
	PickupPoint  *order.PickupPoint `json:"pickupPoint" validate:"required_if=DeliveryMode pickup"`
}

type CreateSessionResult struct {
	URL       string `json:"url"`
	SessionID string `json:"-"`
}

type ProductView struct {
	catalog.Entry
	Stock int `json:"stock"`
}

type Service struct {
	cfg      Config
	catalog  *catalog.Catalog
	products ProductRepository
	orders   OrderRepository
	provider SessionProvider
	validate *validator.Validate
}

func NewService(cfg Config, cat *catalog.Catalog, products ProductRepository, orders OrderRepository, provider SessionProvider) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "eur"
	}
	return &Service{
		cfg:      cfg,
		catalog:  cat,
		products: products,
		orders:   orders,
		provider: provider,
		validate: validator.New(),
	}
}

// CreateSession validates the cart against the catalog and live stock, then
// opens a provider checkout session. Nothing is persisted and stock is only
// read.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	mode := order.DeliveryMode(req.DeliveryMode)
	if mode == order.DeliveryPickup && strings.TrimSpace(req.PickupPoint.ID) == "" {
		return nil, fmt.Errorf("%w: pickup point id is required", ErrInvalidInput)
	}

	lines := mergeCart(req.Cart)

	total := 0
	for _, l := range lines {
		total += l.Quantity
	}
	if total > catalog.MaxItemsPerOrder {
		return nil, fmt.Errorf("%w: at most %d items per order", ErrInvalidInput, catalog.MaxItemsPerOrder)
	}

	entries := make([]catalog.Entry, len(lines))
	for i, l := range lines {
		e, ok := s.catalog.Lookup(string(l.ID))
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidProduct, l.ID)
		}
		entries[i] = e
	}

	for i, l := range lines {
		p, err := s.products.GetProduct(ctx, string(l.ID))
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInsufficientStock, entries[i].Name)
		}
		if err != nil {
			return nil, fmt.Errorf("get stock %s: %w", l.ID, err)
		}
		if p.Stock < l.Quantity {
			return nil, fmt.Errorf("%w: %s", ErrInsufficientStock, entries[i].Name)
		}
	}

	spec, err := s.buildSpec(lines, entries, mode, req.PickupPoint)
	if err != nil {
		return nil, err
	}
	created, err := s.provider.CreateSession(ctx, spec)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("checkout session created",
		zap.String("session_id", created.ID),
		zap.String("delivery_mode", string(mode)),
		zap.Int("items", total),
	)
	return &CreateSessionResult{URL: created.URL, SessionID: created.ID}, nil
}

func (s *Service) buildSpec(lines []catalog.CartLine, entries []catalog.Entry, mode order.DeliveryMode, pickup *order.PickupPoint) (SessionSpec, error) {
	cartJSON, err := json.Marshal(lines)
	if err != nil {
		return SessionSpec{}, err
	}
	meta := map[string]string{
		metaCart:         string(cartJSON),
		metaDeliveryMode: string(mode),
	}
	if mode == order.DeliveryPickup {
		pj, err := json.Marshal(pickup)
		if err != nil {
			return SessionSpec{}, err
		}
		meta[metaPickupPoint] = string(pj)
	}

	spec := SessionSpec{
		Currency:         s.cfg.Currency,
		DeliveryMode:     string(mode),
		ShippingLabel:    s.cfg.Shipping.Label(mode),
		ShippingAmount:   s.cfg.Shipping.Fee(mode),
		AllowedCountries: s.cfg.AllowedCountries,
		SuccessURL:       s.cfg.FrontendURL + "/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:        s.cfg.FrontendURL + "/cancel",
		Metadata:         meta,
	}
	for i, l := range lines {
		spec.Lines = append(spec.Lines, SessionLine{
			Name:       entries[i].Name,
			UnitAmount: UnitAmount(entries[i].Price),
			Quantity:   int64(l.Quantity),
		})
	}
	return spec, nil
}

// UnitAmount converts a catalog price to minor units.
func UnitAmount(price float64) int64 {
	return decimal.NewFromFloat(price).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// mergeCart folds repeated ids into one line, keeping first-seen order.
// A missing or non-positive quantity counts as one unit.
func mergeCart(cart []catalog.CartLine) []catalog.CartLine {
	idx := make(map[catalog.ProductID]int, len(cart))
	out := make([]catalog.CartLine, 0, len(cart))
	for _, l := range cart {
		l.Quantity = max(1, l.Quantity)
		if i, ok := idx[l.ID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.ID] = len(out)
		out = append(out, l)
	}
	return out
}

func (s *Service) FindOrder(ctx context.Context, sessionID string) (*order.Order, error) {
	return s.orders.FindOrderBySession(ctx, sessionID)
}

// Products lists the catalog with live stock; a missing stock record reads 0.
func (s *Service) Products(ctx context.Context) ([]ProductView, error) {
	stock, err := s.products.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]int, len(stock))
	for _, p := range stock {
		byID[p.ID] = p.Stock
	}
	entries := s.catalog.All()
	out := make([]ProductView, 0, len(entries))
	for _, e := range entries {
		out = append(out, ProductView{Entry: e, Stock: byID[e.ID]})
	}
	return out, nil
}
