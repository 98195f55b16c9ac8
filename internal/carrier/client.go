package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lasweety/sweetyshop/internal/logger"
	"github.com/lasweety/sweetyshop/internal/types/order"
)

const (
	DefaultBaseURL = "https://panel.sendcloud.sc"
	DefaultCountry = "FR"
	Chronopost     = "chronopost"
)

var ErrLookupFailed = errors.New("carrier lookup failed")

// Query selects pickup points around a postal code or a city.
type Query struct {
	Zip     string
	City    string
	Country string
}

func (q Query) normalize() Query {
	q.Zip = strings.TrimSpace(q.Zip)
	q.City = strings.TrimSpace(q.City)
	q.Country = strings.ToUpper(strings.TrimSpace(q.Country))
	if q.Country == "" {
		q.Country = DefaultCountry
	}
	return q
}

func (q Query) key() string {
	return fmt.Sprintf("carrier:points:%s:%s:%s", q.Country, q.Zip, strings.ToLower(q.City))
}

type Locator interface {
	FindPoints(ctx context.Context, q Query) ([]order.PickupPoint, error)
}

// SendCloudClient queries the SendCloud service-points API for Chronopost relays.
type SendCloudClient struct {
	Client    *http.Client
	BaseURL   string
	PublicKey string
	SecretKey string
}

func NewSendCloudClient(baseURL, publicKey, secretKey string) *SendCloudClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &SendCloudClient{
		Client:    &http.Client{Timeout: 10 * time.Second},
		BaseURL:   strings.TrimRight(baseURL, "/"),
		PublicKey: publicKey,
		SecretKey: secretKey,
	}
}

type servicePoint struct {
	ID          flexString `json:"id"`
	Name        string     `json:"name"`
	Street      string     `json:"street"`
	HouseNumber string     `json:"house_number"`
	PostalCode  string     `json:"postal_code"`
	City        string     `json:"city"`
	Latitude    flexString `json:"latitude"`
	Longitude   flexString `json:"longitude"`
	Carrier     string     `json:"carrier"`
}

func (c *SendCloudClient) FindPoints(ctx context.Context, q Query) ([]order.PickupPoint, error) {
	q = q.normalize()
	params := url.Values{}
	params.Set("country", q.Country)
	params.Set("carrier", Chronopost)
	if q.Zip != "" {
		params.Set("postal_code", q.Zip)
	}
	if q.City != "" {
		params.Set("city", q.City)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/v2/service-points?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.PublicKey, c.SecretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: do request: %w", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrLookupFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		logger.Log.Warn("sendcloud lookup rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("zip", q.Zip),
			zap.String("city", q.City),
		)
		return nil, fmt.Errorf("%w: unexpected status: %d", ErrLookupFailed, resp.StatusCode)
	}

	raw, err := decodePoints(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode body: %w", ErrLookupFailed, err)
	}
	points := make([]order.PickupPoint, 0, len(raw))
	for _, sp := range raw {
		points = append(points, sp.normalize())
	}
	return points, nil
}

// decodePoints accepts both a bare array and a {"service_points": [...]} envelope.
func decodePoints(body []byte) ([]servicePoint, error) {
	body = bytes.TrimSpace(body)
	var raw []servicePoint
	if len(body) > 0 && body[0] == '[' {
		err := json.Unmarshal(body, &raw)
		return raw, err
	}
	var env struct {
		ServicePoints []servicePoint `json:"service_points"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return env.ServicePoints, nil
}

func (sp servicePoint) normalize() order.PickupPoint {
	carrier := sp.Carrier
	if carrier == "" {
		carrier = Chronopost
	}
	return order.PickupPoint{
		ID:      string(sp.ID),
		Name:    sp.Name,
		Address: strings.TrimSpace(sp.Street + " " + sp.HouseNumber),
		Zip:     sp.PostalCode,
		City:    sp.City,
		Lat:     parseCoord(sp.Latitude),
		Lng:     parseCoord(sp.Longitude),
		Carrier: carrier,
	}
}

func parseCoord(s flexString) float64 {
	f, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return 0
	}
	return f
}

// flexString takes a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
	default:
		*f = flexString(b)
	}
	return nil
}
