package checkout

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v76"

	"github.com/lasweety/sweetyshop/internal/types/order"
)

const (
	metaCart         = "cart"
	metaDeliveryMode = "deliveryMode"
	metaPickupPoint  = "pickupPoint"
)

var ErrUnsupportedEvent = errors.New("unsupported event payload")

// DecodeCompletedSession extracts the checkout session of a
// checkout.session.completed event. ok is false for any other event type.
func DecodeCompletedSession(payload []byte) (ps order.PaidSession, eventType string, ok bool, err error) {
	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return ps, "", false, fmt.Errorf("%w: %v", ErrUnsupportedEvent, err)
	}
	eventType = string(evt.Type)
	if evt.Type != stripe.EventTypeCheckoutSessionCompleted {
		return ps, eventType, false, nil
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return ps, eventType, false, fmt.Errorf("%w: empty data object", ErrUnsupportedEvent)
	}
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &cs); err != nil {
		return ps, eventType, false, fmt.Errorf("%w: %v", ErrUnsupportedEvent, err)
	}
	if cs.ID == "" {
		return ps, eventType, false, fmt.Errorf("%w: session without id", ErrUnsupportedEvent)
	}
	return NormalizeSession(&cs), eventType, true, nil
}

// NormalizeSession maps a provider session onto PaidSession. Customer name
// priority: custom fullname field, shipping name, customer name, "unknown".
func NormalizeSession(cs *stripe.CheckoutSession) order.PaidSession {
	ps := order.PaidSession{
		SessionID:     cs.ID,
		AmountTotal:   cs.AmountTotal,
		Currency:      string(cs.Currency),
		CustomerEmail: "unknown",
		CustomerName:  "unknown",
		Cart:          cs.Metadata[metaCart],
		DeliveryMode:  order.DeliveryMode(cs.Metadata[metaDeliveryMode]),
	}
	if cs.PaymentIntent != nil {
		ps.PaymentIntentID = cs.PaymentIntent.ID
	}
	if cs.Customer != nil {
		ps.CustomerID = cs.Customer.ID
	}

	var shippingName, detailsName string
	if cs.ShippingDetails != nil {
		shippingName = cs.ShippingDetails.Name
		ps.ShippingAddress = fromStripeAddress(cs.ShippingDetails.Address)
		ps.CustomerPhone = cs.ShippingDetails.Phone
	}
	if d := cs.CustomerDetails; d != nil {
		detailsName = d.Name
		if d.Email != "" {
			ps.CustomerEmail = d.Email
		}
		if d.Phone != "" {
			ps.CustomerPhone = d.Phone
		}
		ps.BillingAddress = fromStripeAddress(d.Address)
	}
	if name := firstNonBlank(customFieldText(cs, FullNameField), shippingName, detailsName); name != "" {
		ps.CustomerName = name
	}

	if !ps.DeliveryMode.Valid() {
		ps.DeliveryMode = order.DeliveryHome
	}
	if ps.DeliveryMode == order.DeliveryPickup {
		ps.PickupPoint = parsePickupPoint(cs.Metadata[metaPickupPoint])
	}
	return ps
}

func fromStripeAddress(a *stripe.Address) order.Address {
	if a == nil {
		return order.Address{}
	}
	return order.Address{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func customFieldText(cs *stripe.CheckoutSession, key string) string {
	for _, f := range cs.CustomFields {
		if f != nil && f.Key == key && f.Text != nil {
			return f.Text.Value
		}
	}
	return ""
}

// pickupMeta is the pickup point as the storefront serializes it. Numbers
// may arrive as strings.
type pickupMeta struct {
	ID      flexString `json:"id"`
	Name    string     `json:"name"`
	Address string     `json:"address"`
	Zip     string     `json:"zip"`
	City    string     `json:"city"`
	Lat     flexString `json:"lat"`
	Lng     flexString `json:"lng"`
	Carrier string     `json:"carrier"`
}

func parsePickupPoint(raw string) *order.PickupPoint {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var m pickupMeta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	p := &order.PickupPoint{
		ID:      string(m.ID),
		Name:    m.Name,
		Address: m.Address,
		Zip:     m.Zip,
		City:    m.City,
		Carrier: m.Carrier,
	}
	p.Lat, _ = strconv.ParseFloat(string(m.Lat), 64)
	p.Lng, _ = strconv.ParseFloat(string(m.Lng), 64)
	if p.ID == "" && p.Name == "" {
		return nil
	}
	return p
}

type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
