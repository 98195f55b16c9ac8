package order

import (
	"strings"
	"time"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusPaid       OrderStatus = "paid"
	StatusCanceled   OrderStatus = "canceled"
	StatusRefunded   OrderStatus = "refunded"
)

// Valid reports whether s is one of the statuses an admin may set.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusPaid, StatusCanceled, StatusRefunded:
		return true
	}
	return false
}

type DeliveryMode string

const (
	DeliveryHome   DeliveryMode = "home"
	DeliveryPickup DeliveryMode = "pickup"
)

func (m DeliveryMode) Valid() bool {
	return m == DeliveryHome || m == DeliveryPickup
}

type LineItem struct {
	ID       string  `bson:"id" json:"id"`
	Name     string  `bson:"name" json:"name"`
	Quantity int     `bson:"quantity" json:"quantity"`
	Price    float64 `bson:"price" json:"price"`
}

type Address struct {
	Line1      string `bson:"line1,omitempty" json:"line1,omitempty"`
	Line2      string `bson:"line2,omitempty" json:"line2,omitempty"`
	City       string `bson:"city,omitempty" json:"city,omitempty"`
	PostalCode string `bson:"postal_code,omitempty" json:"postal_code,omitempty"`
	Country    string `bson:"country,omitempty" json:"country,omitempty"`
}

func (a Address) IsZero() bool {
	return a == Address{}
}

// Lines returns the non-empty printable lines of the address.
func (a Address) Lines() []string {
	return nonEmpty(a.Line1, a.Line2, strings.TrimSpace(a.PostalCode+" "+a.City), a.Country)
}

type PickupPoint struct {
	ID      string  `bson:"id" json:"id"`
	Name    string  `bson:"name" json:"name"`
	Address string  `bson:"address,omitempty" json:"address,omitempty"`
	Zip     string  `bson:"zip,omitempty" json:"zip,omitempty"`
	City    string  `bson:"city,omitempty" json:"city,omitempty"`
	Lat     float64 `bson:"lat,omitempty" json:"lat,omitempty"`
	Lng     float64 `bson:"lng,omitempty" json:"lng,omitempty"`
	Carrier string  `bson:"carrier,omitempty" json:"carrier,omitempty"`
}

func (p PickupPoint) Lines() []string {
	return nonEmpty(p.Name, p.Address, strings.TrimSpace(p.Zip+" "+p.City))
}

type Parcel struct {
	WeightKg    float64 `bson:"weightKg" json:"weightKg"`
	LengthCm    int     `bson:"lengthCm" json:"lengthCm"`
	WidthCm     int     `bson:"widthCm" json:"widthCm"`
	HeightCm    int     `bson:"heightCm" json:"heightCm"`
	PackageType string  `bson:"packageType" json:"packageType"`
}

type Order struct {
	ID                    string       `bson:"_id,omitempty" json:"_id"`
	OrderNumber           string       `bson:"orderNumber" json:"orderNumber"`
	StripeSessionID       string       `bson:"stripeSessionId" json:"stripeSessionId"`
	StripePaymentIntentID string       `bson:"stripePaymentIntentId,omitempty" json:"stripePaymentIntentId,omitempty"`
	StripeCustomerID      string       `bson:"stripeCustomerId,omitempty" json:"stripeCustomerId,omitempty"`
	Products              []LineItem   `bson:"products" json:"products"`
	Total                 float64      `bson:"total" json:"total"`
	Currency              string       `bson:"currency" json:"currency"`
	CustomerEmail         string       `bson:"customerEmail" json:"customerEmail"`
	CustomerName          string       `bson:"customerName" json:"customerName"`
	CustomerPhone         string       `bson:"customerPhone,omitempty" json:"customerPhone,omitempty"`
	ShippingAddress       Address      `bson:"shippingAddress" json:"shippingAddress"`
	BillingAddress        Address      `bson:"billingAddress" json:"billingAddress"`
	DeliveryMode          DeliveryMode `bson:"deliveryMode" json:"deliveryMode"`
	PickupPoint           *PickupPoint `bson:"pickupPoint,omitempty" json:"pickupPoint,omitempty"`
	Parcel                Parcel       `bson:"parcel" json:"parcel"`
	Status                OrderStatus  `bson:"status" json:"status"`
	EmailSent             bool         `bson:"emailSent" json:"emailSent"`
	EmailSentAt           *time.Time   `bson:"emailSentAt,omitempty" json:"emailSentAt,omitempty"`
	EmailAttempts         int          `bson:"emailAttempts" json:"emailAttempts"`
	CreatedAt             time.Time    `bson:"createdAt" json:"createdAt"`
	UpdatedAt             time.Time    `bson:"updatedAt" json:"updatedAt"`
}

// Destination is where the parcel goes: either a HomeDestination or a
// PickupDestination.
type Destination interface {
	isDestination()
	Label() string
	Lines() []string
}

type HomeDestination struct {
	Address Address
}

func (HomeDestination) isDestination()    {}
func (HomeDestination) Label() string     { return "Livraison à domicile" }
func (d HomeDestination) Lines() []string { return d.Address.Lines() }

type PickupDestination struct {
	Point PickupPoint
}

func (PickupDestination) isDestination()    {}
func (PickupDestination) Label() string     { return "Point relais" }
func (d PickupDestination) Lines() []string { return d.Point.Lines() }

// Destination derives the delivery target. A pickup order without a point
// falls back to the home address; a home order without a shipping address
// falls back to the billing address.
func (o *Order) Destination() Destination {
	if o.DeliveryMode == DeliveryPickup && o.PickupPoint != nil {
		return PickupDestination{Point: *o.PickupPoint}
	}
	if !o.ShippingAddress.IsZero() {
		return HomeDestination{Address: o.ShippingAddress}
	}
	return HomeDestination{Address: o.BillingAddress}
}

// ItemCount is the total quantity across all lines.
func (o *Order) ItemCount() int {
	n := 0
	for _, p := range o.Products {
		n += p.Quantity
	}
	return n
}

// PaidSession is the normalized view of a completed provider checkout
// session, independent of the provider SDK.
type PaidSession struct {
	SessionID       string       `bson:"sessionId" json:"sessionId"`
	PaymentIntentID string       `bson:"paymentIntentId,omitempty" json:"paymentIntentId,omitempty"`
	CustomerID      string       `bson:"customerId,omitempty" json:"customerId,omitempty"`
	AmountTotal     int64        `bson:"amountTotal" json:"amountTotal"`
	Currency        string       `bson:"currency" json:"currency"`
	CustomerEmail   string       `bson:"customerEmail" json:"customerEmail"`
	CustomerName    string       `bson:"customerName" json:"customerName"`
	CustomerPhone   string       `bson:"customerPhone,omitempty" json:"customerPhone,omitempty"`
	ShippingAddress Address      `bson:"shippingAddress" json:"shippingAddress"`
	BillingAddress  Address      `bson:"billingAddress" json:"billingAddress"`
	Cart            string       `bson:"cart" json:"cart"`
	DeliveryMode    DeliveryMode `bson:"deliveryMode" json:"deliveryMode"`
	PickupPoint     *PickupPoint `bson:"pickupPoint,omitempty" json:"pickupPoint,omitempty"`
}

// StockLine is a decrement that has not been applied yet.
type StockLine struct {
	ProductID string `bson:"productId" json:"productId"`
	Quantity  int    `bson:"quantity" json:"quantity"`
}

// DeadLetter keeps a paid session whose order could not be written.
// PendingStock lists the decrements that errored before the failure.
type DeadLetter struct {
	ID              string      `bson:"_id,omitempty" json:"_id"`
	StripeSessionID string      `bson:"stripeSessionId" json:"stripeSessionId"`
	Session         PaidSession `bson:"session" json:"session"`
	StockAdjusted   bool        `bson:"stockAdjusted" json:"stockAdjusted"`
	PendingStock    []StockLine `bson:"pendingStock,omitempty" json:"pendingStock,omitempty"`
	Error           string      `bson:"error" json:"error"`
	Attempts        int         `bson:"attempts" json:"attempts"`
	CreatedAt       time.Time   `bson:"createdAt" json:"createdAt"`
	ResolvedAt      *time.Time  `bson:"resolvedAt,omitempty" json:"resolvedAt,omitempty"`
}

func nonEmpty(parts ...string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
