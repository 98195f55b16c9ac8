package checkout

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// FullNameField is the key of the required free-text name field.
const FullNameField = "fullname"

type SessionLine struct {
	Name       string
	UnitAmount int64
	Quantity   int64
}

// SessionSpec is everything the payment provider needs to open a hosted
// checkout page.
type SessionSpec struct {
	Lines            []SessionLine
	Currency         string
	DeliveryMode     string
	ShippingLabel    string
	ShippingAmount   int64
	AllowedCountries []string
	SuccessURL       string
	CancelURL        string
	Metadata         map[string]string
}

type CreatedSession struct {
	ID  string
	URL string
}

type SessionProvider interface {
	CreateSession(ctx context.Context, spec SessionSpec) (*CreatedSession, error)
}

type StripeProvider struct {
	api *client.API
}

func NewStripeProvider(secretKey string) *StripeProvider {
	return &StripeProvider{api: client.New(secretKey, nil)}
}

func (p *StripeProvider) CreateSession(ctx context.Context, spec SessionSpec) (*CreatedSession, error) {
	params := buildSessionParams(spec)
	params.Context = ctx
	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create session: %w", err)
	}
	return &CreatedSession{ID: s.ID, URL: s.URL}, nil
}

func buildSessionParams(spec SessionSpec) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Mode:                     stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes:       stripe.StringSlice([]string{"card"}),
		SuccessURL:               stripe.String(spec.SuccessURL),
		CancelURL:                stripe.String(spec.CancelURL),
		CustomerCreation:         stripe.String(string(stripe.CheckoutSessionCustomerCreationAlways)),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired)),
		PhoneNumberCollection: &stripe.CheckoutSessionPhoneNumberCollectionParams{
			Enabled: stripe.Bool(true),
		},
		CustomFields: []*stripe.CheckoutSessionCustomFieldParams{{
			Key: stripe.String(FullNameField),
			Label: &stripe.CheckoutSessionCustomFieldLabelParams{
				Type:   stripe.String("custom"),
				Custom: stripe.String("Nom et prénom"),
			},
			Type:     stripe.String("text"),
			Optional: stripe.Bool(false),
		}},
		ShippingOptions: []*stripe.CheckoutSessionShippingOptionParams{{
			ShippingRateData: &stripe.CheckoutSessionShippingOptionShippingRateDataParams{
				Type:        stripe.String("fixed_amount"),
				DisplayName: stripe.String(spec.ShippingLabel),
				FixedAmount: &stripe.CheckoutSessionShippingOptionShippingRateDataFixedAmountParams{
					Amount:   stripe.Int64(spec.ShippingAmount),
					Currency: stripe.String(spec.Currency),
				},
				DeliveryEstimate: &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateParams{
					Minimum: &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateMinimumParams{
						Unit:  stripe.String("business_day"),
						Value: stripe.Int64(3),
					},
					Maximum: &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateMaximumParams{
						Unit:  stripe.String("business_day"),
						Value: stripe.Int64(5),
					},
				},
			},
		}},
	}
	// Pickup parcels go to a relay point, not to a typed-in address.
	if spec.DeliveryMode == "home" && len(spec.AllowedCountries) > 0 {
		params.ShippingAddressCollection = &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(spec.AllowedCountries),
		}
	}
	for _, l := range spec.Lines {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(spec.Currency),
				UnitAmount: stripe.Int64(l.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(l.Name),
				},
			},
			Quantity: stripe.Int64(l.Quantity),
		})
	}
	for k, v := range spec.Metadata {
		params.AddMetadata(k, v)
	}
	return params
}
