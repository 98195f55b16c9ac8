package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lasweety/sweetyshop/internal/types/order"
)

func sampleOrder() *order.Order {
	return &order.Order{
		ID:              "o1",
		OrderNumber:     "#SWEETY-12345",
		StripeSessionID: "cs_test_1",
		Products: []order.LineItem{
			{ID: "101", Name: "Sweetyx Orange", Quantity: 2, Price: 34.99},
		},
		Total:         74.88,
		Currency:      "eur",
		CustomerName:  "Jeanne <Martin>",
		CustomerEmail: "jeanne@example.com",
		CustomerPhone: "+33600000000",
		ShippingAddress: order.Address{
			Line1: "1 rue des Lilas", City: "Lyon", PostalCode: "69001", Country: "FR",
		},
		BillingAddress: order.Address{Line1: "1 rue des Lilas", City: "Lyon", PostalCode: "69001", Country: "FR"},
		DeliveryMode:   order.DeliveryHome,
		Parcel:         order.Parcel{WeightKg: 0.39, LengthCm: 30, WidthCm: 25, HeightCm: 8, PackageType: "SMALL"},
		Status:         order.StatusPaid,
		CreatedAt:      time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestConfirmationHome(t *testing.T) {
	r := NewRenderer(Branding{SupportEmail: "contact@lasweety.com", SuccessBaseURL: "https://lasweety.com/success", CGVURL: "https://lasweety.com/cgv"},
		Company{Name: "La Sweety SAS", Siret: "123", City: "Paris", PostalCode: "75001"})

	html, err := r.Confirmation(sampleOrder())
	require.NoError(t, err)

	assert.Contains(t, html, "#SWEETY-12345")
	assert.Contains(t, html, "02 janvier 2026")
	assert.Contains(t, html, "Jeanne &lt;Martin&gt;")
	assert.Contains(t, html, "Livraison à domicile")
	assert.Contains(t, html, "1 rue des Lilas, 69001 Lyon, FR")
	assert.Contains(t, html, "SMALL · 0.390 kg · 30×25×8 cm")
	assert.Contains(t, html, "74,88 €")
	assert.Contains(t, html, "4,90 €")
	assert.Contains(t, html, "session_id=cs_test_1")
	assert.Contains(t, html, "Conditions générales de vente")
	assert.NotContains(t, html, "Retours")
	assert.Contains(t, html, "SIRET 123")
	assert.NotContains(t, html, "point relais.")
}

func TestConfirmationPickup(t *testing.T) {
	o := sampleOrder()
	o.DeliveryMode = order.DeliveryPickup
	o.PickupPoint = &order.PickupPoint{ID: "P1", Name: "Tabac du Centre", Address: "3 place Bellecour", Zip: "69002", City: "Lyon"}

	html, err := NewRenderer(Branding{}, Company{}).Confirmation(o)
	require.NoError(t, err)
	assert.Contains(t, html, "Point relais")
	assert.Contains(t, html, "Tabac du Centre, 3 place Bellecour, 69002 Lyon")
	assert.Contains(t, html, "au point relais")
	assert.Contains(t, html, "La Sweety")
}

func TestConfirmationNoProducts(t *testing.T) {
	o := sampleOrder()
	o.Products = nil
	html, err := NewRenderer(Branding{}, Company{}).Confirmation(o)
	require.NoError(t, err)
	assert.Contains(t, html, "Aucun article")
}

func TestInvoiceRender(t *testing.T) {
	r := NewInvoiceRenderer(Company{Name: "La Sweety SAS", AddressLine1: "10 rue de Paris", City: "Paris", Siret: "123", VATNumber: "FR00123", Email: "contact@lasweety.com"})
	o := sampleOrder()

	pdf, err := r.Render(o)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))
	assert.Equal(t, "facture-SWEETY-12345.pdf", r.Filename(o))
}

func TestComputeTotals(t *testing.T) {
	tot := ComputeTotals(sampleOrder())
	assert.Equal(t, "74.88", tot.Total.StringFixed(2))
	assert.Equal(t, "62.40", tot.SubtotalExclVAT.StringFixed(2))
	assert.Equal(t, "12.48", tot.VAT.StringFixed(2))
	assert.Equal(t, "4.90", tot.Shipping.StringFixed(2))
}

func TestFormatEUR(t *testing.T) {
	tests := map[string]string{
		"34.99":   "34,99 €",
		"0":       "0,00 €",
		"1234.5":  "1 234,50 €",
		"-12.345": "-12,35 €",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatEUR(decimal.RequireFromString(in)), in)
	}
}

func TestPlainText(t *testing.T) {
	html := `<style>p{color:red}</style><p>Bonjour&nbsp;<b>Jeanne</b></p>
	<p>Total &amp; frais</p>`
	assert.Equal(t, "Bonjour Jeanne Total & frais", PlainText(html))
}

func TestOutboxMailer(t *testing.T) {
	m := NewOutboxMailer()
	require.NoError(t, m.Send(context.Background(), Message{To: "a@b.c", Subject: "hi"}))
	assert.Len(t, m.Sent(), 1)

	m.Fail = errors.New("smtp down")
	assert.Error(t, m.Send(context.Background(), Message{To: "a@b.c"}))
	assert.Len(t, m.Sent(), 1)
}

func TestCompanyAddressLines(t *testing.T) {
	c := Company{AddressLine1: "10 rue de Paris", PostalCode: "75001", City: "Paris", Country: "FR"}
	assert.Equal(t, "10 rue de Paris|75001 Paris|FR", strings.Join(c.AddressLines(), "|"))
}
