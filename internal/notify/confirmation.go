package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lasweety/sweetyshop/internal/types/order"
)

const confirmationTemplate = `<div style="background:#f6f7fb;padding:24px 12px;">
<div style="max-width:640px;margin:0 auto;background:#ffffff;border-radius:12px;overflow:hidden;">
  <div style="background:#111;color:#fff;padding:18px 22px;">
    <h1 style="margin:0;font-size:20px;">{{.Brand}}</h1>
  </div>
  <div style="padding:22px;">
    <h2 style="margin:0 0 6px 0;font-size:18px;">Merci pour votre commande {{.OrderNumber}}</h2>
    <p style="margin:0 0 14px 0;color:#555;">Passée le {{.OrderDate}}</p>
    <p>Bonjour {{if .CustomerName}}{{.CustomerName}}{{else}}!{{end}}</p>
    <p>Nous avons bien reçu votre paiement. Voici votre récapitulatif :</p>
    <table role="presentation" style="width:100%;border-collapse:collapse;">
      <thead><tr>
        <th align="left">Produit</th><th align="center">Qté</th><th align="right">Prix</th>
      </tr></thead>
      <tbody>
      {{- range .Lines}}
        <tr><td style="padding:10px 0;">{{.Name}}</td><td align="center">{{.Quantity}}</td><td align="right">{{.Price}}</td></tr>
      {{- else}}
        <tr><td colspan="3" align="center" style="color:#666;">Aucun article</td></tr>
      {{- end}}
      </tbody>
      <tfoot>
        <tr><td></td><td align="right" style="color:#666;">Livraison<br/><span style="font-size:12px;">{{.ShippingLabel}}</span></td><td align="right" style="color:#666;">{{.ShippingCost}}</td></tr>
        <tr><td></td><td align="right"><strong>Total</strong></td><td align="right"><strong>{{.Total}}</strong></td></tr>
      </tfoot>
    </table>
    <div style="margin-top:18px;padding:14px;background:#fafafa;border:1px solid #eee;border-radius:10px;">
      <p style="margin:0 0 6px 0;"><strong>{{.DeliveryTitle}}</strong></p>
      <p style="margin:0;">{{if .DeliveryInfo}}{{.DeliveryInfo}}{{else}}<em>Adresse non disponible</em>{{end}}</p>
      {{- if .IsPickup}}
      <p style="margin:8px 0 0 0;color:#666;">Vous recevrez un e-mail/SMS du transporteur dès l’arrivée du colis au point relais.</p>
      {{- end}}
    </div>
    {{- if .ParcelLine}}
    <div style="margin-top:12px;padding:12px;background:#fafafa;border:1px solid #eee;border-radius:10px;">
      <p style="margin:0;"><strong>Colis</strong> : {{.ParcelLine}}</p>
    </div>
    {{- end}}
    <div style="margin-top:12px;padding:12px;background:#fafafa;border:1px solid #eee;border-radius:10px;">
      <p style="margin:0 0 6px 0;"><strong>Coordonnées</strong></p>
      <p style="margin:0;">{{if .CustomerName}}{{.CustomerName}}{{else}}Client{{end}}</p>
      <p style="margin:4px 0 0 0;">{{.CustomerEmail}}</p>
      {{- if .CustomerPhone}}
      <p style="margin:4px 0 0 0;">{{.CustomerPhone}}</p>
      {{- end}}
      <p style="margin:8px 0 0 0;color:#666;">N° de commande : {{.OrderNumber}}</p>
    </div>
    {{- if .OrderLink}}
    <div style="text-align:center;margin-top:18px;">
      <a href="{{.OrderLink}}" style="display:inline-block;background:#111;color:#fff;text-decoration:none;padding:12px 18px;border-radius:8px;">Voir ma commande</a>
    </div>
    {{- end}}
    <p style="margin:20px 0 8px 0;">Une question ? Répondez à cet e-mail ou écrivez-nous à
      <a href="mailto:{{.SupportEmail}}" style="color:#111;">{{.SupportEmail}}</a>.</p>
    <p style="margin:8px 0 0 0;color:#666;font-size:13px;">
      {{- if .CGVURL}}<a href="{{.CGVURL}}" style="color:#111;">Conditions générales de vente</a>{{end}}
      {{- if and .CGVURL .ReturnsURL}} · {{end}}
      {{- if .ReturnsURL}}<a href="{{.ReturnsURL}}" style="color:#111;">Retours &amp; remboursements</a>{{end}}
    </p>
  </div>
  <div style="padding:16px 22px;border-top:1px solid #eee;color:#777;font-size:12px;">
    <p style="margin:0 0 6px 0;">© {{.Year}} {{.Brand}}</p>
    <p style="margin:0;">{{.CompanyName}}{{if .CompanySiret}} · SIRET {{.CompanySiret}}{{end}}
      {{- range .CompanyAddress}}<br/>{{.}}{{end}}</p>
  </div>
</div>
</div>`

type confirmationLine struct {
	Name     string
	Quantity int
	Price    string
}

type confirmationView struct {
	Brand          string
	OrderNumber    string
	OrderDate      string
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
	Lines          []confirmationLine
	ShippingLabel  string
	ShippingCost   string
	Total          string
	DeliveryTitle  string
	DeliveryInfo   string
	IsPickup       bool
	ParcelLine     string
	OrderLink      string
	SupportEmail   string
	CGVURL         string
	ReturnsURL     string
	Year           int
	CompanyName    string
	CompanySiret   string
	CompanyAddress []string
}

// Renderer builds the HTML confirmation email.
type Renderer struct {
	brand   Branding
	company Company
	tmpl    *template.Template
}

func NewRenderer(brand Branding, company Company) *Renderer {
	if brand.BrandName == "" {
		brand.BrandName = "La Sweety"
	}
	if company.Name == "" {
		company.Name = brand.BrandName
	}
	return &Renderer{
		brand:   brand,
		company: company,
		tmpl:    template.Must(template.New("confirmation").Parse(confirmationTemplate)),
	}
}

func (r *Renderer) Subject(o *order.Order) string {
	return fmt.Sprintf("Confirmation de commande %s", o.OrderNumber)
}

func (r *Renderer) Confirmation(o *order.Order) (string, error) {
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	dest := o.Destination()
	_, isPickup := dest.(order.PickupDestination)
	title := "Adresse de livraison"
	if isPickup {
		title = "Point relais"
	}

	lines := make([]confirmationLine, 0, len(o.Products))
	for _, p := range o.Products {
		lines = append(lines, confirmationLine{
			Name:     p.Name,
			Quantity: p.Quantity,
			Price:    FormatEUR(decimal.NewFromFloat(p.Price)),
		})
	}

	view := confirmationView{
		Brand:          r.brand.BrandName,
		OrderNumber:    o.OrderNumber,
		OrderDate:      FormatDateLong(createdAt),
		CustomerName:   o.CustomerName,
		CustomerEmail:  o.CustomerEmail,
		CustomerPhone:  o.CustomerPhone,
		Lines:          lines,
		ShippingLabel:  dest.Label(),
		ShippingCost:   FormatEUR(ShippingAmount(o)),
		Total:          FormatEUR(decimal.NewFromFloat(o.Total)),
		DeliveryTitle:  title,
		DeliveryInfo:   strings.Join(dest.Lines(), ", "),
		IsPickup:       isPickup,
		ParcelLine:     parcelLine(o.Parcel),
		OrderLink:      r.orderLink(o),
		SupportEmail:   r.brand.SupportEmail,
		CGVURL:         r.brand.CGVURL,
		ReturnsURL:     r.brand.ReturnsURL,
		Year:           time.Now().Year(),
		CompanyName:    r.company.Name,
		CompanySiret:   r.company.Siret,
		CompanyAddress: r.company.AddressLines(),
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render confirmation: %w", err)
	}
	return buf.String(), nil
}

func (r *Renderer) orderLink(o *order.Order) string {
	if r.brand.SuccessBaseURL == "" || o.StripeSessionID == "" {
		return ""
	}
	return r.brand.SuccessBaseURL + "?session_id=" + url.QueryEscape(o.StripeSessionID)
}

func parcelLine(p order.Parcel) string {
	var parts []string
	if p.PackageType != "" {
		parts = append(parts, p.PackageType)
	}
	if p.WeightKg > 0 {
		parts = append(parts, decimal.NewFromFloat(p.WeightKg).StringFixed(3)+" kg")
	}
	if p.LengthCm > 0 && p.WidthCm > 0 && p.HeightCm > 0 {
		parts = append(parts, fmt.Sprintf("%d×%d×%d cm", p.LengthCm, p.WidthCm, p.HeightCm))
	}
	return strings.Join(parts, " · ")
}

// ProductsAmount sums the VAT-inclusive product lines.
func ProductsAmount(o *order.Order) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range o.Products {
		sum = sum.Add(decimal.NewFromFloat(p.Price).Mul(decimal.NewFromInt(int64(p.Quantity))))
	}
	return sum
}

// ShippingAmount is what the customer paid on top of the products, never
// negative.
func ShippingAmount(o *order.Order) decimal.Decimal {
	s := decimal.NewFromFloat(o.Total).Sub(ProductsAmount(o))
	if s.IsNegative() {
		return decimal.Zero
	}
	return s.Round(2)
}
