package notify

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"

	"github.com/lasweety/sweetyshop/internal/types/order"
)

// VATRate is the French standard rate applied to every line.
var VATRate = decimal.NewFromInt(20)

// InvoiceRenderer draws an A4 invoice. Prices in orders are VAT-inclusive, so
// excl. VAT amounts are derived from them.
type InvoiceRenderer struct {
	company Company
}

func NewInvoiceRenderer(company Company) *InvoiceRenderer {
	return &InvoiceRenderer{company: company}
}

func (r *InvoiceRenderer) Filename(o *order.Order) string {
	return fmt.Sprintf("facture-%s.pdf", trimHash(o.OrderNumber))
}

func (r *InvoiceRenderer) Render(o *order.Order) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetTitle("Facture "+o.OrderNumber, true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	invoiceNumber := o.OrderNumber
	if invoiceNumber == "" {
		invoiceNumber = o.ID
	}

	top := pdf.GetY()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(100, 8, tr(firstNonEmpty(r.company.Name, "La Sweety")))
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 10)
	for _, l := range r.company.AddressLines() {
		pdf.Cell(100, 5, tr(l))
		pdf.Ln(5)
	}
	if r.company.Siret != "" {
		pdf.Cell(100, 5, tr("SIRET : "+r.company.Siret))
		pdf.Ln(5)
	}
	if r.company.VATNumber != "" {
		pdf.Cell(100, 5, tr("TVA : "+r.company.VATNumber))
		pdf.Ln(5)
	}
	if r.company.Email != "" {
		pdf.Cell(100, 5, tr("Contact : "+r.company.Email))
		pdf.Ln(5)
	}
	companyBottom := pdf.GetY()

	pdf.SetXY(110, top)
	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(85, 10, "FACTURE", "", 2, "R", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(85, 5, tr("N° : "+invoiceNumber), "", 2, "R", false, 0, "")
	pdf.CellFormat(85, 5, tr("Date : "+createdAt.Format("02/01/2006")), "", 2, "R", false, 0, "")
	if o.OrderNumber != "" {
		pdf.CellFormat(85, 5, tr("Commande : "+o.OrderNumber), "", 2, "R", false, 0, "")
	}

	pdf.SetXY(15, max(companyBottom, pdf.GetY())+8)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 6, tr("Facturé à :"))
	pdf.Ln(6)
	pdf.SetFont("Helvetica", "", 10)
	for _, l := range append([]string{o.CustomerName, o.CustomerEmail}, o.BillingAddress.Lines()...) {
		if l == "" {
			continue
		}
		pdf.Cell(0, 5, tr(l))
		pdf.Ln(5)
	}
	pdf.Ln(2)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.Cell(0, 5, tr(o.Destination().Label()+" :"))
	pdf.Ln(5)
	pdf.SetFont("Helvetica", "", 10)
	for _, l := range o.Destination().Lines() {
		pdf.Cell(0, 5, tr(l))
		pdf.Ln(5)
	}

	pdf.Ln(6)
	widths := []float64{85, 15, 30, 20, 30}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(240, 240, 240)
	for i, h := range []string{"Article", "Qté", "PU HT", "TVA", "Total TTC"} {
		align := "R"
		if i == 0 {
			align = "L"
		}
		pdf.CellFormat(widths[i], 7, tr(h), "B", 0, align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	for _, p := range o.Products {
		unitTTC := decimal.NewFromFloat(p.Price)
		lineTTC := unitTTC.Mul(decimal.NewFromInt(int64(p.Quantity)))
		pdf.CellFormat(widths[0], 6, tr(p.Name), "", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 6, strconv.Itoa(p.Quantity), "", 0, "R", false, 0, "")
		pdf.CellFormat(widths[2], 6, tr(FormatEUR(excludingVAT(unitTTC))), "", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 6, VATRate.String()+"%", "", 0, "R", false, 0, "")
		pdf.CellFormat(widths[4], 6, tr(FormatEUR(lineTTC)), "", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	totals := ComputeTotals(o)
	pdf.Ln(4)
	row := func(label string, v decimal.Decimal, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, 10)
		pdf.CellFormat(150, 6, tr(label), "", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, tr(FormatEUR(v)), "", 1, "R", false, 0, "")
	}
	row("Sous-total HT :", totals.SubtotalExclVAT, false)
	row("TVA ("+VATRate.String()+"%) :", totals.VAT, false)
	if totals.Shipping.IsPositive() {
		row("dont frais de port TTC :", totals.Shipping, false)
	}
	row("Total TTC :", totals.Total, true)

	pdf.Ln(10)
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 5, tr("Merci pour votre commande !"), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 8)
	pdf.CellFormat(0, 5, tr("Facture générée automatiquement."), "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render invoice: %w", err)
	}
	return buf.Bytes(), nil
}

type Totals struct {
	Total           decimal.Decimal
	SubtotalExclVAT decimal.Decimal
	VAT             decimal.Decimal
	Shipping        decimal.Decimal
}

// ComputeTotals splits the paid total into excl. VAT and VAT parts.
func ComputeTotals(o *order.Order) Totals {
	total := decimal.NewFromFloat(o.Total).Round(2)
	ht := excludingVAT(total)
	return Totals{
		Total:           total,
		SubtotalExclVAT: ht,
		VAT:             total.Sub(ht),
		Shipping:        ShippingAmount(o),
	}
}

func excludingVAT(ttc decimal.Decimal) decimal.Decimal {
	return ttc.Div(decimal.NewFromInt(1).Add(VATRate.Div(decimal.NewFromInt(100)))).Round(2)
}

func trimHash(s string) string {
	if len(s) > 0 && s[0] == '#' {
		return s[1:]
	}
	return s
}
