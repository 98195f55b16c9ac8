package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Company is the seller identity printed on emails and invoices.
type Company struct {
	Name         string
	AddressLine1 string
	AddressLine2 string
	PostalCode   string
	City         string
	Country      string
	Siret        string
	VATNumber    string
	Email        string
}

func (c Company) AddressLines() []string {
	var out []string
	for _, l := range []string{
		c.AddressLine1,
		c.AddressLine2,
		strings.TrimSpace(c.PostalCode + " " + c.City),
		c.Country,
	} {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Branding holds the links and names used by the confirmation email.
type Branding struct {
	BrandName      string
	SupportEmail   string
	CGVURL         string
	ReturnsURL     string
	SuccessBaseURL string
}

var frMonths = [...]string{
	"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre",
}

// FormatDateLong renders 02 janvier 2026.
func FormatDateLong(t time.Time) string {
	return fmt.Sprintf("%02d %s %d", t.Day(), frMonths[t.Month()-1], t.Year())
}

// FormatEUR renders an amount the fr-FR way: 1 234,50 €.
func FormatEUR(amount decimal.Decimal) string {
	s := amount.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	out := b.String() + "," + frac + " €"
	if neg {
		out = "-" + out
	}
	return out
}
