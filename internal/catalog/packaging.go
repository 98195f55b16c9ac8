package catalog

import (
	"github.com/shopspring/decimal"

	"github.com/lasweety/sweetyshop/internal/types/order"
)

// Gabarit is a predefined parcel size selected by item count.
type Gabarit struct {
	Name     string
	LengthCm int
	WidthCm  int
	HeightCm int
	TareKg   float64
	MaxItems int
}

var (
	Small = Gabarit{Name: "SMALL", LengthCm: 30, WidthCm: 25, HeightCm: 8, TareKg: 0.03, MaxItems: 2}
	Large = Gabarit{Name: "LARGE", LengthCm: 45, WidthCm: 35, HeightCm: 10, TareKg: 0.04, MaxItems: 4}
)

// SelectPackaging returns small when it holds totalQty items, large otherwise.
// Non-positive quantities are malformed and get the large gabarit.
func SelectPackaging(totalQty int, small, large Gabarit) Gabarit {
	if totalQty > 0 && totalQty <= small.MaxItems {
		return small
	}
	return large
}

// ParcelLine is one resolved line: how many units and what one unit weighs.
type ParcelLine struct {
	Quantity int
	WeightKg float64
}

// ComputeParcel weighs the lines, picks the gabarit and rounds the weight
// to the gram.
func ComputeParcel(lines []ParcelLine, small, large Gabarit) order.Parcel {
	qty := 0
	weight := decimal.Zero
	for _, l := range lines {
		qty += l.Quantity
		weight = weight.Add(decimal.NewFromFloat(l.WeightKg).Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	g := SelectPackaging(qty, small, large)
	weight = weight.Add(decimal.NewFromFloat(g.TareKg)).Round(3)

	return order.Parcel{
		WeightKg:    weight.InexactFloat64(),
		LengthCm:    g.LengthCm,
		WidthCm:     g.WidthCm,
		HeightCm:    g.HeightCm,
		PackageType: g.Name,
	}
}
