package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/lasweety/sweetyshop/internal/logger"
	"github.com/lasweety/sweetyshop/internal/types/order"
)

// RowAppender appends one row at the end of a sheet.
type RowAppender interface {
	AppendRow(ctx context.Context, row []any) error
}

type GoogleSheetsAppender struct {
	srv           *sheets.Service
	spreadsheetID string
	rng           string
}

func NewGoogleSheetsAppender(ctx context.Context, keyFile, spreadsheetID, sheetName string) (*GoogleSheetsAppender, error) {
	srv, err := sheets.NewService(ctx,
		option.WithCredentialsFile(keyFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	if sheetName == "" {
		sheetName = "Commandes"
	}
	return &GoogleSheetsAppender{srv: srv, spreadsheetID: spreadsheetID, rng: sheetName + "!A:Z"}, nil
}

func (a *GoogleSheetsAppender) AppendRow(ctx context.Context, row []any) error {
	resp, err := a.srv.Spreadsheets.Values.
		Append(a.spreadsheetID, a.rng, &sheets.ValueRange{Values: [][]any{row}}).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("sheets append: %w", err)
	}
	if resp.Updates != nil {
		logger.Log.Debug("sheet row appended", zap.String("range", resp.Updates.UpdatedRange))
	}
	return nil
}

// SheetsSink logs every paid order as one spreadsheet row.
type SheetsSink struct {
	appender RowAppender
	loc      *time.Location
}

func NewSheetsSink(appender RowAppender) *SheetsSink {
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		loc = time.UTC
	}
	return &SheetsSink{appender: appender, loc: loc}
}

// Handle is an events HandlerFunc for TopicOrdersPaid.
func (s *SheetsSink) Handle(ctx context.Context, payload []byte) error {
	var o order.Order
	if err := json.Unmarshal(payload, &o); err != nil {
		return fmt.Errorf("decode order event: %w", err)
	}
	return s.appender.AppendRow(ctx, s.Row(&o))
}

// Row maps an order onto the sheet columns: date, number, status, name,
// email, phone, delivery mode, delivery details, total, products, parcel.
func (s *SheetsSink) Row(o *order.Order) []any {
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	label := "Domicile"
	var details string
	switch d := o.Destination().(type) {
	case order.PickupDestination:
		label = "Point relais"
		parts := d.Lines()
		if d.Point.Carrier != "" {
			parts = append(parts, "("+d.Point.Carrier+")")
		}
		details = strings.Join(parts, " - ")
	case order.HomeDestination:
		details = strings.Join(d.Lines(), " - ")
	}

	products := make([]string, 0, len(o.Products))
	for _, p := range o.Products {
		name := p.Name
		if name == "" {
			name = p.ID
		}
		products = append(products, fmt.Sprintf("%s x%d @ %s €", name, p.Quantity, decimal.NewFromFloat(p.Price).StringFixed(2)))
	}

	var parcel string
	if p := o.Parcel; p.WeightKg > 0 {
		parcel = fmt.Sprintf("%s kg – %dx%dx%d cm (%s)",
			decimal.NewFromFloat(p.WeightKg).String(), p.LengthCm, p.WidthCm, p.HeightCm, p.PackageType)
	}

	status := string(o.Status)
	if status == "" {
		status = string(order.StatusPaid)
	}

	return []any{
		createdAt.In(s.loc).Format("02/01/2006 15:04"),
		o.OrderNumber,
		status,
		o.CustomerName,
		o.CustomerEmail,
		o.CustomerPhone,
		label,
		details,
		o.Total,
		strings.Join(products, " | "),
		parcel,
	}
}
