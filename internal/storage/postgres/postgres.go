package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/lasweety/sweetyshop/internal/storage"
	"github.com/lasweety/sweetyshop/internal/types/order"
	"github.com/lasweety/sweetyshop/internal/types/product"
)

const uniqueViolation = "23505"

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &PostgresStorage{db: db}

	if err := s.db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStorage) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
            id TEXT PRIMARY KEY,
            name TEXT UNIQUE NOT NULL,
            stock INT NOT NULL DEFAULT 0 CHECK (stock >= 0)
        )`,
		`CREATE TABLE IF NOT EXISTS orders (
            id TEXT PRIMARY KEY,
            order_number TEXT NOT NULL,
            stripe_session_id TEXT UNIQUE NOT NULL,
            stripe_payment_intent_id TEXT NOT NULL DEFAULT '',
            stripe_customer_id TEXT NOT NULL DEFAULT '',
            products JSONB NOT NULL,
            total DOUBLE PRECISION NOT NULL,
            currency TEXT NOT NULL,
            customer_email TEXT NOT NULL,
            customer_name TEXT NOT NULL,
            customer_phone TEXT NOT NULL DEFAULT '',
            shipping_address JSONB NOT NULL,
            billing_address JSONB NOT NULL,
            delivery_mode TEXT NOT NULL,
            pickup_point JSONB,
            parcel JSONB NOT NULL,
            status TEXT NOT NULL,
            email_sent BOOLEAN NOT NULL DEFAULT FALSE,
            email_sent_at TIMESTAMPTZ,
            email_attempts INT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS orders_created_at_idx ON orders (created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
            id TEXT PRIMARY KEY,
            stripe_session_id TEXT NOT NULL,
            session JSONB NOT NULL,
            stock_adjusted BOOLEAN NOT NULL,
            pending_stock JSONB NOT NULL DEFAULT '[]',
            error TEXT NOT NULL,
            attempts INT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL,
            resolved_at TIMESTAMPTZ
        )`,
		`ALTER TABLE dead_letters ADD COLUMN IF NOT EXISTS pending_stock JSONB NOT NULL DEFAULT '[]'`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func (s *PostgresStorage) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	var p product.Product
	err := s.db.QueryRowContext(ctx, `SELECT id, name, stock FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStorage) ListProducts(ctx context.Context) ([]product.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, stock FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []product.Product
	for rows.Next() {
		var p product.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Stock); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) SeedProducts(ctx context.Context, products []product.Product) error {
	const q = `INSERT INTO products (id, name, stock) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`
	for _, p := range products {
		if _, err := s.db.ExecContext(ctx, q, p.ID, p.Name, p.Stock); err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	return nil
}

func (s *PostgresStorage) DecrementStock(ctx context.Context, id string, qty int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1`, qty, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const orderColumns = `id, order_number, stripe_session_id, stripe_payment_intent_id, stripe_customer_id,
    products, total, currency, customer_email, customer_name, customer_phone,
    shipping_address, billing_address, delivery_mode, pickup_point, parcel, status,
    email_sent, email_sent_at, email_attempts, created_at, updated_at`

func (s *PostgresStorage) CreateOrder(ctx context.Context, o *order.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	productsJSON, err := json.Marshal(o.Products)
	if err != nil {
		return err
	}
	shippingJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}
	billingJSON, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return err
	}
	parcelJSON, err := json.Marshal(o.Parcel)
	if err != nil {
		return err
	}
	var pickupJSON []byte
	if o.PickupPoint != nil {
		if pickupJSON, err = json.Marshal(o.PickupPoint); err != nil {
			return err
		}
	}

	q := `INSERT INTO orders (` + orderColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`
	_, err = s.db.ExecContext(ctx, q,
		o.ID, o.OrderNumber, o.StripeSessionID, o.StripePaymentIntentID, o.StripeCustomerID,
		productsJSON, o.Total, o.Currency, o.CustomerEmail, o.CustomerName, o.CustomerPhone,
		shippingJSON, billingJSON, o.DeliveryMode, pickupJSON, parcelJSON, o.Status,
		o.EmailSent, o.EmailSentAt, o.EmailAttempts, o.CreatedAt, o.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return storage.ErrDuplicateOrder
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o                                       order.Order
		productsJSON, shippingJSON, billingJSON []byte
		pickupJSON, parcelJSON                  []byte
		emailSentAt                             sql.NullTime
	)
	if err := row.Scan(
		&o.ID, &o.OrderNumber, &o.StripeSessionID, &o.StripePaymentIntentID, &o.StripeCustomerID,
		&productsJSON, &o.Total, &o.Currency, &o.CustomerEmail, &o.CustomerName, &o.CustomerPhone,
		&shippingJSON, &billingJSON, &o.DeliveryMode, &pickupJSON, &parcelJSON, &o.Status,
		&o.EmailSent, &emailSentAt, &o.EmailAttempts, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(productsJSON, &o.Products); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	if err := json.Unmarshal(shippingJSON, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(billingJSON, &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("decode billing address: %w", err)
	}
	if err := json.Unmarshal(parcelJSON, &o.Parcel); err != nil {
		return nil, fmt.Errorf("decode parcel: %w", err)
	}
	if len(pickupJSON) > 0 {
		o.PickupPoint = &order.PickupPoint{}
		if err := json.Unmarshal(pickupJSON, o.PickupPoint); err != nil {
			return nil, fmt.Errorf("decode pickup point: %w", err)
		}
	}
	if emailSentAt.Valid {
		t := emailSentAt.Time
		o.EmailSentAt = &t
	}
	return &o, nil
}

func (s *PostgresStorage) findOrder(ctx context.Context, where string, arg any) (*order.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE ` + where
	o, err := scanOrder(s.db.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return o, err
}

func (s *PostgresStorage) FindOrderByID(ctx context.Context, id string) (*order.Order, error) {
	return s.findOrder(ctx, `id = $1`, id)
}

func (s *PostgresStorage) FindOrderBySession(ctx context.Context, sessionID string) (*order.Order, error) {
	return s.findOrder(ctx, `stripe_session_id = $1`, sessionID)
}

func (s *PostgresStorage) listOrders(ctx context.Context, q string, args ...any) ([]order.Order, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []order.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) ListOrders(ctx context.Context) ([]order.Order, error) {
	return s.listOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

func (s *PostgresStorage) UpdateOrderStatus(ctx context.Context, id string, status order.OrderStatus) (*order.Order, error) {
	q := `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 RETURNING ` + orderColumns
	o, err := scanOrder(s.db.QueryRowContext(ctx, q, status, time.Now().UTC(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return o, err
}

func (s *PostgresStorage) ClaimEmail(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE orders
        SET email_sent = TRUE, email_attempts = email_attempts + 1, updated_at = $1
        WHERE id = $2 AND email_sent = FALSE`, time.Now().UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStorage) ReleaseEmail(ctx context.Context, id string) error {
	return s.execOne(ctx, `UPDATE orders SET email_sent = FALSE, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
}

func (s *PostgresStorage) MarkEmailSent(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, `UPDATE orders SET email_sent_at = $1, updated_at = $2 WHERE id = $3`,
		at, time.Now().UTC(), id)
}

func (s *PostgresStorage) ListPendingEmails(ctx context.Context, maxAttempts int, createdBefore time.Time) ([]order.Order, error) {
	return s.listOrders(ctx, `SELECT `+orderColumns+` FROM orders
        WHERE email_sent = FALSE AND email_attempts < $1 AND created_at < $2
        ORDER BY created_at`, maxAttempts, createdBefore)
}

func (s *PostgresStorage) SaveDeadLetter(ctx context.Context, dl *order.DeadLetter) error {
	if dl.ID == "" {
		dl.ID = uuid.NewString()
	}
	sessionJSON, err := json.Marshal(dl.Session)
	if err != nil {
		return err
	}
	pending := dl.PendingStock
	if pending == nil {
		pending = []order.StockLine{}
	}
	pendingJSON, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO dead_letters (id, stripe_session_id, session, stock_adjusted, pending_stock, error, attempts, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		dl.ID, dl.StripeSessionID, sessionJSON, dl.StockAdjusted, pendingJSON, dl.Error, dl.Attempts, dl.CreatedAt)
	return err
}

const deadLetterColumns = `id, stripe_session_id, session, stock_adjusted, pending_stock, error, attempts, created_at, resolved_at`

func scanDeadLetter(row rowScanner) (*order.DeadLetter, error) {
	var (
		dl          order.DeadLetter
		sessionJSON []byte
		pendingJSON []byte
		resolvedAt  sql.NullTime
	)
	if err := row.Scan(&dl.ID, &dl.StripeSessionID, &sessionJSON, &dl.StockAdjusted, &pendingJSON,
		&dl.Error, &dl.Attempts, &dl.CreatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sessionJSON, &dl.Session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if len(pendingJSON) > 0 {
		if err := json.Unmarshal(pendingJSON, &dl.PendingStock); err != nil {
			return nil, fmt.Errorf("decode pending stock: %w", err)
		}
		if len(dl.PendingStock) == 0 {
			dl.PendingStock = nil
		}
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		dl.ResolvedAt = &t
	}
	return &dl, nil
}

func (s *PostgresStorage) FindDeadLetter(ctx context.Context, id string) (*order.DeadLetter, error) {
	dl, err := scanDeadLetter(s.db.QueryRowContext(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return dl, err
}

func (s *PostgresStorage) ListDeadLetters(ctx context.Context) ([]order.DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deadLetterColumns+` FROM dead_letters ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []order.DeadLetter{}
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *dl)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) ResolveDeadLetter(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, `UPDATE dead_letters SET resolved_at = $1 WHERE id = $2`, at, id)
}

func (s *PostgresStorage) RecordDeadLetterAttempt(ctx context.Context, id string, errMsg string) error {
	return s.execOne(ctx, `UPDATE dead_letters SET attempts = attempts + 1, error = $1 WHERE id = $2`, errMsg, id)
}

func (s *PostgresStorage) execOne(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
