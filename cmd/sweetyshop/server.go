package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lasweety/sweetyshop/internal/admin"
	"github.com/lasweety/sweetyshop/internal/carrier"
	"github.com/lasweety/sweetyshop/internal/catalog"
	"github.com/lasweety/sweetyshop/internal/checkout"
	"github.com/lasweety/sweetyshop/internal/events"
	"github.com/lasweety/sweetyshop/internal/logger"
	"github.com/lasweety/sweetyshop/internal/notify"
	"github.com/lasweety/sweetyshop/internal/order"
	"github.com/lasweety/sweetyshop/internal/router"
	"github.com/lasweety/sweetyshop/internal/storage"
	"github.com/lasweety/sweetyshop/internal/storage/memory"
	mongostore "github.com/lasweety/sweetyshop/internal/storage/mongo"
	"github.com/lasweety/sweetyshop/internal/storage/postgres"
	"github.com/lasweety/sweetyshop/internal/types/product"
)

func main() {
	if err := run(); err != nil {
		logger.Log.Error("server exited", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := NewConfig()
	if err != nil {
		return err
	}
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		return err
	}
	defer logger.Log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Log.Warn("failed to close storage", zap.Error(err))
		}
	}()

	cat := catalog.Default()
	if err := seedProducts(ctx, store, cat, cfg.SeedStock); err != nil {
		return err
	}

	mailer := newMailer(cfg)
	company := notify.Company{
		Name:         cfg.CompanyName,
		AddressLine1: cfg.CompanyAddress1,
		AddressLine2: cfg.CompanyAddress2,
		PostalCode:   cfg.CompanyZip,
		City:         cfg.CompanyCity,
		Country:      cfg.CompanyCountry,
		Siret:        cfg.CompanySiret,
		VATNumber:    cfg.CompanyVAT,
		Email:        cfg.CompanyEmail,
	}
	renderer := notify.NewRenderer(notify.Branding{
		BrandName:      cfg.BrandName,
		SupportEmail:   cfg.SupportEmail,
		CGVURL:         cfg.CGVURL,
		ReturnsURL:     cfg.ReturnsURL,
		SuccessBaseURL: cfg.SuccessBaseURL,
	}, company)
	confirmer := order.NewConfirmer(store, mailer, renderer, notify.NewInvoiceRenderer(company))

	broker, subscriber := newBroker(cfg)
	var bg sync.WaitGroup
	if err := startSheetsSink(ctx, cfg, subscriber, &bg); err != nil {
		return err
	}

	shipping := checkout.Shipping{HomeFeeCents: cfg.HomeFeeCents, PickupFeeCents: cfg.PickupFeeCents}
	checkoutSvc := checkout.NewService(checkout.Config{
		Currency:         cfg.Currency,
		FrontendURL:      cfg.FrontendURL,
		AllowedCountries: cfg.ShippingCountries,
		Shipping:         shipping,
	}, cat, store, store, checkout.NewStripeProvider(cfg.StripeSecretKey))
	finalizer := checkout.NewFinalizer(cat,
		checkout.Gabarits{Small: catalog.Small, Large: catalog.Large},
		shipping, store, store, store, confirmer, broker)

	orderSvc := order.NewService(store, confirmer)

	jwtSecret, err := adminJWTSecret(cfg)
	if err != nil {
		return err
	}
	adminSvc := admin.NewService(admin.Config{
		Password:  cfg.AdminPassword,
		Token:     cfg.AdminToken,
		JWTSecret: jwtSecret,
		JWTTTL:    cfg.AdminJWTTTL,
	}, mailer)

	locator, closeCache := newLocator(ctx, cfg)
	defer closeCache()

	r := router.NewRouter(router.Config{
		CORSOrigins:      cfg.CORSOrigins,
		WebhookSecret:    cfg.StripeWebhookSecret,
		WebhookTolerance: cfg.StripeWebhookTolerance,
		AdminToken:       cfg.AdminToken,
		JWTSecret:        jwtSecret,
	}, router.Handlers{
		Checkout: checkout.NewHandler(checkoutSvc, finalizer),
		Orders:   order.NewHandler(orderSvc),
		Admin:    admin.NewHandler(adminSvc),
		Carrier:  carrier.NewHandler(locator),
	}, store)

	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	bg.Add(1)
	go func() {
		defer bg.Done()
		order.DispatcherLoop(ctx, orderSvc, confirmer, order.RetryConfig{
			Workers:     cfg.MailRetryWorkers,
			Interval:    cfg.MailRetryInterval,
			MaxAttempts: cfg.MailMaxAttempts,
		})
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Log.Info("starting server",
			zap.String("address", srv.Addr),
			zap.String("env", cfg.AppEnv),
			zap.String("storage", cfg.StorageDriver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			return fmt.Errorf("listen: %w", err)
		}
	}
	logger.Log.Info("shutting down server")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	bg.Wait()
	if err := broker.Close(); err != nil {
		logger.Log.Warn("failed to close broker", zap.Error(err))
	}
	logger.Log.Info("server stopped gracefully")
	return nil
}

func openStorage(ctx context.Context, cfg *Config) (storage.Storage, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cfg.StorageDriver {
	case "memory":
		logger.Log.Warn("using in-memory storage, data is lost on restart")
		return memory.New(), nil
	case "postgres":
		s, err := postgres.NewPostgresStorage(cfg.DatabaseConnection)
		if err != nil {
			return nil, fmt.Errorf("init postgres storage: %w", err)
		}
		if err := s.Ping(connectCtx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return s, nil
	default:
		s, err := mongostore.NewMongoStorage(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("init mongo storage: %w", err)
		}
		return s, nil
	}
}

func seedProducts(ctx context.Context, store storage.ProductRepository, cat *catalog.Catalog, stock int) error {
	entries := cat.All()
	products := make([]product.Product, 0, len(entries))
	for _, e := range entries {
		products = append(products, product.Product{ID: e.ID, Name: e.Name, Stock: stock})
	}
	if err := store.SeedProducts(ctx, products); err != nil {
		return fmt.Errorf("seed products: %w", err)
	}
	return nil
}

func newMailer(cfg *Config) notify.Mailer {
	if cfg.MailerMode != "live" {
		logger.Log.Info("mailer in test mode, messages are kept in memory")
		return notify.NewOutboxMailer()
	}
	return notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.FromEmail,
		ReplyTo:  cfg.ReplyToEmail,
	})
}

func newBroker(cfg *Config) (events.Publisher, events.Subscriber) {
	if len(cfg.KafkaBrokers) == 0 {
		b := events.NewLocalBroker()
		return b, b
	}
	k := events.NewKafkaBroker(cfg.KafkaBrokers)
	k.MapTopic(events.TopicOrdersPaid, cfg.KafkaOrdersTopic)
	return k, k
}

func startSheetsSink(ctx context.Context, cfg *Config, sub events.Subscriber, wg *sync.WaitGroup) error {
	if cfg.GoogleSpreadsheetID == "" {
		logger.Log.Info("google sheets sink disabled")
		return nil
	}
	appender, err := events.NewGoogleSheetsAppender(ctx, cfg.GoogleKeyFile, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName)
	if err != nil {
		return err
	}
	sink := events.NewSheetsSink(appender)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sub.Consume(ctx, events.TopicOrdersPaid, "sheets-sink", sink.Handle)
	}()
	return nil
}

func newLocator(ctx context.Context, cfg *Config) (carrier.Locator, func()) {
	client := carrier.NewSendCloudClient(cfg.SendCloudURL, cfg.SendCloudPublicKey, cfg.SendCloudSecretKey)
	if cfg.RedisURL == "" {
		return client, func() {}
	}
	cache, err := carrier.NewRedisCache(ctx, cfg.RedisURL)
	if err != nil {
		logger.Log.Warn("carrier cache disabled", zap.Error(err))
		return client, func() {}
	}
	return carrier.NewCachedLocator(client, cache, cfg.CarrierCacheTTL), func() { _ = cache.Close() }
}

func adminJWTSecret(cfg *Config) ([]byte, error) {
	if cfg.AdminJWTSecret != "" {
		return []byte(cfg.AdminJWTSecret), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate admin jwt secret: %w", err)
	}
	return secret, nil
}
