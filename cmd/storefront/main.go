package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/auth"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/cart"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/cart/cache"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/cart/poller"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/cart/repository"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/catalog"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/checkout"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/config"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/discount"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/fulfillment"
	h "github.com/KimDog-Studios/kimdog-modding-main/internal/http"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/ledger"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/ledger/publisher"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/payment"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/circuitbreaker"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/logger"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/metrics"
)

const maxWebhookPayload = 64 << 10

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Init(cfg.AppName, cfg.LogLevel, cfg.LogFormat)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	log.Info().Msg("storefront starting")

	var wg sync.WaitGroup
	ctx := context.Background()
	m := metrics.New("storefront")

	// Catalog
	products, err := catalog.NewRepository(cfg.CatalogDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open catalog")
	}
	defer products.Close()
	if err := products.RunMigrations(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate catalog")
	}

	// Ledger
	store, outbox := openLedger(cfg)
	defer store.Close()

	// Carts and discount codes
	db, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	defer func() {
		_ = db.Client().Disconnect(context.Background())
	}()

	cartRepo := repository.NewMongoRepository(db)
	if err := cartRepo.CreateIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to create cart indexes")
	}
	discountRepo := discount.NewMongoRepository(db)
	if err := discountRepo.CreateIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to create discount indexes")
	}
	seedDiscountCodes(ctx, cfg, discountRepo)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, carts will be served from MongoDB")
	}

	policy := domain.DefaultQuantityPolicy()
	policy.PaidMax = cfg.PaidMaxQuantity
	carts := cart.NewService(cartRepo, cache.NewRedisCache(redisClient, cfg.CartCacheTTL), products, store, policy, m)

	// Payment gateway and fulfillment
	gateway := payment.NewStripeGateway(payment.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		BackendURL:    cfg.StripeBackendURL,
		Breaker:       circuitbreaker.DefaultSettings("stripe"),
	})
	initiator := checkout.NewInitiator(products, gateway, checkout.Config{
		Currency:             cfg.Currency,
		Timeout:              cfg.CheckoutTimeout,
		DefaultSuccessURL:    cfg.SuccessURL(),
		DefaultCancelURL:     cfg.CancelURL(),
		AllowedRedirectHosts: cfg.AllowedRedirectHosts(),
		Policy:               policy,
	}, m)
	granter := fulfillment.NewGranter(products, store, m)
	webhooks := fulfillment.NewWebhookHandler(gateway, granter, m)
	reconciler := fulfillment.NewReconciler(gateway, products, carts, granter)
	library := fulfillment.NewLibrary(store, products)

	verifier, err := auth.NewVerifier(auth.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   30 * time.Second,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create token verifier")
	}

	// Purchase events
	bgCtx, bgCancel := context.WithCancel(context.Background())
	var outboxPoller *publisher.OutboxPoller
	var cartPoller *poller.Poller
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		if outbox != nil {
			outboxPoller = publisher.NewOutboxPoller(outbox, publisher.NewKafkaWriter(cfg.PurchaseTopic, brokers...), m, cfg.OutboxPollInterval)
			wg.Add(1)
			go func() {
				defer wg.Done()
				outboxPoller.Run(bgCtx)
			}()
		}

		cartPoller = poller.NewPoller(poller.NewKafkaReader(cfg.PurchaseTopic, brokers...), carts)
		wg.Add(1)
		go func() {
			defer wg.Done()
			cartPoller.Run(bgCtx)
		}()
	} else {
		log.Warn().Msg("no kafka brokers configured, purchase events disabled")
	}

	router := h.NewRouter(h.RouterConfig{
		ServiceName:    cfg.AppName,
		Verifier:       verifier,
		Metrics:        m,
		RequestTimeout: cfg.RequestTimeout,
		MaxBodyBytes:   1 << 20,
	}, h.Handlers{
		Products:  h.NewProductHandler(products),
		Cart:      h.NewCartHandler(carts),
		Checkout:  h.NewCheckoutHandler(initiator, discount.NewEvaluator(discountRepo)),
		Purchases: h.NewPurchaseHandler(webhooks, reconciler, maxWebhookPayload),
		Library:   h.NewLibraryHandler(library, nil, cfg.DownloadTimeout),
	})

	// No WriteTimeout: downloads stream for up to DownloadTimeout and every
	// other route is bounded by the router's request timeout.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down storefront")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	bgCancel()

	doneChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
		log.Info().Msg("background workers stopped cleanly")
	case <-shutdownCtx.Done():
		log.Warn().Msg("background workers didn't stop in time")
	}

	if outboxPoller != nil {
		if err := outboxPoller.Close(); err != nil {
			log.Error().Err(err).Msg("error closing kafka writer")
		}
	}
	if cartPoller != nil {
		cartPoller.Close()
	}
	log.Info().Msg("storefront stopped")
}

// openLedger returns the purchase store and, for Postgres, its outbox.
func openLedger(cfg config.Config) (ledger.Store, publisher.OutboxRepository) {
	if cfg.LedgerDriver == "memory" {
		log.Warn().Msg("using in-memory purchase ledger, purchases are lost on restart")
		return ledger.NewMemoryStore(), nil
	}

	port, err := strconv.Atoi(cfg.DBPort)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid DB_PORT")
	}
	repo, err := ledger.NewPostgresRepository(&ledger.Credentials{
		Host:     cfg.DBHost,
		Port:     port,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to ledger database")
	}
	if err := repo.RunMigrations(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate ledger")
	}
	log.Info().Msg("ledger migrations completed")
	return repo, repo
}

func seedDiscountCodes(ctx context.Context, cfg config.Config, repo *discount.MongoRepository) {
	codes, err := cfg.SeedDiscountCodes()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid discount codes")
	}
	for _, dc := range codes {
		if err := repo.Upsert(ctx, dc); err != nil {
			log.Fatal().Err(err).Str("code", dc.Code).Msg("failed to seed discount code")
		}
	}
	if len(codes) > 0 {
		log.Info().Int("count", len(codes)).Msg("discount codes seeded")
	}
}
