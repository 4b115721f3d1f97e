package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/idpfunnel/api/internal/handlers"
	"github.com/idpfunnel/api/internal/payments"
	"github.com/idpfunnel/api/internal/platform/cache"
	"github.com/idpfunnel/api/internal/platform/catalog"
	"github.com/idpfunnel/api/internal/platform/config"
	"github.com/idpfunnel/api/internal/platform/jobs"
	"github.com/idpfunnel/api/internal/platform/observability"
	"github.com/idpfunnel/api/internal/platform/postgres"
	"github.com/idpfunnel/api/internal/platform/secrets"
	platformstorage "github.com/idpfunnel/api/internal/platform/storage"
	"github.com/idpfunnel/api/internal/repositories"
	pgrepo "github.com/idpfunnel/api/internal/repositories/postgres"
	"github.com/idpfunnel/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeWebhookSecret"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.Names()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromConfig(cfg, startedAt)
	events := observability.Events(logger.Named("services"))

	db, err := postgres.Open(cfg.Postgres)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("postgres close error", zap.Error(err))
		}
	}()
	if cfg.Postgres.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
		err := db.Migrate(migrateCtx)
		cancel()
		if err != nil {
			logger.Fatal("failed to migrate postgres schema", zap.Error(err))
		}
	}

	applicationRepo, err := pgrepo.NewApplicationRepository(db)
	if err != nil {
		logger.Fatal("failed to initialise application repository", zap.Error(err))
	}
	couponRepo, err := pgrepo.NewCouponRepository(db)
	if err != nil {
		logger.Fatal("failed to initialise coupon repository", zap.Error(err))
	}

	priceCatalog, err := catalog.Load(cfg.Pricing.CatalogPath)
	if err != nil {
		logger.Fatal("failed to load pricing catalog", zap.Error(err))
	}
	if priceCatalog.Prices.Currency != cfg.PSP.Currency {
		logger.Fatal("pricing catalog currency does not match processor currency",
			zap.String("catalogCurrency", priceCatalog.Prices.Currency),
			zap.String("pspCurrency", cfg.PSP.Currency),
		)
	}
	seedCoupons(ctx, logger.Named("catalog"), couponRepo, priceCatalog)

	couponBook, err := services.NewStaticCouponBook(priceCatalog.Coupons)
	if err != nil {
		logger.Fatal("failed to index catalog coupons", zap.Error(err))
	}
	repoCoupons, err := services.NewRepositoryCouponSource(couponRepo)
	if err != nil {
		logger.Fatal("failed to initialise coupon source", zap.Error(err))
	}

	var (
		primaryCoupons interface {
			services.CouponSource
			services.CouponRedeemer
		} = repoCoupons
		redisStore *cache.RedisStore
	)
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		redisStore = cache.NewRedisStore(cfg.Redis)
		defer func() {
			if err := redisStore.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		couponCache, err := cache.NewCouponCache(cache.CouponCacheDeps{
			Store:  redisStore,
			Source: repoCoupons,
			TTL:    cfg.Redis.CouponTTL,
			Logger: events,
		})
		if err != nil {
			logger.Fatal("failed to initialise coupon cache", zap.Error(err))
		}
		primaryCoupons = couponCache
	}
	couponSource := services.NewFallbackCouponSource(primaryCoupons, couponBook)

	uploader, err := platformstorage.NewUploader(ctx, cfg.Storage, storageClientOptions(envValues))
	if err != nil {
		logger.Fatal("failed to initialise document storage", zap.Error(err))
	}
	defer func() {
		if err := uploader.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	relay, err := jobs.NewWebhookRelay(cfg.Fulfillment,
		jobs.WithRetryLogger(observability.NewPrintfAdapter(logger.Named("relay"))),
	)
	if err != nil {
		logger.Fatal("failed to initialise fulfillment relay", zap.Error(err))
	}

	var publisher services.FulfillmentEventPublisher
	if topicID := strings.TrimSpace(cfg.Fulfillment.PubSubTopic); topicID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Project.ID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := pubsubClient.Topic(topicID)
		defer func() {
			topic.Stop()
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		pubsubPublisher, err := jobs.NewPubSubFulfillmentPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise fulfillment publisher", zap.Error(err))
		}
		publisher = pubsubPublisher
	}

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.PSP.StripeAPIKey,
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		Logger:        payments.StripeLogger(events),
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe provider", zap.Error(err))
	}

	prices := priceCatalog.Prices
	pricingEngine, err := services.NewPricingEngine(services.PricingEngineDeps{
		Prices:  &prices,
		Coupons: couponSource,
		Logger:  events,
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing engine", zap.Error(err))
	}

	addressNormalizer := services.NewAddressNormalizer()

	applicationService, err := services.NewApplicationService(services.ApplicationServiceDeps{
		Applications: applicationRepo,
		Documents:    uploader,
		Prices:       &prices,
		Logger:       events,
	})
	if err != nil {
		logger.Fatal("failed to initialise application service", zap.Error(err))
	}

	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Applications: applicationRepo,
		Pricing:      pricingEngine,
		Provider:     stripeProvider,
		Logger:       events,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment service", zap.Error(err))
	}

	fulfillmentService, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Applications: applicationRepo,
		Addresses:    addressNormalizer,
		Relay:        relay,
		Publisher:    publisher,
		Coupons:      primaryCoupons,
		Archive:      uploader,
		Logger:       events,
	})
	if err != nil {
		logger.Fatal("failed to initialise fulfillment service", zap.Error(err))
	}

	systemService, err := newSystemService(db, redisStore, fetcher, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	projectID := strings.TrimSpace(cfg.Project.ID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if systemService != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(systemService))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	applicationHandlers := handlers.NewApplicationHandlers(applicationService, paymentService,
		handlers.WithMaxUploadBytes(cfg.Storage.MaxUploadBytes),
	)
	pricingHandlers := handlers.NewPricingHandlers(paymentService)
	addressHandlers := handlers.NewAddressHandlers(addressNormalizer)
	webhookHandlers := handlers.NewStripeWebhookHandlers(stripeProvider, fulfillmentService)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithApplicationRoutes(applicationHandlers.Routes),
		handlers.WithPricingRoutes(pricingHandlers.Routes),
		handlers.WithAddressRoutes(addressHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithPublicMiddlewares(corsMiddleware(cfg.CORS)),
	}
	if limit := cfg.RateLimits.PublicPerMinute; limit > 0 {
		opts = append(opts, handlers.WithPublicMiddlewares(httprate.LimitByIP(limit, time.Minute)))
	}
	if limit := cfg.RateLimits.WebhookPerMinute; limit > 0 {
		opts = append(opts, handlers.WithWebhookMiddlewares(httprate.LimitByIP(limit, time.Minute)))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("idp funnel api listening", zap.String("environment", buildInfo.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromConfig(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(cfg.Project.Version)
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(cfg.Project.CommitSHA)
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Project.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// seedCoupons copies catalog coupons into Postgres without overwriting rows edited by operators.
func seedCoupons(ctx context.Context, logger *zap.Logger, repo repositories.CouponRepository, cat catalog.Catalog) {
	if len(cat.Coupons) == 0 {
		return
	}
	seedCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for _, rule := range cat.Coupons {
		if err := repo.Upsert(seedCtx, rule, false); err != nil {
			logger.Warn("coupon seed failed", zap.String("couponCode", rule.Code), zap.Error(err))
		}
	}
	logger.Info("catalog coupons seeded", zap.Int("count", len(cat.Coupons)))
}

func corsMiddleware(cfg config.CORSConfig) func(http.Handler) http.Handler {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Location", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

func newSystemService(db *postgres.Client, redisStore *cache.RedisStore, fetcher *secrets.Fetcher, build services.BuildInfo) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if db != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "postgres",
			Timeout: 1500 * time.Millisecond,
			Check:   db.Ping,
		})
	}
	if redisStore != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Timeout:  time.Second,
			Optional: true,
			Check:    redisStore.Ping,
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:     "secretManager",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
		Build:            build,
		CacheFor:         2 * time.Second,
	})
}

func storageClientOptions(env map[string]string) []option.ClientOption {
	if path := strings.TrimSpace(env["API_GOOGLE_CREDENTIALS_FILE"]); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projects := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS")); len(projects) > 0 {
		lowered := make(map[string]string, len(projects))
		for label, project := range projects {
			lowered[strings.ToLower(label)] = project
		}
		opts = append(opts, secrets.WithProjectMap(lowered))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPins(lookup("API_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if raw := lookup("API_SECRET_CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse API_SECRET_CACHE_TTL: %w", err)
		}
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if credentialsFile := lookup("API_GOOGLE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// secretVersionPins parses "name=version" pairs into canonical secret:// references.
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[ref] = version
	}
	return pins
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
