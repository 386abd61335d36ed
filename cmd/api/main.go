package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"google.golang.org/api/option"

	"github.com/nanacafe/api/internal/di"
	"github.com/nanacafe/api/internal/handlers"
	"github.com/nanacafe/api/internal/notifications"
	"github.com/nanacafe/api/internal/payments"
	"github.com/nanacafe/api/internal/platform/auth"
	"github.com/nanacafe/api/internal/platform/config"
	pfirestore "github.com/nanacafe/api/internal/platform/firestore"
	"github.com/nanacafe/api/internal/platform/idempotency"
	"github.com/nanacafe/api/internal/platform/jobs"
	"github.com/nanacafe/api/internal/platform/observability"
	"github.com/nanacafe/api/internal/platform/ratelimit"
	"github.com/nanacafe/api/internal/platform/secrets"
	platformstorage "github.com/nanacafe/api/internal/platform/storage"
	"github.com/nanacafe/api/internal/repositories"
	firestoreRepo "github.com/nanacafe/api/internal/repositories/firestore"
	"github.com/nanacafe/api/internal/services"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commitSHA = "unknown"
)

const (
	firebaseVerifyTimeout = 10 * time.Second
	rateLimitWindow       = time.Minute
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeWebhookSecret"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.Names()))
		}
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if cfg.Logging.Level != "" && cfg.Logging.Level != os.Getenv("LOG_LEVEL") {
		if leveled, err := observability.NewLogger(cfg.Logging.Level); err == nil {
			baseLogger = leveled
			logger = baseLogger.Named("api")
		}
	}

	location, err := time.LoadLocation(cfg.Orders.TimeZone)
	if err != nil {
		logger.Fatal("invalid order time zone", zap.String("timezone", cfg.Orders.TimeZone), zap.Error(err))
	}
	buildInfo := buildInfoFromEnv(cfg, startedAt)

	var providerOpts []pfirestore.ProviderOption
	if cfg.Firebase.CredentialsFile != "" {
		providerOpts = append(providerOpts, pfirestore.WithClientOptions(option.WithCredentialsFile(cfg.Firebase.CredentialsFile)))
	}
	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, providerOpts...)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	var extraChecks []repositories.DependencyCheck

	gateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
		APIKey:  cfg.PSP.StripeAPIKey,
		Timeout: cfg.PSP.Timeout,
		Logger:  payments.StripeLogger(observability.EventLogger(logger.Named("payments"))),
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe gateway", zap.Error(err))
	}
	webhookParser, err := payments.NewStripeWebhookParser(cfg.PSP.StripeWebhookSecret)
	if err != nil {
		logger.Fatal("failed to initialise stripe webhook parser", zap.Error(err))
	}

	var events services.OrderEventPublisher
	if topicName := strings.TrimSpace(cfg.PubSub.OrderEventsTopic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID, clientOptions(cfg)...)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(topicName)
		defer topic.Stop()
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		events = publisher
		extraChecks = append(extraChecks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", topicName)
				}
				return nil
			},
		})
	}

	var receiptWriter *platformstorage.Writer
	if bucket := strings.TrimSpace(cfg.Storage.ReceiptsBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx, clientOptions(cfg)...)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		receiptWriter, err = platformstorage.NewWriter(storageClient, bucket)
		if err != nil {
			logger.Fatal("failed to initialise receipt writer", zap.Error(err))
		}
	}

	var receiptLinks *platformstorage.Client
	if keyFile := strings.TrimSpace(cfg.Storage.SignerKeyFile); keyFile != "" && receiptWriter != nil {
		signer, err := platformstorage.NewServiceAccountSignerFromFile(keyFile)
		if err != nil {
			logger.Fatal("failed to parse storage signer key", zap.Error(err))
		}
		receiptLinks, err = platformstorage.NewClient(signer)
		if err != nil {
			logger.Fatal("failed to initialise signed url client", zap.Error(err))
		}
	}

	var mailer *notifications.SMTPMailer
	if host := strings.TrimSpace(cfg.Mail.SMTPHost); host != "" {
		mailer, err = notifications.NewSMTPMailer(notifications.SMTPConfig{
			Host:     host,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.FromAddress,
			Timeout:  cfg.Mail.Timeout,
		})
		if err != nil {
			logger.Fatal("failed to initialise smtp mailer", zap.Error(err))
		}
	} else {
		logger.Warn("mail: smtp host not configured; order emails disabled")
	}

	limiter, closeLimiter, limiterCheck := buildRateLimiter(cfg, logger.Named("ratelimit"))
	defer closeLimiter()
	if limiterCheck != nil {
		extraChecks = append(extraChecks, *limiterCheck)
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, extraChecks...)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Dependencies{
		Gateway:       gateway,
		Notifications: notificationFactory(cfg, mailer, receiptWriter, location),
		Events:        events,
		Build:         buildInfo,
		Location:      location,
		Clock:         time.Now,
		Logger:        observability.EventLogger(logger.Named("services")),
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	idempotencyStore := idempotency.NewFirestoreStore(firestoreProvider)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		runIdempotencyCleanup(cleanupCtx, logger.Named("idempotency"), idempotencyStore, cfg.Idempotency)
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, firebaseVerifyTimeout)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	orders := container.Services.Orders
	settings := container.Services.Settings

	orderOpts := []handlers.OrderHandlerOption{
		handlers.WithOrderPageSize(cfg.Orders.DefaultPageSize, cfg.Orders.MaxPageSize),
		handlers.WithOrderCreateMiddlewares(
			handlers.RateLimitMiddleware(limiter, "orders:create"),
			idempotencyMiddleware,
		),
		handlers.WithPaymentIntentMiddlewares(idempotencyMiddleware),
	}
	if receiptLinks != nil {
		orderOpts = append(orderOpts, handlers.WithReceiptLinks(receiptLinks, receiptWriter.Bucket(), cfg.Storage.ReceiptURLTTL))
	}
	orderHandlers := handlers.NewOrderHandlers(authenticator, orders, orderOpts...)
	adminHandlers := handlers.NewAdminHandlers(authenticator, orders, settings,
		handlers.WithAdminPageSize(cfg.Orders.DefaultPageSize, cfg.Orders.MaxPageSize))
	settingsHandlers := handlers.NewSettingsHandlers(settings)
	webhookHandlers := handlers.NewWebhookHandlers(webhookParser, orders)
	internalHandlers := handlers.NewInternalPaymentHandlers(orders, cfg.Orders.SweepBatchSize, cfg.Orders.SweepMinAge)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithRequestTimeout(cfg.Server.WriteTimeout),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithSettingsRoutes(settingsHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
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
		serverLogger.Info("nana cafe api listening",
			zap.String("version", buildInfo.Version),
			zap.String("environment", buildInfo.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	v := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if v == "" {
		v = version
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = commitSHA
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     v,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("API_SECURITY_ENVIRONMENT")))
	if env == "" {
		env = "local"
	}
	project := strings.TrimSpace(os.Getenv("API_SECRET_PROJECT_ID"))
	if project == "" {
		project = strings.TrimSpace(os.Getenv("API_FIREBASE_PROJECT_ID"))
	}
	opts := []secrets.Option{
		secrets.WithEnvironment(env),
		secrets.WithLogger(logger.Named("secrets")),
	}
	if path := strings.TrimSpace(os.Getenv("API_SECRET_FALLBACK_FILE")); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	return secrets.NewFetcher(ctx, project, opts...)
}

func clientOptions(cfg config.Config) []option.ClientOption {
	if cfg.Firebase.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.Firebase.CredentialsFile)}
}

func notificationFactory(cfg config.Config, mailer *notifications.SMTPMailer, writer *platformstorage.Writer, location *time.Location) di.NotificationFactory {
	return func(settings services.SettingsService) (services.Notifier, services.ReceiptArchiver, error) {
		var (
			notifier services.Notifier
			receipts services.ReceiptArchiver
		)
		if mailer != nil {
			emails, err := notifications.NewEmailNotifier(notifications.EmailNotifierDeps{
				Mailer:     mailer,
				Settings:   settings,
				AdminEmail: cfg.Mail.AdminEmail,
				Currency:   cfg.PSP.Currency,
				Language:   language.English,
				Location:   location,
			})
			if err != nil {
				return nil, nil, err
			}
			notifier = emails
		}
		if writer != nil {
			archiver, err := notifications.NewReceiptArchiver(notifications.ReceiptArchiverDeps{
				Writer:   writer,
				Settings: settings,
				Currency: cfg.PSP.Currency,
				Language: language.English,
				Location: location,
			})
			if err != nil {
				return nil, nil, err
			}
			receipts = archiver
		}
		return notifier, receipts, nil
	}
}

// buildRateLimiter prefers the shared Redis limiter and falls back to process-local
// counters when no Redis address is configured.
func buildRateLimiter(cfg config.Config, logger *zap.Logger) (ratelimit.Limiter, func(), *repositories.DependencyCheck) {
	limit := cfg.RateLimits.OrderCreatePerMinute
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		logger.Info("ratelimit: redis not configured; using in-memory limiter")
		return ratelimit.NewMemoryLimiter(limit, rateLimitWindow, time.Now), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	limiter, err := ratelimit.NewRedisLimiter(client, limit, rateLimitWindow, ratelimit.WithKeyPrefix("nanacafe:ratelimit:"))
	if err != nil {
		logger.Fatal("failed to initialise redis rate limiter", zap.Error(err))
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}
	check := &repositories.DependencyCheck{
		Name:    "redis",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
	return limiter, closeFn, check
}

func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store *idempotency.FirestoreStore, cfg config.IdempotencyConfig) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.Purge(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(cache, logger)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
