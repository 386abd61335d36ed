package config

import (
	"context"
	"os"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultShutdownTimeout    = 20 * time.Second
	defaultStoreTimeout       = 5 * time.Second
	defaultStripeTimeout      = 10 * time.Second
	defaultReceiptURLTTL      = 10 * time.Minute
	defaultCurrency           = "PHP"
	defaultSMTPPort           = 587
	defaultFromAddress        = "noreply@nanacafe.com"
	defaultMailTimeout        = 15 * time.Second
	defaultNotifyWorkers      = 4
	defaultNotifyQueue        = 256
	defaultNotifyTimeout      = 30 * time.Second
	defaultPageSize           = 20
	defaultMaxPageSize        = 100
	defaultSweepBatch         = 50
	defaultSweepMinAge        = 5 * time.Minute
	defaultTimeZone           = "Asia/Manila"
	defaultOrderCreatePerMin  = 30
	defaultSecurityEnv        = "local"
	defaultOIDCJWKSURL        = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer         = "https://accounts.google.com"
	defaultIdempotencyHeader  = "Idempotency-Key"
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultIdempotencyCleanup = time.Hour
	defaultIdempotencyBatch   = 200
)

// Config is the runtime configuration, grouped by concern.
type Config struct {
	Server        ServerConfig
	Logging       LoggingConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Storage       StorageConfig
	PSP           PSPConfig
	PubSub        PubSubConfig
	Mail          MailConfig
	Notifications NotificationConfig
	Orders        OrderConfig
	RateLimits    RateLimitConfig
	Redis         RedisConfig
	Security      SecurityConfig
	Idempotency   IdempotencyConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type LoggingConfig struct {
	Level string
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

type FirestoreConfig struct {
	ProjectID        string
	EmulatorHost     string
	OperationTimeout time.Duration
}

// StorageConfig names the bucket receiving archived receipts. Empty disables archiving.
// SignerKeyFile enables signed receipt download links.
type StorageConfig struct {
	ReceiptsBucket string
	SignerKeyFile  string
	ReceiptURLTTL  time.Duration
}

// PSPConfig configures the Stripe integration.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	Currency            string
	Timeout             time.Duration
}

// PubSubConfig names the order events topic. Empty disables publishing.
type PubSubConfig struct {
	OrderEventsTopic string
}

// MailConfig configures outbound SMTP. Empty SMTPHost disables email.
type MailConfig struct {
	SMTPHost    string
	SMTPPort    int
	Username    string
	Password    string
	FromAddress string
	AdminEmail  string
	Timeout     time.Duration
}

type NotificationConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// OrderConfig controls paging, the pending-payment sweep and the time zone
// order numbers are dated in.
type OrderConfig struct {
	DefaultPageSize int
	MaxPageSize     int
	SweepBatchSize  int
	SweepMinAge     time.Duration
	TimeZone        string
}

type RateLimitConfig struct {
	OrderCreatePerMinute int
}

// RedisConfig enables the shared rate limiter when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls verification of Google-signed service tokens.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// Option customises Load.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the dotenv file path. An empty path disables dotenv loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv stops Load from reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks config fields (for example "PSP.StripeAPIKey") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// Load merges defaults, the dotenv file, the process environment and the explicit
// map (later wins), resolves secret references and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}

	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotenv[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Logging: LoggingConfig{
			Level: stringWithDefault(lookup, "LOG_LEVEL", "info"),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:        stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost:     stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
			OperationTimeout: durationWithDefault(lookup, "API_FIRESTORE_OPERATION_TIMEOUT", defaultStoreTimeout),
		},
		Storage: StorageConfig{
			ReceiptsBucket: stringWithDefault(lookup, "API_STORAGE_RECEIPTS_BUCKET", ""),
			SignerKeyFile:  stringWithDefault(lookup, "API_STORAGE_SIGNER_KEY_FILE", ""),
			ReceiptURLTTL:  durationWithDefault(lookup, "API_STORAGE_RECEIPT_URL_TTL", defaultReceiptURLTTL),
		},
		PSP: PSPConfig{
			StripeAPIKey:        stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			Currency:            strings.ToUpper(stringWithDefault(lookup, "API_PSP_CURRENCY", defaultCurrency)),
			Timeout:             durationWithDefault(lookup, "API_PSP_STRIPE_TIMEOUT", defaultStripeTimeout),
		},
		PubSub: PubSubConfig{
			OrderEventsTopic: stringWithDefault(lookup, "API_PUBSUB_ORDER_EVENTS_TOPIC", ""),
		},
		Mail: MailConfig{
			SMTPHost:    stringWithDefault(lookup, "API_MAIL_SMTP_HOST", ""),
			SMTPPort:    intWithDefault(lookup, "API_MAIL_SMTP_PORT", defaultSMTPPort),
			Username:    stringWithDefault(lookup, "API_MAIL_USERNAME", ""),
			Password:    stringWithDefault(lookup, "API_MAIL_PASSWORD", ""),
			FromAddress: stringWithDefault(lookup, "API_MAIL_FROM", defaultFromAddress),
			AdminEmail:  stringWithDefault(lookup, "API_MAIL_ADMIN_EMAIL", ""),
			Timeout:     durationWithDefault(lookup, "API_MAIL_TIMEOUT", defaultMailTimeout),
		},
		Notifications: NotificationConfig{
			Workers:   intWithDefault(lookup, "API_NOTIFY_WORKERS", defaultNotifyWorkers),
			QueueSize: intWithDefault(lookup, "API_NOTIFY_QUEUE_SIZE", defaultNotifyQueue),
			Timeout:   durationWithDefault(lookup, "API_NOTIFY_TIMEOUT", defaultNotifyTimeout),
		},
		Orders: OrderConfig{
			DefaultPageSize: intWithDefault(lookup, "API_ORDERS_DEFAULT_PAGE_SIZE", defaultPageSize),
			MaxPageSize:     intWithDefault(lookup, "API_ORDERS_MAX_PAGE_SIZE", defaultMaxPageSize),
			SweepBatchSize:  intWithDefault(lookup, "API_ORDERS_SWEEP_BATCH_SIZE", defaultSweepBatch),
			SweepMinAge:     durationWithDefault(lookup, "API_ORDERS_SWEEP_MIN_AGE", defaultSweepMinAge),
			TimeZone:        stringWithDefault(lookup, "API_ORDERS_TIMEZONE", defaultTimeZone),
		},
		RateLimits: RateLimitConfig{
			OrderCreatePerMinute: intWithDefault(lookup, "API_RATELIMIT_ORDER_CREATE_PER_MIN", defaultOrderCreatePerMin),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnv)),
			OIDC: OIDCConfig{
				JWKSURL:  stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyCleanup),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultOIDCIssuer}
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"Mail.Password", &cfg.Mail.Password},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func validate(cfg Config) error {
	var fields []string
	check := func(ok bool, name string) {
		if !ok {
			fields = append(fields, name)
		}
	}
	check(cfg.Server.Port != "", "Server.Port")
	check(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	check(cfg.Firestore.OperationTimeout > 0, "Firestore.OperationTimeout")
	check(cfg.Storage.ReceiptURLTTL > 0 && cfg.Storage.ReceiptURLTTL <= 15*time.Minute, "Storage.ReceiptURLTTL")
	check(len(cfg.PSP.Currency) == 3, "PSP.Currency")
	check(cfg.PSP.Timeout > 0, "PSP.Timeout")
	check(cfg.Mail.SMTPHost == "" || cfg.Mail.SMTPPort > 0, "Mail.SMTPPort")
	check(cfg.Notifications.Workers > 0, "Notifications.Workers")
	check(cfg.Notifications.QueueSize > 0, "Notifications.QueueSize")
	check(cfg.Orders.DefaultPageSize > 0, "Orders.DefaultPageSize")
	check(cfg.Orders.MaxPageSize >= cfg.Orders.DefaultPageSize, "Orders.MaxPageSize")
	check(cfg.Orders.SweepBatchSize > 0, "Orders.SweepBatchSize")
	check(cfg.Orders.SweepMinAge >= 0, "Orders.SweepMinAge")
	_, tzErr := time.LoadLocation(cfg.Orders.TimeZone)
	check(tzErr == nil, "Orders.TimeZone")
	check(cfg.RateLimits.OrderCreatePerMinute > 0, "RateLimits.OrderCreatePerMinute")
	check(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	check(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")
	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}
