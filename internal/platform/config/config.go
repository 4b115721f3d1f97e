package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultEnvironment          = "local"
	defaultPostgresMaxOpen      = 10
	defaultPostgresMaxIdle      = 5
	defaultPostgresConnLifetime = 30 * time.Minute
	defaultRedisCouponTTL       = 5 * time.Minute
	defaultMaxUploadBytes       = 10 << 20
	defaultCurrency             = "USD"
	defaultFulfillmentTimeout   = 15 * time.Second
	defaultRateLimitPublic      = 120
	defaultRateLimitWebhook     = 600
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Project     ProjectConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Storage     StorageConfig
	PSP         PSPConfig
	Fulfillment FulfillmentConfig
	Pricing     PricingConfig
	RateLimits  RateLimitConfig
	CORS        CORSConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// ProjectConfig identifies the Google Cloud project and deployment environment.
type ProjectConfig struct {
	ID          string
	Environment string
	Version     string
	CommitSHA   string
}

// PostgresConfig stores the relational store connection settings.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig enables the optional coupon cache when Addr is set.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	CouponTTL time.Duration
}

// StorageConfig configures document uploads.
type StorageConfig struct {
	DocumentsBucket string
	PublicBaseURL   string
	MaxUploadBytes  int64
}

// PSPConfig collects payment processor credentials.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	Currency            string
}

// FulfillmentConfig controls the automation webhook relay and event publishing.
type FulfillmentConfig struct {
	WebhookURL  string
	Timeout     time.Duration
	RetryMax    int
	PubSubTopic string
}

// PricingConfig points at an optional pricing catalog file.
type PricingConfig struct {
	CatalogPath string
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	PublicPerMinute  int
	WebhookPerMinute int
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecretResolver resolves secret:// references, typically through the secrets fetcher.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists missing or unparsable settings. Settings that failed to parse are
// named by their environment variable, missing ones by their config field.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: missing or invalid settings [%s]", strings.Join(e.fields, ", "))
}

// Fields returns the offending settings.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes a secret reference that could not be resolved.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve secret %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError names required secret fields that ended up empty.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("config: missing required secrets [%s]", strings.Join(e.names, ", "))
}

// Names returns the config fields, such as PSP.StripeAPIKey, that are missing.
func (e *MissingSecretsError) Names() []string {
	return append([]string(nil), e.names...)
}

var errNoSecretResolver = errors.New("secret resolver not configured")

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithEnvFile overrides the .env file path. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver for secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets names secret fields, such as "PSP.StripeAPIKey", that must not be empty.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// EnvironmentValues returns the merged environment Load would read, so components needed
// before Load, such as the secrets fetcher, see the same values.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := newSource(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return src.values, nil
}

// Load builds the configuration from defaults, the .env file, the environment and resolved
// secrets, then validates it.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := newLoaderOptions(opts)
	src, err := newSource(o)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         src.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  src.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: src.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  src.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Project: ProjectConfig{
			ID:          src.str("API_PROJECT_ID", ""),
			Environment: strings.ToLower(src.str("API_ENVIRONMENT", defaultEnvironment)),
			Version:     src.str("API_VERSION", ""),
			CommitSHA:   src.str("API_COMMIT_SHA", ""),
		},
		Postgres: PostgresConfig{
			DSN:             src.str("API_POSTGRES_DSN", ""),
			MaxOpenConns:    src.integer("API_POSTGRES_MAX_OPEN_CONNS", defaultPostgresMaxOpen),
			MaxIdleConns:    src.integer("API_POSTGRES_MAX_IDLE_CONNS", defaultPostgresMaxIdle),
			ConnMaxLifetime: src.duration("API_POSTGRES_CONN_MAX_LIFETIME", defaultPostgresConnLifetime),
			AutoMigrate:     src.boolean("API_POSTGRES_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			Addr:      src.str("API_REDIS_ADDR", ""),
			Password:  src.str("API_REDIS_PASSWORD", ""),
			DB:        src.integer("API_REDIS_DB", 0),
			CouponTTL: src.duration("API_REDIS_COUPON_TTL", defaultRedisCouponTTL),
		},
		Storage: StorageConfig{
			DocumentsBucket: src.str("API_STORAGE_DOCUMENTS_BUCKET", ""),
			PublicBaseURL:   src.str("API_STORAGE_PUBLIC_BASE_URL", ""),
			MaxUploadBytes:  int64(src.integer("API_STORAGE_MAX_UPLOAD_BYTES", defaultMaxUploadBytes)),
		},
		PSP: PSPConfig{
			StripeAPIKey:        src.str("API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: src.str("API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			Currency:            strings.ToUpper(src.str("API_PSP_CURRENCY", defaultCurrency)),
		},
		Fulfillment: FulfillmentConfig{
			WebhookURL:  src.str("API_FULFILLMENT_WEBHOOK_URL", ""),
			Timeout:     src.duration("API_FULFILLMENT_TIMEOUT", defaultFulfillmentTimeout),
			RetryMax:    src.integer("API_FULFILLMENT_RETRY_MAX", 0),
			PubSubTopic: src.str("API_FULFILLMENT_PUBSUB_TOPIC", ""),
		},
		Pricing: PricingConfig{
			CatalogPath: src.str("API_PRICING_CATALOG_PATH", ""),
		},
		RateLimits: RateLimitConfig{
			PublicPerMinute:  src.integer("API_RATELIMIT_PUBLIC_PER_MIN", defaultRateLimitPublic),
			WebhookPerMinute: src.integer("API_RATELIMIT_WEBHOOK_PER_MIN", defaultRateLimitWebhook),
		},
		CORS: CORSConfig{
			AllowedOrigins: src.list("API_CORS_ALLOWED_ORIGINS"),
		},
	}

	secretFields := map[string]*string{
		"Postgres.DSN":            &cfg.Postgres.DSN,
		"Redis.Password":          &cfg.Redis.Password,
		"PSP.StripeAPIKey":        &cfg.PSP.StripeAPIKey,
		"PSP.StripeWebhookSecret": &cfg.PSP.StripeWebhookSecret,
		"Fulfillment.WebhookURL":  &cfg.Fulfillment.WebhookURL,
	}
	names := make([]string, 0, len(secretFields))
	for name := range secretFields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		field := secretFields[name]
		resolved, err := resolveSecret(ctx, *field, o.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validate(cfg, src.invalid); err != nil {
		return Config{}, err
	}

	var missing []string
	for _, name := range o.requiredSecrets {
		name = strings.TrimSpace(name)
		field, known := secretFields[name]
		if name != "" && (!known || strings.TrimSpace(*field) == "") {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Config{}, &MissingSecretsError{names: missing}
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	ref, ok := secretReference(value)
	if !ok {
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errNoSecretResolver}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

// secretReference normalises sm:// to secret:// and reports whether value is a reference.
func secretReference(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest, true
	}
	return value, strings.HasPrefix(value, "secret://")
}

func validate(cfg Config, invalid []string) error {
	fields := append([]string(nil), invalid...)
	check := func(ok bool, field string) {
		if !ok {
			fields = append(fields, field)
		}
	}
	check(cfg.Server.Port != "", "Server.Port")
	check(cfg.Project.ID != "", "Project.ID")
	check(cfg.Postgres.DSN != "", "Postgres.DSN")
	check(cfg.Storage.DocumentsBucket != "", "Storage.DocumentsBucket")
	check(cfg.Storage.MaxUploadBytes > 0, "Storage.MaxUploadBytes")
	check(len(cfg.PSP.Currency) == 3, "PSP.Currency")
	check(cfg.Fulfillment.Timeout > 0, "Fulfillment.Timeout")
	check(cfg.Fulfillment.RetryMax >= 0, "Fulfillment.RetryMax")

	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}
