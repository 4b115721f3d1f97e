package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCacheTTL = 15 * time.Minute
	meterName       = "github.com/idpfunnel/api/internal/platform/secrets"

	sourceCache    = "cache"
	sourceRemote   = "remote"
	sourceStale    = "stale"
	sourceFallback = "fallback"
	sourceError    = "error"
)

// ErrNotResolved is returned when neither Secret Manager nor the fallback file has the secret.
var ErrNotResolved = errors.New("secrets: secret not resolved")

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references, such as the Stripe keys, through Google Secret
// Manager. Values are cached for a TTL. Outside production a local KEY=VALUE file stands in
// when Secret Manager is unreachable or not configured.
type Fetcher struct {
	client     accessor
	ownsClient bool
	logger     *zap.Logger
	now        func() time.Time

	env         string
	project     string
	projects    map[string]string
	pins        map[string]string
	ttl         time.Duration
	allowLocal  bool
	fallbackErr error
	fallback    map[string]string

	mu    sync.Mutex
	cache map[string]cachedSecret

	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

type cachedSecret struct {
	value     string
	fetchedAt time.Time
}

type options struct {
	logger       *zap.Logger
	env          string
	project      string
	projects     map[string]string
	pins         map[string]string
	fallbackPath string
	ttl          time.Duration
	now          func() time.Time
	meter        metric.Meter
	client       accessor
	clientOpts   []option.ClientOption
}

// Option customises a Fetcher.
type Option func(*options)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEnvironment names the deployment environment. It selects the project from the project
// map and version pins prefixed "<env>:". In prod and production the fallback file is ignored.
func WithEnvironment(env string) Option {
	return func(o *options) { o.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject sets the project used when the project map has no entry for the environment.
func WithDefaultProject(projectID string) Option {
	return func(o *options) { o.project = strings.TrimSpace(projectID) }
}

// WithProjectMap maps environment names to Secret Manager projects.
func WithProjectMap(m map[string]string) Option {
	return func(o *options) { o.projects = cloneMap(m) }
}

// WithVersionPins pins secret versions by secret:// URI, optionally prefixed "<env>:".
func WithVersionPins(pins map[string]string) Option {
	return func(o *options) { o.pins = cloneMap(pins) }
}

// WithFallbackFile sets the local KEY=VALUE file consulted outside production.
func WithFallbackFile(path string) Option {
	return func(o *options) { o.fallbackPath = path }
}

// WithCacheTTL bounds how long a fetched value is served before Secret Manager is asked again.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMeter injects the OpenTelemetry meter used for fetch metrics.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithSecretManagerClient injects a client instead of dialling one.
func WithSecretManagerClient(client accessor) Option {
	return func(o *options) { o.client = client }
}

// WithClientOptions forwards options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created is logged and
// the fetcher runs on the fallback file alone.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	o := options{
		logger: zap.NewNop(),
		env:    "local",
		ttl:    defaultCacheTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.meter == nil {
		o.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		logger:     o.logger,
		now:        o.now,
		env:        o.env,
		project:    o.project,
		projects:   cloneMap(o.projects),
		pins:       cloneMap(o.pins),
		ttl:        o.ttl,
		allowLocal: !isProduction(o.env),
		cache:      make(map[string]cachedSecret),
	}

	if f.allowLocal {
		f.fallback, f.fallbackErr = loadFallbackFile(o.fallbackPath)
		if f.fallbackErr != nil {
			f.logger.Warn("secrets: fallback file unusable", zap.Error(f.fallbackErr))
		}
	}

	var err error
	if f.latency, err = o.meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source"),
	); err != nil {
		f.logger.Warn("secrets: latency metric unavailable", zap.Error(err))
	}
	if f.cacheHits, err = o.meter.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolutions served from cache"),
	); err != nil {
		f.logger.Warn("secrets: cache hit metric unavailable", zap.Error(err))
	}

	switch {
	case o.client != nil:
		f.client = o.client
	default:
		client, err := newSecretManagerClient(ctx, o.clientOpts...)
		if err != nil {
			if !f.allowLocal {
				return nil, fmt.Errorf("secrets: secret manager client: %w", err)
			}
			f.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
			break
		}
		f.client = client
		f.ownsClient = true
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value behind raw. When Secret Manager fails transiently a previously
// fetched value is served even if its TTL has passed.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	ref, err := ParseReference(raw)
	if err != nil {
		return "", err
	}
	version := f.version(ref)
	key := fallbackKey(ref.URI(), version)

	cached, hasCached := f.cached(key)
	if hasCached && f.now().Sub(cached.fetchedAt) < f.ttl {
		f.observe(ctx, start, sourceCache)
		if f.cacheHits != nil {
			f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", ref.masked())))
		}
		return cached.value, nil
	}

	project := f.projectFor(ref)
	var remoteErr error
	if f.client != nil && project != "" {
		value, err := f.access(ctx, ref.resource(project, version))
		if err == nil {
			f.store(key, value)
			f.observe(ctx, start, sourceRemote)
			return value, nil
		}
		if !transient(err) {
			f.observe(ctx, start, sourceError)
			return "", fmt.Errorf("secrets: fetch %s: %w", ref.URI(), err)
		}
		remoteErr = err
		if hasCached {
			f.logger.Warn("secrets: serving stale value", zap.String("secret", ref.URI()), zap.Error(err))
			f.observe(ctx, start, sourceStale)
			return cached.value, nil
		}
	}

	if f.allowLocal {
		if value, ok := f.local(ref.URI(), version); ok {
			if remoteErr != nil {
				f.logger.Debug("secrets: using fallback file", zap.String("secret", ref.URI()), zap.Error(remoteErr))
			}
			f.store(key, value)
			f.observe(ctx, start, sourceFallback)
			return value, nil
		}
	}

	f.observe(ctx, start, sourceError)
	if remoteErr != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNotResolved, ref.URI(), remoteErr)
	}
	return "", fmt.Errorf("%w: %s", ErrNotResolved, ref.URI())
}

// Invalidate forgets every cached version of raw.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := ParseReference(raw)
	if err != nil {
		return
	}
	uri := ref.URI()
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.cache {
		if key == uri || strings.HasPrefix(key, uri+"#") {
			delete(f.cache, key)
		}
	}
}

func (f *Fetcher) access(ctx context.Context, resource string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secrets: empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) cached(key string) (cachedSecret, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[key]
	return entry, ok
}

func (f *Fetcher) store(key, value string) {
	f.mu.Lock()
	f.cache[key] = cachedSecret{value: value, fetchedAt: f.now()}
	f.mu.Unlock()
}

func (f *Fetcher) local(uri, version string) (string, bool) {
	if value, ok := f.fallback[fallbackKey(uri, version)]; ok {
		return value, true
	}
	value, ok := f.fallback[uri]
	return value, ok
}

func (f *Fetcher) projectFor(ref Reference) string {
	if ref.Project != "" {
		return ref.Project
	}
	if id := strings.TrimSpace(f.projects[f.env]); id != "" {
		return id
	}
	return f.project
}

func (f *Fetcher) version(ref Reference) string {
	if ref.Version != "" {
		return ref.Version
	}
	for _, key := range []string{f.env + ":" + ref.URI(), ref.URI()} {
		if pin := strings.TrimSpace(f.pins[key]); pin != "" {
			return pin
		}
	}
	return latestVersion
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	f.latency.Record(ctx, elapsed, metric.WithAttributes(attribute.String("source", source)))
}

// transient reports Secret Manager failures that may be answered from cache or the fallback file.
func transient(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

func isProduction(env string) bool {
	return env == "prod" || env == "production"
}

func cloneMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
