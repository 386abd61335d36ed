// Package secrets resolves secret:// references against Google Secret Manager.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
)

const (
	defaultCacheTTL     = 10 * time.Minute
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/nanacafe/api/internal/platform/secrets"
)

// ErrSecretNotFound is returned when neither Secret Manager nor the local fallback hold the secret.
var ErrSecretNotFound = errors.New("secrets: secret not found")

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves references of the form secret://NAME[@VERSION] or
// secret://projects/P/secrets/NAME/versions/V with an in-memory cache.
// In the local environment it reads KEY=VALUE pairs from a fallback file instead.
type Fetcher struct {
	client    accessClient
	projectID string
	env       string
	logger    *zap.Logger
	ttl       time.Duration
	now       func() time.Time

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.Mutex
	cache map[string]cached

	latency metric.Float64Histogram
}

type cached struct {
	value     string
	fetchedAt time.Time
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithEnvironment sets the deployment environment; "local" enables the fallback file.
func WithEnvironment(env string) Option {
	return func(f *Fetcher) { f.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithFallbackFile overrides the local fallback file path.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) { f.fallbackPath = path }
}

// WithCacheTTL overrides how long resolved values are reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Fetcher) {
		if ttl > 0 {
			f.ttl = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

func withClient(client accessClient) Option {
	return func(f *Fetcher) { f.client = client }
}

// NewFetcher constructs a Fetcher for projectID. The Secret Manager client is
// created lazily outside the local environment.
func NewFetcher(ctx context.Context, projectID string, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		projectID:    strings.TrimSpace(projectID),
		env:          "local",
		logger:       zap.NewNop(),
		ttl:          defaultCacheTTL,
		now:          time.Now,
		fallbackPath: defaultFallbackPath,
		cache:        make(map[string]cached),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	hist, err := otel.GetMeterProvider().Meter(meterName).Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret Manager access latency"),
	)
	if err == nil {
		f.latency = hist
	}

	if f.client == nil && f.env != "local" {
		client, err := secretmanager.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("secrets: create client: %w", err)
		}
		f.client = client
	}
	return f, nil
}

// ResolveSecret implements config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	if f.env == "local" || f.client == nil {
		key := strings.TrimPrefix(strings.TrimSpace(ref), "secret://")
		if value, ok := f.loadFallback()[key]; ok {
			return value, nil
		}
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}

	name, err := f.versionName(ref)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	if entry, ok := f.cache[name]; ok && f.now().Sub(entry.fetchedAt) < f.ttl {
		f.mu.Unlock()
		return entry.value, nil
	}
	f.mu.Unlock()

	value, err := f.fetch(ctx, name)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	f.cache[name] = cached{value: value, fetchedAt: f.now()}
	f.mu.Unlock()
	return value, nil
}

func (f *Fetcher) fetch(ctx context.Context, name string) (string, error) {
	start := f.now()
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name},
		gax.WithRetry(func() gax.Retryer {
			return gax.OnCodes([]codes.Code{codes.Unavailable, codes.DeadlineExceeded}, gax.Backoff{
				Initial:    100 * time.Millisecond,
				Max:        2 * time.Second,
				Multiplier: 2,
			})
		}),
	)
	if f.latency != nil {
		f.latency.Record(ctx, float64(f.now().Sub(start).Milliseconds()),
			metric.WithAttributes(attribute.Bool("success", err == nil)))
	}
	if err != nil {
		f.logger.Warn("secret access failed", zap.String("secret", name), zap.Error(err))
		return "", fmt.Errorf("secrets: access %s: %w", name, err)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) loadFallback() map[string]string {
	f.fallbackOnce.Do(func() {
		if _, err := os.Stat(f.fallbackPath); err != nil {
			return
		}
		values, err := godotenv.Read(f.fallbackPath)
		if err != nil {
			f.logger.Warn("secret fallback file unreadable", zap.String("path", f.fallbackPath), zap.Error(err))
			return
		}
		f.fallback = values
	})
	return f.fallback
}

func (f *Fetcher) versionName(ref string) (string, error) {
	raw := strings.TrimSpace(ref)
	if !strings.HasPrefix(raw, "secret://") {
		return "", fmt.Errorf("secrets: unsupported reference %q", ref)
	}
	raw = strings.TrimPrefix(raw, "secret://")
	if strings.HasPrefix(raw, "projects/") {
		if !strings.Contains(raw, "/versions/") {
			raw += "/versions/latest"
		}
		return raw, nil
	}
	name, version, ok := strings.Cut(raw, "@")
	if !ok || version == "" {
		version = "latest"
	}
	name = strings.ReplaceAll(strings.Trim(name, "/"), "/", "-")
	if name == "" {
		return "", fmt.Errorf("secrets: empty secret name in %q", ref)
	}
	if f.projectID == "" {
		return "", fmt.Errorf("secrets: project id required to resolve %q", ref)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", f.projectID, name, version), nil
}

// Close releases the Secret Manager client.
func (f *Fetcher) Close() error {
	if f == nil || f.client == nil {
		return nil
	}
	return f.client.Close()
}
