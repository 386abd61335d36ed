package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
)

type stubClient struct {
	values map[string]string
	calls  int
	err    error
}

func (s *stubClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	value, ok := s.values[req.GetName()]
	if !ok {
		return nil, errors.New("not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (s *stubClient) Close() error { return nil }

func TestFetcherResolvesAndCaches(t *testing.T) {
	client := &stubClient{values: map[string]string{
		"projects/nanacafe/secrets/stripe-api/versions/latest": "sk_live_1",
		"projects/nanacafe/secrets/mail/versions/3":            "pw",
	}}
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	fetcher, err := NewFetcher(context.Background(), "nanacafe",
		WithEnvironment("prod"), withClient(client), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	for i := 0; i < 2; i++ {
		value, err := fetcher.ResolveSecret(context.Background(), "secret://stripe/api")
		if err != nil {
			t.Fatalf("ResolveSecret: %v", err)
		}
		if value != "sk_live_1" {
			t.Fatalf("unexpected value %q", value)
		}
	}
	if client.calls != 1 {
		t.Fatalf("expected cached second lookup, got %d calls", client.calls)
	}

	now = now.Add(time.Hour)
	if _, err := fetcher.ResolveSecret(context.Background(), "secret://stripe/api"); err != nil {
		t.Fatalf("ResolveSecret after ttl: %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("expected refetch after ttl, got %d calls", client.calls)
	}

	if value, err := fetcher.ResolveSecret(context.Background(), "secret://mail@3"); err != nil || value != "pw" {
		t.Fatalf("pinned version lookup: %q %v", value, err)
	}
}

func TestFetcherPropagatesClientErrors(t *testing.T) {
	fetcher, err := NewFetcher(context.Background(), "nanacafe",
		WithEnvironment("prod"), withClient(&stubClient{err: errors.New("permission denied")}))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	if _, err := fetcher.ResolveSecret(context.Background(), "secret://stripe/api"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFetcherLocalFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("stripe/webhook=whsec_local\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	fetcher, err := NewFetcher(context.Background(), "", WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	value, err := fetcher.ResolveSecret(context.Background(), "secret://stripe/webhook")
	if err != nil || value != "whsec_local" {
		t.Fatalf("fallback lookup: %q %v", value, err)
	}
	if _, err := fetcher.ResolveSecret(context.Background(), "secret://missing"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound, got %v", err)
	}
}

func TestVersionName(t *testing.T) {
	f := &Fetcher{projectID: "p"}
	cases := map[string]string{
		"secret://stripe/api":                      "projects/p/secrets/stripe-api/versions/latest",
		"secret://stripe@5":                        "projects/p/secrets/stripe/versions/5",
		"secret://projects/x/secrets/y":            "projects/x/secrets/y/versions/latest",
		"secret://projects/x/secrets/y/versions/2": "projects/x/secrets/y/versions/2",
	}
	for ref, want := range cases {
		got, err := f.versionName(ref)
		if err != nil {
			t.Fatalf("versionName(%q): %v", ref, err)
		}
		if got != want {
			t.Fatalf("versionName(%q) = %q, want %q", ref, got, want)
		}
	}
}
