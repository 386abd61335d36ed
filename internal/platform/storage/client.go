package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	defaultLinkTTL = 5 * time.Minute
	maxLinkTTL     = 15 * time.Minute
)

var (
	errNoSigner         = errors.New("storage: signer with a service account email is required")
	errInvalidBucket    = errors.New("storage: bucket name is required")
	errInvalidObject    = errors.New("storage: object name is required")
	errMethodNotAllowed = errors.New("storage: signed links only allow GET and HEAD")
	errExpiryTooLong    = errors.New("storage: signed link lifetime exceeds 15m")
)

// Client signs V4 read links for objects in Cloud Storage without holding a
// storage client; all signing goes through Signer.
type Client struct {
	signer Signer
	now    func() time.Time
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithClock replaces time.Now when computing link expiry.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewClient returns a link signer for signer's service account.
func NewClient(signer Signer, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	c := &Client{signer: signer, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// DownloadOptions shape a signed read link. Zero values mean GET with a five
// minute lifetime and the object's stored headers.
type DownloadOptions struct {
	Method       string
	ExpiresIn    time.Duration
	Disposition  string
	CacheControl string
	ResponseType string
}

func (o DownloadOptions) method() (string, error) {
	switch m := strings.ToUpper(strings.TrimSpace(o.Method)); m {
	case "":
		return http.MethodGet, nil
	case http.MethodGet, http.MethodHead:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %s", errMethodNotAllowed, m)
	}
}

func (o DownloadOptions) ttl() (time.Duration, error) {
	switch {
	case o.ExpiresIn <= 0:
		return defaultLinkTTL, nil
	case o.ExpiresIn > maxLinkTTL:
		return 0, errExpiryTooLong
	}
	return o.ExpiresIn, nil
}

// overrides maps the options onto the response-* query parameters GCS honours.
func (o DownloadOptions) overrides() url.Values {
	q := url.Values{}
	for key, value := range map[string]string{
		"response-content-disposition": o.Disposition,
		"response-cache-control":       o.CacheControl,
		"response-content-type":        o.ResponseType,
	} {
		if value = strings.TrimSpace(value); value != "" {
			q.Set(key, value)
		}
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

// SignedURLResult is a signed link and the moment it stops working.
type SignedURLResult struct {
	URL       string
	Method    string
	ExpiresAt time.Time
}

// SignedDownloadURL signs a read link for bucket/object.
func (c *Client) SignedDownloadURL(ctx context.Context, bucket, object string, opts DownloadOptions) (SignedURLResult, error) {
	if c == nil || c.signer == nil {
		return SignedURLResult{}, errNoSigner
	}
	if bucket = strings.TrimSpace(bucket); bucket == "" {
		return SignedURLResult{}, errInvalidBucket
	}
	if object = strings.TrimSpace(object); object == "" {
		return SignedURLResult{}, errInvalidObject
	}
	method, err := opts.method()
	if err != nil {
		return SignedURLResult{}, err
	}
	ttl, err := opts.ttl()
	if err != nil {
		return SignedURLResult{}, err
	}

	expiresAt := c.now().Add(ttl)
	link, err := gcs.SignedURL(bucket, object, &gcs.SignedURLOptions{
		GoogleAccessID:  c.signer.Email(),
		Scheme:          gcs.SigningSchemeV4,
		Method:          method,
		Expires:         expiresAt,
		QueryParameters: opts.overrides(),
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return SignedURLResult{}, fmt.Errorf("storage: sign %s/%s: %w", bucket, object, err)
	}
	return SignedURLResult{URL: link, Method: method, ExpiresAt: expiresAt}, nil
}
