package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// WriteOptions describe object metadata applied on upload.
type WriteOptions struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// Writer uploads objects into a single Cloud Storage bucket.
type Writer struct {
	client *gcs.Client
	bucket string
}

// NewWriter constructs a Writer backed by the provided Cloud Storage client.
func NewWriter(client *gcs.Client, bucket string) (*Writer, error) {
	if client == nil {
		return nil, errors.New("storage writer: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	return &Writer{client: client, bucket: bucket}, nil
}

// Bucket returns the destination bucket name.
func (w *Writer) Bucket() string {
	if w == nil {
		return ""
	}
	return w.bucket
}

// WriteObject stores data at object, replacing any previous content.
func (w *Writer) WriteObject(ctx context.Context, object string, data []byte, opts WriteOptions) error {
	if w == nil || w.client == nil {
		return errors.New("storage writer: client is not initialised")
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return errInvalidObject
	}

	ow := w.client.Bucket(w.bucket).Object(object).NewWriter(ctx)
	ow.ContentType = strings.TrimSpace(opts.ContentType)
	ow.CacheControl = strings.TrimSpace(opts.CacheControl)
	if len(opts.Metadata) > 0 {
		ow.Metadata = make(map[string]string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			ow.Metadata[k] = v
		}
	}
	if _, err := io.Copy(ow, bytes.NewReader(data)); err != nil {
		_ = ow.Close()
		return fmt.Errorf("storage writer: write %s: %w", object, err)
	}
	if err := ow.Close(); err != nil {
		return fmt.Errorf("storage writer: close %s: %w", object, err)
	}
	return nil
}
