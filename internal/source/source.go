// Package source opens import files by URI. Local paths and gs:// object
// URIs are supported.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
)

// Opener resolves a URI to a reader plus the bare file name. One Opener is
// shared across concurrent imports.
type Opener struct {
	gcsOnce sync.Once
	gcs     *storage.Client
	gcsErr  error
}

// New builds an Opener. The GCS client is created lazily on the first gs://
// URI, so local-only use needs no credentials.
func New() *Opener {
	return &Opener{}
}

// Open returns the file content and its base name. The caller closes the
// reader.
func (o *Opener) Open(ctx context.Context, uri string) (io.ReadCloser, string, error) {
	if strings.HasPrefix(uri, "gs://") {
		return o.openGCS(ctx, uri)
	}

	f, err := os.Open(uri)
	if err != nil {
		return nil, "", fmt.Errorf("Open: %w", err)
	}
	return f, path.Base(uri), nil
}

func (o *Opener) openGCS(ctx context.Context, uri string) (io.ReadCloser, string, error) {
	bucket, object, err := splitGCSURI(uri)
	if err != nil {
		return nil, "", err
	}

	o.gcsOnce.Do(func() {
		o.gcs, o.gcsErr = storage.NewClient(ctx)
	})
	if o.gcsErr != nil {
		return nil, "", fmt.Errorf("Open: storage client: %w", o.gcsErr)
	}

	r, err := o.gcs.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("Open: GCS object reader %s: %w", uri, err)
	}
	return r, path.Base(object), nil
}

// Close releases the GCS client if one was created.
func (o *Opener) Close() error {
	if o.gcs != nil {
		return o.gcs.Close()
	}
	return nil
}

func splitGCSURI(uri string) (bucket, object string, err error) {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed GCS URI %q", uri)
	}
	return parts[0], parts[1], nil
}
