package receipt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSStorage implements the Storage interface on a Google Cloud Storage bucket.
type GCSStorage struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// NewGCSStorage creates a GCSStorage writing objects under prefix in bucket.
// Credentials come from the environment unless opts override them.
func NewGCSStorage(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSStorage, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gcs client: %w", err)
	}
	return &GCSStorage{
		client: client,
		bucket: client.Bucket(bucket),
		prefix: prefix,
	}, nil
}

func (g *GCSStorage) object(name string) *storage.ObjectHandle {
	return g.bucket.Object(path.Join(g.prefix, name))
}

// Save uploads data. Existing objects are never overwritten.
func (g *GCSStorage) Save(ctx context.Context, filename string, data []byte) (string, error) {
	w := g.object(filename).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = http.DetectContentType(data)

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return "", fmt.Errorf("uploading %s: %w", filename, err)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return "", fmt.Errorf("object %s already exists", filename)
		}
		return "", fmt.Errorf("finalizing upload of %s: %w", filename, err)
	}
	return filename, nil
}

// Get downloads an object.
func (g *GCSStorage) Get(ctx context.Context, name string) ([]byte, error) {
	r, err := g.object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("object %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}

// Delete removes an object.
func (g *GCSStorage) Delete(ctx context.Context, name string) error {
	if err := g.object(name).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("object %s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}

// Close releases the client.
func (g *GCSStorage) Close() error {
	return g.client.Close()
}
