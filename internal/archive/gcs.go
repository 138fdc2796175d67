package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCS is a Store backed by a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS connects to Cloud Storage using application default credentials.
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("fail to init GCS (check gcloud auth): %w", err)
	}
	return &GCS{client: client, bucket: bucket, prefix: prefix}, nil
}

// List implements Store.
func (g *GCS) List(ctx context.Context) ([]string, error) {
	q := &storage.Query{}
	if g.prefix != "" {
		q.Prefix = g.prefix + "/"
	}
	it := g.client.Bucket(g.bucket).Objects(ctx, q)
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("fail to list gs://%s/%s: %w", g.bucket, g.prefix, err)
		}
		names = append(names, attrs.Name)
	}
}

// Put implements Store.
func (g *GCS) Put(ctx context.Context, key, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	name := objectName(g.prefix, key)
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/x-netcdf"
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("fail to upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("fail to finalize %s: %w", name, err)
	}
	return nil
}

// Location implements Store.
func (g *GCS) Location() string {
	return "gs://" + objectName(g.bucket, g.prefix)
}

// Close implements Store.
func (g *GCS) Close() error {
	return g.client.Close()
}
