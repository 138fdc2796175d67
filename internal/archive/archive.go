// Package archive stores daily variable files in an object store.
package archive

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Store is an object store holding archived files under a single location.
// Put overwrites any existing object with the same key.
type Store interface {
	// List returns the names of all objects currently in the archive.
	List(ctx context.Context) ([]string, error)
	// Put uploads the local file at filePath under key.
	Put(ctx context.Context, key, filePath string) error
	// Location describes where objects are stored.
	Location() string
	Close() error
}

// Options configures remote stores.
type Options struct {
	// Endpoint is the S3 compatible endpoint host, e.g. s3.us-east-2.wasabisys.com.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Profile selects a shared credentials profile when no keys are given.
	Profile        string
	MaxConnections int
	Insecure       bool
}

// Open returns the store for location. Supported forms are gs://bucket/prefix,
// s3://bucket/prefix, file:///dir and a bare directory path.
func Open(ctx context.Context, location string, opts Options) (Store, error) {
	if !strings.Contains(location, "://") {
		return NewLocal(location)
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid archive location %q: %w", location, err)
	}
	prefix := strings.Trim(u.Path, "/")
	switch u.Scheme {
	case "gs":
		return NewGCS(ctx, u.Host, prefix)
	case "s3":
		return NewS3(u.Host, prefix, opts)
	case "file":
		return NewLocal(u.Path)
	default:
		return nil, fmt.Errorf("unsupported archive scheme %q", u.Scheme)
	}
}

func objectName(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}
