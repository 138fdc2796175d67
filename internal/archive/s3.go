package archive

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3 is a Store backed by a bucket of an S3 compatible service.
type S3 struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3 returns a store for bucket on the endpoint given in opts. Static keys
// are used when set, otherwise the environment and the shared credentials
// file are consulted.
func NewS3(bucket, prefix string, opts Options) (*S3, error) {
	if opts.Endpoint == "" {
		opts.Endpoint = "s3.amazonaws.com"
	}
	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.FileAWSCredentials{Profile: opts.Profile},
		&credentials.IAM{},
	})
	if opts.AccessKeyID != "" {
		creds = credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, "")
	}

	transport, err := minio.DefaultTransport(!opts.Insecure)
	if err != nil {
		return nil, err
	}
	if opts.MaxConnections > 0 {
		transport.MaxIdleConns = opts.MaxConnections
		transport.MaxIdleConnsPerHost = opts.MaxConnections
		transport.MaxConnsPerHost = opts.MaxConnections
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:     creds,
		Secure:    !opts.Insecure,
		Region:    opts.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("fail to init S3 client for %s: %w", opts.Endpoint, err)
	}
	return &S3{client: client, bucket: bucket, prefix: prefix}, nil
}

// List implements Store.
func (s *S3) List(ctx context.Context) ([]string, error) {
	opts := minio.ListObjectsOptions{Recursive: true}
	if s.prefix != "" {
		opts.Prefix = s.prefix + "/"
	}
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("fail to list s3://%s/%s: %w", s.bucket, s.prefix, obj.Err)
		}
		names = append(names, obj.Key)
	}
	return names, nil
}

// Put implements Store.
func (s *S3) Put(ctx context.Context, key, filePath string) error {
	name := objectName(s.prefix, key)
	_, err := s.client.FPutObject(ctx, s.bucket, name, filePath, minio.PutObjectOptions{
		ContentType: "application/x-netcdf",
	})
	if err != nil {
		return fmt.Errorf("fail to upload %s: %w", name, err)
	}
	return nil
}

// Location implements Store.
func (s *S3) Location() string {
	return "s3://" + objectName(s.bucket, s.prefix)
}

// Close implements Store.
func (s *S3) Close() error {
	return nil
}
