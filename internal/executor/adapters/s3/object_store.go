// Package s3 uploads generated media to an S3 compatible bucket.
package s3

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	execports "github.com/weaveflow-go/internal/executor/ports"
)

type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// PublicBaseURL prefixes object keys in returned URLs. Defaults to the
	// virtual-hosted bucket URL.
	PublicBaseURL string
}

type ObjectStore struct {
	client  s3iface.S3API
	bucket  string
	baseURL string
}

var _ execports.ObjectStore = (*ObjectStore)(nil)

// NewClient builds an S3 client. A custom endpoint (e.g. MinIO) uses path-style addressing.
func NewClient(cfg Config) (*s3.S3, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}
	return s3.New(sess), nil
}

func NewObjectStore(client s3iface.S3API, cfg Config) *ObjectStore {
	base := cfg.PublicBaseURL
	if base == "" {
		switch {
		case cfg.Endpoint != "":
			base = strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
		default:
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	return &ObjectStore{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: strings.TrimSuffix(base, "/"),
	}
}

func (s *ObjectStore) Put(ctx context.Context, key, contentType string, body io.ReadSeeker) (string, error) {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return s.baseURL + "/" + strings.TrimPrefix(key, "/"), nil
}
