package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds configuration for the S3 object store.
type S3Config struct {
	Bucket         string
	Region         string // default: "us-east-1"
	Endpoint       string // custom endpoint for MinIO, R2, B2, etc.
	Prefix         string // key prefix prepended to "<bucket>/<key>"
	ForcePathStyle bool   // force path-style addressing (for MinIO)
	PublicURL      string // public base URL of the S3 bucket; empty = serve via BaseURL
	BaseURL        string // application media URL used when PublicURL is empty
}

// S3Store implements Store on a single S3-compatible bucket. Logical
// buckets become key prefixes.
type S3Store struct {
	client    *s3.Client
	bucket    string
	prefix    string
	publicURL string
	baseURL   string
}

var _ Store = (*S3Store)(nil)

// NewS3Store creates a new S3-compatible object store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3 bucket name is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	optFns := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		optFns = append(optFns, awsconfig.WithBaseEndpoint(cfg.Endpoint))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.ForcePathStyle {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return newS3Store(s3.NewFromConfig(awsCfg, clientOpts...), cfg), nil
}

func newS3Store(client *s3.Client, cfg S3Config) *S3Store {
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    prefix,
		publicURL: cfg.PublicURL,
		baseURL:   cfg.BaseURL,
	}
}

func (s *S3Store) Name() string { return "s3" }

func (s *S3Store) objectKey(bucket, key string) string {
	return s.prefix + bucket + "/" + key
}

// Upload writes the object unless the key exists. The existence check uses
// HeadObject plus a conditional put, so stores that ignore If-None-Match
// still reject most collisions. r should implement io.Seeker so the SDK
// can sign the payload.
func (s *S3Store) Upload(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	if err := ValidateKey(bucket, key); err != nil {
		return err
	}
	k := s.objectKey(bucket, key)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(k),
	})
	if err == nil {
		return fmt.Errorf("%s/%s: %w", bucket, key, ErrExists)
	}
	if httpStatus(err) != http.StatusNotFound {
		return fmt.Errorf("head s3://%s/%s: %w", s.bucket, k, err)
	}

	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(k),
		Body:        r,
		IfNoneMatch: aws.String("*"),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		if httpStatus(err) == http.StatusPreconditionFailed {
			return fmt.Errorf("%s/%s: %w", bucket, key, ErrExists)
		}
		return fmt.Errorf("upload to s3://%s/%s: %w", s.bucket, k, err)
	}

	slog.Debug("object uploaded to S3", "bucket", s.bucket, "key", k)
	return nil
}

func (s *S3Store) Download(ctx context.Context, bucket, key string) (io.ReadCloser, *Object, error) {
	if err := ValidateKey(bucket, key); err != nil {
		return nil, nil, err
	}
	k := s.objectKey(bucket, key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		if httpStatus(err) == http.StatusNotFound {
			return nil, nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, k, err)
	}
	return out.Body, &Object{
		Bucket:       bucket,
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// Remove deletes objects one by one. S3 treats deleting a missing key as success.
func (s *S3Store) Remove(ctx context.Context, bucket string, keys ...string) error {
	for _, key := range keys {
		if err := ValidateKey(bucket, key); err != nil {
			return err
		}
		k := s.objectKey(bucket, key)
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(k),
		})
		if err != nil {
			return fmt.Errorf("delete s3://%s/%s: %w", s.bucket, k, err)
		}
		slog.Debug("object deleted from S3", "bucket", s.bucket, "key", k)
	}
	return nil
}

// List returns all objects under the bucket prefix, sorted newest-first.
func (s *S3Store) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	base := s.objectKey(bucket, "")
	var objects []Object

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(base + prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list S3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, Object{
				Bucket:       bucket,
				Key:          strings.TrimPrefix(aws.ToString(obj.Key), base),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	sortNewestFirst(objects)
	return objects, nil
}

// PublicURL points at the bucket's public endpoint when one is configured,
// otherwise at the application's media route.
func (s *S3Store) PublicURL(bucket, key string) string {
	if s.publicURL != "" {
		return joinURL(strings.TrimSuffix(s.publicURL, "/")+"/"+strings.TrimSuffix(s.prefix, "/"), bucket, key)
	}
	return joinURL(s.baseURL, bucket, key)
}

func httpStatus(err error) int {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}
