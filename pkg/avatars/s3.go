package avatars

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/platinummonkey/tenancy/pkg/avatars")

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Config configures the S3 bucket holding avatars
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	// PublicBaseURL prefixes object keys in returned URLs. Defaults to the
	// bucket's virtual-hosted or path-style address.
	PublicBaseURL string
}

// UploadRecorder observes upload outcomes
type UploadRecorder interface {
	RecordAvatarUpload(status string, size int64)
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Store uploads organization avatars to S3 compatible storage
type S3Store struct {
	client  s3API
	bucket  string
	baseURL string
	metrics UploadRecorder
}

// NewS3Store loads AWS configuration, creates the bucket when missing and
// returns a ready store. Static credentials are used when both keys are set,
// otherwise the default credential chain applies.
func NewS3Store(ctx context.Context, cfg Config, metrics UploadRecorder) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	store := newS3Store(client, cfg, metrics)
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func newS3Store(client s3API, cfg Config, metrics UploadRecorder) *S3Store {
	return &S3Store{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: publicBaseURL(cfg),
		metrics: metrics,
	}
}

func publicBaseURL(cfg Config) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	if cfg.Endpoint != "" {
		endpoint := strings.TrimRight(cfg.Endpoint, "/")
		if cfg.UsePathStyle {
			return endpoint + "/" + cfg.Bucket
		}
		scheme, host, ok := strings.Cut(endpoint, "://")
		if !ok {
			return "https://" + cfg.Bucket + "." + endpoint
		}
		return scheme + "://" + cfg.Bucket + "." + host
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}

// ObjectKey returns the storage key for a new avatar of org
func ObjectKey(org, contentType string) (string, error) {
	ext, ok := extensions[contentType]
	if !ok {
		return "", fmt.Errorf("unsupported avatar content type %q", contentType)
	}
	return fmt.Sprintf("avatars/%s/%s%s", org, uuid.NewString(), ext), nil
}

// PutAvatar uploads exactly size bytes from body and returns the public URL
func (s *S3Store) PutAvatar(ctx context.Context, org, contentType string, size int64, body io.Reader) (string, error) {
	key, err := ObjectKey(org, contentType)
	if err != nil {
		return "", err
	}

	ctx, span := tracer.Start(ctx, "S3.PutAvatar",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", key),
			attribute.String("content.type", contentType),
			attribute.Int64("content.size", size),
		),
	)
	defer span.End()

	data, err := io.ReadAll(io.LimitReader(body, size+1))
	if err != nil {
		return "", s.fail(span, size, fmt.Errorf("failed to read avatar: %w", err))
	}
	if int64(len(data)) != size {
		return "", s.fail(span, size, fmt.Errorf("avatar body is %d bytes, expected %d", len(data), size))
	}

	hash := sha256.Sum256(data)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
		CacheControl:  aws.String("public, max-age=86400"),
		Metadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(hash[:]),
			"organization":    org,
		},
	})
	if err != nil {
		return "", s.fail(span, size, fmt.Errorf("failed to upload to s3: %w", err))
	}

	if s.metrics != nil {
		s.metrics.RecordAvatarUpload("success", size)
	}
	span.SetStatus(codes.Ok, "avatar uploaded")
	return s.baseURL + "/" + key, nil
}

// DeleteAvatar removes the object behind a URL returned by PutAvatar. URLs
// outside this store's base URL are rejected.
func (s *S3Store) DeleteAvatar(ctx context.Context, url string) error {
	key, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok || !strings.HasPrefix(key, "avatars/") {
		return fmt.Errorf("avatar %q does not belong to bucket %s", url, s.bucket)
	}

	ctx, span := tracer.Start(ctx, "S3.DeleteAvatar",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "avatar delete failed")
		return fmt.Errorf("failed to delete from s3: %w", err)
	}
	return nil
}

func (s *S3Store) fail(span trace.Span, size int64, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "avatar upload failed")
	if s.metrics != nil {
		s.metrics.RecordAvatarUpload("failure", size)
	}
	return err
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}

	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	if errors.As(err, &owned) || errors.As(err, &exists) {
		return nil
	}
	return fmt.Errorf("failed to create bucket: %w", err)
}
