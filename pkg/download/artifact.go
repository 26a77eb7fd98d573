package download

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/billgate/billgate/pkg/billing"
)

// ArtifactStore resolves the protected artifact for a platform to a
// time-limited download URL.
type ArtifactStore interface {
	PresignedURL(ctx context.Context, platform billing.Platform) (string, error)
}

// S3Config contains configuration for artifact storage on S3 or an
// S3-compatible service.
type S3Config struct {
	Bucket         string        `env:"S3_ARTIFACT_BUCKET,required"`
	Region         string        `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKeyID    string        `env:"S3_ACCESS_KEY_ID"`
	SecretKey      string        `env:"S3_SECRET_KEY"`
	Endpoint       string        `env:"S3_ENDPOINT"` // optional, for S3-compatible services
	ForcePathStyle bool          `env:"S3_FORCE_PATH_STYLE" envDefault:"false"`
	PresignTTL     time.Duration `env:"S3_PRESIGN_TTL" envDefault:"15m"`
}

// s3Presigner is the subset of the S3 presign client the store uses,
// extracted for testability.
type s3Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3ArtifactStore serves presigned GET URLs for platform build artifacts.
// Safe for concurrent use.
type S3ArtifactStore struct {
	presigner s3Presigner
	bucket    string
	ttl       time.Duration
	keys      map[billing.Platform]string
}

// NewS3ArtifactStore builds the artifact store from config plus a
// platform-to-object-key mapping, normally derived from the plan catalog.
func NewS3ArtifactStore(ctx context.Context, cfg S3Config, keys map[billing.Platform]string) (*S3ArtifactStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("artifact bucket is required")
	}
	if len(keys) == 0 {
		return nil, errors.New("at least one platform artifact key is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &S3ArtifactStore{
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		ttl:       ttl,
		keys:      keys,
	}, nil
}

// PresignedURL returns a time-limited GET URL for the platform's artifact.
func (s *S3ArtifactStore) PresignedURL(ctx context.Context, platform billing.Platform) (string, error) {
	key, ok := s.keys[platform]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoArtifact, platform)
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) {
		o.Expires = s.ttl
	})
	if err != nil {
		return "", fmt.Errorf("presign artifact: %w", err)
	}
	return req.URL, nil
}
