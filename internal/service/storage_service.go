// Package service contains the business logic layer: admission and credit
// accounting, the generation orchestrator and its post-processing collaborators.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"

	appconfig "github.com/jmylchreest/pawtalk-api/internal/config"
)

// VideoStore is durable object storage for finished videos.
type VideoStore interface {
	// Upload stores the local file under key and returns its public URL.
	Upload(ctx context.Context, localPath, key string) (string, error)
}

// StorageService handles object storage operations (Tigris/S3-compatible).
type StorageService struct {
	client        *s3.Client
	bucket        string
	endpoint      string
	publicBaseURL string
	enabled       bool
	logger        *slog.Logger
}

// NewStorageService creates a new storage service.
func NewStorageService(cfg *appconfig.Config, logger *slog.Logger) (*StorageService, error) {
	logger = logger.With("component", "storage")
	if !cfg.StorageEnabled {
		logger.Warn("storage service disabled - no bucket configured, completed videos cannot be stored")
		return &StorageService{
			enabled: false,
			logger:  logger,
		}, nil
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.StorageRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.StorageEndpoint)
		o.UsePathStyle = true // Required for some S3-compatible services
	})

	logger.Info("storage service initialized",
		"bucket", cfg.StorageBucket,
		"endpoint", cfg.StorageEndpoint,
	)

	return &StorageService{
		client:        client,
		bucket:        cfg.StorageBucket,
		endpoint:      strings.TrimRight(cfg.StorageEndpoint, "/"),
		publicBaseURL: strings.TrimRight(cfg.StoragePublicBaseURL, "/"),
		enabled:       true,
		logger:        logger,
	}, nil
}

// IsEnabled returns whether storage is configured and available.
func (s *StorageService) IsEnabled() bool {
	return s.enabled
}

// Bucket returns the configured bucket name.
func (s *StorageService) Bucket() string {
	return s.bucket
}

// Upload stores a local file and returns its public URL.
func (s *StorageService) Upload(ctx context.Context, localPath, key string) (string, error) {
	if !s.enabled {
		return "", ErrStorageDisabled
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	contentType := "video/mp4"
	if mt, err := mimetype.DetectFile(localPath); err == nil && strings.HasPrefix(mt.String(), "video/") {
		contentType = mt.String()
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	s.logger.Debug("video uploaded", "key", key, "bytes", info.Size())
	return s.PublicURL(key), nil
}

// PublicURL returns the address clients fetch an object from.
func (s *StorageService) PublicURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + escaped
	}
	return s.endpoint + "/" + s.bucket + "/" + escaped
}
