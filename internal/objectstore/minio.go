// Package objectstore archives final reports in S3-compatible object storage.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/helixir/research-analysis-service/internal/domain"
)

const reportContentType = "application/json"

// Config holds the archive connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Prefix    string
	UseSSL    bool
}

// MinioArchive writes one JSON object per report.
type MinioArchive struct {
	client *minio.Client
	bucket string
	region string
	prefix string
	logger zerolog.Logger
}

// NewMinioArchive creates an archive client. It does not contact the server.
func NewMinioArchive(cfg Config, logger zerolog.Logger) (*MinioArchive, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("objectstore: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("objectstore: bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: creating client: %w", err)
	}

	return &MinioArchive{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		prefix: cfg.Prefix,
		logger: logger.With().Str("component", "objectstore").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (a *MinioArchive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("objectstore: checking bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}

	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
		// Another replica may have created it in the meantime.
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("objectstore: creating bucket %s: %w", a.bucket, err)
	}
	a.logger.Info().Msg("created report bucket")
	return nil
}

// ObjectKey returns the key a report is archived under.
func (a *MinioArchive) ObjectKey(report *domain.Report) string {
	prefix := a.prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return fmt.Sprintf("%s%s/%s/%s.json", prefix, report.CreatedAt.UTC().Format("2006/01/02"), report.JobID, report.ID)
}

// Archive uploads report as JSON and returns its s3:// URI.
func (a *MinioArchive) Archive(ctx context.Context, report *domain.Report) (string, error) {
	if report == nil {
		return "", domain.NewValidationError("report", "report cannot be nil")
	}

	body, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("objectstore: marshaling report: %w", err)
	}

	key := a.ObjectKey(report)
	info, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: reportContentType,
		UserMetadata: map[string]string{
			"report-id": report.ID,
			"job-id":    report.JobID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("objectstore: uploading %s: %w", key, err)
	}

	a.logger.Debug().
		Str("key", key).
		Str("job_id", report.JobID).
		Int64("size", info.Size).
		Msg("archived report")

	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}
