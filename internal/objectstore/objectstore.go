// Package objectstore uploads customer PDFs to S3-compatible storage.
// It deliberately has no delete: stored objects outlive the orders that
// reference them.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/printshop/internal/config"
	"github.com/Additional-Code/printshop/pkg/errorbank"
)

const (
	pdfContentType = "application/pdf"
	keyPrefix      = "orders/"
)

var storeTracer = otel.Tracer("github.com/Additional-Code/printshop/objectstore")

// File is an upload request.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Stored identifies an uploaded object.
type Stored struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
}

// Uploader stores files and returns their public location.
type Uploader interface {
	Upload(ctx context.Context, file File) (Stored, error)
}

// Module provides the configured Uploader.
var Module = fx.Provide(New)

// New builds the uploader selected by cfg.Storage.Driver.
func New(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Uploader, error) {
	switch cfg.Storage.Driver {
	case "disabled":
		logger.Info("object storage disabled; uploads will be rejected")
		return disabled{}, nil
	case "minio":
		return newMinio(lc, cfg.Storage, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}

// Check rejects files that are not PDFs or exceed maxBytes.
func Check(file File, maxBytes int64) error {
	if file.Body == nil {
		return errorbank.Validation("file is required", errorbank.WithField("file"))
	}
	isPDF := strings.EqualFold(path.Ext(file.Name), ".pdf")
	if ct := strings.ToLower(strings.TrimSpace(file.ContentType)); ct != "" && !strings.HasPrefix(ct, pdfContentType) {
		isPDF = false
	}
	if !isPDF {
		return errorbank.Validation("only PDF files are accepted", errorbank.WithField("file"))
	}
	if file.Size <= 0 {
		return errorbank.Validation("file is empty", errorbank.WithField("file"))
	}
	if maxBytes > 0 && file.Size > maxBytes {
		return errorbank.Validation(
			fmt.Sprintf("file exceeds the %d MB limit", maxBytes/1_000_000),
			errorbank.WithField("file"),
			errorbank.WithDetail("maxBytes", maxBytes),
		)
	}
	return nil
}

type disabled struct{}

func (disabled) Upload(context.Context, File) (Stored, error) {
	return Stored{}, errorbank.Transport("object storage is not configured")
}

type minioUploader struct {
	client   *minio.Client
	bucket   string
	baseURL  string
	maxBytes int64
	logger   *zap.Logger
}

func newMinio(lc fx.Lifecycle, cfg config.Storage, logger *zap.Logger) (Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	u := &minioUploader{
		client:   client,
		bucket:   cfg.Bucket,
		baseURL:  cfg.PublicBaseURL,
		maxBytes: cfg.MaxUploadBytes,
		logger:   logger,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			exists, err := client.BucketExists(ctx, cfg.Bucket)
			if err != nil {
				return fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
			}
			if !exists {
				if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
					return fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
				}
				logger.Info("bucket created", zap.String("bucket", cfg.Bucket))
			}
			logger.Info("object storage connected", zap.String("endpoint", cfg.Endpoint), zap.String("bucket", cfg.Bucket))
			return nil
		},
	})

	return u, nil
}

func (u *minioUploader) Upload(ctx context.Context, file File) (Stored, error) {
	ctx, span := storeTracer.Start(ctx, "ObjectStore.Upload", trace.WithAttributes(
		attribute.String("file.name", file.Name),
		attribute.Int64("file.size", file.Size),
	))
	defer span.End()

	if err := Check(file, u.maxBytes); err != nil {
		span.SetStatus(codes.Error, "rejected")
		return Stored{}, err
	}

	key := keyPrefix + uuid.NewString() + ".pdf"
	_, err := u.client.PutObject(ctx, u.bucket, key, file.Body, file.Size, minio.PutObjectOptions{
		ContentType:  pdfContentType,
		UserMetadata: map[string]string{"original-name": file.Name},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "put failed")
		return Stored{}, errorbank.Transport("failed to store file", errorbank.WithCause(err))
	}

	stored := Stored{
		URL:      fmt.Sprintf("%s/%s/%s", u.baseURL, u.bucket, key),
		PublicID: key,
	}
	u.logger.Debug("file stored", zap.String("public_id", key), zap.Int64("size", file.Size))
	return stored, nil
}
