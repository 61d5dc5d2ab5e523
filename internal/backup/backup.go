// Package backup ships copies of the SQLite databases to S3-compatible
// object storage. Uploads go under one dated prefix per run so any night
// can be restored wholesale.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/config"
)

// Uploader is the slice of the S3 transfer manager the service needs.
// *manager.Uploader satisfies it.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Service uploads every database file under the data directory. The zero
// bucket disables it entirely; Run becomes a no-op so callers never need to
// special-case missing credentials.
type Service struct {
	uploader Uploader
	bucket   string
	dataDir  string
	log      zerolog.Logger
}

// New builds the service from backup settings. When no bucket is configured
// the AWS client is never constructed.
func New(ctx context.Context, cfg config.BackupConfig, dataDir string, log zerolog.Logger) (*Service, error) {
	svc := &Service{
		bucket:  cfg.Bucket,
		dataDir: dataDir,
		log:     log.With().Str("module", "backup").Logger(),
	}
	if cfg.Bucket == "" {
		return svc, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load object storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Non-empty endpoint means an S3-compatible store (R2, MinIO),
		// which needs path-style addressing.
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	svc.uploader = manager.NewUploader(client)

	return svc, nil
}

// Enabled reports whether a destination bucket is configured.
func (s *Service) Enabled() bool {
	return s.bucket != ""
}

// Run uploads every *.db file in the data directory to
// backups/<yyyy-mm-dd>/<file>. WAL and SHM sidecars are not matched by the
// glob; the checkpointed main file is what restores cleanly.
func (s *Service) Run(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}

	paths, err := filepath.Glob(filepath.Join(s.dataDir, "*.db"))
	if err != nil {
		return fmt.Errorf("failed to list database files: %w", err)
	}
	if len(paths) == 0 {
		s.log.Warn().Str("dir", s.dataDir).Msg("No database files to back up")
		return nil
	}
	sort.Strings(paths)

	date := time.Now().UTC().Format("2006-01-02")
	for _, path := range paths {
		if err := s.upload(ctx, path, date); err != nil {
			return err
		}
	}

	s.log.Info().
		Int("files", len(paths)).
		Str("bucket", s.bucket).
		Str("date", date).
		Msg("Backup complete")
	return nil
}

func (s *Service) upload(ctx context.Context, path, date string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	key := fmt.Sprintf("backups/%s/%s", date, filepath.Base(path))
	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	s.log.Debug().Str("key", key).Msg("Uploaded database file")
	return nil
}
