package archive

import (
	"context"
	"fmt"

	"rtcstats/internal/core/ports"
	"rtcstats/pkg/config"

	"go.uber.org/zap"
)

// Archive is a dump archive that can report whether its backend is usable.
type Archive interface {
	ports.DumpArchive
	HealthCheck(ctx context.Context) error
}

// New builds the archive selected by archive.backend.
func New(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (Archive, error) {
	switch cfg.Archive.Backend {
	case config.ArchiveS3:
		s3cfg := cfg.Archive.S3
		client, err := NewS3Client(ctx, s3cfg.Region, s3cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		logger.Infow("archiving dumps to S3", "bucket", s3cfg.Bucket, "prefix", s3cfg.Prefix)
		return NewS3Archive(client, s3cfg.Bucket, s3cfg.Prefix, cfg.Archive.TempDir, logger), nil

	case config.ArchiveFile, "":
		fa, err := NewFileArchive(cfg.Archive.Directory, logger)
		if err != nil {
			return nil, err
		}
		if !fa.Configured() {
			logger.Warn("archive.directory is not set, dumps will not be archived")
		}
		return fa, nil

	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Archive.Backend)
	}
}
