package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"rtcstats/internal/core/domain"
	"rtcstats/internal/core/ports"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// FileArchive gzips raw session dumps into a directory. With no directory
// configured Put succeeds without writing anything.
type FileArchive struct {
	directory string
	logger    *zap.SugaredLogger
}

var _ ports.DumpArchive = (*FileArchive)(nil)

// NewFileArchive creates the archive directory when one is configured.
func NewFileArchive(directory string, logger *zap.SugaredLogger) (*FileArchive, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if directory != "" {
		if err := os.MkdirAll(directory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}
	return &FileArchive{
		directory: directory,
		logger:    logger,
	}, nil
}

// Configured reports whether Put actually stores dumps.
func (a *FileArchive) Configured() bool {
	return a.directory != ""
}

// Put compresses rawPath into <directory>/<key>.gz.
func (a *FileArchive) Put(ctx context.Context, key, rawPath string) error {
	if !a.Configured() {
		a.logger.Warnw("no directory configured for dump storage", "key", key)
		return nil
	}

	if key == "" || filepath.Base(key) != key {
		return fmt.Errorf("invalid archive key %q", key)
	}

	src, err := os.Open(rawPath)
	if err != nil {
		return fmt.Errorf("failed to open dump: %w", err)
	}
	defer src.Close()

	name := key + domain.DumpSuffix
	tmp, err := os.CreateTemp(a.directory, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := compress(ctx, tmp, src); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close archive file: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(a.directory, name)); err != nil {
		return fmt.Errorf("failed to move archive into place: %w", err)
	}

	a.logger.Debugw("archived dump", "name", name, "source", rawPath)
	return nil
}

func compress(ctx context.Context, dst io.Writer, src io.Reader) error {
	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, &contextReader{ctx: ctx, r: src}); err != nil {
		zw.Close()
		return fmt.Errorf("failed to compress dump: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to flush compressed dump: %w", err)
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// HealthCheck reports whether the archive directory is still there.
func (a *FileArchive) HealthCheck(ctx context.Context) error {
	if !a.Configured() {
		return nil
	}
	info, err := os.Stat(a.directory)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", a.directory)
	}
	return nil
}
