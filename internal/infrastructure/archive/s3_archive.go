package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"rtcstats/internal/core/domain"
	"rtcstats/internal/core/ports"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// ObjectClient is the part of *s3.Client the archive uses.
type ObjectClient interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Archive uploads gzipped dumps to a bucket under an optional prefix.
type S3Archive struct {
	client  ObjectClient
	bucket  string
	prefix  string
	tempDir string
	logger  *zap.SugaredLogger
}

var _ ports.DumpArchive = (*S3Archive)(nil)

// NewS3Client builds a client from the default AWS credential chain. A
// non-empty endpoint switches to path-style addressing so S3 compatible
// servers such as MinIO work.
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Archive creates an archive writing to bucket. tempDir holds the
// compressed dump while it uploads; empty means the OS default.
func NewS3Archive(client ObjectClient, bucket, prefix, tempDir string, logger *zap.SugaredLogger) *S3Archive {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &S3Archive{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		tempDir: tempDir,
		logger:  logger,
	}
}

func (a *S3Archive) objectKey(key string) string {
	if a.prefix == "" {
		return key
	}
	return path.Join(a.prefix, key)
}

// Put compresses rawPath and uploads it as <prefix>/<key>.gz.
func (a *S3Archive) Put(ctx context.Context, key, rawPath string) error {
	if key == "" || strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("invalid archive key %q", key)
	}

	src, err := os.Open(rawPath)
	if err != nil {
		return fmt.Errorf("failed to open dump: %w", err)
	}
	defer src.Close()

	// The SDK needs a seekable body to sign the payload, so the compressed
	// dump is staged on disk rather than streamed.
	staged, err := os.CreateTemp(a.tempDir, "rtcstats-upload-*.gz")
	if err != nil {
		return fmt.Errorf("failed to create upload file: %w", err)
	}
	defer func() {
		staged.Close()
		os.Remove(staged.Name())
	}()

	if err := compress(ctx, staged, src); err != nil {
		return err
	}
	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind upload file: %w", err)
	}

	objectKey := a.objectKey(key + domain.DumpSuffix)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(objectKey),
		Body:        staged,
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	a.logger.Debugw("archived dump",
		"bucket", a.bucket,
		"key", objectKey,
		"source", rawPath,
	)
	return nil
}

// HealthCheck verifies the bucket is reachable with the current credentials.
func (a *S3Archive) HealthCheck(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		return fmt.Errorf("bucket %s: %w", a.bucket, err)
	}
	return nil
}
