package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectClient struct {
	bucket  string
	key     string
	body    []byte
	ctype   string
	putErr  error
	headErr error
}

func (f *fakeObjectClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	f.ctype = aws.ToString(in.ContentType)
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjectClient) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func TestS3Archive_PutUploadsGzip(t *testing.T) {
	client := &fakeObjectClient{}
	archive := NewS3Archive(client, "dumps", "/rtcstats/", t.TempDir(), nil)

	raw := `["getstats","PC_0",{"rtt":12}]` + "\n"
	require.NoError(t, archive.Put(context.Background(), "abc_2", writeDump(t, raw)))

	assert.Equal(t, "dumps", client.bucket)
	assert.Equal(t, "rtcstats/abc_2.gz", client.key)
	assert.Equal(t, "application/gzip", client.ctype)

	zr, err := gzip.NewReader(bytes.NewReader(client.body))
	require.NoError(t, err)
	content, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, raw, string(content))
}

func TestS3Archive_NoPrefix(t *testing.T) {
	client := &fakeObjectClient{}
	archive := NewS3Archive(client, "dumps", "", t.TempDir(), nil)

	require.NoError(t, archive.Put(context.Background(), "abc", writeDump(t, "x")))
	assert.Equal(t, "abc.gz", client.key)
}

func TestS3Archive_Errors(t *testing.T) {
	dir := t.TempDir()

	archive := NewS3Archive(&fakeObjectClient{}, "dumps", "", dir, nil)
	assert.Error(t, archive.Put(context.Background(), "../escape", writeDump(t, "x")))
	assert.Error(t, archive.Put(context.Background(), "", writeDump(t, "x")))

	failing := NewS3Archive(&fakeObjectClient{putErr: errors.New("access denied")}, "dumps", "", dir, nil)
	err := failing.Put(context.Background(), "abc", writeDump(t, "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestS3Archive_HealthCheck(t *testing.T) {
	assert.NoError(t, NewS3Archive(&fakeObjectClient{}, "dumps", "", "", nil).HealthCheck(context.Background()))

	down := NewS3Archive(&fakeObjectClient{headErr: errors.New("no such bucket")}, "dumps", "", "", nil)
	assert.Error(t, down.HealthCheck(context.Background()))
}
