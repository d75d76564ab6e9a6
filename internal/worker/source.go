package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrSourceUnavailable wraps every failure to read a stored worker body.
var ErrSourceUnavailable = errors.New("worker: source unavailable")

// maxBodySize caps a stored worker body.
const maxBodySize = 2 << 20

// Source returns the vendor-supplied worker body of a slot, byte for byte.
type Source interface {
	Body(ctx context.Context, slot Slot) ([]byte, error)
}

// FileSource reads worker bodies from a directory.
type FileSource struct {
	Dir string
}

func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

func (s *FileSource) Body(ctx context.Context, slot Slot) ([]byte, error) {
	f, err := os.Open(filepath.Join(s.Dir, slot.Object))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrSourceUnavailable, slot.Object, err)
	}
	defer f.Close()

	return readBody(f, slot.Object)
}

// readBody reads a whole stored body. A body over maxBodySize is refused
// rather than truncated, since it must be served byte for byte.
func readBody(r io.Reader, name string) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrSourceUnavailable, name, err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrSourceUnavailable, name, maxBodySize)
	}
	return body, nil
}

// S3Config holds object storage settings for worker bodies.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
}

// ObjectGetter is the subset of the S3 client the source uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads worker bodies from an S3-compatible bucket.
type S3Source struct {
	client ObjectGetter
	bucket string
	prefix string
}

func NewS3Source(cfg S3Config) *S3Source {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: true,
	}
	if cfg.AccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return NewS3SourceWithClient(s3.New(opts), cfg.Bucket, cfg.Prefix)
}

func NewS3SourceWithClient(client ObjectGetter, bucket, prefix string) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Source) Body(ctx context.Context, slot Slot) ([]byte, error) {
	key := path.Join(s.prefix, slot.Object)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrSourceUnavailable, key, err)
	}
	defer out.Body.Close()

	return readBody(out.Body, key)
}
