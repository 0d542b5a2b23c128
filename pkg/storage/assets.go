package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/noah-isme/pandebugger-api/pkg/config"
)

// AssetStore locates the source PDFs referenced by digitization.
type AssetStore interface {
	// Resolve returns the location name maps to, for diagnostics.
	Resolve(name string) string
	// Exists reports whether name is present in the store.
	Exists(ctx context.Context, name string) (bool, error)
}

// Presigner is implemented by stores able to hand out direct download URLs.
type Presigner interface {
	PresignGet(ctx context.Context, name string, ttl time.Duration) (string, error)
}

// NewAssetStore builds the store selected by cfg.Backend.
func NewAssetStore(ctx context.Context, cfg config.AssetsConfig) (AssetStore, error) {
	switch cfg.Backend {
	case config.AssetBackendS3:
		return NewS3AssetStore(ctx, cfg)
	case config.AssetBackendFilesystem, "":
		return NewFSAssetStore(cfg.BooksDir), nil
	default:
		return nil, fmt.Errorf("unknown asset backend %q", cfg.Backend)
	}
}

// FSAssetStore resolves assets inside a local directory.
type FSAssetStore struct {
	dir string
}

// NewFSAssetStore returns a store rooted at dir.
func NewFSAssetStore(dir string) *FSAssetStore {
	return &FSAssetStore{dir: dir}
}

// Resolve returns the absolute path of name.
func (s *FSAssetStore) Resolve(name string) string {
	joined := filepath.Join(s.dir, name)
	if abs, err := filepath.Abs(joined); err == nil {
		return abs
	}
	return joined
}

// Exists reports whether name is a regular file inside the directory.
func (s *FSAssetStore) Exists(_ context.Context, name string) (bool, error) {
	info, err := os.Stat(s.Resolve(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Open returns a read handle for name.
func (s *FSAssetStore) Open(name string) (*os.File, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return os.Open(s.Resolve(name))
}

type s3HeadAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type s3PresignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3AssetStore resolves assets as objects under a bucket prefix.
type S3AssetStore struct {
	client  s3HeadAPI
	presign s3PresignAPI
	bucket  string
	prefix  string
}

// NewS3AssetStore builds an S3 client from cfg. Static credentials are used when configured,
// otherwise the default AWS credential chain applies. A custom endpoint switches to
// path-style addressing for S3 compatible servers.
func NewS3AssetStore(ctx context.Context, cfg config.AssetsConfig) (*S3AssetStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3AssetStore(client, s3.NewPresignClient(client), cfg.S3Bucket, cfg.S3Prefix), nil
}

func newS3AssetStore(client s3HeadAPI, presign s3PresignAPI, bucket, prefix string) *S3AssetStore {
	return &S3AssetStore{client: client, presign: presign, bucket: bucket, prefix: prefix}
}

func (s *S3AssetStore) key(name string) string {
	return path.Join(s.prefix, name)
}

// Resolve returns the s3:// URI of name.
func (s *S3AssetStore) Resolve(name string) string {
	return "s3://" + s.bucket + "/" + s.key(name)
}

// Exists issues a HeadObject request for name.
func (s *S3AssetStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err == nil {
		return true, nil
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) && status.HTTPStatusCode() == 404 {
		return false, nil
	}
	return false, fmt.Errorf("head %s: %w", s.Resolve(name), err)
}

// PresignGet returns a time limited GET URL for name.
func (s *S3AssetStore) PresignGet(ctx context.Context, name string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", s.Resolve(name), err)
	}
	return req.URL, nil
}
