package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"releasedesk/internal/domain"
)

// DefaultPrefix is where the test-suite artefacts live in the bucket.
const DefaultPrefix = "TEST_SUITE/"

// S3API is the subset of the S3 client the browser calls.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
	// Static keys; when empty the default credential chain applies.
	AccessKeyID     string
	SecretAccessKey string
}

type S3 struct {
	API     S3API
	Presign Presigner
	Bucket  string
	Prefix  string
}

// NewS3 builds a browser over a real bucket.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &S3{API: client, Presign: s3.NewPresignClient(client), Bucket: cfg.Bucket, Prefix: prefix}, nil
}

func (s *S3) objectKey(key string) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return s.Prefix + clean, nil
}

func (s *S3) List(ctx context.Context, dir string) ([]Entry, error) {
	prefix, err := s.objectKey(dir)
	if err != nil {
		return nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var entries []Entry
	pages := s3.NewListObjectsV2Paginator(s.API, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			full := aws.ToString(cp.Prefix)
			name := strings.TrimSuffix(strings.TrimPrefix(full, prefix), "/")
			entries = append(entries, Entry{Name: name, Key: strings.TrimPrefix(strings.TrimSuffix(full, "/"), s.Prefix), Dir: true})
		}
		for _, obj := range page.Contents {
			full := aws.ToString(obj.Key)
			if full == prefix {
				continue
			}
			entries = append(entries, Entry{
				Name:         strings.TrimPrefix(full, prefix),
				Key:          strings.TrimPrefix(full, s.Prefix),
				Size:         aws.ToInt64(obj.Size),
				LastModified: obj.LastModified,
			})
		}
	}
	sortEntries(entries)
	return entries, nil
}

func (s *S3) Fetch(ctx context.Context, key string) ([]byte, error) {
	full, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.API.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.Bucket), Key: aws.String(full)})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("object %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", full, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3) Put(ctx context.Context, key string, data []byte) error {
	full, err := s.objectKey(key)
	if err != nil {
		return err
	}
	if full == s.Prefix {
		return fmt.Errorf("%w: object key is required", domain.ErrValidation)
	}
	_, err = s.API.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(full),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", full, err)
	}
	return nil
}

func (s *S3) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if s.Presign == nil {
		return "", ErrUnsupported
	}
	full, err := s.objectKey(key)
	if err != nil {
		return "", err
	}
	req, err := s.Presign.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.Bucket), Key: aws.String(full)},
		s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", full, err)
	}
	return req.URL, nil
}
