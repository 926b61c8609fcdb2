// Package s3 implements the object store over the S3 API (AWS, MinIO and
// other S3-compatible endpoints).
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"listingload/internal/source"
)

// API is the subset of *s3.Client the store calls.
type API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures the client built by Open.
type Options struct {
	Region    string
	Endpoint  string
	PathStyle bool
	AccessKey string
	SecretKey string
}

// Store reads and writes S3 objects.
type Store struct{ api API }

// New wraps an existing client.
func New(api API) *Store { return &Store{api: api} }

// Open loads the default AWS configuration chain and applies opts on top.
func Open(ctx context.Context, opts Options) (*Store, error) {
	var lo []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		lo = append(lo, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		lo = append(lo, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, lo...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return New(client), nil
}

// List pages through ListObjectsV2 under prefix.
func (s *Store) List(ctx context.Context, bucket, prefix string) ([]source.ObjectInfo, error) {
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	var out []source.ObjectInfo
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			var nb *types.NoSuchBucket
			if errors.As(err, &nb) {
				return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, source.ErrObjectNotFound)
			}
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			out = append(out, source.ObjectInfo{
				Name:      key,
				Size:      aws.ToInt64(o.Size),
				UpdatedAt: aws.ToTime(o.LastModified).UTC(),
			})
		}
	}
	return out, nil
}

// Read streams the object body; the caller closes it.
func (s *Store) Read(ctx context.Context, ref source.ObjectRef) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Name),
	})
	if err != nil {
		var nk *types.NoSuchKey
		if errors.As(err, &nk) {
			return nil, fmt.Errorf("get s3://%s: %w", ref, source.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("get s3://%s: %w", ref, err)
	}
	return out.Body, nil
}

// Put uploads r as the object body.
func (s *Store) Put(ctx context.Context, ref source.ObjectRef, r io.Reader) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Name),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("put s3://%s: %w", ref, err)
	}
	return nil
}
