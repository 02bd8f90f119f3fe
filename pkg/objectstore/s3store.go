package objectstore

import (
	"bytes"
	"context"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"icetable/pkg/icerrors"
)

// S3Config mirrors the object-store configuration spec.md §6 lists:
// region, endpoint URL, access key, secret key, bucket, prefix, and a
// path-style flag (required for S3-compatible servers like MinIO).
type S3Config struct {
	Region      string
	Endpoint    string
	AccessKey   string
	SecretKey   string
	Bucket      string
	Prefix      string
	UsePathStyle bool
}

// S3Store implements Store over an S3-compatible bucket via aws-sdk-go-v2.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds an S3Store from explicit credentials/endpoint, the way
// the original source's S3Client did (no ambient credential chain — the
// table is handed credentials directly per spec.md §6).
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, icerrors.ObjectStoreError("s3store", "new", "", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return icerrors.ObjectStoreError("s3store", "put", key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, icerrors.ObjectStoreError("s3store", "get", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, icerrors.ObjectStoreError("s3store", "get", key, err)
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return icerrors.ObjectStoreError("s3store", "delete", key, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix, continuationToken string) (ListPage, error) {
	in := &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &prefix,
	}
	if continuationToken != "" {
		in.ContinuationToken = &continuationToken
	}
	out, err := s.client.ListObjectsV2(ctx, in)
	if err != nil {
		return ListPage{}, icerrors.ObjectStoreError("s3store", "list", prefix, err)
	}

	page := ListPage{}
	for _, obj := range out.Contents {
		if obj.Key != nil {
			page.Keys = append(page.Keys, *obj.Key)
		}
	}
	if out.IsTruncated != nil && *out.IsTruncated && out.NextContinuationToken != nil {
		page.Truncated = true
		page.NextToken = *out.NextContinuationToken
	}
	return page, nil
}
