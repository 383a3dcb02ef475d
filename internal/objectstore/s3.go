package objectstore

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rotisserie/eris"
)

// S3API is the subset of the S3 client the store needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 stores objects in a bucket with KMS server-side encryption. Keys carry
// a millisecond timestamp so writes do not collide in practice.
type S3 struct {
	api    S3API
	bucket string
}

// NewS3 wraps an existing client.
func NewS3(api S3API, bucket string) *S3 {
	return &S3{api: api, bucket: bucket}
}

// NewS3FromEnv loads the default AWS credential chain.
func NewS3FromEnv(ctx context.Context, bucket, region string) (*S3, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, eris.New("objectstore: s3 bucket is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "objectstore: load aws config")
	}
	return NewS3(s3.NewFromConfig(cfg), bucket), nil
}

func (s *S3) Put(ctx context.Context, path string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(path),
		Body:                 bytes.NewReader(data),
		ContentLength:        aws.Int64(int64(len(data))),
		ContentType:          aws.String(contentType),
		ServerSideEncryption: types.ServerSideEncryptionAwsKms,
	}
	if _, err := s.api.PutObject(ctx, input); err != nil {
		return errors.Join(ErrUnavailable, eris.Wrapf(err, "put %s", path))
	}
	return nil
}

// List returns the direct children of prefix, newest first.
func (s *S3) List(ctx context.Context, prefix string, limit int) ([]Object, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	dir := strings.TrimSuffix(prefix, "/") + "/"
	out := make([]Object, 0)
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(dir),
		Delimiter: aws.String("/"),
	}
	for {
		page, err := s.api.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, errors.Join(ErrUnavailable, eris.Wrapf(err, "list %s", dir))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, dir)
			if name == "" {
				continue
			}
			o := Object{Name: name, Path: key, Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				o.CreatedAt = obj.LastModified.UTC()
			}
			out = append(out, o)
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = page.NextContinuationToken
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
