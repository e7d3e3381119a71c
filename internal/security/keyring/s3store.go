package keyring

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Store keeps keys as objects <prefix>/<key id>.key in a bucket
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Store(ctx context.Context, o S3Options) (*S3Store, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(o.Region),
	}
	if o.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("error while loading s3 config. Err: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(opts *s3.Options) {
		if o.Endpoint != "" {
			opts.BaseEndpoint = aws.String(o.Endpoint)
			opts.UsePathStyle = true
		}
	})

	return &S3Store{
		client: client,
		bucket: o.Bucket,
		prefix: strings.Trim(o.Prefix, "/"),
	}, nil
}

func (s *S3Store) objectKey(keyID string) string {
	return path.Join(s.prefix, keyID+keyFileExt)
}

func (s *S3Store) List(ctx context.Context) ([]StoredKey, error) {
	// Delimiter keeps nested "directories" out of the listing
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Delimiter: aws.String("/"),
	}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix + "/")
	}

	var keys []StoredKey
	pages := s3.NewListObjectsV2Paginator(s.client, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error while listing bucket %s. Err: %w", s.bucket, err)
		}

		for _, obj := range page.Contents {
			name := aws.ToString(obj.Key)
			if path.Ext(name) != keyFileExt {
				continue
			}

			key, err := s.get(ctx, name)
			keys = append(keys, StoredKey{
				KeyID: strings.TrimSuffix(path.Base(name), keyFileExt),
				Key:   key,
				Err:   err,
			})
		}
	}

	return keys, nil
}

func (s *S3Store) get(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return "", err
	}
	defer out.Body.Close() // nolint:errcheck

	data, err := io.ReadAll(out.Body)
	return string(data), err
}

func (s *S3Store) Save(ctx context.Context, keyID string, key string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(keyID)),
		Body:        bytes.NewReader([]byte(key)),
		ContentType: aws.String("text/plain"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return fmt.Errorf("key %q already exists", keyID)
		}
		return fmt.Errorf("error while putting key to bucket %s. Err: %w", s.bucket, err)
	}
	return nil
}
