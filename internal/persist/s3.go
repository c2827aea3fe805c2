package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures an S3 or S3-compatible (MinIO) slot.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
}

// S3Slot stores each key as an object under Prefix.
type S3Slot struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Slot builds a client from cfg. Static credentials are used when both
// keys are set; otherwise the default AWS credential chain applies.
func NewS3Slot(ctx context.Context, cfg S3Config) (*S3Slot, error) {
	if cfg.Bucket == "" {
		return nil, &SlotError{Slot: "s3", Op: "open", Err: errors.New("bucket is required")}
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &SlotError{Slot: "s3", Op: "open", Err: fmt.Errorf("load aws config: %w", err)}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Slot{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Slot) Name() string { return "s3" }

func (s *S3Slot) objectKey(key string) string {
	return path.Join(s.prefix, key+".json")
}

func (s *S3Slot) Read(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrEmpty
		}
		return nil, &SlotError{Slot: "s3", Op: "read", Err: err}
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &SlotError{Slot: "s3", Op: "read", Err: err}
	}
	return data, nil
}

func (s *S3Slot) Write(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return &SlotError{Slot: "s3", Op: "write", Err: err}
	}
	return nil
}

func (s *S3Slot) Close() error { return nil }
