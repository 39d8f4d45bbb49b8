package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Batch is the raw rows of one stream fetched by one run.
type Batch struct {
	Stream  string
	Day     time.Time
	RunID   string
	Records []map[string]any
}

// Archiver lands raw source rows before they are transformed.
type Archiver interface {
	Archive(ctx context.Context, b Batch) error
}

// Nop discards batches.
type Nop struct{}

func (Nop) Archive(context.Context, Batch) error { return nil }

// Key is <prefix>/<stream>/<YYYY-MM-DD>/<run_id>.ndjson.gz.
func Key(prefix string, b Batch) string {
	return path.Join(prefix, b.Stream, b.Day.UTC().Format(time.DateOnly), b.RunID+".ndjson.gz")
}

// Encode writes records as gzip-compressed newline-delimited JSON.
func Encode(records []map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("failed to encode record: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// PutObjectAPI is the part of the S3 client the archiver uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Config struct {
	Logger *slog.Logger
	Client PutObjectAPI
	Bucket string
	Prefix string
}

func (cfg *S3Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("s3 client is required")
	}
	if cfg.Bucket == "" {
		return errors.New("bucket is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "raw"
	}
	return nil
}

type S3Archiver struct {
	log *slog.Logger
	cfg S3Config
}

func NewS3Archiver(cfg S3Config) (*S3Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &S3Archiver{log: cfg.Logger, cfg: cfg}, nil
}

func (a *S3Archiver) Archive(ctx context.Context, b Batch) error {
	if len(b.Records) == 0 {
		return nil
	}
	body, err := Encode(b.Records)
	if err != nil {
		return err
	}
	key := Key(a.cfg.Prefix, b)
	_, err = a.cfg.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.cfg.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
		Metadata:        map[string]string{"run-id": b.RunID, "stream": b.Stream},
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", a.cfg.Bucket, key, err)
	}
	a.log.Info("archive: stored raw batch", "bucket", a.cfg.Bucket, "key", key, "records", len(b.Records), "bytes", len(body))
	return nil
}

// NewS3Client builds an S3 client from the default AWS credential chain. A non-empty endpoint
// selects an S3-compatible store such as MinIO, addressed path-style.
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
