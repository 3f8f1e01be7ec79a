package notify

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ExportConfig represents the settings for the sheet export bucket.
type ExportConfig struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Key       string
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var loadDefaultAWSConfig = config.LoadDefaultConfig

// Exporter writes the order sheet as a CSV object.
type Exporter struct {
	client putObjectAPI
	bucket string
	key    string
}

// NewExporter constructs an exporter against the configured bucket. Static
// credentials are used when provided, otherwise the default chain applies.
func NewExporter(ctx context.Context, cfg ExportConfig) (*Exporter, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newExporter(client, cfg.Bucket, cfg.Key), nil
}

func newExporter(client putObjectAPI, bucket string, key string) *Exporter {
	if key == "" {
		key = "orders.csv"
	}
	return &Exporter{client: client, bucket: bucket, key: key}
}

// Export replaces the sheet with the rows.
func (e *Exporter) Export(ctx context.Context, rows []Row) error {
	var buf bytes.Buffer

	w := csv.NewWriter(&buf)
	w.Write([]string{"email", "message"})
	for _, row := range rows {
		w.Write([]string{row.Email, row.Message})
	}
	w.Flush()

	if err := w.Error(); err != nil {
		return fmt.Errorf("encoding sheet: %w", err)
	}

	input := s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(e.key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
	}

	if _, err := e.client.PutObject(ctx, &input); err != nil {
		return fmt.Errorf("writing sheet to s3://%s/%s: %w", e.bucket, e.key, err)
	}

	return nil
}
