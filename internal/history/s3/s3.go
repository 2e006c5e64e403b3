package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/loykin/auditweb/internal/history"
)

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Options select the bucket and, for S3-compatible stores, a custom endpoint.
type Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// Sink archives each event as a JSON object at
//
//	s3://<bucket>/<prefix>/history/YYYY/MM/DD/<key>.json
type Sink struct {
	bucket   string
	prefix   string
	uploader uploader
}

// New loads credentials from the default AWS chain (env, profile, IMDS).
func New(ctx context.Context, o Options) (*Sink, error) {
	if o.Bucket == "" {
		return nil, errors.New("bucket required")
	}
	var loadOpts []func(*awsConfig.LoadOptions) error
	if o.Region != "" {
		loadOpts = append(loadOpts, awsConfig.WithRegion(o.Region))
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		}
	})
	return &Sink{
		bucket:   o.Bucket,
		prefix:   o.Prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

// ObjectKey returns the object key e is stored under.
func (s *Sink) ObjectKey(e history.Event) string {
	ts := e.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}
	year, month, day := ts.UTC().Date()
	return path.Join(s.prefix, "history",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		e.Key()+".json",
	)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(s.ObjectKey(e)),
		Body:                 bytes.NewReader(b),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}
