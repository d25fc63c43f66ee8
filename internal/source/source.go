// Package source opens variant files from the local filesystem or an
// S3-compatible object store.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pharmgx-risk-server/internal/domain"
)

const s3Scheme = "s3://"

// ErrInvalidLocation is returned for locations that name no object
var ErrInvalidLocation = errors.New("invalid variant file location")

// ObjectGetter is the subset of the S3 client used for reads
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Opener resolves variant file locations to readers
type Opener struct {
	s3 ObjectGetter
}

// NewOpener creates an opener. A nil getter disables s3:// locations.
func NewOpener(getter ObjectGetter) *Opener {
	return &Opener{s3: getter}
}

// NewS3Client builds an S3 client from storage configuration
func NewS3Client(ctx context.Context, cfg domain.S3Config) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Open returns a reader for a local path or an s3://bucket/key location.
// The caller closes the reader.
func (o *Opener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, ErrInvalidLocation
	}

	if !strings.HasPrefix(location, s3Scheme) {
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("failed to open variant file: %w", err)
		}
		return f, nil
	}

	bucket, key, err := ParseS3Location(location)
	if err != nil {
		return nil, err
	}
	if o.s3 == nil {
		return nil, fmt.Errorf("s3 storage is not configured")
	}

	out, err := o.s3.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", location, err)
	}
	return out.Body, nil
}

// ParseS3Location splits s3://bucket/key into its parts
func ParseS3Location(location string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(location, s3Scheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidLocation, location)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidLocation, location)
	}
	return bucket, key, nil
}

// IsS3 reports whether location names an object store key
func IsS3(location string) bool {
	return strings.HasPrefix(strings.TrimSpace(location), s3Scheme)
}
