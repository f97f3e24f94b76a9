package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectGetter is the subset of the S3 client used to fetch a catalog.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Location names the catalog object.
type S3Location struct {
	Bucket   string
	Key      string
	Region   string
	Endpoint string
}

// NewS3Client builds an S3 client from the default AWS credential chain.
func NewS3Client(ctx context.Context, loc S3Location) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{}
	if loc.Region != "" {
		opts = append(opts, config.WithRegion(loc.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if loc.Endpoint != "" {
			o.BaseEndpoint = aws.String(loc.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// LoadS3 reads a catalog document stored as an S3 object.
func LoadS3(ctx context.Context, client ObjectGetter, loc S3Location) (*Catalog, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if loc.Bucket == "" || loc.Key == "" {
		return nil, errors.New("s3 catalog requires bucket and key")
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", loc.Bucket, loc.Key, err)
	}
	defer out.Body.Close()

	cat, err := Decode(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3://%s/%s: %w", loc.Bucket, loc.Key, err)
	}
	return cat, nil
}
