package aws

import (
	"context"
	"fmt"
	"os"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// ClientOptions selects where the relay's AWS clients point.
type ClientOptions struct {
	Region string
	// Endpoint points every client at a local emulator such as LocalStack.
	Endpoint string
	// MaxAttempts bounds the SDK retryer for each call. Zero keeps the SDK default.
	MaxAttempts int
}

// LoadAWSConfig loads the default SDK configuration. AWS_REGION falls back to
// us-east-1 and AWS_ENDPOINT_OVERRIDE points every client at a local emulator.
func LoadAWSConfig(ctx context.Context) (sdkaws.Config, error) {
	return LoadAWSConfigFor(ctx, ClientOptions{
		Region:   os.Getenv("AWS_REGION"),
		Endpoint: os.Getenv("AWS_ENDPOINT_OVERRIDE"),
	})
}

// LoadAWSConfigFor is LoadAWSConfig with explicit options.
func LoadAWSConfigFor(ctx context.Context, o ClientOptions) (sdkaws.Config, error) {
	region := o.Region
	if region == "" {
		region = "us-east-1" // default fallback
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if o.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(o.Endpoint))
	}
	if o.MaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(o.MaxAttempts))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cfg, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return cfg, nil
}
