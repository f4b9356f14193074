package aws

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAWSConfig_DefaultRegion(t *testing.T) {
	t.Setenv("AWS_ENDPOINT_OVERRIDE", "")
	t.Setenv("AWS_REGION", "")

	cfg, err := LoadAWSConfig(context.Background())
	require.NoError(t, err)
	require.Equal(t, "us-east-1", cfg.Region)
}

func TestLoadAWSConfig_WithEndpointOverride(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("AWS_ENDPOINT_OVERRIDE", "http://localhost:4566")

	cfg, err := LoadAWSConfig(context.Background())
	require.NoError(t, err)
	require.Equal(t, "eu-west-1", cfg.Region)
	require.NotNil(t, cfg.BaseEndpoint)
	require.Equal(t, "http://localhost:4566", *cfg.BaseEndpoint)
}

func TestLoadAWSConfigFor_MaxAttempts(t *testing.T) {
	cfg, err := LoadAWSConfigFor(context.Background(), ClientOptions{Region: "eu-central-1", MaxAttempts: 5})
	require.NoError(t, err)
	require.Equal(t, "eu-central-1", cfg.Region)
	require.Equal(t, 5, cfg.RetryMaxAttempts)
}

func TestNewAWSClients_SharesResolvedRegion(t *testing.T) {
	clients, err := NewAWSClients(context.Background(), ClientOptions{Endpoint: "http://localhost:4566"})
	require.NoError(t, err)
	require.Equal(t, "us-east-1", clients.Region)
	require.NotNil(t, clients.DynamoDB)
	require.NotNil(t, clients.SQS)
	require.NotNil(t, clients.CloudWatch)
}
