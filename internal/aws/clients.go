package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// AWSClients holds the service clients shared by the api and the worker.
// DynamoDB backs the sync store and webhook dedupe, SQS carries deliveries
// from the api to the worker, and CloudWatch receives relay metrics.
type AWSClients struct {
	DynamoDB   DynamoDBAPI
	SQS        SQSAPI
	CloudWatch CloudWatchAPI

	// Region is the resolved region the clients were built for.
	Region string
}

// NewAWSClients loads one SDK config from o and builds every client from it,
// so they share credentials, endpoint and retry settings.
func NewAWSClients(ctx context.Context, o ClientOptions) (*AWSClients, error) {
	cfg, err := LoadAWSConfigFor(ctx, o)
	if err != nil {
		return nil, err
	}

	return &AWSClients{
		DynamoDB:   dynamodb.NewFromConfig(cfg),
		SQS:        sqs.NewFromConfig(cfg),
		CloudWatch: cloudwatch.NewFromConfig(cfg),
		Region:     cfg.Region,
	}, nil
}
