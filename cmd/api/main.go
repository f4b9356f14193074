package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/aws"
	"github.com/imrishuroy/go-product-relay/internal/config"
	"github.com/imrishuroy/go-product-relay/internal/handlers"
	"github.com/imrishuroy/go-product-relay/internal/idempotency"
	"github.com/imrishuroy/go-product-relay/internal/logger"
)

func setupRouter(cfg handlers.WebhookConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	handlers.RegisterHealth(r)
	handlers.RegisterWebhookRoutes(r, cfg)

	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	defer func() { _ = log.Sync() }()

	if cfg.AWS.IngestQueueURL == "" {
		log.Fatal("aws.ingest_queue_url is required")
	}

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx, aws.ClientOptions{
		Region:      cfg.AWS.Region,
		Endpoint:    cfg.AWS.EndpointOverride,
		MaxAttempts: cfg.AWS.MaxAttempts,
	})
	if err != nil {
		log.Fatal("failed to init aws clients", zap.Error(err))
	}

	dedupe, err := idempotency.Open(ctx, cfg.Dedupe, clients.DynamoDB)
	if err != nil {
		log.Fatal("failed to init dedupe store", zap.Error(err))
	}

	r := setupRouter(handlers.WebhookConfig{
		Secret: cfg.Shopify.WebhookSecret,
		Dedupe: dedupe,
		Sink:   handlers.NewSQSSink(aws.NewPublisher(clients.SQS, cfg.AWS.IngestQueueURL)),
		Logger: log,
	})

	// RUN_LOCAL=true (or app.run_local) serves plain HTTP for development.
	if cfg.App.RunLocal || os.Getenv("RUN_LOCAL") == "true" {
		addr := ":" + cfg.App.Port
		log.Info("running local server", zap.String("addr", addr))
		if err := r.Run(addr); err != nil {
			log.Fatal("failed to run local server", zap.Error(err))
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
