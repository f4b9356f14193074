package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/aws"
	"github.com/imrishuroy/go-product-relay/internal/caption"
	"github.com/imrishuroy/go-product-relay/internal/config"
	"github.com/imrishuroy/go-product-relay/internal/handlers"
	"github.com/imrishuroy/go-product-relay/internal/idempotency"
	"github.com/imrishuroy/go-product-relay/internal/logger"
	"github.com/imrishuroy/go-product-relay/internal/meta"
	"github.com/imrishuroy/go-product-relay/internal/metrics"
	"github.com/imrishuroy/go-product-relay/internal/product"
	"github.com/imrishuroy/go-product-relay/internal/publisher"
	"github.com/imrishuroy/go-product-relay/internal/queue"
	"github.com/imrishuroy/go-product-relay/internal/reconcile"
	"github.com/imrishuroy/go-product-relay/internal/relay"
	"github.com/imrishuroy/go-product-relay/internal/shopify"
	"github.com/imrishuroy/go-product-relay/internal/syncstore"
	"github.com/imrishuroy/go-product-relay/internal/validation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	defer func() { _ = log.Sync() }()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, clockwork.NewRealClock(), log)
	if err != nil {
		log.Fatal("failed to start relay", zap.Error(err))
	}
	a.run(ctx, cfg.App.ShutdownTimeout, log)
}

// newApp assembles the pipeline from configuration.
func newApp(ctx context.Context, cfg *config.Config, clock clockwork.Clock, log *zap.Logger) (*app, error) {
	var clients *aws.AWSClients
	if needsAWS(cfg) {
		var err error
		clients, err = aws.NewAWSClients(ctx, aws.ClientOptions{
			Region:      cfg.AWS.Region,
			Endpoint:    cfg.AWS.EndpointOverride,
			MaxAttempts: cfg.AWS.MaxAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("init aws clients: %w", err)
		}
	}

	store, err := openStore(cfg, clients, clock, log)
	if err != nil {
		return nil, err
	}

	var recorder metrics.Recorder = metrics.Nop{}
	if cfg.AWS.MetricsEnabled {
		recorder = metrics.NewCloudWatchRecorder(clients.CloudWatch, cfg.AWS.MetricsNamespace, log)
	}

	graph, err := meta.NewClient(meta.Config{
		GraphURL:    cfg.Meta.GraphURL,
		IGUserID:    cfg.Meta.IGUserID,
		PageID:      cfg.Meta.PageID,
		AccessToken: cfg.Meta.AccessToken,
		Timeout:     cfg.Meta.Timeout,
	}, log)
	if err != nil {
		return nil, err
	}
	var secondary publisher.SecondaryChannel
	if cfg.Relay.SecondaryEnabled {
		page, err := meta.NewPage(graph)
		if err != nil {
			return nil, err
		}
		secondary = page
	}

	var gen caption.Generator
	if cfg.OpenAI.APIKey != "" {
		openai, err := caption.NewOpenAI(caption.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			BaseURL: cfg.OpenAI.BaseURL,
			Timeout: cfg.OpenAI.Timeout,
		})
		if err != nil {
			return nil, err
		}
		gen = openai
	} else {
		log.Info("openai key not configured, using fallback hashtags")
	}
	captions := caption.NewBuilder(gen, caption.Options{
		CallToAction:     cfg.Relay.CallToAction,
		FallbackHashtags: cfg.Relay.FallbackHashtags,
		GenerateTimeout:  cfg.OpenAI.Timeout,
	}, log)

	pub := publisher.New(meta.NewInstagram(graph), secondary, captions, store, clock, publisher.Options{
		MaxImages:    cfg.Relay.MaxImages,
		PollAttempts: cfg.Relay.MediaPollAttempts,
		PollInterval: cfg.Relay.MediaPollInterval,
		PollTimeout:  cfg.Relay.MediaPollTimeout,
	}, log)

	q := queue.New(clock, pub, queue.Options{
		Governor: queue.GovernorConfig{
			Initial:          cfg.Relay.InitialInterval,
			Min:              cfg.Relay.MinInterval,
			Max:              cfg.Relay.MaxInterval,
			SuccessThreshold: cfg.Relay.SuccessThreshold,
			SuccessStep:      cfg.Relay.SuccessStep,
			FailureThreshold: cfg.Relay.FailureThreshold,
			FailureStep:      cfg.Relay.FailureStep,
		},
		RetryBackoff: cfg.Relay.RetryBackoff,
	}, recorder, log)

	v := validation.New()
	normalizer := product.NewNormalizer(product.Options{
		DescriptionLimit: cfg.Relay.DescriptionLimit,
		MaxImages:        cfg.Relay.MaxImages,
		ShopURL:          cfg.Shopify.ShopURL,
	}, v)
	rel := relay.New(relay.Options{
		DebounceDelay:  cfg.Relay.DebounceDelay,
		CoolDownPeriod: cfg.Relay.CoolDownPeriod,
	}, clock, normalizer, q, store, log)

	a := &app{relay: rel, store: store}

	var runner handlers.ReconcileRunner
	if cfg.Shopify.ShopURL != "" && cfg.Shopify.AccessToken != "" {
		catalog, err := shopify.NewCatalog(shopify.Config{
			ShopURL:     cfg.Shopify.ShopURL,
			AccessToken: cfg.Shopify.AccessToken,
			APIVersion:  cfg.Shopify.APIVersion,
			Timeout:     cfg.Shopify.Timeout,
		})
		if err != nil {
			return nil, err
		}
		rec := reconcile.New(store, catalog, normalizer, rel.EnqueueReconciled, clock, log)
		runner = rec
		if cfg.Reconcile.Enabled {
			loc, err := time.LoadLocation(cfg.Reconcile.Timezone)
			if err != nil {
				return nil, fmt.Errorf("reconcile timezone: %w", err)
			}
			a.trigger = reconcile.NewTrigger(reconcile.TriggerConfig{
				Hour:          cfg.Reconcile.DailyHour,
				Minute:        cfg.Reconcile.DailyMinute,
				Location:      loc,
				CheckInterval: cfg.Reconcile.CheckInterval,
				Mode:          reconcile.ModeFull,
			}, rec, clock, log)
		}
	} else {
		log.Warn("shopify credentials not configured, reconcile disabled")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	handlers.RegisterHealth(r)
	handlers.RegisterAdminRoutes(r, handlers.AdminConfig{
		Relay:      rel,
		Reconciler: runner,
		Validator:  v,
		Token:      cfg.App.AdminToken,
		Logger:     log,
	})

	if cfg.AWS.IngestQueueURL != "" {
		a.consumer = aws.NewConsumer(clients.SQS, cfg.AWS.IngestQueueURL, NewProcessor(rel, log).Handle, clock, log)
	} else {
		// no ingest queue: the storefront posts straight to this process
		var ddb aws.DynamoDBAPI
		if clients != nil {
			ddb = clients.DynamoDB
		}
		dedupe, err := idempotency.Open(ctx, cfg.Dedupe, ddb)
		if err != nil {
			return nil, err
		}
		handlers.RegisterWebhookRoutes(r, handlers.WebhookConfig{
			Secret: cfg.Shopify.WebhookSecret,
			Dedupe: dedupe,
			Sink:   handlers.NewRelaySink(rel),
			Logger: log,
		})
	}

	a.server = &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func needsAWS(cfg *config.Config) bool {
	return cfg.Store.Backend == config.StoreBackendDynamoDB ||
		cfg.Dedupe.Backend == config.DedupeBackendDynamoDB ||
		cfg.AWS.MetricsEnabled ||
		cfg.AWS.IngestQueueURL != ""
}

func openStore(cfg *config.Config, clients *aws.AWSClients, clock clockwork.Clock, log *zap.Logger) (syncstore.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendDynamoDB:
		return syncstore.NewDynamoStore(clients.DynamoDB, cfg.Store.Table, clock, log), nil
	default:
		store, err := syncstore.OpenFileStore(cfg.Store.FilePath, clock, log)
		if err != nil {
			return nil, fmt.Errorf("open sync store: %w", err)
		}
		return store, nil
	}
}

// run blocks until ctx is cancelled, then stops intake, lets the in-flight
// publish finish and shuts down within timeout.
func (a *app) run(ctx context.Context, timeout time.Duration, log *zap.Logger) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.relay.Run(ctx); err != nil {
			log.Error("queue consumer stopped", zap.Error(err))
		}
	}()

	if a.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.consumer.Run(ctx)
		}()
	}

	if a.trigger != nil {
		a.trigger.Start(ctx)
	}

	go func() {
		log.Info("http server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if a.trigger != nil {
		if err := a.trigger.Stop(shutdownCtx); err != nil {
			log.Warn("reconcile trigger shutdown", zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn("in-flight publish did not finish before shutdown timeout")
	}
	a.relay.Stop()

	if fs, ok := a.store.(*syncstore.FileStore); ok && fs.Dirty() {
		log.Warn("sync store has unsaved changes")
	}
	log.Info("relay stopped")
}
